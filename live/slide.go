/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package live

import (
	"fmt"
	"strings"
)

type ActivityKind string

const (
	ActivityPoll           ActivityKind = "poll"
	ActivityWordCloud      ActivityKind = "wordcloud"
	ActivityShortAnswer    ActivityKind = "qa"
	ActivityStructuredList ActivityKind = "swot"
)

func (k ActivityKind) valid() bool {
	switch k {
	case ActivityPoll, ActivityWordCloud, ActivityShortAnswer, ActivityStructuredList:
		return true
	}
	return false
}

// Activity is the interactive element attached to a slide.
type Activity struct {
	Kind     ActivityKind        `json:"type"`
	Question string              `json:"question,omitempty"` // prompt shown to participants
	Options  []string            `json:"options,omitempty"`  // poll
	Sections map[string][]string `json:"sections,omitempty"` // swot, author-provided seed items
}

// Slide is one unit of presented content. Slides never change once a
// session has been created from them.
type Slide struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Body     string    `json:"body,omitempty"`
	Activity *Activity `json:"activity,omitempty"`
}

func (s Slide) kind() ActivityKind {
	if s.Activity == nil {
		return ""
	}
	return s.Activity.Kind
}

func (s Slide) clone() Slide {
	out := s
	if s.Activity == nil {
		return out
	}

	a := *s.Activity
	a.Options = append([]string(nil), s.Activity.Options...)
	if s.Activity.Sections != nil {
		a.Sections = make(map[string][]string, len(s.Activity.Sections))
		for name, items := range s.Activity.Sections {
			a.Sections[name] = append([]string(nil), items...)
		}
	}
	out.Activity = &a

	return out
}

// ValidateSlides checks a deck before a session is created from it.
// Nothing is partially applied: either every slide passes or the deck is
// rejected with an error wrapping ErrValidation.
func ValidateSlides(slides []Slide) error {
	if len(slides) == 0 {
		return fmt.Errorf("%w: presentation has no slides", ErrValidation)
	}

	seen := make(map[string]bool, len(slides))
	for i, s := range slides {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return fmt.Errorf("%w: slide %d has no id", ErrValidation, i)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate slide id %q", ErrValidation, id)
		}
		seen[id] = true

		if s.Activity == nil {
			continue
		}
		if err := validateActivity(s.Activity); err != nil {
			return fmt.Errorf("%w: slide %q: %v", ErrValidation, id, err)
		}
	}

	return nil
}

func validateActivity(a *Activity) error {
	if !a.Kind.valid() {
		return fmt.Errorf("unknown activity type %q", a.Kind)
	}

	switch a.Kind {
	case ActivityPoll:
		if len(a.Options) < 2 {
			return fmt.Errorf("poll needs at least 2 options, got %d", len(a.Options))
		}
		labels := make(map[string]bool, len(a.Options))
		for _, o := range a.Options {
			if strings.TrimSpace(o) == "" {
				return fmt.Errorf("poll option labels must not be empty")
			}
			if labels[o] {
				return fmt.Errorf("duplicate poll option %q", o)
			}
			labels[o] = true
		}
	case ActivityStructuredList:
		for name := range a.Sections {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("list section names must not be empty")
			}
		}
	}

	return nil
}
