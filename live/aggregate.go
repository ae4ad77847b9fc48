package live

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/cases"
)

// DefaultMaxWordLength caps word cloud submissions, measured in runes after
// normalization.
const DefaultMaxWordLength = 20

// Question is one Q&A entry. Entries are kept in arrival order and never
// deduplicated.
type Question struct {
	ID          string    `json:"id"`
	Participant string    `json:"participant"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Aggregate is the merged result of every accepted submission for one slide.
// Only the field matching Kind is set, and it is never nil.
type Aggregate struct {
	Kind      ActivityKind   `json:"kind"`
	Votes     map[string]int `json:"votes,omitzero"`
	Words     map[string]int `json:"words,omitzero"`
	Questions []Question     `json:"questions,omitzero"`
}

// newAggregate returns the empty aggregate for an activity, or nil if the
// activity never collects submissions.
func newAggregate(a *Activity) *Aggregate {
	if a == nil {
		return nil
	}

	switch a.Kind {
	case ActivityPoll:
		votes := make(map[string]int, len(a.Options))
		for _, o := range a.Options {
			votes[o] = 0
		}
		return &Aggregate{Kind: ActivityPoll, Votes: votes}
	case ActivityWordCloud:
		return &Aggregate{Kind: ActivityWordCloud, Words: make(map[string]int)}
	case ActivityShortAnswer:
		return &Aggregate{Kind: ActivityShortAnswer, Questions: []Question{}}
	}

	return nil
}

func (a *Aggregate) clone() Aggregate {
	out := Aggregate{Kind: a.Kind}

	if a.Votes != nil {
		out.Votes = make(map[string]int, len(a.Votes))
		for k, v := range a.Votes {
			out.Votes[k] = v
		}
	}
	if a.Words != nil {
		out.Words = make(map[string]int, len(a.Words))
		for k, v := range a.Words {
			out.Words[k] = v
		}
	}
	if a.Questions != nil {
		out.Questions = make([]Question, len(a.Questions))
		copy(out.Questions, a.Questions)
	}

	return out
}

var folder = cases.Fold()

// NormalizeWord trims surrounding whitespace and case-folds a word cloud
// entry. NormalizeWord(NormalizeWord(s)) == NormalizeWord(s).
func NormalizeWord(raw string) string {
	return strings.TrimSpace(folder.String(strings.TrimSpace(raw)))
}

// Aggregator merges participant submissions into per-slide aggregates.
// All merges for one session run under that session's write lock.
type Aggregator struct {
	store         *Store
	maxWordLength int
}

func NewAggregator(store *Store, maxWordLength int) *Aggregator {
	if maxWordLength <= 0 {
		maxWordLength = DefaultMaxWordLength
	}

	return &Aggregator{
		store:         store,
		maxWordLength: maxWordLength,
	}
}

// Submit merges raw into the aggregate of slideID and returns a copy of the
// updated aggregate. A non-nil error means the submission was rejected and
// nothing changed.
func (a *Aggregator) Submit(sessionID, slideID, participant, raw string) (Aggregate, error) {
	var snap Aggregate

	err := a.store.Update(sessionID, func(s *Session) error {
		var err error
		snap, err = a.mergeLocked(s, slideID, participant, raw)
		return err
	})

	return snap, err
}

// mergeLocked assumes s.mu is held for writing.
func (a *Aggregator) mergeLocked(s *Session, slideID, participant, raw string) (Aggregate, error) {
	i, ok := s.slideIndex[slideID]
	if !ok {
		return Aggregate{}, fmt.Errorf("%w: %q", ErrUnknownSlide, slideID)
	}
	slide := s.slides[i]

	agg := s.aggregates[slideID]
	if agg == nil {
		return Aggregate{}, fmt.Errorf("%w: slide %q has activity %q", ErrUnsupported, slideID, slide.kind())
	}

	now := time.Now()

	switch agg.Kind {
	case ActivityPoll:
		if _, ok := agg.Votes[raw]; !ok {
			return Aggregate{}, fmt.Errorf("%w: %q", ErrInvalidOption, raw)
		}
		agg.Votes[raw]++

	case ActivityWordCloud:
		word := NormalizeWord(raw)
		if word == "" {
			return Aggregate{}, ErrEmptyValue
		}
		if n := utf8.RuneCountInString(word); n > a.maxWordLength {
			return Aggregate{}, fmt.Errorf("%w: %d characters, limit is %d", ErrTooLong, n, a.maxWordLength)
		}
		agg.Words[word]++

	case ActivityShortAnswer:
		if strings.TrimSpace(raw) == "" {
			return Aggregate{}, ErrEmptyValue
		}
		agg.Questions = append(agg.Questions, Question{
			ID:          s.nextSubmissionID(now),
			Participant: participant,
			Text:        raw,
			SubmittedAt: now,
		})

	default:
		return Aggregate{}, ErrUnsupported
	}

	s.lastActive = now

	return agg.clone(), nil
}

// nextSubmissionID returns a ULID strictly greater than every id issued
// before it in this session, even if the wall clock steps backwards.
func (s *Session) nextSubmissionID(now time.Time) string {
	ms := ulid.Timestamp(now)
	if ms < s.lastIDTime {
		ms = s.lastIDTime
	}
	s.lastIDTime = ms

	return ulid.MustNew(ms, s.entropy).String()
}
