package live

import (
	"errors"
	"testing"
)

func TestStore_CreateAndGet(t *testing.T) {
	st := NewStore()

	s, err := st.Create(testDeck(), "owner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.ID()) != 32 {
		t.Fatalf("expected 32 hex characters, got %q", s.ID())
	}
	if s.State() != StateOrphaned {
		t.Fatalf("new session should wait for its presenter, got %s", s.State())
	}
	if s.CurrentIndex() != 0 {
		t.Fatalf("new session should start at slide 0")
	}

	got, ok := st.Get(s.ID())
	if !ok || got != s {
		t.Fatalf("expected to find created session")
	}
	if st.Len() != 1 || !st.Exists(s.ID()) {
		t.Fatalf("unexpected store contents")
	}
}

func TestStore_CreateRejectsInvalidDeck(t *testing.T) {
	st := NewStore()

	if _, err := st.Create(nil, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if st.Len() != 0 {
		t.Fatalf("invalid deck left a session behind")
	}
}

func TestStore_UniqueIDs(t *testing.T) {
	st := NewStore()

	seen := make(map[string]bool)
	for range 200 {
		s, err := st.Create(testDeck(), "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen[s.ID()] {
			t.Fatalf("duplicate session id %s", s.ID())
		}
		seen[s.ID()] = true
	}
}

func TestStore_SlideAndIndex(t *testing.T) {
	st := NewStore()
	s, _ := st.Create(testDeck(), "")

	slide, err := st.Slide(s.ID(), 1)
	if err != nil || slide.ID != "poll" {
		t.Fatalf("expected poll slide, got %+v %v", slide, err)
	}

	for _, i := range []int{-1, 5} {
		if _, err := st.Slide(s.ID(), i); !errors.Is(err, ErrIndex) {
			t.Fatalf("index %d: expected ErrIndex, got %v", i, err)
		}
		if _, err := st.SetCurrentIndex(s.ID(), i); !errors.Is(err, ErrIndex) {
			t.Fatalf("index %d: expected ErrIndex, got %v", i, err)
		}
	}

	old, err := st.SetCurrentIndex(s.ID(), 3)
	if err != nil || old != 0 || s.CurrentIndex() != 3 {
		t.Fatalf("unexpected SetCurrentIndex result old=%d err=%v now=%d", old, err, s.CurrentIndex())
	}

	if _, err := st.Slide("missing", 0); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStore_SlidesAreCopied(t *testing.T) {
	st := NewStore()
	deck := testDeck()
	s, _ := st.Create(deck, "")

	deck[1].Activity.Options[0] = "Changed"

	slide, _ := st.Slide(s.ID(), 1)
	if slide.Activity.Options[0] != "Yes" {
		t.Fatalf("session slide changed with the caller's deck")
	}
}

func TestStore_AggregateByActivity(t *testing.T) {
	st := NewStore()
	s, _ := st.Create(testDeck(), "")

	if _, err := st.Aggregate(s.ID(), "swot"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for structured list, got %v", err)
	}
	if _, err := st.Aggregate(s.ID(), "nope"); !errors.Is(err, ErrUnknownSlide) {
		t.Fatalf("expected ErrUnknownSlide, got %v", err)
	}
	agg, err := st.Aggregate(s.ID(), "qa")
	if err != nil || agg.Kind != ActivityShortAnswer {
		t.Fatalf("unexpected qa aggregate %+v %v", agg, err)
	}
}

func TestStore_TerminatedIsNotFound(t *testing.T) {
	st := NewStore()
	s, _ := st.Create(testDeck(), "")

	s.mu.Lock()
	s.state = StateTerminated
	s.mu.Unlock()

	err := st.Update(s.ID(), func(*Session) error { return nil })
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	err = st.View(s.ID(), func(*Session) error { return nil })
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
