package live

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestAggregator(t *testing.T) (*Aggregator, *Session) {
	t.Helper()

	store := NewStore()
	s, err := store.Create(testDeck(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return NewAggregator(store, 0), s
}

func TestAggregator_PollCounts(t *testing.T) {
	a, s := newTestAggregator(t)

	for _, vote := range []string{"Yes", "Yes", "No"} {
		if _, err := a.Submit(s.ID(), "poll", "someone", vote); err != nil {
			t.Fatalf("unexpected error voting %q: %v", vote, err)
		}
	}

	agg, err := a.store.Aggregate(s.ID(), "poll")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agg.Votes["Yes"] != 2 || agg.Votes["No"] != 1 {
		t.Fatalf("expected Yes:2 No:1, got %v", agg.Votes)
	}
}

func TestAggregator_PollStartsAtZero(t *testing.T) {
	a, s := newTestAggregator(t)

	agg, err := a.store.Aggregate(s.ID(), "poll")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agg.Votes) != 2 || agg.Votes["Yes"] != 0 || agg.Votes["No"] != 0 {
		t.Fatalf("expected every option at zero, got %v", agg.Votes)
	}
}

func TestAggregator_PollRejectsUnknownOption(t *testing.T) {
	a, s := newTestAggregator(t)

	if _, err := a.Submit(s.ID(), "poll", "p", "Yes"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := a.Submit(s.ID(), "poll", "p", "Maybe")
	if !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}

	// Option labels are matched exactly.
	_, err = a.Submit(s.ID(), "poll", "p", "yes")
	if !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption for differently cased label, got %v", err)
	}

	agg, _ := a.store.Aggregate(s.ID(), "poll")
	if agg.Votes["Yes"] != 1 || agg.Votes["No"] != 0 || len(agg.Votes) != 2 {
		t.Fatalf("rejected votes changed the aggregate: %v", agg.Votes)
	}
}

func TestAggregator_WordCloudNormalizes(t *testing.T) {
	a, s := newTestAggregator(t)

	for _, w := range []string{"Cat ", "cat", "CAT"} {
		if _, err := a.Submit(s.ID(), "words", "p", w); err != nil {
			t.Fatalf("unexpected error submitting %q: %v", w, err)
		}
	}

	agg, _ := a.store.Aggregate(s.ID(), "words")
	if len(agg.Words) != 1 || agg.Words["cat"] != 3 {
		t.Fatalf("expected {cat:3}, got %v", agg.Words)
	}
}

func TestAggregator_WordCloudRejects(t *testing.T) {
	a, s := newTestAggregator(t)

	if _, err := a.Submit(s.ID(), "words", "p", "   "); !errors.Is(err, ErrEmptyValue) {
		t.Fatalf("expected ErrEmptyValue, got %v", err)
	}

	long := strings.Repeat("a", DefaultMaxWordLength+1)
	if _, err := a.Submit(s.ID(), "words", "p", long); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}

	// Surrounding whitespace does not count towards the limit.
	exact := "  " + strings.Repeat("b", DefaultMaxWordLength) + "  "
	if _, err := a.Submit(s.ID(), "words", "p", exact); err != nil {
		t.Fatalf("unexpected error at the limit: %v", err)
	}

	agg, _ := a.store.Aggregate(s.ID(), "words")
	if len(agg.Words) != 1 {
		t.Fatalf("expected only the accepted word, got %v", agg.Words)
	}
}

func TestAggregator_WordLengthCountsRunes(t *testing.T) {
	store := NewStore()
	s, _ := store.Create(testDeck(), "")
	a := NewAggregator(store, 3)

	if _, err := a.Submit(s.ID(), "words", "p", "été"); err != nil {
		t.Fatalf("three runes should fit a limit of three: %v", err)
	}
	if _, err := a.Submit(s.ID(), "words", "p", "étés"); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
}

func TestNormalizeWordIsIdempotent(t *testing.T) {
	for _, raw := range []string{"Cat ", "  ÉTÉ", "Straße", "go\t", "", "MiXeD cAsE"} {
		once := NormalizeWord(raw)
		if twice := NormalizeWord(once); twice != once {
			t.Fatalf("NormalizeWord(%q) = %q, but normalizing again gave %q", raw, once, twice)
		}
	}
}

func TestAggregator_QuestionsKeepOrderAndDuplicates(t *testing.T) {
	a, s := newTestAggregator(t)

	texts := []string{"Why Go?", "Why Go?", "  What about generics?  "}
	for i, q := range texts {
		if _, err := a.Submit(s.ID(), "qa", fmt.Sprintf("p%d", i), q); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if _, err := a.Submit(s.ID(), "qa", "p", " "); !errors.Is(err, ErrEmptyValue) {
		t.Fatalf("expected ErrEmptyValue, got %v", err)
	}

	agg, _ := a.store.Aggregate(s.ID(), "qa")
	if len(agg.Questions) != len(texts) {
		t.Fatalf("expected %d questions, got %d", len(texts), len(agg.Questions))
	}
	for i, q := range agg.Questions {
		if q.Text != texts[i] {
			t.Fatalf("question %d: expected %q, got %q", i, texts[i], q.Text)
		}
		if q.Participant != fmt.Sprintf("p%d", i) {
			t.Fatalf("question %d: unexpected participant %q", i, q.Participant)
		}
		if i > 0 && q.ID <= agg.Questions[i-1].ID {
			t.Fatalf("question ids not increasing: %s then %s", agg.Questions[i-1].ID, q.ID)
		}
	}
}

func TestSubmissionIDsSurviveClockStepBack(t *testing.T) {
	s := newSession("s", "", testDeck())

	now := time.Now()
	first := s.nextSubmissionID(now)
	second := s.nextSubmissionID(now.Add(-time.Hour))

	if second <= first {
		t.Fatalf("expected %s > %s", second, first)
	}
}

func TestAggregator_Unsupported(t *testing.T) {
	a, s := newTestAggregator(t)

	for _, slideID := range []string{"intro", "swot"} {
		if _, err := a.Submit(s.ID(), slideID, "p", "x"); !errors.Is(err, ErrUnsupported) {
			t.Fatalf("slide %q: expected ErrUnsupported, got %v", slideID, err)
		}
	}

	if _, err := a.Submit(s.ID(), "nope", "p", "x"); !errors.Is(err, ErrUnknownSlide) {
		t.Fatalf("expected ErrUnknownSlide, got %v", err)
	}

	if _, err := a.Submit("missing", "poll", "p", "Yes"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestAggregator_ConcurrentVotesAreExact(t *testing.T) {
	a, s := newTestAggregator(t)

	const workers, perWorker = 32, 50

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := range perWorker {
				vote := "Yes"
				if (i+j)%2 == 1 {
					vote = "No"
				}
				if _, err := a.Submit(s.ID(), "poll", "p", vote); err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if _, err := a.Submit(s.ID(), "words", "p", "Go"); err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	poll, _ := a.store.Aggregate(s.ID(), "poll")
	if total := poll.Votes["Yes"] + poll.Votes["No"]; total != workers*perWorker {
		t.Fatalf("expected %d votes, got %d (%v)", workers*perWorker, total, poll.Votes)
	}

	words, _ := a.store.Aggregate(s.ID(), "words")
	if words.Words["go"] != workers*perWorker {
		t.Fatalf("expected go:%d, got %v", workers*perWorker, words.Words)
	}
}

func TestAggregateSnapshotIsACopy(t *testing.T) {
	a, s := newTestAggregator(t)

	snap, err := a.Submit(s.ID(), "poll", "p", "Yes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap.Votes["Yes"] = 100

	agg, _ := a.store.Aggregate(s.ID(), "poll")
	if agg.Votes["Yes"] != 1 {
		t.Fatalf("modifying a returned aggregate changed the session: %v", agg.Votes)
	}
}

func TestEmptyAggregateJSON(t *testing.T) {
	a, s := newTestAggregator(t)

	tests := []struct {
		slideID string
		want    string
	}{
		{"poll", `{"kind":"poll","votes":{"No":0,"Yes":0}}`},
		{"words", `{"kind":"wordcloud","words":{}}`},
		{"qa", `{"kind":"qa","questions":[]}`},
	}

	for _, tt := range tests {
		agg, err := a.store.Aggregate(s.ID(), tt.slideID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		got, err := json.Marshal(agg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != tt.want {
			t.Fatalf("%s: expected %s, got %s", tt.slideID, tt.want, got)
		}
	}

	snap, err := a.Submit(s.ID(), "qa", "p", "Any questions?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := json.Marshal(snap)
	if strings.Contains(string(got), `"votes"`) || strings.Contains(string(got), `"words"`) {
		t.Fatalf("qa aggregate carries fields of other kinds: %s", got)
	}
}
