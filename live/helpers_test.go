package live

import (
	"context"
	"testing"
	"time"
)

func pollSlide(id string, options ...string) Slide {
	return Slide{
		ID:       id,
		Title:    "Poll " + id,
		Activity: &Activity{Kind: ActivityPoll, Question: "Pick one", Options: options},
	}
}

func testDeck() []Slide {
	return []Slide{
		{ID: "intro", Title: "Welcome"},
		pollSlide("poll", "Yes", "No"),
		{ID: "words", Title: "One word", Activity: &Activity{Kind: ActivityWordCloud}},
		{ID: "qa", Title: "Questions", Activity: &Activity{Kind: ActivityShortAnswer}},
		{ID: "swot", Title: "SWOT", Activity: &Activity{
			Kind:     ActivityStructuredList,
			Sections: map[string][]string{"strengths": {"fast"}},
		}},
	}
}

func newTestRouter(t *testing.T, orphanTimeout time.Duration) *Router {
	t.Helper()

	rt := NewRouter(Config{OrphanTimeout: orphanTimeout})
	t.Cleanup(rt.Lifecycle().Shutdown)

	return rt
}

// drain returns everything currently queued on o without blocking.
func drain(o *Outbox) []any {
	var out []any
	for o.Len() > 0 {
		msg, err := o.Next(context.Background())
		if err != nil {
			break
		}
		out = append(out, msg)
	}
	return out
}

func ofType[T any](msgs []any) []T {
	var out []T
	for _, m := range msgs {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// presenterSession creates a session and attaches a presenter to it.
func presenterSession(t *testing.T, rt *Router) (*Session, *Conn) {
	t.Helper()

	s, err := rt.CreateSession(testDeck(), "owner-1")
	if err != nil {
		t.Fatalf("unexpected error creating session: %v", err)
	}

	p, err := rt.Connect(context.Background(), RolePresenter, s.ID(), "owner-1")
	if err != nil {
		t.Fatalf("unexpected error connecting presenter: %v", err)
	}
	drain(p.Outbox())

	return s, p
}

func joinParticipant(t *testing.T, rt *Router, sessionID, name string) *Conn {
	t.Helper()

	c, err := rt.Connect(context.Background(), RoleParticipant, sessionID, "")
	if err != nil {
		t.Fatalf("unexpected error connecting participant: %v", err)
	}
	if err := rt.Join(context.Background(), c.ID(), sessionID, name); err != nil {
		t.Fatalf("unexpected error joining %q: %v", name, err)
	}

	return c
}
