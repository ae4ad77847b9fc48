package live

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type State int

const (
	StateActive State = iota
	StateOrphaned
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateOrphaned:
		return "orphaned"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is one live presentation. Slides are fixed at creation; the
// current index, aggregates, presenter binding and state are guarded by mu.
type Session struct {
	mu sync.RWMutex

	id         string
	owner      string
	slides     []Slide
	slideIndex map[string]int
	createdAt  time.Time

	current    int
	aggregates map[string]*Aggregate
	presenter  string // connection id, empty while orphaned
	state      State
	lastActive time.Time

	orphanTimer *time.Timer
	orphanGen   uint64

	entropy    *ulid.MonotonicEntropy
	lastIDTime uint64
}

func newSession(id, owner string, slides []Slide) *Session {
	now := time.Now()

	s := &Session{
		id:         id,
		owner:      owner,
		slides:     make([]Slide, len(slides)),
		slideIndex: make(map[string]int, len(slides)),
		createdAt:  now,
		aggregates: make(map[string]*Aggregate),
		state:      StateOrphaned,
		lastActive: now,
		entropy:    ulid.Monotonic(rand.Reader, 0),
	}

	for i, slide := range slides {
		s.slides[i] = slide.clone()
		s.slideIndex[slide.ID] = i
		if agg := newAggregate(slide.Activity); agg != nil {
			s.aggregates[slide.ID] = agg
		}
	}

	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

func (s *Session) CurrentIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current
}

func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lastActive
}

func (s *Session) currentSlideLocked() Slide {
	return s.slides[s.current].clone()
}

// SessionSnapshot is what a presenter sees. Participants get a
// ParticipantView instead, which never carries aggregates.
type SessionSnapshot struct {
	SessionID  string               `json:"session_id"`
	State      State                `json:"state"`
	Index      int                  `json:"index"`
	SlideCount int                  `json:"slide_count"`
	Slide      Slide                `json:"slide"`
	RosterSize int                  `json:"roster_size"`
	Roster     []string             `json:"roster"`
	Aggregates map[string]Aggregate `json:"aggregates,omitzero"`
	CreatedAt  time.Time            `json:"created_at"`
	LastActive time.Time            `json:"last_active"`
}

type ParticipantView struct {
	SessionID  string        `json:"session_id"`
	State      State         `json:"state"`
	Index      int           `json:"index"`
	Slide      Slide         `json:"slide"`
	RosterSize int           `json:"roster_size"`
	LastResult *SubmitResult `json:"last_result,omitempty"`
}

func (s *Session) snapshotLocked(withAggregates bool) SessionSnapshot {
	snap := SessionSnapshot{
		SessionID:  s.id,
		State:      s.state,
		Index:      s.current,
		SlideCount: len(s.slides),
		Slide:      s.currentSlideLocked(),
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,
	}

	if withAggregates {
		snap.Aggregates = make(map[string]Aggregate, len(s.aggregates))
		for id, agg := range s.aggregates {
			snap.Aggregates[id] = agg.clone()
		}
	}

	return snap
}
