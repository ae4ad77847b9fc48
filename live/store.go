package live

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns every live Session. Its own lock only guards the id map;
// all per-session state is guarded by the session's lock, so work on one
// session never waits on another.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

// newSessionID returns a random 128-bit token, hex encoded.
func newSessionID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}

// Create validates slides and stores a new session built from them.
func (st *Store) Create(slides []Slide, owner string) (*Session, error) {
	if err := ValidateSlides(slides); err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	id := newSessionID()
	for {
		if _, exists := st.sessions[id]; !exists {
			break
		}
		id = newSessionID()
	}

	s := newSession(id, owner, slides)
	st.sessions[id] = s

	return s, nil
}

func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[id]
	return s, ok
}

func (st *Store) Exists(id string) bool {
	_, ok := st.Get(id)
	return ok
}

func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return len(st.sessions)
}

// All returns the sessions present at the time of the call.
func (st *Store) All() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

func (st *Store) remove(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Update runs fn with the session's write lock held. Terminated sessions
// are reported as not found.
func (st *Store) Update(id string, fn func(*Session) error) error {
	s, ok := st.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTerminated {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	return fn(s)
}

// View runs fn with the session's read lock held.
func (st *Store) View(id string, fn func(*Session) error) error {
	s, ok := st.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == StateTerminated {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	return fn(s)
}

func (st *Store) Slide(id string, index int) (Slide, error) {
	var slide Slide

	err := st.View(id, func(s *Session) error {
		if index < 0 || index >= len(s.slides) {
			return fmt.Errorf("%w: %d not in [0,%d)", ErrIndex, index, len(s.slides))
		}
		slide = s.slides[index].clone()
		return nil
	})

	return slide, err
}

// SetCurrentIndex moves the session to index and returns the previous
// index. Callers are responsible for checking that the presenter asked.
func (st *Store) SetCurrentIndex(id string, index int) (int, error) {
	var old int

	err := st.Update(id, func(s *Session) error {
		var err error
		old, err = s.setCurrentLocked(index)
		return err
	})

	return old, err
}

func (s *Session) setCurrentLocked(index int) (int, error) {
	if index < 0 || index >= len(s.slides) {
		return s.current, fmt.Errorf("%w: %d not in [0,%d)", ErrIndex, index, len(s.slides))
	}

	old := s.current
	s.current = index
	s.lastActive = time.Now()

	return old, nil
}

func (st *Store) Aggregate(id, slideID string) (Aggregate, error) {
	var agg Aggregate

	err := st.View(id, func(s *Session) error {
		i, ok := s.slideIndex[slideID]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownSlide, slideID)
		}
		a := s.aggregates[slideID]
		if a == nil {
			return fmt.Errorf("%w: slide %q has activity %q", ErrUnsupported, slideID, s.slides[i].kind())
		}
		agg = a.clone()
		return nil
	})

	return agg, err
}
