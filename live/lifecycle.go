package live

import (
	"context"
	"fmt"
	"time"
)

const (
	DefaultOrphanTimeout = 5 * time.Minute
	DefaultIdleTimeout   = 60 * time.Minute

	minReapInterval = 10 * time.Millisecond
)

// Causes reported in sessionEnded notices and the sessions_ended metric.
const (
	CauseEnded         = "ended"
	CauseOrphanTimeout = "presenter_timeout"
	CauseIdle          = "idle"
	CauseShutdown      = "shutdown"
)

// Lifecycle creates sessions and moves them between Active, Orphaned and
// Terminated. A session with no presenter is Orphaned and is terminated
// once orphanTimeout passes without a presenter attaching.
type Lifecycle struct {
	store    *Store
	registry *Registry
	metrics  *Metrics
	logf     func(format string, args ...any)

	orphanTimeout time.Duration
	idleTimeout   time.Duration
}

// Create stores a new session. It starts out Orphaned, so a presenter that
// never connects does not leave it behind forever.
func (l *Lifecycle) Create(slides []Slide, owner string) (*Session, error) {
	s, err := l.store.Create(slides, owner)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	l.startOrphanTimerLocked(s)
	s.mu.Unlock()

	l.metrics.sessionsCreated.Inc()
	l.metrics.sessionsActive.Inc()
	l.logf("SESSIONS: Created %s with %d slides", s.id, len(s.slides))

	return s, nil
}

// attachLocked makes connID the presenter of s and returns the id of a
// presenter connection it displaced, if any. A session with an owner only
// accepts presenters carrying that owner; one without an owner only accepts
// a presenter while orphaned.
func (l *Lifecycle) attachLocked(s *Session, connID, owner string) (string, error) {
	if s.owner != "" && owner != s.owner {
		return "", fmt.Errorf("%w: not the owner of session %s", ErrForbidden, s.id)
	}

	prev := s.presenter
	if prev != "" && prev != connID && s.owner == "" {
		return "", fmt.Errorf("%w: session %s already has a presenter", ErrForbidden, s.id)
	}

	if s.orphanTimer != nil {
		s.orphanTimer.Stop()
		s.orphanTimer = nil
	}
	s.orphanGen++

	wasOrphaned := s.state == StateOrphaned
	s.presenter = connID
	s.state = StateActive
	s.lastActive = time.Now()

	if wasOrphaned {
		l.logf("SESSIONS: Presenter attached to %s", s.id)
	}

	if prev == connID {
		return "", nil
	}
	return prev, nil
}

// Detach orphans the session if connID is still its presenter. Aggregation
// continues while orphaned; navigation does not.
func (l *Lifecycle) Detach(sessionID, connID string) error {
	return l.store.Update(sessionID, func(s *Session) error {
		if s.presenter != connID {
			return nil
		}

		s.presenter = ""
		s.state = StateOrphaned
		s.lastActive = time.Now()
		l.startOrphanTimerLocked(s)

		l.logf("SESSIONS: Presenter left %s, ending in %s unless they return", s.id, l.orphanTimeout)

		return nil
	})
}

func (l *Lifecycle) startOrphanTimerLocked(s *Session) {
	if s.orphanTimer != nil {
		s.orphanTimer.Stop()
	}
	s.orphanGen++
	gen := s.orphanGen
	id := s.id

	s.orphanTimer = time.AfterFunc(l.orphanTimeout, func() {
		l.terminate(id, CauseOrphanTimeout, func(s *Session) bool {
			return s.state == StateOrphaned && s.orphanGen == gen
		})
	})
}

// End terminates a session at its presenter's request.
func (l *Lifecycle) End(sessionID, connID string) error {
	err := l.store.View(sessionID, func(s *Session) error {
		if s.presenter != connID {
			return fmt.Errorf("%w: only the presenter may end session %s", ErrForbidden, s.id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.terminate(sessionID, CauseEnded, func(s *Session) bool {
		return s.presenter == connID
	})

	return nil
}

// terminate removes the session if cond still holds under its lock, then
// notifies and disconnects every connection that was bound to it.
func (l *Lifecycle) terminate(id, cause string, cond func(*Session) bool) bool {
	s, ok := l.store.Get(id)
	if !ok {
		return false
	}

	s.mu.Lock()
	if s.state == StateTerminated || (cond != nil && !cond(s)) {
		s.mu.Unlock()
		return false
	}
	s.state = StateTerminated
	s.presenter = ""
	if s.orphanTimer != nil {
		s.orphanTimer.Stop()
		s.orphanTimer = nil
	}
	s.mu.Unlock()

	l.store.remove(id)

	msg := SessionEndedMessage{Type: TypeSessionEnded, Reason: cause}
	for _, c := range l.registry.UnbindSession(id) {
		deliver(l.metrics, c, msg)
		c.outbox.Close()
	}

	l.metrics.sessionsActive.Dec()
	l.metrics.sessionsEnded.WithLabelValues(cause).Inc()
	l.logf("SESSIONS: Ended %s (%s)", id, cause)

	return true
}

// Reap terminates every session that has had no presenter and no activity
// since before cutoff, and returns how many it ended. A session with its
// presenter attached is never reaped.
func (l *Lifecycle) Reap(cutoff time.Time) int {
	n := 0
	for _, s := range l.store.All() {
		if s.State() == StateActive || !s.LastActive().Before(cutoff) {
			continue
		}
		if l.terminate(s.id, CauseIdle, reapable(cutoff)) {
			n++
		}
	}
	return n
}

func reapable(cutoff time.Time) func(*Session) bool {
	return func(s *Session) bool {
		return s.state != StateActive && s.presenter == "" && s.lastActive.Before(cutoff)
	}
}

// Shutdown ends every session.
func (l *Lifecycle) Shutdown() {
	for _, s := range l.store.All() {
		l.terminate(s.id, CauseShutdown, nil)
	}
}

// reapLoop periodically ends unattended sessions idle longer than
// idleTimeout.
func (l *Lifecycle) reapLoop(ctx context.Context) {
	if l.idleTimeout <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(reapInterval(l.idleTimeout))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Reap(time.Now().Add(-l.idleTimeout))
		case <-ctx.Done():
			return
		}
	}
}

func reapInterval(idle time.Duration) time.Duration {
	return max(idle/2, minReapInterval)
}
