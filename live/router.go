// Package live is the real-time engine behind a townhall presentation.
//
// A presenter creates a session from a fixed slide deck and drives the
// current slide; participants join with a display name and submit poll
// votes, word cloud entries and questions. The Router accepts those
// requests from any number of connections, serializes every change to a
// session under that session's lock, and fans the results out through
// bounded per-connection outboxes:
//
//   - slide changes and roster changes go to everyone in the session
//   - aggregate updates go to the presenter only
//   - submission results and errors go to the requesting connection only
//
// The package knows nothing about sockets. A transport registers a
// connection, feeds decoded ClientMessages to HandleMessage, and writes
// whatever it pulls from the connection's Outbox.
package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

const defaultDisplayName = "Anonymous"

type Config struct {
	OrphanTimeout time.Duration // how long a session waits for its presenter to return
	IdleTimeout   time.Duration // sessions without a presenter and idle this long are ended; 0 disables
	MaxWordLength int
	QueueSize     int

	Logf       func(format string, args ...any)
	Registerer prometheus.Registerer
	Tracer     trace.Tracer
}

type Router struct {
	store      *Store
	registry   *Registry
	aggregator *Aggregator
	lifecycle  *Lifecycle
	metrics    *Metrics
	tracer     trace.Tracer
	logf       func(format string, args ...any)
}

func NewRouter(cfg Config) *Router {
	if cfg.OrphanTimeout <= 0 {
		cfg.OrphanTimeout = DefaultOrphanTimeout
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logf == nil {
		cfg.Logf = func(string, ...any) {}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = defaultTracer()
	}

	store := NewStore()
	registry := NewRegistry(store, cfg.QueueSize)
	metrics := NewMetrics(cfg.Registerer)

	return &Router{
		store:      store,
		registry:   registry,
		aggregator: NewAggregator(store, cfg.MaxWordLength),
		lifecycle: &Lifecycle{
			store:         store,
			registry:      registry,
			metrics:       metrics,
			logf:          cfg.Logf,
			orphanTimeout: cfg.OrphanTimeout,
			idleTimeout:   cfg.IdleTimeout,
		},
		metrics: metrics,
		tracer:  cfg.Tracer,
		logf:    cfg.Logf,
	}
}

func (rt *Router) Store() *Store {
	return rt.store
}

func (rt *Router) Registry() *Registry {
	return rt.registry
}

func (rt *Router) Aggregator() *Aggregator {
	return rt.aggregator
}

func (rt *Router) Lifecycle() *Lifecycle {
	return rt.lifecycle
}

// Run reaps idle sessions until ctx is done, then ends every session.
func (rt *Router) Run(ctx context.Context) {
	rt.lifecycle.reapLoop(ctx)
	rt.lifecycle.Shutdown()
}

// deliver queues msg without blocking and counts anything it displaced.
func deliver(m *Metrics, c *Conn, msg any) {
	dropped, _ := c.outbox.Push(msg)
	if dropped > 0 {
		m.dropped.Add(float64(dropped))
	}
}

func (rt *Router) send(c *Conn, msg any) {
	deliver(rt.metrics, c, msg)
}

// broadcastLocked sends msg to every connection bound to s. The caller
// holds s.mu, which keeps broadcasts for one session in the order their
// changes were made.
func (rt *Router) broadcastLocked(s *Session, msg any) {
	for _, c := range rt.registry.Members(s.id) {
		rt.send(c, msg)
	}
}

func (rt *Router) rosterLocked(s *Session) RosterChangedMessage {
	return RosterChangedMessage{
		Type:  TypeRosterChanged,
		Names: rt.registry.Participants(s.id),
	}
}

func (rt *Router) conn(connID string) (*Conn, error) {
	c, ok := rt.registry.Get(connID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnNotFound, connID)
	}
	return c, nil
}

// boundSession returns the session a connection is bound to. Connections
// that were never bound, or were unbound when their session ended, get
// ErrSessionNotFound.
func boundSession(c *Conn) (string, error) {
	id := c.SessionID()
	if id == "" {
		return "", fmt.Errorf("%w: connection is not bound to a session", ErrSessionNotFound)
	}
	return id, nil
}

// CreateSession validates slides and starts a session owned by owner.
func (rt *Router) CreateSession(slides []Slide, owner string) (*Session, error) {
	return rt.lifecycle.Create(slides, owner)
}

// Connect registers a new connection. Presenters attach to sessionID right
// away and receive the full presenter snapshot; participants stay unbound
// until they join.
func (rt *Router) Connect(ctx context.Context, role Role, sessionID, owner string) (c *Conn, err error) {
	ctx, span := rt.startSpan(ctx, "connect", nil)
	defer func() { endSpan(span, err) }()

	c, err = rt.registry.Register(role, "")
	if err != nil {
		return nil, err
	}
	rt.metrics.connections.WithLabelValues(string(role)).Inc()

	info := SessionInfoMessage{
		Type:         TypeSessionInfo,
		ConnectionID: c.id,
		Role:         role,
	}

	if role == RoleParticipant {
		rt.send(c, info)
		return c, nil
	}

	err = rt.store.Update(sessionID, func(s *Session) error {
		prev, err := rt.lifecycle.attachLocked(s, c.id, owner)
		if err != nil {
			return err
		}

		if err := rt.registry.Bind(c.id, s.id, ""); err != nil {
			return err
		}

		if prev != "" {
			rt.displacePresenterLocked(s, prev)
		}

		info.SessionID = s.id
		info.State = s.state.String()
		rt.send(c, info)

		snap := s.snapshotLocked(true)
		snap.Roster = rt.registry.Participants(s.id)
		snap.RosterSize = len(snap.Roster)
		rt.send(c, SnapshotMessage{Type: TypeSnapshot, Session: &snap})
		rt.send(c, SlideChangedMessage{Type: TypeSlideChanged, Index: s.current, Slide: s.currentSlideLocked()})

		return nil
	})
	if err != nil {
		rt.Disconnect(ctx, c.id)
		return nil, err
	}

	return c, nil
}

func (rt *Router) displacePresenterLocked(s *Session, prev string) {
	old, ok := rt.registry.Get(prev)
	if !ok {
		return
	}

	rt.send(old, newErrorMessage("", fmt.Errorf("%w: presenter connected from another window", ErrForbidden)))
	_, _ = rt.registry.Unbind(prev)
	old.outbox.Close()
	rt.logf("SESSIONS: Presenter of %s replaced by a new connection", s.id)
}

// Join binds a participant to sessionID, tells everyone in the session
// about the new roster, and sends the joiner the active slide.
func (rt *Router) Join(ctx context.Context, connID, sessionID, displayName string) (err error) {
	c, err := rt.conn(connID)
	if err != nil {
		return err
	}

	_, span := rt.startSpan(ctx, "join", c)
	defer func() { endSpan(span, err) }()

	if c.role != RoleParticipant {
		return fmt.Errorf("%w: presenters cannot join as participants", ErrForbidden)
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = defaultDisplayName
	}

	if old := c.SessionID(); old != "" && old != sessionID {
		rt.Leave(ctx, connID)
	}

	err = rt.store.Update(sessionID, func(s *Session) error {
		if err := rt.registry.Bind(c.id, s.id, name); err != nil {
			return err
		}

		s.lastActive = time.Now()

		rt.broadcastLocked(s, rt.rosterLocked(s))
		rt.send(c, SlideChangedMessage{Type: TypeSlideChanged, Index: s.current, Slide: s.currentSlideLocked()})

		return nil
	})
	if err != nil {
		return err
	}

	rt.logf("SESSIONS: %q joined %s", name, sessionID)

	return nil
}

// Navigate moves the session to index. Only the presenter currently
// attached to the session may do this, and not while it is orphaned.
func (rt *Router) Navigate(ctx context.Context, connID string, index int) (err error) {
	c, err := rt.conn(connID)
	if err != nil {
		return err
	}

	_, span := rt.startSpan(ctx, "navigate", c)
	defer func() { endSpan(span, err) }()

	if c.role != RolePresenter {
		return fmt.Errorf("%w: only the presenter may change slides", ErrForbidden)
	}

	sessionID, err := boundSession(c)
	if err != nil {
		return err
	}

	err = rt.store.Update(sessionID, func(s *Session) error {
		if s.presenter != c.id || s.state != StateActive {
			return fmt.Errorf("%w: not the active presenter of %s", ErrForbidden, s.id)
		}

		if _, err := s.setCurrentLocked(index); err != nil {
			return err
		}

		rt.broadcastLocked(s, SlideChangedMessage{
			Type:  TypeSlideChanged,
			Index: s.current,
			Slide: s.currentSlideLocked(),
		})

		return nil
	})
	if err != nil {
		return err
	}

	rt.metrics.navigations.Inc()

	return nil
}

// Submit merges a participant's response. On success the presenter gets
// the updated aggregate; either way only the submitter learns the result.
func (rt *Router) Submit(ctx context.Context, connID, slideID, value string) (result SubmitResult, err error) {
	c, err := rt.conn(connID)
	if err != nil {
		return SubmitResult{SlideID: slideID, Reason: Reason(err)}, err
	}

	_, span := rt.startSpan(ctx, "submit", c)
	defer func() { endSpan(span, err) }()

	kind := ActivityKind("none")

	if c.role != RoleParticipant {
		err = fmt.Errorf("%w: only participants may submit", ErrForbidden)
	} else {
		var sessionID string
		sessionID, err = boundSession(c)
		if err == nil {
			err = rt.store.Update(sessionID, func(s *Session) error {
				if i, ok := s.slideIndex[slideID]; ok && s.slides[i].Activity != nil {
					kind = s.slides[i].Activity.Kind
				}

				agg, err := rt.aggregator.mergeLocked(s, slideID, c.DisplayName(), value)
				if err != nil {
					return err
				}

				if p, ok := rt.registry.Get(s.presenter); ok {
					rt.send(p, AggregateUpdatedMessage{
						Type:      TypeAggregateUpdated,
						SlideID:   slideID,
						Aggregate: agg,
					})
				}

				return nil
			})
		}
	}

	result = SubmitResult{
		SlideID:  slideID,
		Accepted: err == nil,
		Reason:   Reason(err),
	}

	status := "accepted"
	if err != nil {
		status = "rejected"
	}
	rt.metrics.submissions.WithLabelValues(string(kind), status).Inc()

	c.setLastResult(result)
	rt.send(c, SubmitResultMessage{Type: TypeSubmitResult, SubmitResult: result})

	return result, err
}

// Leave unbinds a participant without closing its connection.
func (rt *Router) Leave(ctx context.Context, connID string) {
	c, ok := rt.registry.Get(connID)
	if !ok || c.role != RoleParticipant {
		return
	}

	sessionID, err := rt.registry.Unbind(connID)
	if err != nil || sessionID == "" {
		return
	}

	rt.announceDeparture(sessionID, c.DisplayName())
}

// Disconnect forgets a connection. A presenter leaving orphans its
// session; a participant leaving is announced to the rest of the session.
func (rt *Router) Disconnect(ctx context.Context, connID string) {
	c, present := rt.registry.Unregister(connID)
	if !present {
		return
	}
	rt.metrics.connections.WithLabelValues(string(c.role)).Dec()

	sessionID := c.SessionID()
	if sessionID == "" {
		return
	}

	switch c.role {
	case RolePresenter:
		_ = rt.lifecycle.Detach(sessionID, connID)
	case RoleParticipant:
		rt.announceDeparture(sessionID, c.DisplayName())
	}
}

func (rt *Router) announceDeparture(sessionID, name string) {
	_ = rt.store.Update(sessionID, func(s *Session) error {
		rt.broadcastLocked(s, rt.rosterLocked(s))
		return nil
	})
	rt.logf("SESSIONS: %q left %s", name, sessionID)
}

// End terminates the presenter's session.
func (rt *Router) End(ctx context.Context, connID string) (err error) {
	c, err := rt.conn(connID)
	if err != nil {
		return err
	}

	_, span := rt.startSpan(ctx, "end", c)
	defer func() { endSpan(span, err) }()

	if c.role != RolePresenter {
		return fmt.Errorf("%w: only the presenter may end the session", ErrForbidden)
	}

	sessionID, err := boundSession(c)
	if err != nil {
		return err
	}

	return rt.lifecycle.End(sessionID, connID)
}

// Snapshot returns a *SessionSnapshot for the presenter of a session and a
// *ParticipantView for anyone else.
func (rt *Router) Snapshot(connID string) (any, error) {
	c, err := rt.conn(connID)
	if err != nil {
		return nil, err
	}

	sessionID, err := boundSession(c)
	if err != nil {
		return nil, err
	}

	var out any
	err = rt.store.View(sessionID, func(s *Session) error {
		roster := rt.registry.Participants(s.id)

		if c.role == RolePresenter && s.presenter == c.id {
			snap := s.snapshotLocked(true)
			snap.Roster = roster
			snap.RosterSize = len(roster)
			out = &snap
			return nil
		}

		out = &ParticipantView{
			SessionID:  s.id,
			State:      s.state,
			Index:      s.current,
			Slide:      s.currentSlideLocked(),
			RosterSize: len(roster),
			LastResult: c.LastResult(),
		}
		return nil
	})

	return out, err
}

// PublicView describes a session to someone who has not joined it.
func (rt *Router) PublicView(sessionID string) (ParticipantView, error) {
	var view ParticipantView

	err := rt.store.View(sessionID, func(s *Session) error {
		view = ParticipantView{
			SessionID:  s.id,
			State:      s.state,
			Index:      s.current,
			Slide:      s.currentSlideLocked(),
			RosterSize: len(rt.registry.Participants(s.id)),
		}
		return nil
	})

	return view, err
}

// HandleMessage dispatches one decoded client message. Failures are
// reported to the sending connection only; submissions report through
// their submitResult instead of an error message.
func (rt *Router) HandleMessage(ctx context.Context, connID string, msg ClientMessage) error {
	c, err := rt.conn(connID)
	if err != nil {
		return err
	}

	switch msg.Type {
	case TypeJoin:
		err = rt.Join(ctx, connID, msg.SessionID, msg.DisplayName)

	case TypeNavigate:
		err = rt.Navigate(ctx, connID, msg.Index)

	case TypeSubmit:
		_, err = rt.Submit(ctx, connID, msg.SlideID, msg.Value)
		return err

	case TypeSnapshot:
		var snap any
		snap, err = rt.Snapshot(connID)
		if err == nil {
			out := SnapshotMessage{Type: TypeSnapshot}
			switch v := snap.(type) {
			case *SessionSnapshot:
				out.Session = v
			case *ParticipantView:
				out.View = v
			}
			rt.send(c, out)
		}

	case TypeLeave:
		rt.Leave(ctx, connID)

	case TypeEnd:
		err = rt.End(ctx, connID)

	default:
		return nil
	}

	if err != nil {
		if errors.Is(err, ErrForbidden) {
			rt.logf("SESSIONS: Refused %q from %s connection %s: %v", msg.Type, c.role, c.id, err)
		}
		rt.send(c, newErrorMessage(msg.Type, err))
	}

	return err
}
