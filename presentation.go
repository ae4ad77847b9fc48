// Townhall live presentations
//
// A presenter POSTs a finished slide deck and gets back a session id. From
// then on everything happens over one websocket per browser:
//
// - POST   /s              create a session, sets the presenter's owner cookie
// - GET    /s/:id          public view of a session (current slide, roster size)
// - GET    /s/:id/ws       websocket; ?role=presenter for the owner, otherwise participant
// - GET    /s/:id/qr       PNG QR code of the participant join URL, backed by go-qrcode
//
// Presenters are identified by the owner cookie set when the session was
// created, so a refreshed presenter tab re-attaches to its session.
// Participants connect, then send a "join" message with their display name.

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Seednode/townhall/live"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	ownerCookieName = "townhall_owner"

	maxDeckBytes   = 1 << 20
	maxMessageSize = 16 << 10

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// createSessionRequest is the body of POST /s.
type createSessionRequest struct {
	Slides []live.Slide `json:"slides"`
}

type createSessionResponse struct {
	SessionID    string `json:"session_id"`
	JoinURL      string `json:"join_url"`
	PresenterURL string `json:"presenter_url"`
	QRURL        string `json:"qr_url"`
}

// client pairs a websocket with its engine connection.
type client struct {
	ws     *websocket.Conn
	conn   *live.Conn
	engine *live.Router
	cfg    *Config
}

func newOwnerID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	return hex.EncodeToString(buf)
}

func ownerID(r *http.Request) string {
	if c, err := r.Cookie(ownerCookieName); err == nil {
		return c.Value
	}
	return ""
}

func getOrSetOwnerID(cfg *Config, w http.ResponseWriter, r *http.Request) string {
	if id := ownerID(r); id != "" {
		return id
	}

	id := newOwnerID()
	if id == "" {
		return ""
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ownerCookieName,
		Value:    id,
		Path:     cfg.prefix + "/",
		HttpOnly: true,
		Secure:   cfg.scheme() == "https",
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(v)
}

// httpStatus maps engine errors onto HTTP responses for the non-websocket
// endpoints and failed websocket handshakes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, live.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, live.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, live.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func serveCreateSession(cfg *Config, path string, engine *live.Router, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		securityHeaders(cfg, w)

		var req createSessionRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDeckBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			http.Error(w, "invalid slide deck: "+err.Error(), http.StatusBadRequest)
			return
		}

		owner := getOrSetOwnerID(cfg, w, r)
		if owner == "" {
			http.Error(w, "unable to assign owner id", http.StatusInternalServerError)
			return
		}

		s, err := engine.CreateSession(req.Slides, owner)
		if err != nil {
			http.Error(w, err.Error(), httpStatus(err))
			return
		}

		base := cfg.prefix + path + "/" + s.ID()

		err = writeJSON(w, http.StatusCreated, createSessionResponse{
			SessionID:    s.ID(),
			JoinURL:      base,
			PresenterURL: base + "/ws?role=presenter",
			QRURL:        base + "/qr",
		})
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Created session %s for %s in %s",
			s.ID(),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveSessionView(cfg *Config, engine *live.Router, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		securityHeaders(cfg, w)

		view, err := engine.PublicView(ps.ByName("id"))
		if err != nil {
			http.Error(w, err.Error(), httpStatus(err))
			return
		}

		if err := writeJSON(w, http.StatusOK, view); err != nil {
			errs <- err
		}
	}
}

// serveWS attaches a websocket to the engine. Presenter handshakes are
// checked before upgrading so a wrong owner gets a plain HTTP error.
func serveWS(cfg *Config, engine *live.Router) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sessionID := ps.ByName("id")
		if sessionID == "" {
			http.Error(w, "missing session id", http.StatusBadRequest)
			return
		}

		role := live.RoleParticipant
		if r.URL.Query().Get("role") == string(live.RolePresenter) {
			role = live.RolePresenter
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		var owner string
		if role == live.RolePresenter {
			owner = ownerID(r)
		} else if !engine.Store().Exists(sessionID) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := engine.Connect(ctx, role, sessionID, owner)
		if err != nil {
			http.Error(w, err.Error(), httpStatus(err))
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			engine.Disconnect(ctx, conn.ID())
			return
		}

		logf(cfg, "SESSIONS: %s %s connected to %s from %s", role, conn.ID(), sessionID, realIP(r))

		c := &client{
			ws:     ws,
			conn:   conn,
			engine: engine,
			cfg:    cfg,
		}

		go c.writePump(ctx)
		c.readPump(ctx)
	}
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.engine.Disconnect(ctx, c.conn.ID())
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg live.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) && !errors.Is(err, websocket.ErrCloseSent) {
				logf(c.cfg, "SESSIONS: Read from %s failed: %v", c.conn.ID(), err)
			}
			return
		}

		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		_ = c.engine.HandleMessage(ctx, c.conn.ID(), msg)
	}
}

// writePump is the only writer on the socket. It sends queued messages as
// they arrive and pings when the outbox has been quiet for pingPeriod.
func (c *client) writePump(ctx context.Context) {
	defer c.ws.Close()

	outbox := c.conn.Outbox()

	for {
		waitCtx, cancel := context.WithTimeout(ctx, pingPeriod)
		msg, err := outbox.Next(waitCtx)
		cancel()

		switch {
		case err == nil:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}

		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		default:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// qrHandler generates a PNG QR code of the participant join URL.
func qrHandler(cfg *Config, engine *live.Router) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sessionID := ps.ByName("id")
		if !engine.Store().Exists(sessionID) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		scheme := cfg.scheme()
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at /.../:id/qr; strip trailing "/qr" to get the join URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

// registerPresentations sets up routes so that:
//   - $path                  → POST creates a session
//   - $path/:id              → JSON public view
//   - $path/:id/ws           → WebSocket for that session
//   - $path/:id/qr           → PNG QR code for the join URL
func registerPresentations(cfg *Config, path string, mux *httprouter.Router, engine *live.Router, errs chan<- error) {
	mux.POST(cfg.prefix+path, serveCreateSession(cfg, path, engine, errs))

	mux.GET(cfg.prefix+path+"/:id", serveSessionView(cfg, engine, errs))

	mux.GET(cfg.prefix+path+"/:id/ws", serveWS(cfg, engine))

	mux.GET(cfg.prefix+path+"/:id/qr", qrHandler(cfg, engine))
}
