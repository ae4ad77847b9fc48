package live

// Message types exchanged over a connection.
const (
	TypeJoin     = "join"
	TypeNavigate = "navigate"
	TypeSubmit   = "submit"
	TypeSnapshot = "snapshot"
	TypeLeave    = "leave"
	TypeEnd      = "end"

	TypeSessionInfo      = "sessionInfo"
	TypeSlideChanged     = "slideChanged"
	TypeSubmitResult     = "submitResult"
	TypeAggregateUpdated = "aggregateUpdated"
	TypeRosterChanged    = "rosterChanged"
	TypeSessionEnded     = "sessionEnded"
	TypeError            = "error"
)

// ClientMessage is anything a client may send; which fields are read
// depends on Type.
type ClientMessage struct {
	Type        string `json:"type"`                   // "join", "navigate", "submit", "snapshot", "leave", "end"
	SessionID   string `json:"session_id,omitempty"`   // join
	DisplayName string `json:"display_name,omitempty"` // join
	Index       int    `json:"index,omitempty"`        // navigate
	SlideID     string `json:"slide_id,omitempty"`     // submit
	Value       string `json:"value,omitempty"`        // submit
}

// SessionInfoMessage is the first message on every connection.
type SessionInfoMessage struct {
	Type         string `json:"type"` // "sessionInfo"
	ConnectionID string `json:"connection_id"`
	Role         Role   `json:"role"`
	SessionID    string `json:"session_id,omitempty"`
	State        string `json:"state,omitempty"`
}

// SlideChangedMessage carries full slide content; clients are never
// expected to have cached it.
type SlideChangedMessage struct {
	Type  string `json:"type"` // "slideChanged"
	Index int    `json:"index"`
	Slide Slide  `json:"slide"`
}

type SubmitResult struct {
	SlideID  string `json:"slide_id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// SubmitResultMessage goes only to the submitting connection.
type SubmitResultMessage struct {
	Type string `json:"type"` // "submitResult"
	SubmitResult
}

// AggregateUpdatedMessage goes only to the presenter.
type AggregateUpdatedMessage struct {
	Type      string    `json:"type"` // "aggregateUpdated"
	SlideID   string    `json:"slide_id"`
	Aggregate Aggregate `json:"aggregate"`
}

type RosterChangedMessage struct {
	Type  string   `json:"type"` // "rosterChanged"
	Names []string `json:"names"`
}

type SessionEndedMessage struct {
	Type   string `json:"type"` // "sessionEnded"
	Reason string `json:"reason,omitempty"`
}

// SnapshotMessage answers a "snapshot" request. Presenter gets Session,
// participants get View.
type SnapshotMessage struct {
	Type    string           `json:"type"` // "snapshot"
	Session *SessionSnapshot `json:"session,omitempty"`
	View    *ParticipantView `json:"view,omitempty"`
}

// ErrorMessage reports a failed request to the connection that sent it.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Request string `json:"request,omitempty"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func newErrorMessage(request string, err error) ErrorMessage {
	return ErrorMessage{
		Type:    TypeError,
		Request: request,
		Reason:  Reason(err),
		Message: err.Error(),
	}
}
