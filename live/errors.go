/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package live

import "errors"

var (
	ErrValidation      = errors.New("invalid session definition")
	ErrForbidden       = errors.New("forbidden")
	ErrSessionNotFound = errors.New("session not found")
	ErrIndex           = errors.New("slide index out of range")
	ErrTooLong         = errors.New("value too long")
	ErrInvalidOption   = errors.New("not a poll option")
	ErrUnsupported     = errors.New("activity does not accept submissions")
	ErrSessionEnded    = errors.New("session ended")
	ErrUnknownSlide    = errors.New("unknown slide")
	ErrEmptyValue      = errors.New("empty value")
	ErrConnNotFound    = errors.New("connection not found")
	ErrOutboxClosed    = errors.New("outbox closed")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrValidation, "validation"},
	{ErrForbidden, "forbidden"},
	{ErrSessionNotFound, "session_not_found"},
	{ErrIndex, "index_out_of_range"},
	{ErrTooLong, "too_long"},
	{ErrInvalidOption, "invalid_option"},
	{ErrUnsupported, "unsupported"},
	{ErrSessionEnded, "session_ended"},
	{ErrUnknownSlide, "unknown_slide"},
	{ErrEmptyValue, "empty_value"},
	{ErrConnNotFound, "connection_not_found"},
}

// Reason maps an engine error to the short code sent over the wire.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}
