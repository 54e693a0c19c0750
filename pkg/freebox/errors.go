package freebox

import "fmt"

// Error codes the device returns when the session token is missing, expired or revoked.
const (
	CodeAuthRequired   = "auth_required"
	CodeInvalidSession = "invalid_session"
)

// TransportError reports a failed exchange with the device: unreachable host, TLS failure,
// timeout, or a reply that is not a Freebox API envelope.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError is returned when the device answered with success=false.
type APIError struct {
	Op     string
	Status int
	Code   string
	Msg    string
}

func (e *APIError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = "request rejected by device"
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Code)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

// sessionLost reports whether code means the session can no longer be used.
func sessionLost(code string) bool {
	return code == CodeAuthRequired || code == CodeInvalidSession
}
