package roomly

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected         = fmt.Errorf("channel not connected")
	ErrCredentialsMissing   = fmt.Errorf("credentials are required")
	ErrCredentialsExpired   = fmt.Errorf("credentials expired")
	ErrInvalidTransition    = fmt.Errorf("invalid state transition")
	ErrTerminalState        = fmt.Errorf("entity is in a terminal state")
	ErrReasonRequired       = fmt.Errorf("cancellation reason is required for a paid booking")
	ErrCheckInNotAllowed    = fmt.Errorf("check-in requires an approved booking with a paid invoice")
	ErrCommandInFlight      = fmt.Errorf("another command is already in flight for this invoice")
	ErrUnknownBooking       = fmt.Errorf("unknown booking")
	ErrUnknownInvoice       = fmt.Errorf("unknown invoice")
	ErrUnknownMessage       = fmt.Errorf("unknown message")
	ErrCorrelationMismatch  = fmt.Errorf("entity correlation id does not match")
	ErrSessionClosed        = fmt.Errorf("session closed")
	ErrMalformedPayload     = fmt.Errorf("malformed payload")
	ErrUnexpectedHandshake  = fmt.Errorf("unexpected handshake message")
	ErrEmptyResponsePayload = fmt.Errorf("empty response payload")
	ErrInvalidCommand       = fmt.Errorf("invalid command")
)

// APIError represents an error payload returned by the remote API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// CommandError is returned when a remote command fails. The correlation id is
// kept so that a retry reuses it.
type CommandError struct {
	Command       string
	CorrelationID string
	Err           error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s command failed (correlation %s): %v", e.Command, e.CorrelationID, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsCommandError reports whether err is a failed remote command and returns it.
func IsCommandError(err error) (*CommandError, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr, true
	}
	return nil, false
}
