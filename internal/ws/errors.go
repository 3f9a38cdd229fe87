package ws

import (
	"errors"
	"fmt"

	"chat-gateway/internal/proto"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrIdentityMismatch = errors.New("user id does not match connection identity")
)

// EventError is the outcome of a client event that was not applied. Code is
// reported back to the sender in an error event.
type EventError struct {
	Code  string
	Event string
	Err   error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Event, e.Code, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

func eventError(event, code string, err error) *EventError {
	return &EventError{Code: code, Event: event, Err: err}
}

// errorCode maps any handler error to a wire error code.
func errorCode(err error) string {
	var evErr *EventError
	if errors.As(err, &evErr) {
		return evErr.Code
	}
	return proto.CodeInternal
}

// publicMessage hides store internals from clients.
func publicMessage(err error) string {
	var evErr *EventError
	if !errors.As(err, &evErr) {
		return "internal error"
	}
	switch evErr.Code {
	case proto.CodePersistFailed:
		return "could not store " + evErr.Event
	case proto.CodeInternal:
		return "internal error"
	default:
		return evErr.Err.Error()
	}
}
