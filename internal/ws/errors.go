package ws

import (
	"errors"
	"fmt"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
)

// Wire error codes of the dispatch taxonomy.
const (
	codeInvalidPresence   = "INVALID_PRESENCE_DATA"
	codeInvalidRequest    = "INVALID_REQUEST_DATA"
	codeInvalidTransition = "INVALID_STATE_TRANSITION"
	codeDispatchFailure   = "DISPATCH_FAILURE"
)

// classify maps internal errors to the structured codes clients see.
// Anything unrecognized is surfaced as an opaque dispatch failure.
func classify(err error) (code, message string) {
	switch {
	case errors.Is(err, presence.ErrInvalidPresence):
		return codeInvalidPresence, err.Error()
	case errors.Is(err, dispatch.ErrInvalidRequest):
		return codeInvalidRequest, err.Error()
	case errors.Is(err, lifecycle.ErrNotFound):
		return codeInvalidRequest, err.Error()
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return codeInvalidTransition, "ride already taken or closed"
	default:
		return codeDispatchFailure, "dispatch failure"
	}
}

func errorAckFor(err error) models.ErrorAck {
	code, msg := classify(err)
	return models.ErrorAck{Status: "error", Code: code, Message: msg}
}

func errInvalidRequest(msg string) error {
	return fmt.Errorf("%w: %s", dispatch.ErrInvalidRequest, msg)
}

func errInvalidPresence(msg string) error {
	return fmt.Errorf("%w: %s", presence.ErrInvalidPresence, msg)
}
