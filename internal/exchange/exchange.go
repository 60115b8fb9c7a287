// Package exchange is the downstream collaborator behind the chat command:
// it turns a session history into one assistant reply.
package exchange

import (
	"context"
	"errors"

	"whizbot/internal/services/session"
)

// ErrUnavailable is returned when no downstream backend is configured.
var ErrUnavailable = errors.New("chat exchange not configured")

// Exchanger performs one request/response exchange with the downstream
// model. Implementations must honor ctx cancellation.
type Exchanger interface {
	Exchange(ctx context.Context, turns []session.Turn) (string, error)
}

// Disabled is an Exchanger that always reports unavailability. Used when
// chat is switched off or no API key is present.
type Disabled struct{}

func (Disabled) Exchange(context.Context, []session.Turn) (string, error) {
	return "", ErrUnavailable
}
