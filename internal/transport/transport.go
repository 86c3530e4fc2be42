// Package transport delivers rendered messages to subscribers. Failures
// are split into two classes: unreachable recipients (blocked, deleted,
// unknown chat) which the scheduler drops from the active set, and
// transient failures which are retried naturally on the next tick.
package transport

import (
	"context"
	"errors"
)

// ErrUnreachable marks a recipient that can never be delivered to again.
var ErrUnreachable = errors.New("transport: recipient unreachable")

// Sender pushes one rendered text to one recipient.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}
