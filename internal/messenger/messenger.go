// Package messenger defines the outbound chat operations the gateway needs.
package messenger

import (
	"context"
	"errors"
	"fmt"
)

// Messenger sends and edits messages on the chat frontend.
type Messenger interface {
	// SendMessage posts text to chatID and returns the new message id.
	SendMessage(ctx context.Context, chatID, text string) (int64, error)
	// EditMessage replaces the text of an existing message.
	EditMessage(ctx context.Context, chatID string, messageID int64, text string) error
	// SendTyping shows a typing indicator. Callers treat it as best-effort.
	SendTyping(ctx context.Context, chatID string) error
}

// TransientError is an outbound failure worth retrying later: rate limiting,
// upstream 5xx or a network fault.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is, or wraps, a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
