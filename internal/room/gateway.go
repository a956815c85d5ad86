// Package room talks to the external real-time room provider.
package room

import (
	"context"
	"errors"
	"fmt"
)

// Gateway is the contract the coordinator needs from the room provider.
// Room state per name goes Absent -> Created -> Active -> Absent.
type Gateway interface {
	// EnsureRoom creates the room; an existing room counts as success.
	EnsureRoom(ctx context.Context, name string) error
	// ParticipantCount returns how many participants are connected.  An
	// absent room has zero.
	ParticipantCount(ctx context.Context, name string) (int, error)
	// DeleteRoom removes the room.  It is best effort: an absent room is
	// not an error and failures are only reported to the caller.
	DeleteRoom(ctx context.Context, name string) error
	// SendData broadcasts payload to every participant of the room under
	// the given topic.
	SendData(ctx context.Context, name string, payload []byte, topic string) error
}

// ErrUnavailable marks every provider failure.  Callers test for it with
// errors.Is.
var ErrUnavailable = errors.New("room provider unavailable")

// ProviderError describes a failed provider call.
type ProviderError struct {
	Op     string
	Status int    // HTTP status, 0 for transport errors
	Code   string // twirp error code
	Msg    string
	Err    error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("room %s: %v", e.Op, e.Err)
	case e.Code != "":
		return fmt.Sprintf("room %s: %d %s: %s", e.Op, e.Status, e.Code, e.Msg)
	default:
		return fmt.Sprintf("room %s: status %d", e.Op, e.Status)
	}
}

// Unwrap lets errors.Is match both ErrUnavailable and the transport cause.
func (e *ProviderError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUnavailable, e.Err}
	}
	return []error{ErrUnavailable}
}

// Retryable reports whether another attempt might succeed.
func (e *ProviderError) Retryable() bool {
	return e.Status == 0 || e.Status >= 500 || e.Status == 429
}
