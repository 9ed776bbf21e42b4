package chat

import (
	"errors"
	"fmt"
	"time"
)

// Failure taxonomy surfaced by the chat service and the session gate.
// "Already read" and "not found" on mark-as-read/delete are reported as a
// boolean outcome instead; those are expected idempotent races, not faults.
var (
	ErrInvalidParticipant = errors.New("unknown sender or recipient")
	ErrEmptyContent       = errors.New("message content cannot be empty")
	ErrUnauthenticated    = errors.New("no authenticated caller identity")
	ErrForbidden          = errors.New("caller does not own this resource")
	ErrNotFound           = errors.New("not found")
	ErrEmailNotConfirmed  = errors.New("email address not confirmed")
)

// BannedError rejects a session open or login for a banned account. It
// carries enough detail for a client to render an actionable message.
type BannedError struct {
	Reason    string
	Permanent bool
	Expiry    *time.Time
}

func (e *BannedError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("account permanently banned: %s", e.Reason)
	}
	if e.Expiry != nil {
		return fmt.Sprintf("account banned until %s: %s", e.Expiry.Format(time.RFC3339), e.Reason)
	}
	return fmt.Sprintf("account banned: %s", e.Reason)
}
