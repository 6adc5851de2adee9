package domain

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrTokenInvalid       = errors.New("token is invalid or expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
)

// MagicToken is a process-local record of an issued sign-in link. Email is
// kept for logging only; UserID is the authoritative identity.
type MagicToken struct {
	Token     string
	UserID    string
	Email     string
	ExpiresAt time.Time
	UsedAt    *time.Time
}

func (t *MagicToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// RejectReason is the internal cause of a failed redemption. It is logged
// and counted but never returned to HTTP callers.
type RejectReason string

const (
	RejectNotFound        RejectReason = "not_found"
	RejectExpired         RejectReason = "expired"
	RejectAlreadyUsed     RejectReason = "already_used"
	RejectAccountDisabled RejectReason = "account_disabled"
	RejectLookupFailed    RejectReason = "lookup_failed"
)

// RejectionError carries the reason for a failed redemption and unwraps to
// ErrTokenInvalid so callers can only tell that it failed.
type RejectionError struct {
	Reason RejectReason
	Err    error
}

func (e *RejectionError) Error() string {
	if e.Err != nil {
		return "magic link rejected (" + string(e.Reason) + "): " + e.Err.Error()
	}
	return "magic link rejected (" + string(e.Reason) + ")"
}

func (e *RejectionError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTokenInvalid, e.Err}
	}
	return []error{ErrTokenInvalid}
}

// IssuedLink is the outcome of a successful issuance.
type IssuedLink struct {
	Token     string
	URL       string
	Email     string
	ExpiresAt time.Time
	// Mirrored is false when the durable write failed. Such a link can only
	// be redeemed by the process that issued it.
	Mirrored bool
}

// Session is a signed session token and the identity it carries.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Identity  *Identity
}
