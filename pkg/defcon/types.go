// Package defcon implements the DEFCON ZERO emergency-response state machine.
//
// A single oracle identity may move the protocol from SECURE into
// DEFCON_ZERO. Only the owner may start the way back out, and the return to
// SECURE is held behind a fixed timelock. Once the timelock has elapsed any
// caller may finalize it, so the owner controls when the countdown starts
// but not whether it ends.
//
// Every accepted mutation produces exactly one audit entry. State and audit
// entry commit together or not at all.
package defcon

import (
	"context"
	"time"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/identity"
)

// Status is the protocol's threat posture.
type Status string

const (
	StatusSecure              Status = "SECURE"
	StatusDefconZero          Status = "DEFCON_ZERO"
	StatusPendingDeactivation Status = "PENDING_DEACTIVATION"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSecure, StatusDefconZero, StatusPendingDeactivation:
		return true
	}
	return false
}

// Level is the numeric posture exported as a metric.
func (s Status) Level() int64 {
	switch s {
	case StatusDefconZero:
		return 1
	case StatusPendingDeactivation:
		return 2
	}
	return 0
}

// State is a point-in-time snapshot of the protocol state.
type State struct {
	Status                  Status           `json:"status"`
	Owner                   identity.Address `json:"owner"`
	Oracle                  identity.Address `json:"oracle"`
	ActivatedAt             time.Time        `json:"activated_at"`
	DeactivationRequestedAt time.Time        `json:"deactivation_requested_at"`
	Timelock                time.Duration    `json:"timelock"`
}

// IsActive reports whether the protocol is in any emergency posture.
func (s State) IsActive() bool {
	return s.Status != StatusSecure
}

// TransitionPayload is the audit payload shared by every event kind. Fields
// not relevant to a kind are left empty.
type TransitionPayload struct {
	From           Status            `json:"from,omitempty"`
	To             Status            `json:"to,omitempty"`
	RequestedAt    *time.Time        `json:"requested_at,omitempty"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	PreviousOracle *identity.Address `json:"previous_oracle,omitempty"`
	NewOracle      *identity.Address `json:"new_oracle,omitempty"`
	// Status is the unchanged status an oracle update was made under.
	Status         Status            `json:"status,omitempty"`
}

// OracleUpdateRequest is the input to an OracleGuard.
type OracleUpdateRequest struct {
	Status        Status
	Caller        identity.Address
	CurrentOracle identity.Address
	NewOracle     identity.Address
	// PendingFor is the time already spent in PENDING_DEACTIVATION, zero otherwise.
	PendingFor time.Duration
}

// OracleGuard decides whether an owner-authorized oracle change may proceed
// given the current posture. A nil guard permits every change.
type OracleGuard interface {
	AllowOracleUpdate(ctx context.Context, req OracleUpdateRequest) error
}
