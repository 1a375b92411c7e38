package defcon

import "time"

// Report is the externally visible status document served to dashboards and
// indexers.
type Report struct {
	Status                   Status     `json:"status"`
	IsActive                 bool       `json:"is_active"`
	Owner                    string     `json:"owner"`
	Oracle                   string     `json:"oracle"`
	ActivatedAt              *time.Time `json:"activated_at,omitempty"`
	DeactivationRequestedAt  *time.Time `json:"deactivation_requested_at,omitempty"`
	DeactivationExpiresAt    *time.Time `json:"deactivation_expires_at,omitempty"`
	TimelockSeconds          int64      `json:"timelock_seconds"`
	RemainingTimelockSeconds int64      `json:"remaining_timelock_seconds"`
	RemainingTimelock        string     `json:"remaining_timelock"`
	Sequence                 uint64     `json:"sequence"`
}

// Report snapshots the machine as a Report.
func (m *Machine) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.state
	remaining := m.remainingLocked(m.now())
	r := Report{
		Status:                   s.Status,
		IsActive:                 s.IsActive(),
		Owner:                    s.Owner.String(),
		Oracle:                   s.Oracle.String(),
		TimelockSeconds:          int64(m.timelock.Duration / time.Second),
		RemainingTimelockSeconds: int64((remaining + time.Second - 1) / time.Second),
		RemainingTimelock:        FormatRemaining(remaining),
		Sequence:                 m.log.Sequence(),
	}
	if !s.ActivatedAt.IsZero() {
		at := s.ActivatedAt
		r.ActivatedAt = &at
	}
	if s.Status == StatusPendingDeactivation {
		requested := s.DeactivationRequestedAt
		expires := m.timelock.Expiry(requested)
		r.DeactivationRequestedAt = &requested
		r.DeactivationExpiresAt = &expires
	}
	return r
}
