package defcon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/identity"
)

// Config is the construction-time configuration owned by deployment tooling.
type Config struct {
	Owner  identity.Address
	Oracle identity.Address
	// Timelock defaults to DefaultTimelock when zero.
	Timelock time.Duration
	Log      *auditlog.Log
	Guard    OracleGuard
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Machine owns the protocol state. All mutations are serialized on a single
// lock; queries take a read lock and observe a committed state.
type Machine struct {
	mu       sync.RWMutex
	state    State
	genesis  State
	timelock Timelock
	log      *auditlog.Log
	guard    OracleGuard
	clock    func() time.Time
	logger   *slog.Logger
}

// New validates cfg and restores state from any entries already present in
// cfg.Log.
func New(cfg Config) (*Machine, error) {
	if cfg.Owner.IsZero() {
		return nil, fmt.Errorf("%w: owner must not be the zero address", ErrInvalidArgument)
	}
	if cfg.Oracle.IsZero() {
		return nil, fmt.Errorf("%w: oracle must not be the zero address", ErrInvalidArgument)
	}
	if cfg.Timelock < 0 {
		return nil, fmt.Errorf("%w: timelock must be positive, got %s", ErrInvalidArgument, cfg.Timelock)
	}
	if cfg.Timelock%time.Second != 0 {
		return nil, fmt.Errorf("%w: timelock must be a whole number of seconds, got %s", ErrInvalidArgument, cfg.Timelock)
	}
	if cfg.Timelock == 0 {
		cfg.Timelock = DefaultTimelock
	}
	if cfg.Log == nil {
		return nil, errors.New("fail-closed: audit log not configured")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	genesis := State{
		Status:   StatusSecure,
		Owner:    cfg.Owner,
		Oracle:   cfg.Oracle,
		Timelock: cfg.Timelock,
	}
	m := &Machine{
		state:    genesis,
		genesis:  genesis,
		timelock: Timelock{Duration: cfg.Timelock},
		log:      cfg.Log,
		guard:    cfg.Guard,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("component", "defcon"),
	}

	if cfg.Log.Len() > 0 {
		restored, err := Replay(genesis, cfg.Log.Entries())
		if err != nil {
			return nil, fmt.Errorf("restore from audit log: %w", err)
		}
		m.state = restored
		m.logger.Info("state restored from audit log",
			"entries", cfg.Log.Len(),
			"status", restored.Status,
			"oracle", restored.Oracle.String(),
		)
	}
	return m, nil
}

// Genesis describes the initial configuration in the form stores persist.
func (m *Machine) Genesis() auditlog.Genesis {
	return auditlog.Genesis{
		Owner:           m.genesis.Owner.String(),
		Oracle:          m.genesis.Oracle.String(),
		TimelockSeconds: int64(m.genesis.Timelock / time.Second),
	}
}

// Log returns the audit log the machine writes to.
func (m *Machine) Log() *auditlog.Log {
	return m.log
}

// Activate moves SECURE to DEFCON_ZERO. Oracle only.
func (m *Machine) Activate(ctx context.Context, caller identity.Address) (uint64, error) {
	const op = "activate"
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if err := requireOracle(op, &m.state, caller); err != nil {
		return 0, m.rejected(ctx, op, caller, err)
	}
	if err := requireStatus(op, &m.state, StatusSecure); err != nil {
		return 0, m.rejected(ctx, op, caller, err)
	}

	next := m.state
	next.Status = StatusDefconZero
	next.ActivatedAt = now
	return m.commit(ctx, op, caller, now, auditlog.KindActivated, TransitionPayload{
		From: StatusSecure,
		To:   StatusDefconZero,
	}, next)
}

// RequestDeactivation starts the timelock. Owner only.
func (m *Machine) RequestDeactivation(ctx context.Context, caller identity.Address) (uint64, error) {
	const op = "requestDeactivation"
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if err := requireOwner(op, &m.state, caller); err != nil {
		return 0, m.rejected(ctx, op, caller, err)
	}
	if err := requireStatus(op, &m.state, StatusDefconZero); err != nil {
		return 0, m.rejected(ctx, op, caller, err)
	}

	expires := m.timelock.Expiry(now)
	next := m.state
	next.Status = StatusPendingDeactivation
	next.DeactivationRequestedAt = now
	return m.commit(ctx, op, caller, now, auditlog.KindDeactivationRequested, TransitionPayload{
		From:        StatusDefconZero,
		To:          StatusPendingDeactivation,
		RequestedAt: &now,
		ExpiresAt:   &expires,
	}, next)
}

// FinalizeDeactivation returns to SECURE once the timelock has elapsed.
// Any caller may finalize.
func (m *Machine) FinalizeDeactivation(ctx context.Context, caller identity.Address) (uint64, error) {
	const op = "finalizeDeactivation"
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if err := requireStatus(op, &m.state, StatusPendingDeactivation); err != nil {
		return 0, m.rejected(ctx, op, caller, err)
	}
	requested := m.state.DeactivationRequestedAt
	if !m.timelock.Expired(requested, now) {
		remaining := m.timelock.Remaining(requested, now)
		err := &Error{
			Op:        op,
			Kind:      ErrTimelockNotExpired,
			Detail:    fmt.Sprintf("%s remaining", FormatRemaining(remaining)),
			Remaining: remaining,
		}
		return 0, m.rejected(ctx, op, caller, err)
	}

	next := m.state
	next.Status = StatusSecure
	next.DeactivationRequestedAt = time.Time{}
	return m.commit(ctx, op, caller, now, auditlog.KindDeactivationFinalized, TransitionPayload{
		From:        StatusPendingDeactivation,
		To:          StatusSecure,
		RequestedAt: &requested,
	}, next)
}

// CancelDeactivation aborts a pending deactivation and returns to
// DEFCON_ZERO. Owner only.
func (m *Machine) CancelDeactivation(ctx context.Context, caller identity.Address) (uint64, error) {
	const op = "cancelDeactivation"
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if err := requireOwner(op, &m.state, caller); err != nil {
		return 0, m.rejected(ctx, op, caller, err)
	}
	if err := requireStatus(op, &m.state, StatusPendingDeactivation); err != nil {
		return 0, m.rejected(ctx, op, caller, err)
	}

	requested := m.state.DeactivationRequestedAt
	next := m.state
	next.Status = StatusDefconZero
	next.DeactivationRequestedAt = time.Time{}
	return m.commit(ctx, op, caller, now, auditlog.KindDeactivationCancelled, TransitionPayload{
		From:        StatusPendingDeactivation,
		To:          StatusDefconZero,
		RequestedAt: &requested,
	}, next)
}

// UpdateOracle replaces the oracle identity. Owner only; permitted in any
// status unless the configured guard refuses it.
func (m *Machine) UpdateOracle(ctx context.Context, caller, newOracle identity.Address) (uint64, error) {
	const op = "updateOracle"
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if err := requireOwner(op, &m.state, caller); err != nil {
		return 0, m.rejected(ctx, op, caller, err)
	}
	if newOracle.IsZero() {
		return 0, m.rejected(ctx, op, caller, reject(op, ErrInvalidArgument, "oracle must not be the zero address"))
	}
	previous := m.state.Oracle
	if newOracle == previous {
		return 0, m.rejected(ctx, op, caller, reject(op, ErrInvalidArgument, "%s is already the oracle", newOracle))
	}
	if m.guard != nil {
		req := OracleUpdateRequest{
			Status:        m.state.Status,
			Caller:        caller,
			CurrentOracle: previous,
			NewOracle:     newOracle,
		}
		if m.state.Status == StatusPendingDeactivation {
			req.PendingFor = m.timelock.Elapsed(m.state.DeactivationRequestedAt, now)
		}
		if err := m.guard.AllowOracleUpdate(ctx, req); err != nil {
			if KindOf(err) == "" {
				err = &Error{Op: op, Kind: ErrInvalidStateTransition, Detail: err.Error()}
			}
			return 0, m.rejected(ctx, op, caller, err)
		}
	}

	next := m.state
	next.Oracle = newOracle
	return m.commit(ctx, op, caller, now, auditlog.KindOracleUpdated, TransitionPayload{
		PreviousOracle: &previous,
		NewOracle:      &newOracle,
		Status:         m.state.Status,
	}, next)
}

// IsActive reports status != SECURE.
func (m *Machine) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.IsActive()
}

func (m *Machine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Status
}

// RemainingTimelock is zero unless a deactivation is pending and unexpired.
func (m *Machine) RemainingTimelock() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.remainingLocked(m.now())
}

// ActivatedAt is the time of the most recent activation, zero if never.
func (m *Machine) ActivatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ActivatedAt
}

func (m *Machine) Oracle() identity.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Oracle
}

func (m *Machine) Owner() identity.Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Owner
}

// Snapshot returns the committed state together with the remaining
// timelock, both evaluated at the same instant.
func (m *Machine) Snapshot() (State, time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.remainingLocked(m.now())
}

func (m *Machine) remainingLocked(now time.Time) time.Duration {
	if m.state.Status != StatusPendingDeactivation {
		return 0
	}
	return m.timelock.Remaining(m.state.DeactivationRequestedAt, now)
}

func (m *Machine) now() time.Time {
	return m.clock().UTC()
}

// commit appends the audit entry and only then publishes next as the
// current state. Must be called with m.mu held.
func (m *Machine) commit(
	ctx context.Context,
	op string,
	caller identity.Address,
	now time.Time,
	kind auditlog.Kind,
	payload TransitionPayload,
	next State,
) (uint64, error) {
	entry, err := m.log.Append(ctx, auditlog.Record{
		Kind:      kind,
		Actor:     caller.String(),
		Timestamp: now,
		Payload:   payload,
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "audit append failed, transition aborted",
			"op", op,
			"caller", caller.String(),
			"error", err,
		)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	m.state = next
	m.logger.InfoContext(ctx, "governance transition",
		"op", op,
		"sequence", entry.Sequence,
		"kind", kind,
		"caller", caller.String(),
		"status", next.Status,
	)
	return entry.Sequence, nil
}

func (m *Machine) rejected(ctx context.Context, op string, caller identity.Address, err error) error {
	m.logger.WarnContext(ctx, "governance call rejected",
		"op", op,
		"caller", caller.String(),
		"kind", KindOf(err),
		"error", err,
	)
	return err
}
