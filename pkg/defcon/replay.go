package defcon

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/identity"
)

// Replay rebuilds protocol state by applying entries, in order, to genesis.
// Every entry is checked against the same rules the machine enforces, so a
// log that could not have been produced by a Machine is rejected.
func Replay(genesis State, entries []*auditlog.Entry) (State, error) {
	s := genesis
	lock := Timelock{Duration: genesis.Timelock}

	for i, e := range entries {
		if e.Sequence != uint64(i)+1 {
			return State{}, fmt.Errorf("%w: position %d holds sequence %d", ErrReplayDiverged, i, e.Sequence)
		}
		actor, err := identity.Parse(e.Actor)
		if err != nil {
			return State{}, fmt.Errorf("%w: entry %d actor: %w", ErrReplayDiverged, e.Sequence, err)
		}
		var p TransitionPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return State{}, fmt.Errorf("%w: entry %d payload: %w", ErrReplayDiverged, e.Sequence, err)
		}
		if err := apply(&s, lock, e.Kind, actor, e.Timestamp, p); err != nil {
			return State{}, fmt.Errorf("%w: entry %d (%s): %w", ErrReplayDiverged, e.Sequence, e.Kind, err)
		}
	}
	return s, nil
}

func apply(s *State, lock Timelock, kind auditlog.Kind, actor identity.Address, at time.Time, p TransitionPayload) error {
	op := string(kind)
	switch kind {
	case auditlog.KindActivated:
		if err := requireOracle(op, s, actor); err != nil {
			return err
		}
		if err := requireStatus(op, s, StatusSecure); err != nil {
			return err
		}
		s.Status = StatusDefconZero
		s.ActivatedAt = at

	case auditlog.KindDeactivationRequested:
		if err := requireOwner(op, s, actor); err != nil {
			return err
		}
		if err := requireStatus(op, s, StatusDefconZero); err != nil {
			return err
		}
		s.Status = StatusPendingDeactivation
		s.DeactivationRequestedAt = at

	case auditlog.KindDeactivationFinalized:
		if err := requireStatus(op, s, StatusPendingDeactivation); err != nil {
			return err
		}
		if !lock.Expired(s.DeactivationRequestedAt, at) {
			return reject(op, ErrTimelockNotExpired, "finalized at %s before expiry %s",
				at, lock.Expiry(s.DeactivationRequestedAt))
		}
		s.Status = StatusSecure
		s.DeactivationRequestedAt = time.Time{}

	case auditlog.KindDeactivationCancelled:
		if err := requireOwner(op, s, actor); err != nil {
			return err
		}
		if err := requireStatus(op, s, StatusPendingDeactivation); err != nil {
			return err
		}
		s.Status = StatusDefconZero
		s.DeactivationRequestedAt = time.Time{}

	case auditlog.KindOracleUpdated:
		if err := requireOwner(op, s, actor); err != nil {
			return err
		}
		if p.NewOracle == nil || p.NewOracle.IsZero() {
			return reject(op, ErrInvalidArgument, "missing new oracle")
		}
		if p.PreviousOracle == nil || *p.PreviousOracle != s.Oracle {
			return reject(op, ErrInvalidArgument, "previous oracle does not match replayed state")
		}
		if p.Status != "" && p.Status != s.Status {
			return reject(op, ErrInvalidStateTransition, "recorded under %s but replayed state is %s", p.Status, s.Status)
		}
		s.Oracle = *p.NewOracle

	default:
		return fmt.Errorf("unknown event kind %q", kind)
	}
	return nil
}

// StatusAfter returns the status that held immediately after e was
// committed. Oracle updates written before the status was recorded in their
// payload yield ErrReplayDiverged.
func StatusAfter(e *auditlog.Entry) (Status, error) {
	var p TransitionPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return "", fmt.Errorf("%w: entry %d payload: %w", ErrReplayDiverged, e.Sequence, err)
	}
	switch {
	case e.Kind == auditlog.KindOracleUpdated && p.Status != "":
		return p.Status, nil
	case e.Kind != auditlog.KindOracleUpdated && p.To != "":
		return p.To, nil
	}
	return "", fmt.Errorf("%w: entry %d (%s) does not record a status", ErrReplayDiverged, e.Sequence, e.Kind)
}
