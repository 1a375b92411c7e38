package defcon

import "github.com/sinanzx3473-web/0xzero-nation-state/pkg/identity"

// requireOracle and requireOwner are evaluated against the state held under
// the machine lock, so a role change applies to the very next call.

func requireOracle(op string, s *State, caller identity.Address) error {
	if caller.IsZero() || caller != s.Oracle {
		return reject(op, ErrUnauthorized, "caller %s is not the oracle", caller)
	}
	return nil
}

func requireOwner(op string, s *State, caller identity.Address) error {
	if caller.IsZero() || caller != s.Owner {
		return reject(op, ErrUnauthorized, "caller %s is not the owner", caller)
	}
	return nil
}

func requireStatus(op string, s *State, want Status) error {
	if s.Status != want {
		return reject(op, ErrInvalidStateTransition, "status is %s, requires %s", s.Status, want)
	}
	return nil
}
