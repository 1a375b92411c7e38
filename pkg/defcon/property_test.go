//go:build property
// +build property

package defcon

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/identity"
)

type step struct {
	Op      int
	Caller  int
	Advance int64
}

var callers = []identity.Address{owner, oracle, oracle2, stranger}

func genStep() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 4),
		gen.IntRange(0, len(callers)-1),
		gen.Int64Range(0, 2*week),
	).Map(func(v []interface{}) step {
		return step{Op: v[0].(int), Caller: v[1].(int), Advance: v[2].(int64)}
	})
}

func run(t *testing.T, steps []step) (*Machine, bool) {
	clock := &fakeClock{}
	clock.Set(1)
	m, err := New(Config{Owner: owner, Oracle: oracle, Log: auditlog.New(nil), Clock: clock.Now})
	if err != nil {
		t.Fatal(err)
	}
	now := int64(1)
	for _, s := range steps {
		now += s.Advance
		clock.Set(now)
		caller := callers[s.Caller]
		switch s.Op {
		case 0:
			_, err = m.Activate(ctx(), caller)
		case 1:
			_, err = m.RequestDeactivation(ctx(), caller)
		case 2:
			_, err = m.FinalizeDeactivation(ctx(), caller)
		case 3:
			_, err = m.CancelDeactivation(ctx(), caller)
		case 4:
			next := oracle2
			if m.Oracle() == oracle2 {
				next = oracle
			}
			_, err = m.UpdateOracle(ctx(), caller, next)
		}
		if err != nil && KindOf(err) == "" {
			return m, false
		}

		state, _ := m.Snapshot()
		if !state.Status.Valid() {
			return m, false
		}
		if (state.Status == StatusPendingDeactivation) == state.DeactivationRequestedAt.IsZero() {
			return m, false
		}
	}
	return m, true
}

// Property: every reachable state is one of the three statuses and the
// pending timestamp is set exactly when a deactivation is pending.
func TestMachine_StatusInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("status is always well-defined", prop.ForAll(
		func(steps []step) bool {
			_, ok := run(t, steps)
			return ok
		},
		gen.SliceOf(genStep()),
	))

	properties.TestingRun(t)
}

// Property: replaying the audit log reproduces the live state, and the log
// is contiguous from sequence 1.
func TestMachine_ReplayMatchesLiveState(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("replay(log) == state", prop.ForAll(
		func(steps []step) bool {
			m, ok := run(t, steps)
			if !ok {
				return false
			}
			if m.Log().VerifyChain() != nil {
				return false
			}
			replayed, err := Replay(State{
				Status:   StatusSecure,
				Owner:    owner,
				Oracle:   oracle,
				Timelock: DefaultTimelock,
			}, m.Log().Entries())
			if err != nil {
				return false
			}
			live, _ := m.Snapshot()
			return replayed.Status == live.Status &&
				replayed.Oracle == live.Oracle &&
				replayed.ActivatedAt.Equal(live.ActivatedAt) &&
				replayed.DeactivationRequestedAt.Equal(live.DeactivationRequestedAt)
		},
		gen.SliceOf(genStep()),
	))

	properties.TestingRun(t)
}
