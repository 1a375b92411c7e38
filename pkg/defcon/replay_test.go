package defcon

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
)

func genesisState() State {
	return State{Status: StatusSecure, Owner: owner, Oracle: oracle, Timelock: DefaultTimelock}
}

func TestReplay_ReconstructsState(t *testing.T) {
	m, clock := newMachine(t)
	clock.Set(1000)
	activate(t, m)
	clock.Set(2000)
	_, err := m.RequestDeactivation(ctx(), owner)
	require.NoError(t, err)
	clock.Set(2000 + week)
	_, err = m.FinalizeDeactivation(ctx(), stranger)
	require.NoError(t, err)
	_, err = m.UpdateOracle(ctx(), owner, oracle2)
	require.NoError(t, err)
	clock.Set(5000 + week)
	_, err = m.Activate(ctx(), oracle2)
	require.NoError(t, err)

	got, err := Replay(genesisState(), m.Log().Entries())
	require.NoError(t, err)
	want, _ := m.Snapshot()
	assert.Equal(t, want, got)
	assert.Equal(t, time.Unix(5000+week, 0).UTC(), got.ActivatedAt)
}

func TestReplay_Empty(t *testing.T) {
	got, err := Replay(genesisState(), nil)
	require.NoError(t, err)
	assert.Equal(t, genesisState(), got)
}

func forged(t *testing.T, seq uint64, kind auditlog.Kind, actor string, at int64, payload TransitionPayload) *auditlog.Entry {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &auditlog.Entry{
		Sequence:  seq,
		Kind:      kind,
		Actor:     actor,
		Timestamp: time.Unix(at, 0).UTC(),
		Payload:   raw,
	}
}

func TestReplay_RejectsImpossibleHistories(t *testing.T) {
	cases := []struct {
		name    string
		entries []*auditlog.Entry
	}{
		{"activation by stranger", []*auditlog.Entry{
			forged(t, 1, auditlog.KindActivated, stranger.String(), 1, TransitionPayload{}),
		}},
		{"gap in sequence", []*auditlog.Entry{
			forged(t, 2, auditlog.KindActivated, oracle.String(), 1, TransitionPayload{}),
		}},
		{"finalize before expiry", []*auditlog.Entry{
			forged(t, 1, auditlog.KindActivated, oracle.String(), 1, TransitionPayload{}),
			forged(t, 2, auditlog.KindDeactivationRequested, owner.String(), 10, TransitionPayload{}),
			forged(t, 3, auditlog.KindDeactivationFinalized, stranger.String(), 10+week-1, TransitionPayload{}),
		}},
		{"request while secure", []*auditlog.Entry{
			forged(t, 1, auditlog.KindDeactivationRequested, owner.String(), 1, TransitionPayload{}),
		}},
		{"oracle update with wrong predecessor", []*auditlog.Entry{
			forged(t, 1, auditlog.KindOracleUpdated, owner.String(), 1, TransitionPayload{
				PreviousOracle: &stranger,
				NewOracle:      &oracle2,
			}),
		}},
		{"oracle update under another status", []*auditlog.Entry{
			forged(t, 1, auditlog.KindOracleUpdated, owner.String(), 1, TransitionPayload{
				PreviousOracle: &oracle,
				NewOracle:      &oracle2,
				Status:         StatusDefconZero,
			}),
		}},
		{"malformed actor", []*auditlog.Entry{
			forged(t, 1, auditlog.KindActivated, "oracle", 1, TransitionPayload{}),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Replay(genesisState(), tc.entries)
			require.ErrorIs(t, err, ErrReplayDiverged)
		})
	}
}

func TestStatusAfter(t *testing.T) {
	m, clock := newMachine(t)
	clock.Set(1000)
	activate(t, m)
	_, err := m.UpdateOracle(ctx(), owner, oracle2)
	require.NoError(t, err)
	_, err = m.RequestDeactivation(ctx(), owner)
	require.NoError(t, err)

	var got []Status
	for _, e := range m.Log().Entries() {
		s, err := StatusAfter(e)
		require.NoError(t, err)
		got = append(got, s)
	}
	assert.Equal(t, []Status{StatusDefconZero, StatusDefconZero, StatusPendingDeactivation}, got)

	legacy := forged(t, 1, auditlog.KindOracleUpdated, owner.String(), 1, TransitionPayload{
		PreviousOracle: &oracle,
		NewOracle:      &oracle2,
	})
	_, err = StatusAfter(legacy)
	assert.ErrorIs(t, err, ErrReplayDiverged)
}
