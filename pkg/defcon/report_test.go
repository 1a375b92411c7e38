package defcon

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_Report(t *testing.T) {
	m, clock := newMachine(t)

	r := m.Report()
	assert.Equal(t, StatusSecure, r.Status)
	assert.False(t, r.IsActive)
	assert.Nil(t, r.ActivatedAt)
	assert.Equal(t, int64(week), r.TimelockSeconds)
	assert.Zero(t, r.RemainingTimelockSeconds)
	assert.Equal(t, "0d 0h 0m", r.RemainingTimelock)

	clock.Set(1000)
	_, err := m.Activate(ctx(), oracle)
	require.NoError(t, err)
	clock.Set(2000)
	_, err = m.RequestDeactivation(ctx(), owner)
	require.NoError(t, err)
	clock.Set(2000 + 3600)

	r = m.Report()
	assert.Equal(t, StatusPendingDeactivation, r.Status)
	assert.True(t, r.IsActive)
	assert.Equal(t, uint64(2), r.Sequence)
	require.NotNil(t, r.ActivatedAt)
	assert.Equal(t, time.Unix(1000, 0).UTC(), *r.ActivatedAt)
	require.NotNil(t, r.DeactivationExpiresAt)
	assert.Equal(t, time.Unix(2000+week, 0).UTC(), *r.DeactivationExpiresAt)
	assert.Equal(t, int64(week-3600), r.RemainingTimelockSeconds)
	assert.Equal(t, "6d 23h 0m", r.RemainingTimelock)
	assert.Equal(t, oracle.String(), r.Oracle)

	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status":"PENDING_DEACTIVATION"`)
}
