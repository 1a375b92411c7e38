package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/defcon"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/identity"
)

var (
	owner   = identity.MustParse("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	oracle  = identity.MustParse("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	oracle2 = identity.MustParse("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")
)

func request(status defcon.Status) defcon.OracleUpdateRequest {
	return defcon.OracleUpdateRequest{
		Status:        status,
		Caller:        owner,
		CurrentOracle: oracle,
		NewOracle:     oracle2,
	}
}

func TestCELGuard_EmptyPermitsEverything(t *testing.T) {
	g, err := NewCELGuard("")
	require.NoError(t, err)
	assert.Empty(t, g.Expression())

	for _, s := range []defcon.Status{defcon.StatusSecure, defcon.StatusDefconZero, defcon.StatusPendingDeactivation} {
		assert.NoError(t, g.AllowOracleUpdate(context.Background(), request(s)))
	}

	var nilGuard *CELGuard
	assert.NoError(t, nilGuard.AllowOracleUpdate(context.Background(), request(defcon.StatusDefconZero)))
}

func TestCELGuard_Strict(t *testing.T) {
	g, err := NewCELGuard(StrictOracleUpdate)
	require.NoError(t, err)

	assert.NoError(t, g.AllowOracleUpdate(context.Background(), request(defcon.StatusSecure)))
	err = g.AllowOracleUpdate(context.Background(), request(defcon.StatusDefconZero))
	require.ErrorIs(t, err, ErrPolicyDenied)
	assert.Contains(t, err.Error(), StrictOracleUpdate)
}

func TestCELGuard_Variables(t *testing.T) {
	g, err := NewCELGuard(`new_oracle != caller && current_oracle.startsWith("0x") && pending_seconds < 3600`)
	require.NoError(t, err)

	req := request(defcon.StatusPendingDeactivation)
	req.PendingFor = 10 * time.Minute
	assert.NoError(t, g.AllowOracleUpdate(context.Background(), req))

	req.PendingFor = 2 * time.Hour
	assert.ErrorIs(t, g.AllowOracleUpdate(context.Background(), req), ErrPolicyDenied)
}

func TestCELGuard_CompileErrors(t *testing.T) {
	for _, expr := range []string{
		`status ==`,
		`unknown_var == "x"`,
		`pending_seconds + 1`,
		`status`,
	} {
		_, err := NewCELGuard(expr)
		assert.Error(t, err, expr)
	}
}

func TestCELGuard_WiredIntoMachine(t *testing.T) {
	g, err := NewCELGuard(StrictOracleUpdate)
	require.NoError(t, err)

	m, err := defcon.New(defcon.Config{
		Owner:  owner,
		Oracle: oracle,
		Log:    auditlog.New(nil),
		Guard:  g,
	})
	require.NoError(t, err)

	_, err = m.Activate(context.Background(), oracle)
	require.NoError(t, err)

	_, err = m.UpdateOracle(context.Background(), owner, oracle2)
	require.ErrorIs(t, err, defcon.ErrInvalidStateTransition)
	assert.Equal(t, oracle, m.Oracle())
	assert.Equal(t, 1, m.Log().Len())
}
