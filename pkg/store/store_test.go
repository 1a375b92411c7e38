package store

import (
	"context"
	"path/filepath"
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

func sqlitePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "defcon.db")
}

func genesis() auditlog.Genesis {
	return auditlog.Genesis{Owner: owner.String(), Oracle: oracle.String(), TimelockSeconds: 604800}
}

// exerciseStore runs the shared Store contract against st.
func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	loaded, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	log := auditlog.New(st)
	at := time.Unix(1700000000, 123456789).UTC()
	for i, kind := range []auditlog.Kind{auditlog.KindActivated, auditlog.KindDeactivationRequested} {
		_, err := log.Append(ctx, auditlog.Record{
			Kind:      kind,
			Actor:     oracle.String(),
			Timestamp: at.Add(time.Duration(i) * time.Second),
			Payload:   map[string]string{"n": "v"},
		})
		require.NoError(t, err)
	}

	loaded, err = st.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	for i, e := range log.Entries() {
		assert.Equal(t, e.Sequence, loaded[i].Sequence)
		assert.Equal(t, e.EntryHash, loaded[i].EntryHash)
		assert.True(t, e.Timestamp.Equal(loaded[i].Timestamp), "nanosecond timestamp preserved")
		assert.JSONEq(t, string(e.Payload), string(loaded[i].Payload))
	}

	reopened, err := auditlog.Open(ctx, st, st)
	require.NoError(t, err)
	assert.Equal(t, log.Head(), reopened.Head())
	assert.NoError(t, reopened.VerifyChain())

	// A second writer appending the same sequence must be refused.
	dup := *loaded[1]
	assert.Error(t, st.Persist(ctx, &dup))
}

func exerciseGenesis(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	first, err := st.EnsureGenesis(ctx, genesis())
	require.NoError(t, err)
	assert.Equal(t, owner.String(), first.Owner)

	again, err := st.EnsureGenesis(ctx, genesis())
	require.NoError(t, err)
	assert.True(t, first.Matches(again))

	other := genesis()
	other.Oracle = oracle2.String()
	_, err = st.EnsureGenesis(ctx, other)
	require.ErrorIs(t, err, auditlog.ErrGenesisMismatch)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
	exerciseGenesis(t, NewMemoryStore())
}

func TestMemoryStore_RejectsOutOfOrder(t *testing.T) {
	st := NewMemoryStore()
	err := st.Persist(context.Background(), &auditlog.Entry{Sequence: 2})
	assert.Error(t, err)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, DriverSQLite, sqlitePath(t))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	exerciseStore(t, st)
	exerciseGenesis(t, st)
}

func TestSQLiteStore_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := sqlitePath(t)
	clock := time.Unix(1000, 0)
	now := func() time.Time { return clock }

	st, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	log, err := OpenLog(ctx, st)
	require.NoError(t, err)
	m, err := defcon.New(defcon.Config{Owner: owner, Oracle: oracle, Log: log, Clock: now})
	require.NoError(t, err)
	_, err = st.EnsureGenesis(ctx, m.Genesis())
	require.NoError(t, err)

	_, err = m.Activate(ctx, oracle)
	require.NoError(t, err)
	clock = clock.Add(time.Hour)
	_, err = m.RequestDeactivation(ctx, owner)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()
	log, err = OpenLog(ctx, st)
	require.NoError(t, err)
	restored, err := defcon.New(defcon.Config{Owner: owner, Oracle: oracle, Log: log, Clock: now})
	require.NoError(t, err)
	_, err = st.EnsureGenesis(ctx, restored.Genesis())
	require.NoError(t, err)

	assert.Equal(t, defcon.StatusPendingDeactivation, restored.Status())
	assert.Equal(t, time.Unix(1000, 0).UTC(), restored.ActivatedAt())
	assert.Equal(t, defcon.DefaultTimelock, restored.RemainingTimelock())

	// Restarting under a different oracle is refused by the genesis pin.
	other, err := defcon.New(defcon.Config{Owner: owner, Oracle: oracle2, Log: auditlog.New(nil)})
	require.NoError(t, err)
	_, err = st.EnsureGenesis(ctx, other.Genesis())
	assert.ErrorIs(t, err, auditlog.ErrGenesisMismatch)
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, st)

	_, err = Open(ctx, DriverSQLite, "")
	assert.Error(t, err)

	_, err = Open(ctx, "mongo", "x")
	assert.ErrorIs(t, err, ErrUnknownDriver)
}
