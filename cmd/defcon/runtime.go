package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/config"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/defcon"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/policy"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/store"
)

// runtime is a restored machine bound to its durable store.
type runtime struct {
	deployment *config.Deployment
	store      store.Store
	genesis    auditlog.Genesis
	machine    *defcon.Machine
}

// openRuntime loads the deployment, pins its genesis in the store and
// replays the persisted audit log into a machine.
func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	dep, err := config.LoadDeployment(cfg.DeploymentPath)
	if err != nil {
		return nil, err
	}
	timelock := dep.Timelock
	if timelock == 0 {
		timelock = defcon.DefaultTimelock
	}

	if strings.EqualFold(cfg.StoreDriver, store.DriverSQLite) {
		if err := ensureDir(cfg.StoreDSN); err != nil {
			return nil, err
		}
	}
	st, err := store.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return nil, err
	}

	rt, err := restore(ctx, st, dep, timelock, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return rt, nil
}

func restore(ctx context.Context, st store.Store, dep *config.Deployment, timelock time.Duration, logger *slog.Logger) (*runtime, error) {
	genesis, err := st.EnsureGenesis(ctx, auditlog.Genesis{
		Owner:           dep.Owner.String(),
		Oracle:          dep.Oracle.String(),
		TimelockSeconds: int64(timelock / time.Second),
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	log, err := store.OpenLog(ctx, st)
	if err != nil {
		return nil, err
	}
	guard, err := policy.NewCELGuard(dep.OracleUpdatePolicy)
	if err != nil {
		return nil, fmt.Errorf("oracle_update_policy: %w", err)
	}
	m, err := defcon.New(defcon.Config{
		Owner:    dep.Owner,
		Oracle:   dep.Oracle,
		Timelock: timelock,
		Log:      log,
		Guard:    guard,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return &runtime{deployment: dep, store: st, genesis: genesis, machine: m}, nil
}

func (rt *runtime) Close() error {
	return rt.store.Close()
}

// ensureDir creates the parent directory of a file-backed sqlite dsn.
func ensureDir(dsn string) error {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}
