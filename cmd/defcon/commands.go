package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/api"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/archive"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/auditlog"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/config"
	"github.com/sinanzx3473-web/0xzero-nation-state/pkg/identity"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withRuntime restores the configured machine for a one-shot command.
// Logs go to stderr at WARN unless LOG_LEVEL is set.
func withRuntime(stderr io.Writer, fn func(ctx context.Context, rt *runtime) int) int {
	cfg := config.Load()
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.LogLevel = "WARN"
	}
	logger := newLogger(cfg, stderr)

	ctx := context.Background()
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = rt.Close() }()
	return fn(ctx, rt)
}

// runStatusCmd implements `defcon status`.
func runStatusCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("status", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	return withRuntime(stderr, func(_ context.Context, rt *runtime) int {
		if err := writeJSON(stdout, rt.machine.Report()); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	})
}

type verifyReport struct {
	Verified bool             `json:"verified"`
	Entries  int              `json:"entries"`
	Head     string           `json:"head"`
	Genesis  auditlog.Genesis `json:"genesis"`
	Error    string           `json:"error,omitempty"`
}

// runVerifyCmd implements `defcon verify`.
//
// Exit codes:
//
//	0 = chain verified
//	1 = verification failed or the store could not be opened
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	return withRuntime(stderr, func(_ context.Context, rt *runtime) int {
		log := rt.machine.Log()
		report := verifyReport{
			Verified: true,
			Entries:  log.Len(),
			Head:     log.Head(),
			Genesis:  rt.genesis,
		}
		code := 0
		if err := log.VerifyChain(); err != nil {
			report.Verified = false
			report.Error = err.Error()
			code = 1
		}
		if err := writeJSON(stdout, report); err != nil {
			return 1
		}
		return code
	})
}

// runExportCmd implements `defcon export`. The bundle goes to the store
// selected by ARCHIVE_STORAGE_TYPE.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var from, to uint64
	cmd.Uint64Var(&from, "from", 0, "First sequence to include (default: 1)")
	cmd.Uint64Var(&to, "to", 0, "Last sequence to include (default: head)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if to > 0 && from > to {
		_, _ = fmt.Fprintf(stderr, "Error: --from (%d) is after --to (%d)\n", from, to)
		return 2
	}

	return withRuntime(stderr, func(ctx context.Context, rt *runtime) int {
		st, err := archive.NewStoreFromEnv(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		genesis := rt.genesis
		receipt, err := archive.Export(ctx, rt.machine.Log(), &genesis, st, auditlog.Filter{FromSeq: from, ToSeq: to})
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := writeJSON(stdout, receipt); err != nil {
			return 1
		}
		return 0
	})
}

// runTokenCmd implements `defcon token <address>`.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	ttl := cmd.Duration("ttl", time.Hour, "Token lifetime")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: defcon token [--ttl 1h] <address>")
		return 2
	}
	caller, err := identity.Parse(cmd.Arg(0))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if *ttl <= 0 {
		_, _ = fmt.Fprintln(stderr, "Error: --ttl must be positive")
		return 2
	}

	cfg := config.Load()
	tok, err := api.NewAuthenticator(cfg.JWTSecret).Issue(caller, *ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, tok)
	return 0
}
