package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing. Exit codes: 0 success, 1 failure,
// 2 usage error.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServeCmd(nil, stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServeCmd(args[2:], stdout, stderr)
	case "status":
		return runStatusCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "token":
		return runTokenCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return runServeCmd(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "DEFCON ZERO governance daemon")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  defcon <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "COMMANDS:")
	_, _ = fmt.Fprintln(w, "  serve              Run the HTTP API (default)")
	_, _ = fmt.Fprintln(w, "  status             Print the restored governance status as JSON")
	_, _ = fmt.Fprintln(w, "  verify             Verify the persisted audit hash chain")
	_, _ = fmt.Fprintln(w, "  export             Archive an audit bundle (--from, --to)")
	_, _ = fmt.Fprintln(w, "  token <address>    Mint a bearer token for a caller (--ttl)")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "ENVIRONMENT:")
	_, _ = fmt.Fprintln(w, "  DEFCON_CONFIG, DEFCON_STORE_DRIVER, DEFCON_STORE_DSN, PORT, LOG_LEVEL,")
	_, _ = fmt.Fprintln(w, "  JWT_SECRET, REDIS_ADDR, OTEL_ENABLED, ARCHIVE_STORAGE_TYPE")
}
