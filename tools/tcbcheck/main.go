// Package main implements an import restriction linter for the governance
// core.
//
// It scans non-test Go files in the core packages (state machine, audit log,
// identities) and fails if any of them import transport, storage or
// messaging code. The core must stay usable from every binding.
//
// Usage:
//
//	go run ./tools/tcbcheck [-root <project-root>]
package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// corePackages are relative to the project root.
var corePackages = []string{
	"pkg/defcon",
	"pkg/auditlog",
	"pkg/identity",
}

// Forbidden import path fragments.
var forbiddenFragments = []string{
	"net/http",
	"database/sql",
	"pkg/api",
	"pkg/store",
	"pkg/events",
	"pkg/archive",
	"pkg/client",
	"redis",
	"aws-sdk-go",
	"cloud.google.com",
	"lib/pq",
	"modernc.org/sqlite",
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tcbcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", ".", "Project root directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	violations, err := check(*root, corePackages, forbiddenFragments)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, v := range violations {
		_, _ = fmt.Fprintf(stdout, "CORE VIOLATION: %s\n", v)
	}
	if len(violations) > 0 {
		_, _ = fmt.Fprintf(stdout, "\n%d core violation(s) found\n", len(violations))
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "core isolation check passed")
	return 0
}

// check returns one line per forbidden import found under dirs.
func check(root string, dirs, fragments []string) ([]string, error) {
	var violations []string
	fset := token.NewFileSet()

	for _, dir := range dirs {
		pkgDir := filepath.Join(root, dir)
		if _, err := os.Stat(pkgDir); err != nil {
			return nil, err
		}
		err := filepath.WalkDir(pkgDir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == "testdata" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}

			f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			for _, imp := range f.Imports {
				importPath := strings.Trim(imp.Path.Value, `"`)
				for _, frag := range fragments {
					if strings.Contains(importPath, frag) {
						pos := fset.Position(imp.Pos())
						rel, _ := filepath.Rel(root, pos.Filename)
						violations = append(violations,
							fmt.Sprintf("%s:%d imports %q (forbidden: %q)", filepath.ToSlash(rel), pos.Line, importPath, frag))
					}
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return violations, nil
}
