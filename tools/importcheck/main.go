// Command importcheck enforces package boundaries inside the router.
//
// The verification core (contracts, canonicalize, crypto) must stay free of
// transport and storage, and the router pipeline must not depend on the
// HTTP surface that fronts it.
//
// Usage:
//
//	go run ./tools/importcheck [-root <project-root>]
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

const modulePath = "github.com/Mindburn-Labs/aatp-router"

// rule forbids imports containing any of Forbidden in non-test files of Dir.
type rule struct {
	Dir       string
	Forbidden []string
}

var rules = []rule{
	{Dir: "pkg/contracts", Forbidden: []string{modulePath + "/", "database/sql"}},
	{Dir: "pkg/canonicalize", Forbidden: []string{"net/http", "database/sql", "/pkg/crypto", "/pkg/router", "/pkg/api"}},
	{Dir: "pkg/crypto", Forbidden: []string{"net/http", "database/sql", "/pkg/router", "/pkg/api", "/pkg/registry"}},
	{Dir: "pkg/router", Forbidden: []string{"net/http", "/pkg/api", "/pkg/auth"}},
	{Dir: "pkg", Forbidden: []string{modulePath + "/cmd", modulePath + "/tools"}},
}

type violation struct {
	File     string
	Line     int
	Import   string
	Fragment string
}

func (v violation) String() string {
	return fmt.Sprintf("%s:%d imports %q (forbidden: %q)", v.File, v.Line, v.Import, v.Fragment)
}

func main() {
	root := flag.String("root", ".", "Project root directory")
	flag.Parse()
	os.Exit(run(*root, rules, os.Stdout, os.Stderr))
}

func run(root string, rules []rule, stdout, stderr io.Writer) int {
	violations, err := check(root, rules)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, v := range violations {
		_, _ = fmt.Fprintf(stdout, "BOUNDARY VIOLATION: %s\n", v)
	}
	if len(violations) > 0 {
		_, _ = fmt.Fprintf(stdout, "\n%d boundary violation(s) found\n", len(violations))
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "import boundaries ok")
	return 0
}

func check(root string, rules []rule) ([]violation, error) {
	var out []violation
	fset := token.NewFileSet()

	for _, r := range rules {
		dir := filepath.Join(root, filepath.FromSlash(r.Dir))
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("%s: %w", r.Dir, err)
		}
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if info.Name() == "testdata" {
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
				for _, frag := range r.Forbidden {
					if !strings.Contains(importPath, frag) {
						continue
					}
					rel, _ := filepath.Rel(root, path)
					out = append(out, violation{
						File:     filepath.ToSlash(rel),
						Line:     fset.Position(imp.Pos()).Line,
						Import:   importPath,
						Fragment: frag,
					})
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
