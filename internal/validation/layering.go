// Package validation enforces the import layering of the module: the domain
// stays free of infrastructure, and only the blob facade reaches the blob
// drivers.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
)

// Error is one forbidden import edge.
type Error struct {
	Package string
	Import  string
	Message string
}

func (e Error) String() string {
	return fmt.Sprintf("%s imports %s: %s", e.Package, e.Import, e.Message)
}

// Rule forbids packages under From from importing anything under To, unless
// the importer is under one of Allow.
type Rule struct {
	From    string
	To      string
	Allow   []string
	Message string
}

// DefaultRules returns the layering rules for the platecore module.
func DefaultRules(module string) []Rule {
	return []Rule{
		{
			From:    module + "/pkg/domain",
			To:      module + "/internal",
			Message: "domain must not depend on internal packages",
		},
		{
			From:    module,
			To:      module + "/internal/infra/blob",
			Allow:   []string{module + "/internal/blob", module + "/internal/infra/blob"},
			Message: "use platecore/internal/blob instead of the driver packages",
		},
		{
			From:    module,
			To:      module + "/internal/infra/persistence",
			Allow:   []string{module + "/internal/core", module + "/internal/infra/persistence", module + "/cmd"},
			Message: "persistence drivers are selected by core.OpenPersistentStore",
		},
	}
}

// CheckImports loads patterns (tests included) and returns every import that
// breaks a rule, sorted by package.
func CheckImports(dir string, rules []Rule, patterns ...string) ([]Error, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true, Dir: dir}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}
	seen := make(map[Error]struct{})
	for _, pkg := range pkgs {
		for importPath := range pkg.Imports {
			for _, rule := range rules {
				if violates(rule, pkg.PkgPath, importPath) {
					seen[Error{Package: pkg.PkgPath, Import: importPath, Message: rule.Message}] = struct{}{}
				}
			}
		}
	}
	out := make([]Error, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Package == out[j].Package {
			return out[i].Import < out[j].Import
		}
		return out[i].Package < out[j].Package
	})
	return out, nil
}

func violates(rule Rule, pkgPath, importPath string) bool {
	pkgPath = strings.TrimSuffix(pkgPath, "_test")
	if !under(pkgPath, rule.From) || !under(importPath, rule.To) {
		return false
	}
	for _, allowed := range rule.Allow {
		if under(pkgPath, allowed) {
			return false
		}
	}
	return true
}

func under(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
