package core

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestOnlyCorePackageImportsPersistenceBackends ensures the sqlite and
// postgres backends stay behind the storage factory. Other packages must
// depend on domain.PersistentStore instead of a concrete backend.
func TestOnlyCorePackageImportsPersistenceBackends(t *testing.T) {
	backendPrefixes := []string{
		"matrixcore/internal/infra/persistence/sqlite",
		"matrixcore/internal/infra/persistence/postgres",
	}
	allowedPrefix := "matrixcore/internal/core"

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "matrixcore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		// Skip the synthesized test-binary packages ("<pkg>.test") that
		// packages.Load generates when Tests is true; they import the
		// package under test by construction.
		if strings.HasSuffix(pkg.PkgPath, ".test") {
			continue
		}
		if strings.HasPrefix(pkg.PkgPath, allowedPrefix) {
			continue
		}
		if isBackendPath(pkg.PkgPath, backendPrefixes) {
			continue
		}
		for importPath := range pkg.Imports {
			if isBackendPath(importPath, backendPrefixes) {
				seen[pkg.PkgPath+": "+importPath] = struct{}{}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden import of a persistence backend: %s", v)
		}
		t.Fatalf("found %d forbidden backend imports", len(violations))
	}
}

func isBackendPath(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
