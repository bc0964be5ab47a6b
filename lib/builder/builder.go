//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.

// Package builder loads a Go package from source and lowers it to an
// SSA program, the input lib/translate consumes to produce one
// lib/ir.Function per //rv:vectorize-annotated function.
package builder

import (
	"context"
	"fmt"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/vectorlab/regionvec/lib/rvlog"
)

// Program bundles the loaded source packages with their built SSA
// form; cmd/rvc walks Packages once to find annotated functions, then
// hands each one to lib/translate.
type Program struct {
	SSA      *ssa.Program
	Packages []*ssa.Package
	Sources  []*packages.Package
}

// Load reads every package under path (pattern-expanded with "/..."),
// including test variants, and builds the whole SSA program from it.
func Load(ctx context.Context, log *rvlog.Logger, path string) (*Program, error) {
	pattern := path + "/..."
	log.Infof("loading packages from %s", pattern)

	cfg := &packages.Config{
		Context: ctx,
		Mode:    packages.LoadAllSyntax,
		Tests:   true,
	}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", pattern, err)
	}
	if n := packages.PrintErrors(pkgs); n > 0 {
		log.Infof("%d package(s) reported errors; continuing with what built", n)
	}
	log.Infof("loaded %d package(s)", len(pkgs))

	prog, ssapkgs := ssautil.AllPackages(pkgs, ssa.SanityCheckFunctions)
	log.Infof("building SSA program")
	prog.Build()
	log.Infof("build complete")

	return &Program{SSA: prog, Packages: ssapkgs, Sources: pkgs}, nil
}
