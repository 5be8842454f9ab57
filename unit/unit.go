// Package unit builds the per-module unit suites. These are build checks of
// the compiled artifacts: a suite verifies that a module has creation code,
// the expected constructor arity and the methods the migration calls. They
// do not deploy or exercise module behavior.
package unit

import (
	"context"

	"github.com/pkg/errors"

	"github.com/nexusmutual/forkmigrate/artifacts"
	"github.com/nexusmutual/forkmigrate/harness"
)

// Artifacts resolves compiled contracts by name.
type Artifacts interface {
	Artifact(name string) (*artifacts.Artifact, error)
}

// Errors reported by unit steps.
var (
	ErrAbstract    = errors.New("unit: contract has no creation code")
	ErrConstructor = errors.New("unit: unexpected constructor")
	ErrMissing     = errors.New("unit: method not found")
)

// Interface is what a module must provide.
type Interface struct {
	// ConstructorArgs is the constructor arity; -1 skips the check.
	ConstructorArgs int
	Methods         []string
}

// Interfaces lists the modules with known requirements. Modules absent here
// are only checked for creation code, so their suites pass for any compiled
// artifact.
var Interfaces = map[string]Interface{
	"TokenController": {ConstructorArgs: 2, Methods: []string{"initialize"}},
	"PooledStaking":   {ConstructorArgs: 2, Methods: []string{"hasPendingActions", "processPendingActions", "migrateToNewV2Pool"}},
	"Pool":            {ConstructorArgs: 8},
	"SwapOperator":    {ConstructorArgs: 4},
	"Cover":           {ConstructorArgs: 5},
	"StakingPool":     {ConstructorArgs: 4},
}

// Suite returns the unit suite of the named module.
func Suite(store Artifacts, name string) harness.Suite {
	var a *artifacts.Artifact
	steps := []harness.Step{{
		Name: "is compiled",
		Run: func(context.Context) (err error) {
			if a, err = store.Artifact(name); err != nil {
				return err
			}
			if len(a.Bytecode) == 0 {
				return errors.Wrapf(ErrAbstract, "%s", a.QualifiedName())
			}
			return nil
		},
	}}

	iface, ok := Interfaces[name]
	if !ok {
		return harness.Suite{Name: name, Steps: steps}
	}
	if iface.ConstructorArgs >= 0 {
		want := iface.ConstructorArgs
		steps = append(steps, harness.Step{
			Name: "constructor takes the migration arguments",
			Run: func(context.Context) error {
				if got := len(a.ABI.Constructor.Inputs); got != want {
					return errors.Wrapf(ErrConstructor, "%s has %d inputs, want %d", name, got, want)
				}
				return nil
			},
		})
	}
	for _, m := range iface.Methods {
		steps = append(steps, harness.Step{
			Name: "exposes " + m,
			Run: func(context.Context) error {
				if _, ok := a.ABI.Methods[m]; !ok {
					return errors.Wrapf(ErrMissing, "%s.%s", name, m)
				}
				return nil
			},
		})
	}
	return harness.Suite{Name: name, Steps: steps}
}

// Register adds a suite for every module in harness.UnitOrder that the
// store has an artifact for. Modules without one are left out so that
// Registry.Unit reports them as missing.
func Register(reg *harness.Registry, store Artifacts) error {
	for _, name := range harness.UnitOrder {
		if _, err := store.Artifact(name); errors.Is(err, artifacts.ErrNotFound) {
			continue
		}
		if err := reg.Register(Suite(store, name)); err != nil {
			return err
		}
	}
	return nil
}
