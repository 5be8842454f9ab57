package harness

import (
	"github.com/pkg/errors"
)

// UnitOrder is the order in which module unit suites run.
var UnitOrder = []string{
	"TokenController",
	"ClaimProofs",
	"PooledStaking",
	"Pool",
	"SwapOperator",
	"MCR",
	"Distributor",
	"Assessment",
	"Cover",
	"Claims",
	"Incidents",
	"StakingPool",
}

// ErrDuplicateSuite is returned when a suite name is registered twice.
var ErrDuplicateSuite = errors.New("harness: suite already registered")

// Registry holds suites by name. Unit suites are ordered by UnitOrder, any
// other suite by registration order.
type Registry struct {
	suites map[string]Suite
	order  []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{suites: make(map[string]Suite)}
}

// Register adds s.
func (r *Registry) Register(s Suite) error {
	if s.Name == "" {
		return errors.New("harness: suite without name")
	}
	if _, ok := r.suites[s.Name]; ok {
		return errors.Wrapf(ErrDuplicateSuite, "%s", s.Name)
	}
	r.suites[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

// Suite returns the suite registered under name.
func (r *Registry) Suite(name string) (Suite, bool) {
	s, ok := r.suites[name]
	return s, ok
}

// Names lists registered suites: non-unit suites in registration order,
// then unit suites in UnitOrder.
func (r *Registry) Names() []string {
	var out []string
	for _, n := range r.order {
		if !isUnit(n) {
			out = append(out, n)
		}
	}
	for _, n := range UnitOrder {
		if _, ok := r.suites[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Unit selects unit suites in UnitOrder. With no names every registered
// unit suite is selected. Requested names without a registered suite are
// returned as missing; they are not an error so a partial build can still
// run the rest.
func (r *Registry) Unit(names ...string) (suites []Suite, missing []string) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	for _, n := range UnitOrder {
		if len(names) > 0 && !want[n] {
			continue
		}
		delete(want, n)
		if s, ok := r.suites[n]; ok {
			suites = append(suites, s)
		} else {
			missing = append(missing, n)
		}
	}
	for _, n := range names {
		if want[n] {
			missing = append(missing, n)
			delete(want, n)
		}
	}
	return suites, missing
}

func isUnit(name string) bool {
	for _, n := range UnitOrder {
		if n == name {
			return true
		}
	}
	return false
}
