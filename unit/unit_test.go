package unit

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusmutual/forkmigrate/artifacts"
	"github.com/nexusmutual/forkmigrate/harness"
	"github.com/nexusmutual/forkmigrate/log"
	"github.com/nexusmutual/forkmigrate/metrics"
)

type store map[string]*artifacts.Artifact

func (s store) Artifact(name string) (*artifacts.Artifact, error) {
	a, ok := s[name]
	if !ok {
		return nil, artifacts.ErrNotFound
	}
	return a, nil
}

func artifact(t *testing.T, name, rawABI string, code []byte) *artifacts.Artifact {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(rawABI))
	require.NoError(t, err)
	return &artifacts.Artifact{ContractName: name, SourceName: "contracts/" + name + ".sol", ABI: parsed, Bytecode: code}
}

const tokenControllerABI = `[
	{"type":"constructor","inputs":[{"name":"qd","type":"address"},{"name":"cr","type":"address"}]},
	{"type":"function","name":"initialize","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

func TestSuite_Passes(t *testing.T) {
	s := store{"TokenController": artifact(t, "TokenController", tokenControllerABI, []byte{0x60, 0x80})}
	suite := Suite(s, "TokenController")
	require.Len(t, suite.Steps, 3)
	assert.Equal(t, "exposes initialize", suite.Steps[2].Name)

	report := harness.NewRunner(log.Discard()).Run(context.Background(), suite)
	require.NoError(t, report.Err())
	assert.Equal(t, 3, report.Count(metrics.OutcomePassed))
}

func TestSuite_Failures(t *testing.T) {
	tests := []struct {
		name string
		a    *artifacts.Artifact
		want error
	}{
		{"abstract", artifact(t, "TokenController", tokenControllerABI, nil), ErrAbstract},
		{"constructor", artifact(t, "TokenController", `[{"type":"function","name":"initialize","inputs":[],"outputs":[]}]`, []byte{1}), ErrConstructor},
		{"method", artifact(t, "TokenController", `[{"type":"constructor","inputs":[{"name":"a","type":"address"},{"name":"b","type":"address"}]}]`, []byte{1}), ErrMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := harness.NewRunner(log.Discard()).Run(context.Background(), Suite(store{"TokenController": tt.a}, "TokenController"))
			assert.ErrorIs(t, report.Err(), tt.want)
		})
	}
}

func TestSuite_UnknownModuleOnlyCompiles(t *testing.T) {
	suite := Suite(store{}, "Distributor")
	require.Len(t, suite.Steps, 1)
	report := harness.NewRunner(log.Discard()).Run(context.Background(), suite)
	assert.ErrorIs(t, report.Err(), artifacts.ErrNotFound)

	// Any compiled artifact passes; nothing about its behavior is checked.
	suite = Suite(store{"Distributor": artifact(t, "Distributor", `[]`, []byte{1})}, "Distributor")
	require.Len(t, suite.Steps, 1)
	assert.Equal(t, "is compiled", suite.Steps[0].Name)
	report = harness.NewRunner(log.Discard()).Run(context.Background(), suite)
	assert.NoError(t, report.Err())
}

func TestRegister(t *testing.T) {
	s := store{
		"Pool":            artifact(t, "Pool", `[]`, []byte{1}),
		"TokenController": artifact(t, "TokenController", tokenControllerABI, []byte{1}),
		"Distributor":     artifact(t, "Distributor", `[]`, []byte{1}),
	}
	reg := harness.NewRegistry()
	require.NoError(t, Register(reg, s))
	assert.Equal(t, []string{"TokenController", "Pool", "Distributor"}, reg.Names())

	suites, missing := reg.Unit("Pool", "Claims")
	require.Len(t, suites, 1)
	assert.Equal(t, "Pool", suites[0].Name)
	assert.Equal(t, []string{"Claims"}, missing)

	assert.ErrorIs(t, Register(reg, s), harness.ErrDuplicateSuite)
}
