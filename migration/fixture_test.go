package migration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/nexusmutual/forkmigrate/artifacts"
	"github.com/nexusmutual/forkmigrate/chain"
	"github.com/nexusmutual/forkmigrate/chaintest"
	"github.com/nexusmutual/forkmigrate/config"
	"github.com/nexusmutual/forkmigrate/governance"
	"github.com/nexusmutual/forkmigrate/log"
	"github.com/nexusmutual/forkmigrate/registry"
)

// Mainnet addresses of the v1 deployment the fixture mimics.
var (
	masterAddr      = common.HexToAddress("0x01BFd82675DBCc7762C84019cA518e701C0cD07e")
	nxmAddr         = common.HexToAddress("0xd7c49CEE7E9188cCa6AD8FF264C1DA2e69D4Cf3B")
	memberRolesAddr = common.HexToAddress("0x055CC48f7968FD8640EF140610dd4038e1b03926")
	governanceAddr  = common.HexToAddress("0x4A5C681dDC32acC6ccA51ac17e9d461e6be87900")
	tokenCtrlAddr   = common.HexToAddress("0x5407381b6c251cFd498ccD4A1d877739CB7960B8")
	pooledStakeAddr = common.HexToAddress("0x84EdfFA16bb0b9Ab1163abb0a13Ff0744c11272f")
	coverProxyAddr  = common.HexToAddress("0xcafeac0fF5dA0A2777d915531bfA6B29d282Ee62")

	abMembers = []common.Address{
		common.HexToAddress("0x87B2a7559d85f4653f13E6546A14189cd5455d45"),
		common.HexToAddress("0x8D38C81B7bE9Dbe7440D66B92d4EF529806baAE7"),
		common.HexToAddress("0x23E1B127Fd62A4dbe64cC30Bb30FFAf0Fb68c5cB"),
		common.HexToAddress("0x7A17d7661ed46B0C2d3f5C5e8F4dB8d1D1e0E0b1"),
		common.HexToAddress("0x144aAD1020cbBFD2441443721057e1eC0577a639"),
	}
)

// Upgrades of these codes replace the implementation behind an existing
// proxy, so the master keeps reporting the same address.
var proxyCodes = map[string]bool{"GV": true, "MR": true, "PC": true, "TC": true, "PS": true, "CO": true}

const (
	masterABI      = `[{"type":"function","name":"contractAddresses","stateMutability":"view","inputs":[{"name":"code","type":"bytes2"}],"outputs":[{"name":"","type":"address"}]}]`
	nxmABI         = `[{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}]`
	memberRolesABI = `[{"type":"function","name":"members","stateMutability":"view","inputs":[{"name":"_memberRoleId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"},{"name":"memberArray","type":"address[]"}]}]`
)

type artifactDef struct {
	name string
	abi  string
}

func ctor(types ...string) string {
	inputs := make([]string, len(types))
	for i, t := range types {
		inputs[i] = fmt.Sprintf(`{"name":"a%d","type":"%s"}`, i, t)
	}
	return `{"type":"constructor","inputs":[` + strings.Join(inputs, ",") + `]}`
}

func fn(name string, inputs []string, outputs []string) string {
	ins := make([]string, len(inputs))
	for i, t := range inputs {
		ins[i] = fmt.Sprintf(`{"name":"a%d","type":"%s"}`, i, t)
	}
	outs := make([]string, len(outputs))
	for i, t := range outputs {
		outs[i] = fmt.Sprintf(`{"name":"","type":"%s"}`, t)
	}
	return fmt.Sprintf(`{"type":"function","name":%q,"stateMutability":"nonpayable","inputs":[%s],"outputs":[%s]}`,
		name, strings.Join(ins, ","), strings.Join(outs, ","))
}

var artifactDefs = []artifactDef{
	{"Governance", `[]`},
	{"LegacyClaimsReward", `[` + ctor("address", "address", "address") + `,` + fn("transferRewards", nil, nil) + `]`},
	{"TokenController", `[` + ctor("address", "address") + `,` + fn("initialize", nil, nil) + `]`},
	{"ProductsV1", `[]`},
	{"CoverInitializer", `[]`},
	{"StakingPool", `[` + ctor("uint256", "address", "address", "address") + `]`},
	{"NXMaster", `[]`},
	{"CoverNFT", `[` + ctor("string", "string", "address") + `]`},
	{"Cover", `[` + ctor("address", "address", "address", "address", "address") + `]`},
	{"SwapOperator", `[` + ctor("address", "address", "address", "address") + `]`},
	{"Pool", `[` + ctor("address[]", "uint8[]", "uint256[]", "uint256[]", "uint256[]", "address", "address", "address") + `]`},
	{"PooledStaking", `[` + ctor("address", "address") + `,` +
		`{"type":"function","name":"hasPendingActions","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},` +
		fn("processPendingActions", []string{"uint256"}, []string{"bool"}) + `,` +
		fn("migrateToNewV2Pool", []string{"address"}, nil) + `]`},
}

// bytecodeOf gives every artifact distinct init code so deployments can be
// told apart.
func bytecodeOf(i int) []byte { return []byte{0x60, 0x80, 0xfe, byte(i + 1)} }

type deployment struct {
	chaintest.Deployment
	Name string
	Args []interface{}
}

type scriptCall struct {
	Name string
	Env  map[string]string
}

type fakeScripts struct {
	mu    sync.Mutex
	calls []scriptCall
	fail  string
}

func (f *fakeScripts) Run(_ context.Context, name string, env map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scriptCall{Name: name, Env: env})
	if name == f.fail {
		return errors.Errorf("script %s exited with status 1", name)
	}
	return nil
}

// fork is an in-memory mainnet fork with the v1 contracts the migration
// touches.
type fork struct {
	t       *testing.T
	backend *chaintest.Backend
	gv      *chaintest.Governance
	reg     *registry.Registry
	store   *artifacts.Store
	scripts *fakeScripts

	// Guarded by the backend lock; read after the run.
	master         map[string]common.Address
	categories     []uint64
	pending        int
	migrated       []common.Address
	initialized    int
	rewardsMovedBy []common.Address

	// lockedStaker, when set, makes its migrateToNewV2Pool revert.
	lockedStaker common.Address

	mu          sync.Mutex
	deployments []deployment
}

func newFork(t *testing.T) *fork {
	t.Helper()
	f := &fork{
		t:       t,
		backend: chaintest.NewBackend(),
		scripts: &fakeScripts{},
		pending: 3,
		master: map[string]common.Address{
			"GV": governanceAddr,
			"MR": memberRolesAddr,
			"TC": tokenCtrlAddr,
			"PS": pooledStakeAddr,
			"CR": common.HexToAddress("0x8cd7e0d8b1b9e8d4e3f0b6c7d2c1a0b9e8d7c6b5"),
			"CD": common.HexToAddress("0xdc2D359F59F6a26162972c3Bd0cFBfd8C9Ef43af"),
			"IC": common.HexToAddress("0x8CEBa69a8e96a4ce71Aa65859DBdb180B489a719"),
			"CL": common.HexToAddress("0x0d438E3b6d9eE6Ae4a7A9f1B2c3D4e5F60718293"),
			"QD": common.HexToAddress("0x1776651F58a17a50098d31ba3C3cD259C1903f7A"),
			"QT": common.HexToAddress("0x8a4A8A7A5A8b0C1d2E3f405162738495a6B7c8D9"),
			"TF": common.HexToAddress("0x5a1E4c2B7a3D0F9e8C6b5A4d3C2b1A0f9E8d7C6b"),
			"P1": common.HexToAddress("0xcafea112Db32436c2390F5EC988f3aDB96870627"),
		},
	}

	f.writeRegistry()
	f.writeArtifacts()
	f.registerLegacy()
	f.backend.OnDeploy = f.onDeploy
	return f
}

func (f *fork) writeRegistry() {
	entry := func(code, name string, addr common.Address, abiJSON string) map[string]string {
		return map[string]string{"code": code, "contractName": name, "address": addr.Hex(), "contractAbi": abiJSON}
	}
	abis := []map[string]string{
		entry("NXMASTER", "NXMaster", masterAddr, masterABI),
		entry("NXMTOKEN", "NXMToken", nxmAddr, nxmABI),
		entry("MR", "MemberRoles", memberRolesAddr, memberRolesABI),
		entry("GV", "Governance", governanceAddr, chaintest.GovernanceABI),
		entry("TC", "TokenController", tokenCtrlAddr, "[]"),
		entry("MC", "MCR", common.HexToAddress("0xcafea92739e411a4D95bbc2275CA61dE6993C9a7"), "[]"),
		entry("PC", "ProposalCategory", common.HexToAddress("0x888eA6Ab349c854936b98586CE6c0F22Ed2840bD"), "[]"),
	}
	for _, code := range []string{"P1", "IC", "QT", "QD", "CL", "CR", "CD"} {
		abis = append(abis, entry(code, code, f.master[code], "[]"))
	}
	raw, err := json.Marshal(map[string]interface{}{"mainnet": map[string]interface{}{"abis": abis}})
	require.NoError(f.t, err)

	f.reg, err = registry.Parse(bytes.NewReader(raw), registry.DefaultNetwork)
	require.NoError(f.t, err)
}

func (f *fork) writeArtifacts() {
	dir := f.t.TempDir()
	for i, d := range artifactDefs {
		file := filepath.Join(dir, "contracts", d.name+".sol", d.name+".json")
		raw, err := json.Marshal(map[string]interface{}{
			"contractName":   d.name,
			"sourceName":     "contracts/" + d.name + ".sol",
			"abi":            json.RawMessage(d.abi),
			"bytecode":       hexutil.Encode(bytecodeOf(i)),
			"linkReferences": map[string]interface{}{},
		})
		require.NoError(f.t, err)
		require.NoError(f.t, os.MkdirAll(filepath.Dir(file), 0o755))
		require.NoError(f.t, os.WriteFile(file, raw, 0o644))
	}
	var err error
	f.store, err = artifacts.Open(dir)
	require.NoError(f.t, err)
}

func (f *fork) parse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	require.NoError(f.t, err)
	return parsed
}

func (f *fork) artifact(name string) *artifacts.Artifact {
	a, err := f.store.Artifact(name)
	require.NoError(f.t, err)
	return a
}

func (f *fork) registerLegacy() {
	b := f.backend

	b.Register(masterAddr, f.parse(masterABI)).On("contractAddresses", func(c chaintest.Call) (chaintest.Result, error) {
		code := c.Args[0].([2]byte)
		return chaintest.Result{Outputs: []interface{}{f.master[string(code[:])]}}, nil
	})
	b.Register(nxmAddr, f.parse(nxmABI)).On("balanceOf", chaintest.Returns(new(big.Int).Mul(big.NewInt(1_234_567), big.NewInt(1e18))))
	b.Register(memberRolesAddr, f.parse(memberRolesABI)).On("members", func(c chaintest.Call) (chaintest.Result, error) {
		if c.Args[0].(*big.Int).Int64() != 1 {
			return chaintest.Result{}, errors.New("unexpected role")
		}
		return chaintest.Result{Outputs: []interface{}{big.NewInt(1), abMembers}}, nil
	})

	b.Register(tokenCtrlAddr, f.artifact("TokenController").ABI).On("initialize", func(chaintest.Call) (chaintest.Result, error) {
		if f.initialized > 0 {
			return chaintest.Result{}, errors.New("already initialized")
		}
		f.initialized++
		return chaintest.Result{}, nil
	})

	b.Register(pooledStakeAddr, f.artifact("PooledStaking").ABI).
		On("hasPendingActions", func(chaintest.Call) (chaintest.Result, error) {
			return chaintest.Result{Outputs: []interface{}{f.pending > 0}}, nil
		}).
		On("processPendingActions", func(c chaintest.Call) (chaintest.Result, error) {
			if c.Args[0].(*big.Int).Int64() != 100 {
				return chaintest.Result{}, errors.New("unexpected batch size")
			}
			f.pending--
			return chaintest.Result{Outputs: []interface{}{f.pending == 0}}, nil
		}).
		On("migrateToNewV2Pool", func(c chaintest.Call) (chaintest.Result, error) {
			staker := c.Args[0].(common.Address)
			if staker == f.lockedStaker {
				return chaintest.Result{}, errors.New("stake locked")
			}
			for _, m := range f.migrated {
				if m == staker {
					return chaintest.Result{}, errors.New("already migrated")
				}
			}
			f.migrated = append(f.migrated, staker)
			return chaintest.Result{}, nil
		})

	f.gv = chaintest.NewGovernance(b, governanceAddr, abMembers)
	f.gv.Execute = f.execute
}

var (
	codesType     = mustArgs("bytes2[]")
	upgradeArgs   = mustArgs("bytes2[]", "address[]")
	addInternalTy = mustArgs("bytes2[]", "address[]", "uint256[]")
)

func mustArgs(types ...string) abi.Arguments {
	var args abi.Arguments
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// execute applies an accepted proposal to the master's address book.
func (f *fork) execute(p *chaintest.Proposal) error {
	f.categories = append(f.categories, p.Category)
	switch p.Category {
	case governance.CategoryUpgradeMultipleContracts:
		v, err := upgradeArgs.Unpack(p.Action)
		if err != nil {
			return err
		}
		codes, addrs := v[0].([][2]byte), v[1].([]common.Address)
		for i, c := range codes {
			code := string(c[:])
			if _, ok := f.master[code]; !ok {
				return errors.Errorf("unknown contract %s", code)
			}
			if !proxyCodes[code] {
				f.master[code] = addrs[i]
			}
		}
	case governance.CategoryAddNewInternalContracts:
		v, err := addInternalTy.Unpack(p.Action)
		if err != nil {
			return err
		}
		for _, c := range v[0].([][2]byte) {
			code := string(c[:])
			if _, ok := f.master[code]; ok {
				return errors.Errorf("contract %s exists", code)
			}
			f.master[code] = coverProxyAddr
		}
	case governance.CategoryRemoveContracts:
		v, err := codesType.Unpack(p.Action)
		if err != nil {
			return err
		}
		for _, c := range v[0].([][2]byte) {
			delete(f.master, string(c[:]))
		}
	case governance.CategoryNewCategory, governance.CategoryEditCategory:
	default:
		return errors.Errorf("unexpected category %d", p.Category)
	}
	return nil
}

// onDeploy identifies the artifact behind a creation and mocks the new
// contract where the migration calls into it.
func (f *fork) onDeploy(d chaintest.Deployment) {
	for i, def := range artifactDefs {
		code := bytecodeOf(i)
		if !bytes.HasPrefix(d.Code, code) {
			continue
		}
		a := f.artifact(def.name)
		args, err := a.ABI.Constructor.Inputs.Unpack(d.Code[len(code):])
		require.NoError(f.t, err)

		f.mu.Lock()
		f.deployments = append(f.deployments, deployment{Deployment: d, Name: def.name, Args: args})
		f.mu.Unlock()

		m := f.backend.Register(d.Address, a.ABI)
		if def.name == "LegacyClaimsReward" {
			m.On("transferRewards", func(c chaintest.Call) (chaintest.Result, error) {
				f.rewardsMovedBy = append(f.rewardsMovedBy, c.From)
				return chaintest.Result{}, nil
			})
		}
		return
	}
	f.t.Errorf("unknown deployment at %s", d.Address.Hex())
}

func (f *fork) deployed(name string) []deployment {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []deployment
	for _, d := range f.deployments {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

// txLog wraps the fork's node and records the order in which calls to one
// method are sent and awaited.
type txLog struct {
	*chaintest.Backend
	to       common.Address
	selector []byte

	mu     sync.Mutex
	hashes map[common.Hash]bool
	events []string
}

func newTxLog(b *chaintest.Backend, to common.Address, method abi.Method) *txLog {
	return &txLog{Backend: b, to: to, selector: method.ID, hashes: make(map[common.Hash]bool)}
}

func (l *txLog) Send(ctx context.Context, req chain.TxRequest) (common.Hash, error) {
	h, err := l.Backend.Send(ctx, req)
	if err == nil && req.To != nil && *req.To == l.to && bytes.HasPrefix(req.Data, l.selector) {
		l.mu.Lock()
		l.hashes[h] = true
		l.events = append(l.events, "send")
		l.mu.Unlock()
	}
	return h, err
}

func (l *txLog) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	l.mu.Lock()
	if l.hashes[hash] {
		l.events = append(l.events, "wait")
	}
	l.mu.Unlock()
	return l.Backend.WaitMined(ctx, hash)
}

func (l *txLog) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (f *fork) env(cfg config.Config) *Env {
	return NewEnv(f.backend, f.reg, f.store, f.scripts, cfg).WithLogger(log.Discard())
}
