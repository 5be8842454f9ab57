// Package migration is the v1 to v2 protocol migration, expressed as an
// ordered harness suite run against a mainnet fork.
package migration

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/nexusmutual/forkmigrate/artifacts"
	"github.com/nexusmutual/forkmigrate/config"
	"github.com/nexusmutual/forkmigrate/contract"
	"github.com/nexusmutual/forkmigrate/governance"
	"github.com/nexusmutual/forkmigrate/log"
	"github.com/nexusmutual/forkmigrate/registry"
)

// Chain is the node surface the migration drives. *chain.Client
// implements it.
type Chain interface {
	contract.Backend
	governance.Clock
	Accounts(ctx context.Context) ([]common.Address, error)
	Impersonate(ctx context.Context, addr common.Address) error
	SetBalance(ctx context.Context, addr common.Address, wei *big.Int) error
}

// Contracts resolves deployed contracts by code.
type Contracts interface {
	Lookup(code string) (*registry.Entry, error)
}

// Artifacts resolves compiled contracts by name.
type Artifacts interface {
	Artifact(name string) (*artifacts.Artifact, error)
}

// Scripts runs named data-migration scripts.
type Scripts interface {
	Run(ctx context.Context, name string, env map[string]string) error
}

// ErrNoAccounts is returned when the node has no unlocked deployer account.
var ErrNoAccounts = errors.New("migration: node has no unlocked accounts")

// Env holds the collaborators of a run and the contracts bound or deployed
// by earlier steps.
type Env struct {
	Chain      Chain
	Registry   Contracts
	Artifacts  Artifacts
	Scripts    Scripts
	Config     config.Config
	Categories map[uint64]governance.Category
	Log        *log.Logger

	Deployer  common.Address
	ABMembers []common.Address
	Submitter *governance.Submitter

	// v1 contracts bound from the registry.
	Master           *contract.Contract
	NXM              *contract.Contract
	MemberRoles      *contract.Contract
	Governance       *contract.Contract
	Pool             *contract.Contract
	MCR              *contract.Contract
	Incidents        *contract.Contract
	Quotation        *contract.Contract
	QuotationData    *contract.Contract
	ProposalCategory *contract.Contract
	TokenController  *contract.Contract
	Claims           *contract.Contract
	ClaimsReward     *contract.Contract
	ClaimsData       *contract.Contract

	// v2 contracts deployed by the migration.
	ProductsV1      *contract.Contract
	StakingPoolImpl *contract.Contract
	CoverNFT        *contract.Contract
	Cover           *contract.Contract
	SwapOperator    *contract.Contract
	PooledStaking   *contract.Contract
}

// NewEnv returns an Env ready for the first step. Categories default to
// governance.DefaultCategories.
func NewEnv(c Chain, reg Contracts, store Artifacts, run Scripts, cfg config.Config) *Env {
	l := log.Default()
	return &Env{
		Chain:      c,
		Registry:   reg,
		Artifacts:  store,
		Scripts:    run,
		Config:     cfg,
		Categories: governance.DefaultCategories(),
		Log:        l.Module("migration"),
	}
}

// WithLogger replaces the logger of the run.
func (e *Env) WithLogger(l *log.Logger) *Env {
	e.Log = l.Module("migration")
	return e
}

// bind binds the registry contract with the given code, sending from the
// deployer.
func (e *Env) bind(code string) (*contract.Contract, error) {
	entry, err := e.Registry.Lookup(code)
	if err != nil {
		return nil, err
	}
	return contract.New(entry.Address, entry.ABI, e.Chain, e.Deployer), nil
}

// deploy creates the named artifact from the deployer account.
func (e *Env) deploy(ctx context.Context, name string, args ...interface{}) (*contract.Contract, error) {
	a, err := e.Artifacts.Artifact(name)
	if err != nil {
		return nil, err
	}
	c, receipt, err := contract.Deploy(ctx, e.Chain, e.Deployer, a.ABI, a.Bytecode, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "deploy %s", name)
	}
	e.Log.Info("deployed", "contract", name, "address", c.Address, "codeHash", a.CodeHash(), "gasUsed", receipt.GasUsed)
	return c, nil
}

// bindArtifact binds the ABI of a compiled contract at addr, typically a
// proxy whose implementation was just replaced.
func (e *Env) bindArtifact(name string, addr common.Address) (*contract.Contract, error) {
	a, err := e.Artifacts.Artifact(name)
	if err != nil {
		return nil, err
	}
	return contract.New(addr, a.ABI, e.Chain, e.Deployer), nil
}

// contractAddress asks the master for the current address of code.
func (e *Env) contractAddress(ctx context.Context, code governance.Code) (common.Address, error) {
	addr, err := contract.CallOne[common.Address](ctx, e.Master, "contractAddresses", code)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return addr, errors.Errorf("migration: master has no contract %s", code)
	}
	return addr, nil
}

// ErrNoBoard is returned by steps that need the advisory board before it
// was impersonated.
var ErrNoBoard = errors.New("migration: advisory board not impersonated")

// propose passes a proposal with the impersonated advisory board.
func (e *Env) propose(ctx context.Context, category uint64, action []byte) error {
	if e.Submitter == nil {
		return ErrNoBoard
	}
	_, err := e.Submitter.Submit(ctx, category, action, e.ABMembers)
	return err
}

// upgrade passes an upgradeMultipleContracts proposal for one contract.
func (e *Env) upgrade(ctx context.Context, code governance.Code, impl common.Address) error {
	if e.Submitter == nil {
		return ErrNoBoard
	}
	return e.Submitter.Upgrade(ctx, e.ABMembers, []governance.Code{code}, []common.Address{impl})
}
