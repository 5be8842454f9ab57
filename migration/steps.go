package migration

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/nexusmutual/forkmigrate/chain"
	"github.com/nexusmutual/forkmigrate/contract"
	"github.com/nexusmutual/forkmigrate/governance"
	"github.com/nexusmutual/forkmigrate/harness"
	"github.com/nexusmutual/forkmigrate/metrics"
	"github.com/nexusmutual/forkmigrate/scripts"
)

// SuiteName is the name the migration suite registers under.
const SuiteName = "v2 migration"

// Cover NFT metadata.
const (
	CoverNFTName   = "Nexus Mutual Cover"
	CoverNFTSymbol = "NXC"
)

// advisoryBoardRole is the member role id of the advisory board.
const advisoryBoardRole = 1

// ErrPendingActionsLeft is returned when the pending-actions drain hits its
// round cap with work still queued.
var ErrPendingActionsLeft = errors.New("migration: pending actions left after round cap")

// Suite returns the migration steps bound to e.
func Suite(e *Env) harness.Suite {
	return harness.Suite{
		Name: SuiteName,
		Steps: []harness.Step{
			{Name: "initialize old contracts", Run: e.initializeOldContracts},
			{Name: "impersonate AB members", Run: e.impersonateABMembers},
			{Name: "update Governance contract", Run: e.updateGovernance},
			{Name: "run get-legacy-assessment-rewards script", Run: e.script(scripts.LegacyAssessmentRewards)},
			{Name: "update ClaimsReward contract", Run: e.updateClaimsReward},
			{Name: "update TokenController contract", Run: e.updateTokenController},
			{Name: "transfer v1 assessment rewards to assessors", Run: e.transferRewards},
			{Name: "check TokenController balance", Run: e.checkTokenControllerBalance},
			{Name: "edit proposal category 41 (Set Asset Swap Details)", Run: e.editCategory(41)},
			{Name: "add proposal category 42 (Add new contracts)", Run: e.addCategory(42)},
			{Name: "add proposal category 43 (Remove contracts)", Run: e.addCategory(43)},
			{Name: "run get-products-v1 script", Run: e.script(scripts.ProductsV1)},
			{Name: "deploy ProductsV1", Run: e.deployProductsV1},
			{Name: "add empty internal contract for Cover", Run: e.addCoverInitializer},
			{Name: "deploy StakingPool", Run: e.deployStakingPool},
			{Name: "deploy master contract", Skip: true, Run: e.deployMaster},
			{Name: "deploy cover contracts", Run: e.deployCover},
			{Name: "remove CR, CD, IC, CL, QD, QT, TF", Run: e.removeLegacyContracts},
			{Name: "run populate-v2-products script", Run: e.populateV2Products},
			{Name: "deploy SwapOperator", Run: e.deploySwapOperator},
			{Name: "deploy Pool", Run: e.deployPool},
			{Name: "deploy PooledStaking", Run: e.deployPooledStaking},
			{Name: "process all PooledStaking pending actions", Run: e.processPendingActions},
			{Name: "migrate top stakers to new v2 staking pools", Run: e.migrateTopStakers},
		},
	}
}

func (e *Env) initializeOldContracts(ctx context.Context) error {
	accounts, err := e.Chain.Accounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return ErrNoAccounts
	}
	e.Deployer = accounts[0]

	for _, b := range []struct {
		code string
		dst  **contract.Contract
	}{
		{"NXMASTER", &e.Master},
		{"NXMTOKEN", &e.NXM},
		{"MR", &e.MemberRoles},
		{"GV", &e.Governance},
		{"P1", &e.Pool},
		{"MC", &e.MCR},
		{"IC", &e.Incidents},
		{"QT", &e.Quotation},
		{"QD", &e.QuotationData},
		{"PC", &e.ProposalCategory},
		{"TC", &e.TokenController},
		{"CL", &e.Claims},
		{"CR", &e.ClaimsReward},
		{"CD", &e.ClaimsData},
	} {
		c, err := e.bind(b.code)
		if err != nil {
			return err
		}
		*b.dst = c
	}
	e.Log.Info("bound legacy contracts", "deployer", e.Deployer, "master", e.Master.Address)
	return nil
}

func (e *Env) impersonateABMembers(ctx context.Context) error {
	out, err := e.MemberRoles.Call(ctx, "members", advisoryBoardRole)
	if err != nil {
		return err
	}
	if len(out) < 2 {
		return errors.Errorf("migration: members returned %d values", len(out))
	}
	members, ok := out[1].([]common.Address)
	if !ok {
		return errors.Errorf("migration: memberArray has type %T", out[1])
	}

	var funding *big.Int
	if e.Config.FundMembers != "" {
		if funding, err = chain.ParseEther(e.Config.FundMembers); err != nil {
			return err
		}
	}
	e.ABMembers = e.ABMembers[:0]
	for _, m := range members {
		if err := e.Chain.Impersonate(ctx, m); err != nil {
			return err
		}
		if funding != nil {
			if err := e.Chain.SetBalance(ctx, m, funding); err != nil {
				return err
			}
		}
		e.ABMembers = append(e.ABMembers, m)
	}

	e.Submitter = governance.NewSubmitter(e.Governance, e.Chain).WithLogger(e.Log)
	e.Submitter.VotingPeriod = e.Config.Governance.VotingPeriod
	e.Submitter.CloseGasLimit = e.Config.Governance.CloseGasLimit
	e.Log.Info("impersonated advisory board", "members", len(e.ABMembers))
	return nil
}

func (e *Env) updateGovernance(ctx context.Context) error {
	gv, err := e.deploy(ctx, "Governance")
	if err != nil {
		return err
	}
	return e.upgrade(ctx, governance.CodeGovernance, gv.Address)
}

func (e *Env) script(name string) harness.StepFunc {
	return func(ctx context.Context) error {
		return e.Scripts.Run(ctx, name, nil)
	}
}

func (e *Env) updateClaimsReward(ctx context.Context) error {
	cr, err := e.deploy(ctx, "LegacyClaimsReward", e.Master, e.Config.Addresses.DAI, e.ClaimsData)
	if err != nil {
		return err
	}
	if err := e.upgrade(ctx, governance.CodeClaimsReward, cr.Address); err != nil {
		return err
	}
	e.ClaimsReward = cr
	return nil
}

func (e *Env) updateTokenController(ctx context.Context) error {
	tc, err := e.deploy(ctx, "TokenController", e.QuotationData, e.ClaimsReward)
	if err != nil {
		return err
	}
	if err := e.upgrade(ctx, governance.CodeTokenController, tc.Address); err != nil {
		return err
	}
	// TokenController sits behind a proxy; initialize runs against the
	// proxy's storage with the new implementation's ABI.
	if e.TokenController, err = e.bindArtifact("TokenController", e.TokenController.Address); err != nil {
		return err
	}
	_, err = e.TokenController.Transact(ctx, "initialize")
	return err
}

func (e *Env) transferRewards(ctx context.Context) error {
	_, err := e.ClaimsReward.Transact(ctx, "transferRewards")
	return err
}

func (e *Env) checkTokenControllerBalance(ctx context.Context) error {
	balance, err := contract.CallOne[*big.Int](ctx, e.NXM, "balanceOf", e.TokenController)
	if err != nil {
		return err
	}
	e.Log.Info("TokenController NXM balance", "address", e.TokenController.Address, "balance", balance.String())
	return nil
}

func (e *Env) category(id uint64) (governance.Category, error) {
	c, ok := e.Categories[id]
	if !ok {
		return c, errors.Errorf("migration: no definition for proposal category %d", id)
	}
	return c, nil
}

func (e *Env) editCategory(id uint64) harness.StepFunc {
	return func(ctx context.Context) error {
		c, err := e.category(id)
		if err != nil {
			return err
		}
		action, err := governance.EditCategory(id, c)
		if err != nil {
			return err
		}
		return e.propose(ctx, governance.CategoryEditCategory, action)
	}
}

func (e *Env) addCategory(id uint64) harness.StepFunc {
	return func(ctx context.Context) error {
		c, err := e.category(id)
		if err != nil {
			return err
		}
		action, err := governance.NewCategory(c)
		if err != nil {
			return err
		}
		return e.propose(ctx, governance.CategoryNewCategory, action)
	}
}

func (e *Env) deployProductsV1(ctx context.Context) (err error) {
	e.ProductsV1, err = e.deploy(ctx, "ProductsV1")
	return err
}

func (e *Env) addCoverInitializer(ctx context.Context) error {
	initializer, err := e.deploy(ctx, "CoverInitializer")
	if err != nil {
		return err
	}
	action, err := governance.AddNewInternalContracts(
		[]governance.Code{governance.CodeCover},
		[]common.Address{initializer.Address},
		[]governance.ContractType{governance.ContractProxy},
	)
	if err != nil {
		return err
	}
	return e.propose(ctx, governance.CategoryAddNewInternalContracts, action)
}

func (e *Env) deployStakingPool(ctx context.Context) error {
	cover, err := e.contractAddress(ctx, governance.CodeCover)
	if err != nil {
		return err
	}
	// The pool id of the implementation is unused; instances get theirs
	// from the factory.
	e.StakingPoolImpl, err = e.deploy(ctx, "StakingPool", 0, e.NXM, cover, e.MemberRoles)
	return err
}

func (e *Env) deployMaster(ctx context.Context) error {
	master, err := e.deploy(ctx, "NXMaster")
	if err != nil {
		return err
	}
	action, err := governance.UpgradeTo(master.Address)
	if err != nil {
		return err
	}
	return e.propose(ctx, governance.CategoryUpgradeMaster, action)
}

func (e *Env) deployCover(ctx context.Context) error {
	proxy, err := e.contractAddress(ctx, governance.CodeCover)
	if err != nil {
		return err
	}
	if e.CoverNFT, err = e.deploy(ctx, "CoverNFT", CoverNFTName, CoverNFTSymbol, proxy); err != nil {
		return err
	}
	impl, err := e.deploy(ctx, "Cover", e.QuotationData, e.ProductsV1, e.StakingPoolImpl, e.CoverNFT, proxy)
	if err != nil {
		return err
	}
	if err := e.upgrade(ctx, governance.CodeCover, impl.Address); err != nil {
		return err
	}
	e.Cover, err = e.bindArtifact("Cover", proxy)
	return err
}

func (e *Env) removeLegacyContracts(ctx context.Context) error {
	action, err := governance.RemoveContracts([]governance.Code{
		governance.CodeClaimsReward,
		governance.CodeClaimsData,
		governance.CodeIncidents,
		governance.CodeClaims,
		governance.CodeQuotationData,
		governance.CodeQuotation,
		governance.CodeTokenFunctions,
	})
	if err != nil {
		return err
	}
	return e.propose(ctx, governance.CategoryRemoveContracts, action)
}

func (e *Env) populateV2Products(ctx context.Context) error {
	if e.Cover == nil || len(e.ABMembers) == 0 {
		return errors.New("migration: cover and advisory board required")
	}
	return e.Scripts.Run(ctx, scripts.PopulateV2Products, map[string]string{
		scripts.EnvCoverAddress:  e.Cover.Address.Hex(),
		scripts.EnvSignerAddress: e.ABMembers[0].Hex(),
	})
}

func (e *Env) deploySwapOperator(ctx context.Context) (err error) {
	a := e.Config.Addresses
	e.SwapOperator, err = e.deploy(ctx, "SwapOperator", e.Master, a.TWAPOracle, a.SwapController, a.StETH)
	return err
}

func (e *Env) deployPool(ctx context.Context) error {
	a := e.Config.Addresses
	maxDAI, err := chain.ParseEther("1000")
	if err != nil {
		return err
	}
	pool, err := e.deploy(ctx, "Pool",
		[]common.Address{a.DAI},
		[]uint8{chain.EtherDecimals},
		[]int{0},           // min
		[]*big.Int{maxDAI}, // max
		[]int{100},         // 1% slippage
		e.Master,
		a.PriceFeedOracle,
		e.SwapOperator,
	)
	if err != nil {
		return err
	}
	if err := e.upgrade(ctx, governance.CodePool, pool.Address); err != nil {
		return err
	}
	e.Pool = pool
	return nil
}

func (e *Env) deployPooledStaking(ctx context.Context) error {
	cover, err := e.contractAddress(ctx, governance.CodeCover)
	if err != nil {
		return err
	}
	impl, err := e.deploy(ctx, "PooledStaking", cover, e.ProductsV1)
	if err != nil {
		return err
	}
	if err := e.upgrade(ctx, governance.CodePooledStaking, impl.Address); err != nil {
		return err
	}
	proxy, err := e.contractAddress(ctx, governance.CodePooledStaking)
	if err != nil {
		return err
	}
	e.PooledStaking, err = e.bindArtifact("PooledStaking", proxy)
	return err
}

func (e *Env) processPendingActions(ctx context.Context) error {
	batch := e.Config.Staking.PendingActionsBatch
	limit := e.Config.Staking.MaxRounds
	for round := 0; ; round++ {
		pending, err := contract.CallOne[bool](ctx, e.PooledStaking, "hasPendingActions")
		if err != nil {
			return err
		}
		if !pending {
			e.Log.Info("pending actions drained", "rounds", round)
			return nil
		}
		if limit > 0 && round >= limit {
			return errors.Wrapf(ErrPendingActionsLeft, "%d rounds", round)
		}
		if _, err := e.PooledStaking.Transact(ctx, "processPendingActions", batch); err != nil {
			return err
		}
		metrics.PendingActionRounds.Inc()
		e.Log.Debug("processed pending actions", "round", round+1, "batch", batch)
	}
}

func (e *Env) migrateTopStakers(ctx context.Context) error {
	stakers := e.Config.Staking.TopStakers
	hashes := make([]common.Hash, len(stakers))

	// All transactions go out before any receipt is awaited.
	send, sctx := errgroup.WithContext(ctx)
	for i, staker := range stakers {
		send.Go(func() error {
			h, err := e.PooledStaking.Submit(sctx, "migrateToNewV2Pool", staker)
			if err != nil {
				return errors.Wrapf(err, "staker %s", staker.Hex())
			}
			hashes[i] = h
			return nil
		})
	}
	if err := send.Wait(); err != nil {
		return err
	}

	wait, wctx := errgroup.WithContext(ctx)
	for i, h := range hashes {
		staker := stakers[i]
		wait.Go(func() error {
			if _, err := e.PooledStaking.Wait(wctx, "migrateToNewV2Pool", h); err != nil {
				return errors.Wrapf(err, "staker %s", staker.Hex())
			}
			return nil
		})
	}
	if err := wait.Wait(); err != nil {
		return err
	}
	e.Log.Info("migrated top stakers", "stakers", len(stakers))
	return nil
}
