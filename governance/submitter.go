package governance

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"

	"github.com/nexusmutual/forkmigrate/contract"
	"github.com/nexusmutual/forkmigrate/log"
	"github.com/nexusmutual/forkmigrate/metrics"
	"github.com/nexusmutual/forkmigrate/telemetry"
)

// Errors returned by Submit.
var (
	ErrNoSigners    = errors.New("governance: no signers")
	ErrActionFailed = errors.New("governance: ActionSuccess not emitted")
	ErrNotAccepted  = errors.New("governance: proposal not accepted")
	ErrBadProposal  = errors.New("governance: unexpected proposal data")
)

// Defaults matching the on-chain governance parameters.
const (
	DefaultVotingPeriod  = 7 * 24 * time.Hour
	DefaultCloseGasLimit = 15_000_000

	// StatusAccepted is the proposal status after a passed vote.
	StatusAccepted = 3
	// voteFor is the solution index voted for; 0 is the "reject" solution.
	voteFor = 1
)

// Clock is the chain time control needed to close a vote.
type Clock interface {
	LatestTimestamp(ctx context.Context) (uint64, error)
	SetTime(ctx context.Context, ts uint64) error
}

// Submitter creates proposals, votes them through with the given signers
// and closes them.
type Submitter struct {
	gv    *contract.Contract
	clock Clock
	log   *log.Logger

	VotingPeriod  time.Duration
	CloseGasLimit uint64
}

// NewSubmitter returns a Submitter driving the governance contract gv.
// Proposals are closed from gv's default sender.
func NewSubmitter(gv *contract.Contract, clock Clock) *Submitter {
	return &Submitter{
		gv:            gv,
		clock:         clock,
		log:           log.Default().Module("governance"),
		VotingPeriod:  DefaultVotingPeriod,
		CloseGasLimit: DefaultCloseGasLimit,
	}
}

// WithLogger replaces the submitter's logger.
func (s *Submitter) WithLogger(l *log.Logger) *Submitter {
	s.log = l.Module("governance")
	return s
}

// Submit passes a proposal of the given category carrying action. The first
// signer creates, categorizes and submits it; every signer then votes for
// it, the voting period is skipped and the proposal is closed. It returns
// the proposal id.
func (s *Submitter) Submit(ctx context.Context, category uint64, action []byte, signers []common.Address) (id *big.Int, err error) {
	label := strconv.FormatUint(category, 10)
	ctx, span := telemetry.Tracer("governance").Start(ctx, "governance.proposal")
	span.SetAttributes(
		attribute.Int64("proposal.category", int64(category)),
		attribute.Int("proposal.signers", len(signers)),
	)
	defer func() {
		outcome := metrics.OutcomePassed
		if err != nil {
			outcome = metrics.OutcomeFailed
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		metrics.ProposalsTotal.WithLabelValues(label, outcome).Inc()
		span.End()
	}()

	if len(signers) == 0 {
		return nil, ErrNoSigners
	}

	id, err = contract.CallOne[*big.Int](ctx, s.gv, "getProposalLength")
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("proposal.id", id.String()))
	logger := s.log.With("proposal", id.String(), "category", category)
	logger.Info("creating proposal", "action", hexutil.Encode(action))

	proposer := s.gv.As(signers[0])
	if _, err := proposer.Transact(ctx, "createProposal", "", "", "", 0); err != nil {
		return id, err
	}
	if _, err := proposer.Transact(ctx, "categorizeProposal", id, category, 0); err != nil {
		return id, err
	}
	if _, err := proposer.Transact(ctx, "submitProposalWithSolution", id, "", action); err != nil {
		return id, err
	}

	for _, signer := range signers {
		if _, err := s.gv.As(signer).Transact(ctx, "submitVote", id, voteFor); err != nil {
			return id, errors.Wrapf(err, "vote from %s", signer.Hex())
		}
	}
	logger.Debug("votes cast", "votes", len(signers))

	now, err := s.clock.LatestTimestamp(ctx)
	if err != nil {
		return id, err
	}
	if err := s.clock.SetTime(ctx, now+uint64(s.VotingPeriod/time.Second)); err != nil {
		return id, errors.Wrap(err, "skip voting period")
	}

	receipt, err := s.gv.WithGasLimit(s.CloseGasLimit).Transact(ctx, "closeProposal", id)
	if err != nil {
		return id, err
	}
	ok, err := s.gv.Emitted(receipt, "ActionSuccess")
	if err != nil {
		return id, err
	}
	if !ok {
		return id, errors.Wrapf(ErrActionFailed, "proposal %s", id)
	}

	proposal, err := s.gv.Call(ctx, "proposal", id)
	if err != nil {
		return id, err
	}
	if len(proposal) < 3 {
		return id, errors.Wrapf(ErrBadProposal, "proposal %s returned %d fields", id, len(proposal))
	}
	status, _ := proposal[2].(*big.Int)
	if status == nil || !status.IsUint64() || status.Uint64() != StatusAccepted {
		return id, errors.Wrapf(ErrNotAccepted, "proposal %s status %v", id, proposal[2])
	}
	logger.Info("proposal accepted", "block", receipt.BlockNumber, "gasUsed", receipt.GasUsed)
	return id, nil
}

// Upgrade passes an upgradeMultipleContracts proposal.
func (s *Submitter) Upgrade(ctx context.Context, signers []common.Address, codes []Code, addrs []common.Address) error {
	action, err := UpgradeMultipleContracts(codes, addrs)
	if err != nil {
		return err
	}
	_, err = s.Submit(ctx, CategoryUpgradeMultipleContracts, action, signers)
	return err
}
