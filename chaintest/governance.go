package chaintest

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// GovernanceABI is the subset of the governance contract used to pass
// proposals.
const GovernanceABI = `[
  {"type":"function","name":"getProposalLength","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"createProposal","stateMutability":"nonpayable","inputs":[{"name":"_proposalTitle","type":"string"},{"name":"_proposalSD","type":"string"},{"name":"_proposalDescHash","type":"string"},{"name":"_categoryId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"categorizeProposal","stateMutability":"nonpayable","inputs":[{"name":"_proposalId","type":"uint256"},{"name":"_categoryId","type":"uint256"},{"name":"_incentive","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"submitProposalWithSolution","stateMutability":"nonpayable","inputs":[{"name":"_proposalId","type":"uint256"},{"name":"_solutionHash","type":"string"},{"name":"_action","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"submitVote","stateMutability":"nonpayable","inputs":[{"name":"_proposalId","type":"uint256"},{"name":"_solutionChosen","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"closeProposal","stateMutability":"nonpayable","inputs":[{"name":"_proposalId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"proposal","stateMutability":"view","inputs":[{"name":"_proposalId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"},{"name":"","type":"uint256"},{"name":"","type":"uint256"},{"name":"","type":"uint256"}]},
  {"type":"event","name":"ActionSuccess","anonymous":false,"inputs":[{"indexed":false,"name":"proposalId","type":"uint256"}]},
  {"type":"event","name":"ActionFailed","anonymous":false,"inputs":[{"indexed":false,"name":"proposalId","type":"uint256"}]}
]`

// Proposal is the state the fake governance keeps per proposal.
type Proposal struct {
	ID       uint64
	Owner    common.Address
	Category uint64
	Action   []byte
	Votes    []common.Address
	Status   uint64
	ClosedAt uint64
}

// Governance is an in-memory governance contract. Proposals pass when every
// member of Voters voted for them and the voting period elapsed.
type Governance struct {
	Mock *Mock

	// Voters is the advisory board; only they may vote.
	Voters []common.Address
	// VotingPeriod in seconds, measured from the last vote.
	VotingPeriod uint64
	// Execute runs the action of an accepted proposal. A non-nil error makes
	// the close emit ActionFailed instead of ActionSuccess. It runs with the
	// backend locked.
	Execute func(p *Proposal) error

	backend   *Backend
	proposals []*Proposal
	votedAt   map[uint64]uint64
}

// Proposal status values of the governance contract.
const (
	statusAwaitingVote  = 2
	statusAccepted      = 3
	statusRejected      = 4
	statusActionFailure = 5
)

// NewGovernance registers a fake governance contract at addr.
func NewGovernance(b *Backend, addr common.Address, voters []common.Address) *Governance {
	parsed, err := abi.JSON(strings.NewReader(GovernanceABI))
	if err != nil {
		panic(err)
	}
	g := &Governance{
		Voters:       voters,
		VotingPeriod: 7 * 24 * 60 * 60,
		backend:      b,
		votedAt:      make(map[uint64]uint64),
	}
	g.Mock = b.Register(addr, parsed)
	g.Mock.
		On("getProposalLength", func(Call) (Result, error) {
			return Result{Outputs: []interface{}{big.NewInt(int64(len(g.proposals)))}}, nil
		}).
		On("createProposal", func(c Call) (Result, error) {
			g.proposals = append(g.proposals, &Proposal{ID: uint64(len(g.proposals)), Owner: c.From})
			return Result{}, nil
		}).
		On("categorizeProposal", func(c Call) (Result, error) {
			p, err := g.owned(c)
			if err != nil {
				return Result{}, err
			}
			p.Category = c.Args[1].(*big.Int).Uint64()
			return Result{}, nil
		}).
		On("submitProposalWithSolution", func(c Call) (Result, error) {
			p, err := g.owned(c)
			if err != nil {
				return Result{}, err
			}
			if p.Category == 0 {
				return Result{}, errors.New("proposal not categorized")
			}
			p.Action = c.Args[2].([]byte)
			p.Status = statusAwaitingVote
			return Result{}, nil
		}).
		On("submitVote", func(c Call) (Result, error) {
			p, err := g.get(c.Args[0])
			if err != nil {
				return Result{}, err
			}
			if p.Status != statusAwaitingVote {
				return Result{}, errors.New("proposal not open for voting")
			}
			if !contains(g.Voters, c.From) {
				return Result{}, errors.New("not authorized to vote")
			}
			if contains(p.Votes, c.From) {
				return Result{}, errors.New("already voted")
			}
			if c.Args[1].(*big.Int).Uint64() != 1 {
				return Result{}, errors.New("unexpected solution")
			}
			p.Votes = append(p.Votes, c.From)
			g.votedAt[p.ID] = g.backend.time
			return Result{}, nil
		}).
		On("closeProposal", func(c Call) (Result, error) {
			p, err := g.get(c.Args[0])
			if err != nil {
				return Result{}, err
			}
			if p.Status != statusAwaitingVote {
				return Result{}, errors.New("proposal not open")
			}
			if g.backend.time < g.votedAt[p.ID]+g.VotingPeriod {
				return Result{}, errors.New("voting period not over")
			}
			p.ClosedAt = g.backend.time
			id := new(big.Int).SetUint64(p.ID)
			if len(p.Votes)*2 <= len(g.Voters) {
				p.Status = statusRejected
				return Result{}, nil
			}
			if g.Execute != nil {
				if err := g.Execute(p); err != nil {
					p.Status = statusActionFailure
					return Result{Events: []Event{{Name: "ActionFailed", Args: []interface{}{id}}}}, nil
				}
			}
			p.Status = statusAccepted
			return Result{Events: []Event{{Name: "ActionSuccess", Args: []interface{}{id}}}}, nil
		}).
		On("proposal", func(c Call) (Result, error) {
			p, err := g.get(c.Args[0])
			if err != nil {
				return Result{}, err
			}
			return Result{Outputs: []interface{}{
				new(big.Int).SetUint64(p.ID),
				new(big.Int).SetUint64(p.Category),
				new(big.Int).SetUint64(p.Status),
				big.NewInt(1),
				new(big.Int),
			}}, nil
		})
	return g
}

// Proposals returns the proposals created so far.
func (g *Governance) Proposals() []Proposal {
	g.backend.mu.Lock()
	defer g.backend.mu.Unlock()
	out := make([]Proposal, len(g.proposals))
	for i, p := range g.proposals {
		out[i] = *p
	}
	return out
}

func (g *Governance) get(arg interface{}) (*Proposal, error) {
	id := arg.(*big.Int)
	if !id.IsUint64() || id.Uint64() >= uint64(len(g.proposals)) {
		return nil, errors.Errorf("no proposal %s", id)
	}
	return g.proposals[id.Uint64()], nil
}

func (g *Governance) owned(c Call) (*Proposal, error) {
	p, err := g.get(c.Args[0])
	if err != nil {
		return nil, err
	}
	if p.Owner != c.From {
		return nil, errors.New("not the proposal owner")
	}
	return p, nil
}

func contains(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}
