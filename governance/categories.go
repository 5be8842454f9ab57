package governance

import (
	"math/big"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Category is the parameter set of a proposal category as taken by the
// proposal category contract's newCategory and editCategory.
type Category struct {
	Name                    string         `yaml:"name"`
	MemberRoleToVote        uint64         `yaml:"memberRoleToVote"`
	MajorityVotePerc        uint64         `yaml:"majorityVotePerc"`
	QuorumPerc              uint64         `yaml:"quorumPerc"`
	AllowedToCreateProposal []uint64       `yaml:"allowedToCreateProposal"`
	ClosingTime             uint64         `yaml:"closingTime"`
	ActionHash              string         `yaml:"actionHash"`
	ContractAddress         common.Address `yaml:"contractAddress"`
	ContractName            Code           `yaml:"contractName"`
	// Incentives is [minStake, incentive, advisoryBoardPerc, isSpecialResolution].
	Incentives   []uint64 `yaml:"incentives"`
	FunctionHash string   `yaml:"functionHash"`
}

func bigs(xs []uint64) []*big.Int {
	out := make([]*big.Int, len(xs))
	for i, x := range xs {
		out[i] = new(big.Int).SetUint64(x)
	}
	return out
}

func (c Category) values() []interface{} {
	return []interface{}{
		c.Name,
		new(big.Int).SetUint64(c.MemberRoleToVote),
		new(big.Int).SetUint64(c.MajorityVotePerc),
		new(big.Int).SetUint64(c.QuorumPerc),
		bigs(c.AllowedToCreateProposal),
		new(big.Int).SetUint64(c.ClosingTime),
		c.ActionHash,
		c.ContractAddress,
		[2]byte(c.ContractName),
		bigs(c.Incentives),
		c.FunctionHash,
	}
}

// Validate checks the fields the governance contract would reject.
func (c Category) Validate() error {
	if c.Name == "" {
		return errors.New("governance: category without name")
	}
	if c.MajorityVotePerc > 100 || c.QuorumPerc > 100 {
		return errors.Errorf("governance: category %q percentages exceed 100", c.Name)
	}
	if len(c.Incentives) != 4 {
		return errors.Errorf("governance: category %q needs 4 incentive values, got %d", c.Name, len(c.Incentives))
	}
	return nil
}

const (
	roleAdvisoryBoard = 1
	roleMember        = 2
	sevenDays         = 7 * 24 * 60 * 60
)

// DefaultCategories returns the categories the migration edits (41) and
// adds (42, 43).
func DefaultCategories() map[uint64]Category {
	return map[uint64]Category{
		41: {
			Name:                    "Set Asset Swap Details",
			MemberRoleToVote:        roleAdvisoryBoard,
			MajorityVotePerc:        60,
			QuorumPerc:              15,
			AllowedToCreateProposal: []uint64{roleMember},
			ClosingTime:             sevenDays,
			ContractName:            CodePool,
			Incentives:              []uint64{0, 0, 60, 0},
			FunctionHash:            "setSwapDetails(address,uint256,uint256,uint256)",
		},
		42: {
			Name:                    "Add new internal contracts",
			MemberRoleToVote:        roleAdvisoryBoard,
			MajorityVotePerc:        60,
			QuorumPerc:              15,
			AllowedToCreateProposal: []uint64{roleMember},
			ClosingTime:             sevenDays,
			ContractName:            CodeMaster,
			Incentives:              []uint64{0, 0, 60, 0},
			FunctionHash:            "addNewInternalContracts(bytes2[],address[],uint256[])",
		},
		43: {
			Name:                    "Remove contracts",
			MemberRoleToVote:        roleAdvisoryBoard,
			MajorityVotePerc:        60,
			QuorumPerc:              15,
			AllowedToCreateProposal: []uint64{roleMember},
			ClosingTime:             sevenDays,
			ContractName:            CodeMaster,
			Incentives:              []uint64{0, 0, 60, 0},
			FunctionHash:            "removeContracts(bytes2[])",
		},
	}
}

// LoadCategories reads category overrides from a YAML file keyed by
// category id and merges them over DefaultCategories. An empty path
// returns the defaults.
func LoadCategories(path string) (map[uint64]Category, error) {
	cats := DefaultCategories()
	if path == "" {
		return cats, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "governance: read categories")
	}
	var overrides map[uint64]Category
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, errors.Wrapf(err, "governance: parse %s", path)
	}
	for id, c := range overrides {
		if err := c.Validate(); err != nil {
			return nil, errors.Wrapf(err, "category %d", id)
		}
		cats[id] = c
	}
	return cats, nil
}

// SortedIDs returns the ids of cats in ascending order.
func SortedIDs(cats map[uint64]Category) []uint64 {
	ids := make([]uint64, 0, len(cats))
	for id := range cats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
