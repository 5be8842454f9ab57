package governance

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Proposal category ids of the governance contract used by the migration.
const (
	CategoryNewCategory              uint64 = 3
	CategoryEditCategory             uint64 = 4
	CategoryUpgradeMultipleContracts uint64 = 29
	CategoryUpgradeMaster            uint64 = 37
	CategoryAddNewInternalContracts  uint64 = 42
	CategoryRemoveContracts          uint64 = 43
)

// ErrLengthMismatch is returned when parallel action arrays differ in length.
var ErrLengthMismatch = errors.New("governance: action arrays differ in length")

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func arguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		args[i] = abi.Argument{Type: mustType(t)}
	}
	return args
}

var (
	upgradeMultipleArgs = arguments("bytes2[]", "address[]")
	addInternalArgs     = arguments("bytes2[]", "address[]", "uint256[]")
	removeArgs          = arguments("bytes2[]")
	upgradeToArgs       = arguments("address")

	categoryTail = []string{
		"string", "uint256", "uint256", "uint256", "uint256[]", "uint256",
		"string", "address", "bytes2", "uint256[]", "string",
	}
	newCategoryArgs  = arguments(categoryTail...)
	editCategoryArgs = arguments(append([]string{"uint256"}, categoryTail...)...)
)

func rawCodes(codes []Code) [][2]byte {
	out := make([][2]byte, len(codes))
	for i, c := range codes {
		out[i] = c
	}
	return out
}

// UpgradeMultipleContracts encodes the action of category 29: replace the
// implementation of each code with the address at the same index.
func UpgradeMultipleContracts(codes []Code, addrs []common.Address) ([]byte, error) {
	if len(codes) != len(addrs) {
		return nil, errors.Wrapf(ErrLengthMismatch, "%d codes, %d addresses", len(codes), len(addrs))
	}
	return upgradeMultipleArgs.Pack(rawCodes(codes), addrs)
}

// ContractType is the kind of an internal contract registered with the
// master. Proxies are the kind used for upgradeable v2 modules.
type ContractType uint64

const (
	ContractReplaceable ContractType = 1
	ContractProxy       ContractType = 2
)

// AddNewInternalContracts encodes the action of category 42.
func AddNewInternalContracts(codes []Code, addrs []common.Address, types []ContractType) ([]byte, error) {
	if len(codes) != len(addrs) || len(codes) != len(types) {
		return nil, errors.Wrapf(ErrLengthMismatch, "%d codes, %d addresses, %d types", len(codes), len(addrs), len(types))
	}
	ts := make([]*big.Int, len(types))
	for i, t := range types {
		ts[i] = new(big.Int).SetUint64(uint64(t))
	}
	return addInternalArgs.Pack(rawCodes(codes), addrs, ts)
}

// RemoveContracts encodes the action of category 43.
func RemoveContracts(codes []Code) ([]byte, error) {
	return removeArgs.Pack(rawCodes(codes))
}

// UpgradeTo encodes the action of category 37, upgrading the master proxy.
func UpgradeTo(impl common.Address) ([]byte, error) {
	return upgradeToArgs.Pack(impl)
}

// NewCategory encodes the action of category 3, adding c as a new category.
func NewCategory(c Category) ([]byte, error) {
	return newCategoryArgs.Pack(c.values()...)
}

// EditCategory encodes the action of category 4, replacing category id.
func EditCategory(id uint64, c Category) ([]byte, error) {
	values := append([]interface{}{new(big.Int).SetUint64(id)}, c.values()...)
	return editCategoryArgs.Pack(values...)
}
