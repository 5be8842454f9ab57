package chain

import (
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// EtherDecimals is the number of decimals of ether and of most ERC20 tokens
// the protocol holds (DAI, stETH).
const EtherDecimals = 18

// ParseEther converts a decimal amount such as "1000" or "0.5" into its
// 18-decimal integer representation.
func ParseEther(s string) (*big.Int, error) {
	return ParseUnits(s, EtherDecimals)
}

// ParseUnits converts a decimal amount into an integer with the given
// number of decimals. More fractional digits than decimals is an error.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("chain: empty amount")
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, errors.Errorf("chain: %q has more than %d decimals", s, decimals)
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, errors.Errorf("chain: invalid amount %q", s)
		}
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(big.Int), nil
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, errors.Wrapf(err, "chain: amount %q", s)
	}
	return v.ToBig(), nil
}
