package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Impersonate lets the node sign transactions for addr without its key.
func (c *Client) Impersonate(ctx context.Context, addr common.Address) error {
	method := c.dialect.method("impersonateAccount")
	if err := c.rpc.CallContext(ctx, nil, method, addr); err != nil {
		return errors.Wrapf(err, "%s %s", method, addr.Hex())
	}
	c.log.Debug("impersonating account", "account", addr.Hex())
	return nil
}

// StopImpersonating reverts Impersonate.
func (c *Client) StopImpersonating(ctx context.Context, addr common.Address) error {
	method := c.dialect.method("stopImpersonatingAccount")
	if err := c.rpc.CallContext(ctx, nil, method, addr); err != nil {
		return errors.Wrapf(err, "%s %s", method, addr.Hex())
	}
	return nil
}

// SetBalance overrides the ether balance of addr. Impersonated multisig or
// contract accounts usually hold no ether to pay for gas.
func (c *Client) SetBalance(ctx context.Context, addr common.Address, wei *big.Int) error {
	amount, overflow := uint256.FromBig(wei)
	if overflow || wei.Sign() < 0 {
		return errors.Errorf("chain: balance %s out of range", wei)
	}
	method := c.dialect.method("setBalance")
	if err := c.rpc.CallContext(ctx, nil, method, addr, amount.Hex()); err != nil {
		return errors.Wrapf(err, "%s %s", method, addr.Hex())
	}
	c.log.Debug("balance set", "account", addr.Hex(), "wei", wei.String())
	return nil
}
