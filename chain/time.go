package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

// LatestTimestamp returns the timestamp of the latest block.
func (c *Client) LatestTimestamp(ctx context.Context) (uint64, error) {
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "latest header")
	}
	return head.Time, nil
}

// SetNextBlockTime fixes the timestamp of the next mined block.
func (c *Client) SetNextBlockTime(ctx context.Context, ts uint64) error {
	if err := c.rpc.CallContext(ctx, nil, "evm_setNextBlockTimestamp", hexutil.Uint64(ts)); err != nil {
		return errors.Wrapf(err, "evm_setNextBlockTimestamp %d", ts)
	}
	return nil
}

// Mine mines a single block.
func (c *Client) Mine(ctx context.Context) error {
	if err := c.rpc.CallContext(ctx, nil, "evm_mine"); err != nil {
		return errors.Wrap(err, "evm_mine")
	}
	return nil
}

// SetTime moves the chain clock to ts by mining a block with that timestamp.
func (c *Client) SetTime(ctx context.Context, ts uint64) error {
	if err := c.SetNextBlockTime(ctx, ts); err != nil {
		return err
	}
	if err := c.Mine(ctx); err != nil {
		return err
	}
	c.log.Debug("chain time set", "timestamp", ts)
	return nil
}

// Advance moves the chain clock forward by d relative to the latest block.
func (c *Client) Advance(ctx context.Context, d time.Duration) (uint64, error) {
	now, err := c.LatestTimestamp(ctx)
	if err != nil {
		return 0, err
	}
	target := now + uint64(d/time.Second)
	if err := c.SetTime(ctx, target); err != nil {
		return 0, err
	}
	return target, nil
}
