package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// TxRequest is a transaction the node signs on the sender's behalf. The
// sender must be one of the node's unlocked accounts or an impersonated one.
// A nil To creates a contract.
type TxRequest struct {
	From  common.Address
	To    *common.Address
	Data  []byte
	Gas   uint64
	Value *big.Int
}

func (r TxRequest) toArg() map[string]interface{} {
	arg := map[string]interface{}{
		"from": r.From,
		"data": hexutil.Bytes(r.Data),
	}
	if r.To != nil {
		arg["to"] = r.To
	}
	if r.Gas != 0 {
		arg["gas"] = hexutil.Uint64(r.Gas)
	}
	if r.Value != nil {
		arg["value"] = (*hexutil.Big)(r.Value)
	}
	return arg
}

// Send submits req through eth_sendTransaction and returns its hash without
// waiting for it to be mined.
func (c *Client) Send(ctx context.Context, req TxRequest) (common.Hash, error) {
	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendTransaction", req.toArg()); err != nil {
		return common.Hash{}, errors.Wrapf(err, "eth_sendTransaction from %s", req.From.Hex())
	}
	return hash, nil
}

// WaitMined blocks until the transaction is included and returns its
// receipt. A receipt with failed status is returned together with
// ErrReverted.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, errors.Wrapf(ErrReverted, "tx %s", hash.Hex())
			}
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, errors.Wrapf(err, "receipt %s", hash.Hex())
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Call executes a read-only message call against the latest block.
func (c *Client) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, errors.Wrap(err, "eth_call")
	}
	return out, nil
}
