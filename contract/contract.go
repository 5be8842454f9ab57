// Package contract binds deployed contracts to their ABI and sends calls
// and transactions through a node that signs on the sender's behalf.
package contract

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/nexusmutual/forkmigrate/chain"
	"github.com/nexusmutual/forkmigrate/metrics"
)

// Errors returned by bound contracts.
var (
	ErrUnknownMethod = errors.New("contract: unknown method")
	ErrUnknownEvent  = errors.New("contract: unknown event")
	ErrNoCode        = errors.New("contract: creation produced no contract address")
)

// Backend is the chain surface a bound contract needs. *chain.Client
// implements it.
type Backend interface {
	Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	Send(ctx context.Context, req chain.TxRequest) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Contract is a deployed contract bound to its ABI, a backend and a
// default sender. Copies made with As and WithGasLimit share the backend.
type Contract struct {
	Address common.Address
	ABI     abi.ABI

	backend Backend
	from    common.Address
	gas     uint64
}

// New binds the contract at addr.
func New(addr common.Address, parsed abi.ABI, backend Backend, from common.Address) *Contract {
	return &Contract{
		Address: addr,
		ABI:     parsed,
		backend: backend,
		from:    from,
	}
}

// Addr returns the contract address. It lets a Contract be passed wherever
// an address argument is expected.
func (c *Contract) Addr() common.Address { return c.Address }

// From returns the account transactions are sent from.
func (c *Contract) From() common.Address { return c.from }

// As returns a copy that sends transactions from the given account.
func (c *Contract) As(from common.Address) *Contract {
	cp := *c
	cp.from = from
	return &cp
}

// WithGasLimit returns a copy that sends transactions with a fixed gas
// limit instead of letting the node estimate it.
func (c *Contract) WithGasLimit(gas uint64) *Contract {
	cp := *c
	cp.gas = gas
	return &cp
}

// Pack ABI-encodes a call to method, converting plain Go values to the
// types the ABI declares.
func (c *Contract) Pack(method string, args ...interface{}) ([]byte, error) {
	m, ok := c.ABI.Methods[method]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMethod, "%s", method)
	}
	values, err := coerceArgs(m.Inputs, args)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	data, err := c.ABI.Pack(method, values...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	return data, nil
}

// Call performs a read-only call and returns the decoded outputs.
func (c *Contract) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	to := c.Address
	out, err := c.backend.Call(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data})
	if err != nil {
		return nil, errors.Wrapf(err, "call %s", method)
	}
	values, err := c.ABI.Unpack(method, out)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	return values, nil
}

// Submit sends a transaction calling method and returns its hash without
// waiting for it to be mined.
func (c *Contract) Submit(ctx context.Context, method string, args ...interface{}) (common.Hash, error) {
	data, err := c.Pack(method, args...)
	if err != nil {
		return common.Hash{}, err
	}
	to := c.Address
	hash, err := c.backend.Send(ctx, chain.TxRequest{From: c.from, To: &to, Data: data, Gas: c.gas})
	if err != nil {
		return common.Hash{}, errors.Wrapf(err, "send %s", method)
	}
	metrics.TransactionsTotal.WithLabelValues(method).Inc()
	return hash, nil
}

// Wait waits for a transaction previously sent with Submit.
func (c *Contract) Wait(ctx context.Context, method string, hash common.Hash) (*types.Receipt, error) {
	receipt, err := c.backend.WaitMined(ctx, hash)
	if receipt != nil {
		metrics.GasUsedTotal.WithLabelValues(method).Add(float64(receipt.GasUsed))
	}
	if err != nil {
		if errors.Is(err, chain.ErrReverted) {
			metrics.RevertsTotal.WithLabelValues(method).Inc()
		}
		return receipt, errors.Wrapf(err, "%s", method)
	}
	return receipt, nil
}

// Transact sends a transaction calling method and waits for its receipt.
func (c *Contract) Transact(ctx context.Context, method string, args ...interface{}) (*types.Receipt, error) {
	hash, err := c.Submit(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx, method, hash)
}

// Emitted reports whether the receipt holds the named event emitted by this
// contract's address. Logs of other contracts with the same signature are
// ignored.
func (c *Contract) Emitted(receipt *types.Receipt, event string) (bool, error) {
	ev, ok := c.ABI.Events[event]
	if !ok {
		return false, errors.Wrapf(ErrUnknownEvent, "%s", event)
	}
	for _, l := range receipt.Logs {
		if l.Address == c.Address && len(l.Topics) > 0 && l.Topics[0] == ev.ID {
			return true, nil
		}
	}
	return false, nil
}

// CallOne calls a method with a single output and converts it to T.
func CallOne[T any](ctx context.Context, c *Contract, method string, args ...interface{}) (T, error) {
	var zero T
	values, err := c.Call(ctx, method, args...)
	if err != nil {
		return zero, err
	}
	if len(values) == 0 {
		return zero, errors.Errorf("contract: %s returned no values", method)
	}
	v, ok := values[0].(T)
	if !ok {
		return zero, errors.Errorf("contract: %s returned %T, want %T", method, values[0], zero)
	}
	return v, nil
}
