package contract

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/nexusmutual/forkmigrate/chain"
	"github.com/nexusmutual/forkmigrate/metrics"
)

// Deploy creates a contract from bytecode, ABI-encoding constructor args
// after it, and binds the result.
func Deploy(ctx context.Context, backend Backend, from common.Address, parsed abi.ABI, bytecode []byte, args ...interface{}) (*Contract, *types.Receipt, error) {
	values, err := coerceArgs(parsed.Constructor.Inputs, args)
	if err != nil {
		return nil, nil, errors.Wrap(err, "constructor")
	}
	input, err := parsed.Pack("", values...)
	if err != nil {
		return nil, nil, errors.Wrap(err, "pack constructor")
	}
	data := make([]byte, 0, len(bytecode)+len(input))
	data = append(data, bytecode...)
	data = append(data, input...)

	hash, err := backend.Send(ctx, chain.TxRequest{From: from, Data: data})
	if err != nil {
		return nil, nil, errors.Wrap(err, "send creation")
	}
	metrics.TransactionsTotal.WithLabelValues("constructor").Inc()

	receipt, err := backend.WaitMined(ctx, hash)
	if receipt != nil {
		metrics.GasUsedTotal.WithLabelValues("constructor").Add(float64(receipt.GasUsed))
	}
	if err != nil {
		return nil, receipt, errors.Wrap(err, "creation")
	}
	if receipt.ContractAddress == (common.Address{}) {
		return nil, receipt, errors.Wrapf(ErrNoCode, "tx %s", hash.Hex())
	}
	return New(receipt.ContractAddress, parsed, backend, from), receipt, nil
}
