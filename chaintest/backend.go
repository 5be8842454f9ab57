// Package chaintest provides an in-memory stand-in for a forked development
// node. Contracts are mocked per method with Go handlers that receive the
// ABI-decoded arguments, so harness code runs its real packing, sending and
// receipt handling without a node.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/nexusmutual/forkmigrate/chain"
)

// DefaultDeployer is the first unlocked account of a new Backend.
var DefaultDeployer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

// Call is a decoded contract invocation seen by a Mock.
type Call struct {
	From   common.Address
	Method string
	Args   []interface{}
	Gas    uint64
}

// Event is a log a handler asks the mock contract to emit.
type Event struct {
	Name string
	Args []interface{}
}

// Result is what a handler returns: method outputs and emitted events.
type Result struct {
	Outputs []interface{}
	Events  []Event
}

// HandlerFunc implements one contract method. Returning an error reverts.
// Handlers run with the backend locked and must not call back into it.
type HandlerFunc func(call Call) (Result, error)

// Returns is a HandlerFunc that always returns outputs.
func Returns(outputs ...interface{}) HandlerFunc {
	return func(Call) (Result, error) { return Result{Outputs: outputs}, nil }
}

// Mock is a contract living at Address in the Backend.
type Mock struct {
	Address  common.Address
	ABI      abi.ABI
	handlers map[string]HandlerFunc
	calls    []Call
	backend  *Backend
}

// On installs the handler for method. It panics on methods missing from
// the ABI so that typos fail the test immediately.
func (m *Mock) On(method string, h HandlerFunc) *Mock {
	if _, ok := m.ABI.Methods[method]; !ok {
		panic(fmt.Sprintf("chaintest: %s has no method %q", m.Address.Hex(), method))
	}
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	m.handlers[method] = h
	return m
}

// Calls returns the invocations of method seen so far, in order. An empty
// method returns every invocation.
func (m *Mock) Calls(method string) []Call {
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Deployment records a contract creation.
type Deployment struct {
	Address common.Address
	From    common.Address
	Code    []byte
}

// Backend is an in-memory chain. It implements the surface the harness
// uses from *chain.Client.
type Backend struct {
	mu           sync.Mutex
	accounts     []common.Address
	contracts    map[common.Address]*Mock
	receipts     map[common.Hash]*types.Receipt
	nonces       map[common.Address]uint64
	impersonated map[common.Address]bool
	balances     map[common.Address]*big.Int
	deployments  []Deployment
	sent         []chain.TxRequest
	time         uint64
	block        uint64

	// OnDeploy, when set, is invoked for every contract creation while the
	// backend lock is not held. It may register a Mock at d.Address.
	OnDeploy func(d Deployment)
}

// NewBackend returns a Backend with one unlocked account and a clock set to
// a plausible mainnet timestamp.
func NewBackend() *Backend {
	return &Backend{
		accounts:     []common.Address{DefaultDeployer},
		contracts:    make(map[common.Address]*Mock),
		receipts:     make(map[common.Hash]*types.Receipt),
		nonces:       make(map[common.Address]uint64),
		impersonated: make(map[common.Address]bool),
		balances:     make(map[common.Address]*big.Int),
		time:         1_650_000_000,
		block:        14_600_000,
	}
}

// Register places a mock contract at addr.
func (b *Backend) Register(addr common.Address, parsed abi.ABI) *Mock {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := &Mock{
		Address:  addr,
		ABI:      parsed,
		handlers: make(map[string]HandlerFunc),
		backend:  b,
	}
	b.contracts[addr] = m
	return m
}

// Mock returns the contract registered at addr, if any.
func (b *Backend) Mock(addr common.Address) (*Mock, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, ok := b.contracts[addr]
	return m, ok
}

// Deployments returns contract creations in order.
func (b *Backend) Deployments() []Deployment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Deployment(nil), b.deployments...)
}

// Sent returns every transaction request received, in order.
func (b *Backend) Sent() []chain.TxRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]chain.TxRequest(nil), b.sent...)
}

// Impersonated reports whether addr is currently impersonated.
func (b *Backend) Impersonated(addr common.Address) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.impersonated[addr]
}

// Balance returns the balance last set for addr.
func (b *Backend) Balance(addr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.balances[addr]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// ---------------------------------------------------------------------------
// Node surface
// ---------------------------------------------------------------------------

// Accounts returns the unlocked accounts.
func (b *Backend) Accounts(ctx context.Context) ([]common.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]common.Address(nil), b.accounts...), nil
}

// Impersonate marks addr as signable.
func (b *Backend) Impersonate(ctx context.Context, addr common.Address) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.impersonated[addr] = true
	return nil
}

// SetBalance records a balance override.
func (b *Backend) SetBalance(ctx context.Context, addr common.Address, wei *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = new(big.Int).Set(wei)
	return nil
}

// LatestTimestamp returns the clock.
func (b *Backend) LatestTimestamp(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.time, nil
}

// SetTime mines a block at ts. Moving the clock backwards is rejected like a
// real node does.
func (b *Backend) SetTime(ctx context.Context, ts uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ts <= b.time {
		return errors.Errorf("chaintest: timestamp %d not after %d", ts, b.time)
	}
	b.time = ts
	b.block++
	return nil
}

// Call executes a read-only call against a mock.
func (b *Backend) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	if msg.To == nil {
		return nil, errors.New("chaintest: call without target")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, method, res, err := b.invoke(msg.From, *msg.To, msg.Data, msg.Gas)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(res.Outputs...)
}

// Send executes a transaction. Creations get an address derived from the
// sender nonce; calls run the mock handler and failing handlers produce a
// reverted receipt, as on a real chain.
func (b *Backend) Send(ctx context.Context, req chain.TxRequest) (common.Hash, error) {
	b.mu.Lock()
	sender := req.From
	if !b.isSigner(sender) {
		b.mu.Unlock()
		return common.Hash{}, errors.Errorf("chaintest: unknown account %s", sender.Hex())
	}
	nonce := b.nonces[sender]
	b.nonces[sender] = nonce + 1
	b.sent = append(b.sent, req)
	b.block++
	hash := crypto.Keccak256Hash(sender.Bytes(), new(big.Int).SetUint64(nonce).Bytes(), req.Data)
	receipt := &types.Receipt{
		Status:            types.ReceiptStatusSuccessful,
		TxHash:            hash,
		GasUsed:           21_000 + uint64(len(req.Data))*16,
		CumulativeGasUsed: 21_000 + uint64(len(req.Data))*16,
		BlockNumber:       new(big.Int).SetUint64(b.block),
		Logs:              []*types.Log{},
	}

	if req.To == nil {
		d := Deployment{
			Address: crypto.CreateAddress(sender, nonce),
			From:    sender,
			Code:    append([]byte(nil), req.Data...),
		}
		b.deployments = append(b.deployments, d)
		receipt.ContractAddress = d.Address
		b.receipts[hash] = receipt
		hook := b.OnDeploy
		b.mu.Unlock()
		if hook != nil {
			hook(d)
		}
		return hash, nil
	}
	defer b.mu.Unlock()

	m, _, res, err := b.invoke(sender, *req.To, req.Data, req.Gas)
	if err != nil {
		receipt.Status = types.ReceiptStatusFailed
		b.receipts[hash] = receipt
		return hash, nil
	}
	for _, ev := range res.Events {
		l, err := m.log(ev)
		if err != nil {
			return common.Hash{}, err
		}
		l.TxHash = hash
		l.BlockNumber = b.block
		receipt.Logs = append(receipt.Logs, l)
	}
	b.receipts[hash] = receipt
	return hash, nil
}

// WaitMined returns the receipt of a transaction sent to this backend.
func (b *Backend) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	receipt, ok := b.receipts[hash]
	if !ok {
		return nil, errors.Errorf("chaintest: unknown transaction %s", hash.Hex())
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, errors.Wrapf(chain.ErrReverted, "tx %s", hash.Hex())
	}
	return receipt, nil
}

func (b *Backend) isSigner(addr common.Address) bool {
	for _, a := range b.accounts {
		if a == addr {
			return true
		}
	}
	return b.impersonated[addr]
}

// invoke decodes data against the mock at to and runs its handler. Callers
// hold b.mu.
func (b *Backend) invoke(from, to common.Address, data []byte, gas uint64) (*Mock, *abi.Method, Result, error) {
	m, ok := b.contracts[to]
	if !ok {
		return nil, nil, Result{}, errors.Errorf("chaintest: no contract at %s", to.Hex())
	}
	if len(data) < 4 {
		return nil, nil, Result{}, errors.Errorf("chaintest: short calldata for %s", to.Hex())
	}
	method, err := m.ABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, Result{}, errors.Wrapf(err, "chaintest: %s", to.Hex())
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, Result{}, errors.Wrapf(err, "chaintest: decode %s", method.Name)
	}
	call := Call{From: from, Method: method.Name, Args: args, Gas: gas}
	m.calls = append(m.calls, call)

	h, ok := m.handlers[method.Name]
	if !ok {
		return nil, nil, Result{}, errors.Errorf("chaintest: %s.%s not mocked", to.Hex(), method.Name)
	}
	res, err := h(call)
	if err != nil {
		return nil, nil, Result{}, err
	}
	return m, method, res, nil
}

func (m *Mock) log(ev Event) (*types.Log, error) {
	event, ok := m.ABI.Events[ev.Name]
	if !ok {
		return nil, errors.Errorf("chaintest: %s has no event %q", m.Address.Hex(), ev.Name)
	}
	topics := []common.Hash{event.ID}
	var data []interface{}
	for i, input := range event.Inputs {
		if i >= len(ev.Args) {
			return nil, errors.Errorf("chaintest: event %s missing argument %d", ev.Name, i)
		}
		if !input.Indexed {
			data = append(data, ev.Args[i])
			continue
		}
		t, err := abi.MakeTopics([]interface{}{ev.Args[i]})
		if err != nil {
			return nil, errors.Wrapf(err, "chaintest: topic for %s", ev.Name)
		}
		topics = append(topics, t[0][0])
	}
	packed, err := event.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return nil, errors.Wrapf(err, "chaintest: pack %s", ev.Name)
	}
	return &types.Log{Address: m.Address, Topics: topics, Data: packed}, nil
}
