// Package chain drives a simulated (forked) EVM node over JSON-RPC. Besides
// the standard eth namespace it speaks the node-control extensions Hardhat
// and Anvil expose: account impersonation, balance overrides, and block
// timestamp manipulation.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	chain_selectors "github.com/smartcontractkit/chain-selectors"

	"github.com/nexusmutual/forkmigrate/log"
)

// Errors returned by the chain client.
var (
	ErrUnknownDialect = errors.New("chain: unknown node dialect")
	ErrReverted       = errors.New("chain: transaction reverted")
	ErrNoAccounts     = errors.New("chain: node exposes no unlocked accounts")
)

// Dialect selects the RPC namespace used for node-control methods.
type Dialect string

const (
	DialectHardhat Dialect = "hardhat"
	DialectAnvil   Dialect = "anvil"
)

// ParseDialect validates a dialect name.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case DialectHardhat, DialectAnvil:
		return Dialect(s), nil
	default:
		return "", errors.Wrapf(ErrUnknownDialect, "%q", s)
	}
}

// method returns the dialect-specific name of a node-control method.
func (d Dialect) method(name string) string {
	return string(d) + "_" + name
}

// Client is a connection to a forked development node.
type Client struct {
	rpc          *rpc.Client
	eth          *ethclient.Client
	dialect      Dialect
	pollInterval time.Duration
	log          *log.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithPollInterval sets how often WaitMined polls for receipts.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string, dialect Dialect, opts ...Option) (*Client, error) {
	if _, err := ParseDialect(string(dialect)); err != nil {
		return nil, err
	}
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return NewClient(rc, dialect, opts...), nil
}

// NewClient wraps an existing RPC client.
func NewClient(rc *rpc.Client, dialect Dialect, opts ...Option) *Client {
	c := &Client{
		rpc:          rc,
		eth:          ethclient.NewClient(rc),
		dialect:      dialect,
		pollInterval: 250 * time.Millisecond,
		log:          log.Default().Module("chain"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the underlying connection.
func (c *Client) Close() { c.rpc.Close() }

// Dialect returns the node dialect in use.
func (c *Client) Dialect() Dialect { return c.dialect }

// Eth exposes the typed eth client for callers that need more than the
// harness surface.
func (c *Client) Eth() *ethclient.Client { return c.eth }

// ChainID returns the node's chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "eth_chainId")
	}
	return id, nil
}

// NetworkName resolves a human-readable name for the connected chain.
// Local development chain ids that have no registered selector fall back
// to "chain-<id>".
func (c *Client) NetworkName(ctx context.Context) (string, error) {
	id, err := c.ChainID(ctx)
	if err != nil {
		return "", err
	}
	return NetworkName(id.Uint64()), nil
}

// NetworkName maps a chain id to its chain-selectors name.
func NetworkName(chainID uint64) string {
	name, err := chain_selectors.NameFromChainId(chainID)
	if err != nil || name == "" {
		return fmt.Sprintf("chain-%d", chainID)
	}
	return name
}

// Accounts returns the node's unlocked accounts (eth_accounts).
func (c *Client) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := c.rpc.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, errors.Wrap(err, "eth_accounts")
	}
	return accounts, nil
}

// Deployer returns the first unlocked account, the one the harness uses for
// deployments and permissionless calls.
func (c *Client) Deployer(ctx context.Context) (common.Address, error) {
	accounts, err := c.Accounts(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if len(accounts) == 0 {
		return common.Address{}, ErrNoAccounts
	}
	return accounts[0], nil
}
