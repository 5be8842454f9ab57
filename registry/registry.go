// Package registry reads the published version-data document that maps the
// protocol's two-letter contract codes to deployed addresses and ABIs.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/nexusmutual/forkmigrate/log"
)

// DefaultURL is where the production version data is published.
const DefaultURL = "https://api.nexusmutual.io/version-data/data.json"

// DefaultNetwork is the key of mainnet deployments.
const DefaultNetwork = "mainnet"

// Errors returned by the registry.
var (
	ErrUnknownNetwork = errors.New("registry: unknown network")
	ErrUnknownCode    = errors.New("registry: unknown contract code")
)

// Entry is one deployed contract.
type Entry struct {
	Code    string
	Name    string
	Address common.Address
	ABI     abi.ABI
}

// Registry is the set of contracts deployed on one network, keyed by code.
type Registry struct {
	Network string
	entries map[string]*Entry
}

type document map[string]struct {
	ABIs []struct {
		Code         string `json:"code"`
		Address      string `json:"address"`
		ContractABI  string `json:"contractAbi"`
		ContractName string `json:"contractName"`
	} `json:"abis"`
}

// Parse decodes a version-data document and keeps the entries of network.
func Parse(r io.Reader, network string) (*Registry, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "registry: decode")
	}
	net, ok := doc[network]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownNetwork, "%q", network)
	}
	reg := &Registry{Network: network, entries: make(map[string]*Entry, len(net.ABIs))}
	for _, item := range net.ABIs {
		if !common.IsHexAddress(item.Address) {
			return nil, errors.Errorf("registry: %s has invalid address %q", item.Code, item.Address)
		}
		parsed, err := abi.JSON(strings.NewReader(item.ContractABI))
		if err != nil {
			return nil, errors.Wrapf(err, "registry: abi of %s", item.Code)
		}
		reg.entries[item.Code] = &Entry{
			Code:    item.Code,
			Name:    item.ContractName,
			Address: common.HexToAddress(item.Address),
			ABI:     parsed,
		}
	}
	return reg, nil
}

// Lookup returns the entry for code.
func (r *Registry) Lookup(code string) (*Entry, error) {
	e, ok := r.entries[code]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCode, "%s on %s", code, r.Network)
	}
	return e, nil
}

// Codes returns every code in the registry, sorted.
func (r *Registry) Codes() []string {
	out := make([]string, 0, len(r.entries))
	for c := range r.entries {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("registry: unexpected status %d", e.code)
}

// NewBackOff returns the retry policy used when none is given.
func NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// Fetch downloads and parses the document at url. Network errors, 5xx and
// 429 responses are retried under bo; other statuses fail at once.
func Fetch(ctx context.Context, client *http.Client, url, network string, bo backoff.BackOff) (*Registry, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if bo == nil {
		bo = NewBackOff()
	}
	logger := log.Default().Module("registry")

	var reg *Registry
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "registry: request"))
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return errors.Wrap(err, "registry: get")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			serr := &statusError{code: resp.StatusCode}
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return serr
			}
			return backoff.Permanent(serr)
		}
		r, err := Parse(resp.Body, network)
		if err != nil {
			return backoff.Permanent(err)
		}
		reg = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("registry fetch failed, retrying", "url", url, "err", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, err
	}
	logger.Info("registry loaded", "network", network, "contracts", len(reg.entries))
	return reg, nil
}
