package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ExplorerOptions parameterise an Etherscan-style account API.
type ExplorerOptions struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Explorer reads native balances from a chain explorer HTTP API.
type Explorer struct {
	opts   ExplorerOptions
	logger zerolog.Logger
	client *http.Client
}

// NewExplorer constructs an explorer balance provider.
func NewExplorer(opts ExplorerOptions, logger zerolog.Logger) *Explorer {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "explorer"
	}
	return &Explorer{
		opts:   opts,
		logger: logger.With().Str("component", opts.Name).Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// Name implements BalanceProvider.
func (e *Explorer) Name() string { return e.opts.Name }

type explorerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// FetchBalance queries module=account&action=balance and converts the
// wei string into whole native units.
func (e *Explorer) FetchBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if e.opts.BaseURL == "" {
		return decimal.Decimal{}, errors.New("explorer base url not configured")
	}

	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "balance")
	params.Set("address", address)
	params.Set("tag", "latest")
	if e.opts.APIKey != "" {
		params.Set("apikey", e.opts.APIKey)
	}

	endpoint := strings.TrimRight(e.opts.BaseURL, "/") + "/api?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")

	var body explorerResponse
	if err := doJSON(e.client, e.Name(), req, &body); err != nil {
		return decimal.Decimal{}, err
	}

	if body.Status != "1" {
		// Explorers report their own rate limit inside a 200 body.
		if strings.Contains(strings.ToLower(body.Result), "rate limit") {
			return decimal.Decimal{}, &HTTPError{Provider: e.Name(), Status: http.StatusTooManyRequests, Body: body.Result}
		}
		return decimal.Decimal{}, fmt.Errorf("%s error: %s %s", e.Name(), body.Message, body.Result)
	}

	wei, ok := new(big.Int).SetString(body.Result, 10)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%s returned malformed balance %q", e.Name(), body.Result)
	}
	return decimal.NewFromBigInt(wei, -18), nil
}

var _ BalanceProvider = (*Explorer)(nil)

// RPCBalanceOptions parameterise the on-chain balance fallback.
type RPCBalanceOptions struct {
	Name    string
	RPCURL  string
	Timeout time.Duration
}

// RPCBalance reads native balances straight from an execution-layer
// node. It backs up the explorer providers in the fallback chain.
type RPCBalance struct {
	opts      RPCBalanceOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewRPCBalance builds an RPC balance provider; the connection is
// dialled lazily on first use.
func NewRPCBalance(opts RPCBalanceOptions, logger zerolog.Logger) *RPCBalance {
	if opts.Name == "" {
		opts.Name = "rpc"
	}
	return &RPCBalance{opts: opts, logger: logger.With().Str("component", opts.Name).Logger()}
}

// Name implements BalanceProvider.
func (r *RPCBalance) Name() string { return r.opts.Name }

// FetchBalance retrieves the latest native balance of the address.
func (r *RPCBalance) FetchBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if r.opts.RPCURL == "" {
		return decimal.Decimal{}, errors.New("rpc url not configured")
	}
	if !common.IsHexAddress(address) {
		return decimal.Decimal{}, fmt.Errorf("malformed address %q", address)
	}

	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	wei, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromBigInt(wei, -18), nil
}

func (r *RPCBalance) getClient(ctx context.Context) (*ethclient.Client, error) {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	client, err := ethclient.DialContext(ctx, r.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}

var _ BalanceProvider = (*RPCBalance)(nil)
