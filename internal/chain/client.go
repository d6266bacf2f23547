// Package chain provides EVM JSON-RPC access for a single execution unit.
//
// A Client is bound to one signing key and one outbound proxy. Clients are
// never shared between units.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/cycle_runner/internal/accounts"
	"github.com/R3E-Network/cycle_runner/internal/errors"
)

const (
	// DefaultTxWaitTimeout bounds a confirmation wait.
	DefaultTxWaitTimeout = 2 * time.Minute
	// DefaultPollInterval is the receipt polling interval.
	DefaultPollInterval = 2 * time.Second

	defaultHTTPTimeout     = 30 * time.Second
	defaultSubmitRetries   = 3
	defaultRetryBackoff    = 500 * time.Millisecond
	defaultRetryBackoffMax = 10 * time.Second
	defaultRetryJitter     = 20
	defaultRate            = 5
	defaultBurst           = 10
)

// Backend is the subset of ethclient.Client used by Client.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Config holds client configuration.
type Config struct {
	RPCURL string
	// ChainID is queried from the node when zero.
	ChainID int64
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration

	// ConfirmTimeout bounds Await. Zero waits until the receipt appears or ctx ends.
	ConfirmTimeout time.Duration
	PollInterval   time.Duration

	SubmitRetries   int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	// Rate and Burst pace this client's RPC requests.
	Rate  float64
	Burst int
}

// DefaultConfig returns a Config with every tunable set.
func DefaultConfig(rpcURL string) Config {
	return Config{
		RPCURL:          rpcURL,
		Timeout:         defaultHTTPTimeout,
		ConfirmTimeout:  DefaultTxWaitTimeout,
		PollInterval:    DefaultPollInterval,
		SubmitRetries:   defaultSubmitRetries,
		RetryBackoff:    defaultRetryBackoff,
		RetryBackoffMax: defaultRetryBackoffMax,
		Rate:            defaultRate,
		Burst:           defaultBurst,
	}
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultHTTPTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SubmitRetries < 0 {
		c.SubmitRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryBackoffMax < c.RetryBackoff {
		c.RetryBackoffMax = c.RetryBackoff
	}
	if c.Rate <= 0 {
		c.Rate = defaultRate
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
	return c
}

// Client signs and submits transactions for one account.
type Client struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	signer  types.Signer
	limiter *rate.Limiter
	cfg     Config
}

// Dial connects to cfg.RPCURL through the given proxy. When the proxy carries
// a credential every request also sends a Proxy-Authorization header.
func Dial(ctx context.Context, cfg Config, proxy accounts.Binding, key *ecdsa.PrivateKey) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.Configurationf("dial", "RPC URL required")
	}
	cfg = cfg.withDefaults()

	rc, err := rpc.DialOptions(ctx, cfg.RPCURL, proxyOptions(cfg, proxy)...)
	if err != nil {
		return nil, errors.Network("dial", fmt.Errorf("%s via %s: %w", cfg.RPCURL, proxy, err))
	}

	client, err := NewClient(ctx, ethclient.NewClient(rc), key, cfg)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return client, nil
}

func proxyOptions(cfg Config, proxy accounts.Binding) []rpc.ClientOption {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = http.ProxyURL(proxy.URL())

	auth := proxy.AuthHeader()
	if auth != "" {
		transport.ProxyConnectHeader = http.Header{"Proxy-Authorization": []string{auth}}
	}

	opts := []rpc.ClientOption{
		rpc.WithHTTPClient(&http.Client{Transport: transport, Timeout: cfg.Timeout}),
	}
	if auth != "" {
		opts = append(opts, rpc.WithHeader("Proxy-Authorization", auth))
	}
	return opts
}

// NewClient wraps an existing backend.
func NewClient(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, cfg Config) (*Client, error) {
	if key == nil {
		return nil, errors.Configurationf("new client", "signing key required")
	}
	cfg = cfg.withDefaults()

	c := &Client{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		cfg:     cfg,
	}

	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	} else {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		id, err := backend.ChainID(ctx)
		if err != nil {
			return nil, errors.Network("chain id", err)
		}
		c.chainID = id
	}
	c.signer = types.LatestSignerForChainID(c.chainID)

	return c, nil
}

// From returns the signing address.
func (c *Client) From() common.Address {
	return c.from
}

// ChainID returns the chain the client signs for.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.backend.Close()
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}
