// Package config loads and validates the bot configuration.
//
// Values are resolved in order: built-in defaults, a .env file, the process
// environment, an optional YAML file, and finally CLI flags (applied by the
// caller on the returned Config).
package config

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/cycle_runner/internal/action"
	"github.com/R3E-Network/cycle_runner/internal/errors"
	"github.com/R3E-Network/cycle_runner/internal/logging"
)

const (
	DefaultRPCURL          = "https://testnet-rpc.monad.xyz/"
	DefaultExplorerURL     = "https://testnet.monadexplorer.com/tx/"
	DefaultWalletFile      = "wallet.txt"
	DefaultProxyFile       = "proxy.txt"
	DefaultEnvFile         = ".env"
	DefaultConfirmTimeout  = 2 * time.Minute
	DefaultConfirmPoll     = 2 * time.Second
	DefaultSubmitRetries   = 3
	DefaultRetryBackoff    = 500 * time.Millisecond
	DefaultRetryBackoffMax = 10 * time.Second
	DefaultRPCRate         = 5.0
	DefaultRPCBurst        = 10

	maxAmountPrecision = 18
)

// Config holds every tunable of a run.
type Config struct {
	RPCURL      string `env:"RPC_URL" yaml:"rpc_url"`
	ChainID     int64  `env:"CHAIN_ID" yaml:"chain_id"`
	ExplorerURL string `env:"EXPLORER_URL" yaml:"explorer_url"`

	WalletFile string `env:"WALLET_FILE" yaml:"wallet_file"`
	ProxyFile  string `env:"PROXY_FILE" yaml:"proxy_file"`

	Variant       string        `env:"VARIANT" yaml:"variant"`
	Cycles        int           `env:"CYCLES" yaml:"cycles"`
	CycleInterval time.Duration `env:"CYCLE_INTERVAL" yaml:"cycle_interval"`

	AmountMin       string `env:"AMOUNT_MIN" yaml:"amount_min"`
	AmountMax       string `env:"AMOUNT_MAX" yaml:"amount_max"`
	AmountPrecision int    `env:"AMOUNT_PRECISION" yaml:"amount_precision"`

	DelayMin time.Duration `env:"DELAY_MIN" yaml:"delay_min"`
	DelayMax time.Duration `env:"DELAY_MAX" yaml:"delay_max"`

	ConfirmTimeout  time.Duration `env:"CONFIRM_TIMEOUT" yaml:"confirm_timeout"`
	ConfirmPoll     time.Duration `env:"CONFIRM_POLL" yaml:"confirm_poll"`
	SubmitRetries   int           `env:"SUBMIT_RETRIES" yaml:"submit_retries"`
	RetryBackoff    time.Duration `env:"RETRY_BACKOFF" yaml:"retry_backoff"`
	RetryBackoffMax time.Duration `env:"RETRY_BACKOFF_MAX" yaml:"retry_backoff_max"`
	RPCRate         float64       `env:"RPC_RATE" yaml:"rpc_rate"`
	RPCBurst        int           `env:"RPC_BURST" yaml:"rpc_burst"`

	WMONContract  string `env:"WMON_CONTRACT" yaml:"wmon_contract"`
	MagmaContract string `env:"MAGMA_CONTRACT" yaml:"magma_contract"`

	LogLevel    string `env:"LOG_LEVEL" yaml:"log_level"`
	LogFormat   string `env:"LOG_FORMAT" yaml:"log_format"`
	MetricsAddr string `env:"METRICS_ADDR" yaml:"metrics_addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RPCURL:          DefaultRPCURL,
		ExplorerURL:     DefaultExplorerURL,
		WalletFile:      DefaultWalletFile,
		ProxyFile:       DefaultProxyFile,
		Variant:         action.VariantRubic,
		Cycles:          1,
		AmountMin:       "0.01",
		AmountMax:       "0.05",
		AmountPrecision: 4,
		DelayMin:        time.Minute,
		DelayMax:        3 * time.Minute,
		ConfirmTimeout:  DefaultConfirmTimeout,
		ConfirmPoll:     DefaultConfirmPoll,
		SubmitRetries:   DefaultSubmitRetries,
		RetryBackoff:    DefaultRetryBackoff,
		RetryBackoffMax: DefaultRetryBackoffMax,
		RPCRate:         DefaultRPCRate,
		RPCBurst:        DefaultRPCBurst,
		WMONContract:    action.DefaultWMONAddress.Hex(),
		MagmaContract:   action.DefaultMagmaAddress.Hex(),
		LogLevel:        "info",
		LogFormat:       logging.FormatConsole,
	}
}

// LoadOptions selects the optional files read by Load.
type LoadOptions struct {
	// EnvFile is read with godotenv. A missing file is not an error.
	EnvFile string
	// ConfigFile is an optional YAML file. When set it must exist.
	ConfigFile string
}

// Load resolves the configuration. It does not validate it.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Configuration("load env file", fmt.Errorf("%s: %w", envFile, err))
	}

	// StrictDecode reports unparsable values instead of keeping the default.
	if err := envdecode.StrictDecode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, errors.Configuration("decode environment", err)
	}

	if opts.ConfigFile != "" {
		if err := cfg.mergeFile(opts.ConfigFile); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Configuration("read config file", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Configuration("parse config file", fmt.Errorf("%s: %w", path, err))
	}
	return nil
}

// Validate reports every invalid field at once as a single configuration error.
func (c *Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if u, err := url.Parse(c.RPCURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("rpc_url %q is not an absolute URL", c.RPCURL)
	}
	if c.ChainID < 0 {
		add("chain_id must not be negative")
	}
	if c.WalletFile == "" {
		add("wallet_file is required")
	}
	if c.ProxyFile == "" {
		add("proxy_file is required")
	}
	if !action.Known(c.Variant) {
		add("unknown variant %q (known: %v)", c.Variant, action.Variants())
	}
	if c.Cycles < 1 {
		add("cycles must be at least 1, got %d", c.Cycles)
	}
	if c.CycleInterval < 0 {
		add("cycle_interval must not be negative")
	} else if c.CycleInterval > 0 && c.CycleInterval < time.Second {
		add("cycle_interval must be at least 1s, got %s", c.CycleInterval)
	}

	lo, errLo := decimal.NewFromString(c.AmountMin)
	if errLo != nil {
		add("amount_min %q: %v", c.AmountMin, errLo)
	}
	hi, errHi := decimal.NewFromString(c.AmountMax)
	if errHi != nil {
		add("amount_max %q: %v", c.AmountMax, errHi)
	}
	if errLo == nil && errHi == nil {
		if lo.Sign() <= 0 {
			add("amount_min must be positive")
		}
		if lo.GreaterThan(hi) {
			add("amount_min %s exceeds amount_max %s", lo, hi)
		}
	}
	if c.AmountPrecision < 0 || c.AmountPrecision > maxAmountPrecision {
		add("amount_precision must be within [0, %d]", maxAmountPrecision)
	}

	if c.DelayMin < 0 {
		add("delay_min must not be negative")
	}
	if c.DelayMin > c.DelayMax {
		add("delay_min %s exceeds delay_max %s", c.DelayMin, c.DelayMax)
	}
	if c.ConfirmTimeout < 0 {
		add("confirm_timeout must not be negative (0 waits forever)")
	}
	if c.ConfirmPoll <= 0 {
		add("confirm_poll must be positive")
	}
	if c.SubmitRetries < 0 {
		add("submit_retries must not be negative")
	}
	if c.RetryBackoff <= 0 {
		add("retry_backoff must be positive")
	}
	if c.RetryBackoffMax < c.RetryBackoff {
		add("retry_backoff_max %s is below retry_backoff %s", c.RetryBackoffMax, c.RetryBackoff)
	}
	if c.RPCRate <= 0 {
		add("rpc_rate must be positive")
	}
	if c.RPCBurst < 1 {
		add("rpc_burst must be at least 1")
	}
	if !common.IsHexAddress(c.WMONContract) {
		add("wmon_contract %q is not an address", c.WMONContract)
	}
	if !common.IsHexAddress(c.MagmaContract) {
		add("magma_contract %q is not an address", c.MagmaContract)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		add("log_level %q: %v", c.LogLevel, err)
	}
	if !logging.ValidFormat(c.LogFormat) {
		add("log_format %q must be console or json", c.LogFormat)
	}

	if err := result.ErrorOrNil(); err != nil {
		return errors.Configuration("validate config", err)
	}
	return nil
}

// Contracts returns the contract addresses used to build action pairs.
func (c *Config) Contracts() action.Contracts {
	return action.Contracts{
		WMON:  common.HexToAddress(c.WMONContract),
		Magma: common.HexToAddress(c.MagmaContract),
	}
}

// Periodic reports whether cycles fire on a fixed schedule.
func (c *Config) Periodic() bool {
	return c.CycleInterval > 0
}
