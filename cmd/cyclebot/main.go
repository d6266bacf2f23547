// Command cyclebot runs a commit/compensate action pair repeatedly for every
// account in the wallet file, each account routed through its own proxy.
//
// Exit codes: 0 when every unit completed, 1 when any unit failed, 2 on a
// configuration error (nothing is spawned).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/R3E-Network/cycle_runner/internal/accounts"
	"github.com/R3E-Network/cycle_runner/internal/action"
	"github.com/R3E-Network/cycle_runner/internal/chain"
	"github.com/R3E-Network/cycle_runner/internal/config"
	"github.com/R3E-Network/cycle_runner/internal/cycle"
	"github.com/R3E-Network/cycle_runner/internal/errors"
	"github.com/R3E-Network/cycle_runner/internal/logging"
	"github.com/R3E-Network/cycle_runner/internal/metrics"
	"github.com/R3E-Network/cycle_runner/internal/supervisor"
	"github.com/R3E-Network/cycle_runner/internal/unit"
)

var (
	flagConfigFile string
	flagEnvFile    string
	overrides      config.Config
)

// exitError carries a process exit code out of cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

var rootCmd = &cobra.Command{
	Use:           "cyclebot",
	Short:         "run randomized commit/compensate cycles for every account",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagConfigFile, "config", "", "optional YAML config file")
	flags.StringVar(&flagEnvFile, "env-file", config.DefaultEnvFile, "dotenv file, ignored when missing")

	flags.StringVar(&overrides.RPCURL, "rpc", "", "JSON-RPC endpoint")
	flags.Int64Var(&overrides.ChainID, "chain-id", 0, "chain id (queried from the node when 0)")
	flags.StringVar(&overrides.WalletFile, "wallet", "", "file with one private key per line")
	flags.StringVar(&overrides.ProxyFile, "proxy", "", "file with one proxy per line")
	flags.StringVar(&overrides.Variant, "variant", "", fmt.Sprintf("action pair to run %v", action.Variants()))
	flags.IntVar(&overrides.Cycles, "cycles", 0, "cycles per account")
	flags.DurationVar(&overrides.CycleInterval, "interval", 0, "fixed period between cycle starts (0 runs cycles back to back)")
	flags.StringVar(&overrides.AmountMin, "amount-min", "", "smallest amount per cycle")
	flags.StringVar(&overrides.AmountMax, "amount-max", "", "largest amount per cycle")
	flags.DurationVar(&overrides.DelayMin, "delay-min", 0, "shortest delay between cycles")
	flags.DurationVar(&overrides.DelayMax, "delay-max", 0, "longest delay between cycles")
	flags.DurationVar(&overrides.ConfirmTimeout, "confirm-timeout", 0, "bound on a confirmation wait (0 waits forever)")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "trace, debug, info, warn or error")
	flags.StringVar(&overrides.LogFormat, "log-format", "", "console or json")
	flags.StringVar(&overrides.MetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	code := supervisor.ExitUnitFailed
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
	} else if errors.IsKind(err, errors.KindConfiguration) {
		code = supervisor.ExitConfiguration
	}
	if ee == nil || ee.err != nil {
		fmt.Fprintln(os.Stderr, "cyclebot:", err)
	}
	os.Exit(code)
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.LoadOptions{EnvFile: flagEnvFile, ConfigFile: flagConfigFile})
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg, &overrides)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector, shutdown, err := startMetrics(cfg, log)
	if err != nil {
		return err
	}
	defer shutdown()

	sup, err := build(cfg, collector, log)
	if err != nil {
		return err
	}

	report, err := sup.Run(ctx)
	if code := supervisor.ExitCodeFor(report, err); code != supervisor.ExitOK {
		return &exitError{code: code, err: err}
	}
	return nil
}

// applyFlags copies every flag the user set onto cfg. Flags win over the
// environment and the config file.
func applyFlags(cmd *cobra.Command, cfg, set *config.Config) {
	changed := cmd.Flags().Changed
	if changed("rpc") {
		cfg.RPCURL = set.RPCURL
	}
	if changed("chain-id") {
		cfg.ChainID = set.ChainID
	}
	if changed("wallet") {
		cfg.WalletFile = set.WalletFile
	}
	if changed("proxy") {
		cfg.ProxyFile = set.ProxyFile
	}
	if changed("variant") {
		cfg.Variant = set.Variant
	}
	if changed("cycles") {
		cfg.Cycles = set.Cycles
	}
	if changed("interval") {
		cfg.CycleInterval = set.CycleInterval
	}
	if changed("amount-min") {
		cfg.AmountMin = set.AmountMin
	}
	if changed("amount-max") {
		cfg.AmountMax = set.AmountMax
	}
	if changed("delay-min") {
		cfg.DelayMin = set.DelayMin
	}
	if changed("delay-max") {
		cfg.DelayMax = set.DelayMax
	}
	if changed("confirm-timeout") {
		cfg.ConfirmTimeout = set.ConfirmTimeout
	}
	if changed("log-level") {
		cfg.LogLevel = set.LogLevel
	}
	if changed("log-format") {
		cfg.LogFormat = set.LogFormat
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = set.MetricsAddr
	}
}

func startMetrics(cfg *config.Config, log zerolog.Logger) (metrics.MetricsCollector, func(), error) {
	if cfg.MetricsAddr == "" {
		return metrics.NewNoOpCollector(), func() {}, nil
	}
	collector := metrics.NewCollector("cyclebot")
	srv := metrics.NewServer(cfg.MetricsAddr, collector, log)
	if _, err := srv.Start(); err != nil {
		return nil, nil, errors.Configuration("start metrics server", err)
	}
	return collector, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// build turns a validated config into a supervisor.
func build(cfg *config.Config, collector metrics.MetricsCollector, log zerolog.Logger) (*supervisor.Supervisor, error) {
	registry, err := accounts.LoadFiles(cfg.WalletFile, cfg.ProxyFile)
	if err != nil {
		return nil, err
	}
	pair, err := action.Lookup(cfg.Variant, cfg.Contracts())
	if err != nil {
		return nil, err
	}
	amounts, err := cycle.NewAmountRange(cfg.AmountMin, cfg.AmountMax, cfg.AmountPrecision)
	if err != nil {
		return nil, err
	}

	return supervisor.New(supervisor.Config{
		Registry:    registry,
		Pair:        pair,
		Plan:        cycle.Plan{Repetitions: cfg.Cycles, Interval: cfg.CycleInterval},
		Amounts:     amounts,
		Delays:      cycle.DelayWindow{Min: cfg.DelayMin, Max: cfg.DelayMax},
		Dial:        dialer(chainConfig(cfg)),
		Logger:      log,
		Metrics:     collector,
		ExplorerURL: cfg.ExplorerURL,
	})
}

func chainConfig(cfg *config.Config) chain.Config {
	cc := chain.DefaultConfig(cfg.RPCURL)
	cc.ChainID = cfg.ChainID
	cc.ConfirmTimeout = cfg.ConfirmTimeout
	cc.PollInterval = cfg.ConfirmPoll
	cc.SubmitRetries = cfg.SubmitRetries
	cc.RetryBackoff = cfg.RetryBackoff
	cc.RetryBackoffMax = cfg.RetryBackoffMax
	cc.Rate = cfg.RPCRate
	cc.Burst = cfg.RPCBurst
	return cc
}

// dialer opens a fresh client per unit; clients are never shared.
func dialer(cc chain.Config) unit.Dialer {
	return func(ctx context.Context, acct accounts.Account, proxy accounts.Binding) (unit.Chain, error) {
		return chain.Dial(ctx, cc, proxy, acct.Key)
	}
}
