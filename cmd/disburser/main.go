package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fystack/eth-disburser/internal/disburser"
	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/pkg/common/config"
	"github.com/fystack/eth-disburser/pkg/common/logger"
	"github.com/fystack/eth-disburser/pkg/unit"
)

const version = "1.0.0"

var errRunFailed = errors.New("disbursement run reported failures")

type CLI struct {
	Run     RunCmd     `cmd:"" help:"Run one disbursement batch over every configured task wallet."`
	Daemon  DaemonCmd  `cmd:"" help:"Run batches on an interval and serve /health and /status."`
	Send    SendCmd    `cmd:"" help:"Send a single transfer."`
	Gas     GasCmd     `cmd:"" help:"Print the current gas price tiers."`
	Logs    LogsCmd    `cmd:"" help:"Print event logs emitted by an address."`
	Cache   CacheCmd   `cmd:"" help:"Inspect, prune or migrate the transaction cache."`
	History HistoryCmd `cmd:"" help:"Print recorded disbursements of a source wallet."`
	Events  EventsCmd  `cmd:"" help:"Print disbursement events as they are published."`
	Keygen  KeygenCmd  `cmd:"" help:"Generate a key and store it as an encrypted keystore file."`
}

// ConfigFlags are shared by every command that talks to the node.
type ConfigFlags struct {
	ConfigPath string `help:"Path to config file." default:"configs/config.yaml" name:"config" type:"path"`
	Debug      bool   `help:"Enable debug logs." name:"debug"`
}

func (f ConfigFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := logger.ParseLevel(cfg.Log.Level)
	if f.Debug {
		level = logger.ParseLevel("debug")
	}
	logger.Init(&logger.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		NoColor:    cfg.Log.NoColor,
	})
	logger.Debug("Config loaded", "path", f.ConfigPath, "tasks", len(cfg.Tasks))
	return cfg, nil
}

type RunCmd struct {
	ConfigFlags
	MaxGasPrice      string `help:"Skip task wallets while the gas price (gwei) is above this." name:"max-gas-price"`
	MaxBalanceAmount string `help:"Disburse at most this much ether per task wallet." name:"max-balance-amount"`
}

func (c *RunCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := c.load()
	if err != nil {
		return err
	}
	policy, err := policyWithOverrides(cfg.Policy, c.MaxGasPrice, c.MaxBalanceAmount)
	if err != nil {
		return err
	}
	tasks, err := cfg.TaskWallets()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.checkChainID(ctx); err != nil {
		return err
	}

	report, runErr := a.runOnce(ctx, tasks, policy)
	if err := printJSON(report); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if !report.Success {
		return errRunFailed
	}
	return nil
}

func policyWithOverrides(c config.PolicyConfig, maxGasPrice, maxBalance string) (disburser.Policy, error) {
	if maxGasPrice != "" {
		c.MaxGasPrice = maxGasPrice
	}
	if maxBalance != "" {
		c.MaxBalancePerRun = maxBalance
	}
	if err := c.Validate(); err != nil {
		return disburser.Policy{}, err
	}
	return disburser.PolicyFromConfig(c)
}

type SendCmd struct {
	ConfigFlags
	KeyEnv      string `help:"Environment variable holding the hex private key." name:"key-env" xor:"key"`
	Keystore    string `help:"Keystore file of the sender." name:"keystore" xor:"key" type:"existingfile"`
	PasswordEnv string `help:"Environment variable holding the keystore password." name:"password-env" default:"DISBURSER_KEYSTORE_PASSWORD"`
	To          string `help:"Recipient address." required:"" name:"to"`
	Amount      string `help:"Amount to send." required:"" name:"amount"`
	Unit        string `help:"Denomination of --amount." default:"ether" enum:"ether,gwei,wei" name:"unit"`
	Tier        string `help:"Gas price tier." default:"medium" enum:"low,medium,high" name:"tier"`
}

func (c *SendCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := c.load()
	if err != nil {
		return err
	}
	if c.KeyEnv == "" && c.Keystore == "" {
		return errors.New("one of --key-env or --keystore is required")
	}
	cred, err := config.TaskConfig{
		PrivateKeyEnv:       c.KeyEnv,
		Keystore:            c.Keystore,
		KeystorePasswordEnv: c.PasswordEnv,
	}.Credential()
	if err != nil {
		return err
	}
	to, err := domain.ParseAddress(c.To)
	if err != nil {
		return err
	}
	denom, err := unit.ParseDenomination(c.Unit)
	if err != nil {
		return err
	}
	amount, err := unit.Parse(c.Amount, denom)
	if err != nil {
		return err
	}
	tier, err := domain.ParseGasTier(c.Tier)
	if err != nil {
		return err
	}
	policy, err := disburser.PolicyFromConfig(cfg.Policy)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.checkChainID(ctx); err != nil {
		return err
	}

	rec, err := a.service.Send(ctx, cred, to, amount, tier, policy)
	if perr := printJSON(rec); perr != nil {
		return perr
	}
	return err
}

type GasCmd struct {
	ConfigFlags
}

func (c *GasCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := c.load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	prices, err := a.oracle.CurrentGasPrices(ctx)
	if err != nil {
		return err
	}
	return printJSON(prices)
}

type LogsCmd struct {
	ConfigFlags
	Address string `arg:"" help:"Contract or account address."`
	From    string `help:"First block (number or tag)." default:"earliest" name:"from"`
	To      string `help:"Last block (number or tag)." default:"latest" name:"to"`
}

func (c *LogsCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr, err := domain.ParseAddress(c.Address)
	if err != nil {
		return err
	}
	from, err := domain.ParseBlockTag(c.From)
	if err != nil {
		return err
	}
	to, err := domain.ParseBlockTag(c.To)
	if err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	logs, err := a.chain.GetLogs(ctx, addr, from, to)
	if err != nil {
		return err
	}
	return printJSON(logs)
}

type KeygenCmd struct {
	Dir         string `help:"Directory for the keystore file." default:"keystore" type:"path" name:"dir"`
	PasswordEnv string `help:"Environment variable holding the keystore password." default:"DISBURSER_KEYSTORE_PASSWORD" name:"password-env"`
	Light       bool   `help:"Use light scrypt parameters (testing only)." name:"light"`
}

func (c *KeygenCmd) Run() error {
	password, err := config.Secret(c.PasswordEnv)
	if err != nil {
		return err
	}
	cred, err := domain.GenerateCredential()
	if err != nil {
		return err
	}
	path, err := cred.ExportKeystore(c.Dir, password, c.Light)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{
		"address":  cred.Address().Checksum(),
		"keystore": path,
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("disburser"),
		kong.Description("Splits Ethereum wallet balances across recipients by fixed percentages."),
		kong.UsageOnError(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
