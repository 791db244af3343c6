package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/pkg/common/constant"
	"github.com/fystack/eth-disburser/pkg/common/enum"
	"github.com/fystack/eth-disburser/pkg/unit"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/imdario/mergo"
)

var validate = validator.New()

var ErrMissingSecret = errors.New("secret environment variable is not set")

func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		MinAvailableBalance: "0.1",
		FeeBuffer:           "0.01",
		MinPerTransaction:   constant.MinPerTransactionEther,
		ResendInterval:      constant.DefaultResendInterval,
		ReceiptTimeout:      constant.DefaultReceiptTimeout,
		PollInterval:        constant.DefaultPollInterval,
		GasTier:             string(domain.GasTierMedium),
	}
}

func defaults() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Node: NodeConfig{
			Timeout: 15 * time.Second,
			Retry:   RetryConfig{Attempts: 3, Interval: time.Second},
		},
		GasOracle: GasOracleConfig{
			Type:    enum.GasOracleEtherscan,
			URL:     constant.EtherscanAPIURL,
			Timeout: 10 * time.Second,
		},
		Policy: DefaultPolicy(),
		Cache: CacheConfig{
			Type:   enum.KVStoreTypeBadger,
			Codec:  "json",
			Badger: BadgerConfig{Directory: "data/txcache", Prefix: "disburser"},
		},
		Lock: LockConfig{
			Backend: enum.LockBackendLocal,
			TTL:     30 * time.Minute,
		},
		Nats: NatsConfig{
			Stream:        "disbursements",
			SubjectPrefix: "disbursements",
		},
		Daemon: DaemonConfig{
			Interval: 10 * time.Minute,
			Port:     8080,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document. Secrets referenced by *_env
// fields of the node and the gas oracle are resolved here; task keys are resolved later.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if err := mergo.Merge(&cfg, defaults()); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	cfg.Network.applyPreset()
	cfg.Node.finalize()
	if cfg.GasOracle.ApiKeyEnv != "" {
		cfg.GasOracle.ApiKey = os.Getenv(cfg.GasOracle.ApiKeyEnv)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("struct validation failed: %w", err)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	for i, task := range cfg.Tasks {
		if err := task.validateSplit(); err != nil {
			return nil, fmt.Errorf("tasks[%d]: %w", i, err)
		}
	}
	return &cfg, nil
}

func (n *NetworkConfig) applyPreset() {
	preset, ok := domain.NetworkByName(n.Name)
	if !ok {
		return
	}
	if n.ChainID == 0 {
		n.ChainID = preset.ChainID
	}
	if n.ExplorerURL == "" {
		n.ExplorerURL = preset.ExplorerURL
	}
}

func (n NetworkConfig) Network() domain.Network {
	return domain.Network{Name: n.Name, ChainID: n.ChainID, ExplorerURL: n.ExplorerURL}
}

// finalize fills the api key and substitutes ${API_KEY} and ${VAR} placeholders in the url and headers.
func (n *NodeConfig) finalize() {
	if n.ApiKeyEnv != "" {
		n.ApiKey = os.Getenv(n.ApiKeyEnv)
	}
	if n.ApiKey != "" {
		n.URL = strings.ReplaceAll(n.URL, "${API_KEY}", n.ApiKey)
	}
	n.URL = os.ExpandEnv(n.URL)
	for k, v := range n.Headers {
		if n.ApiKey != "" {
			v = strings.ReplaceAll(v, "${API_KEY}", n.ApiKey)
		}
		n.Headers[k] = os.ExpandEnv(v)
	}
}

// Validate parses every amount so malformed values fail at load time.
func (p PolicyConfig) Validate() error {
	fields := []struct {
		name  string
		value string
		unit  unit.Denomination
	}{
		{"min_available_balance", p.MinAvailableBalance, unit.Ether},
		{"fee_buffer", p.FeeBuffer, unit.Ether},
		{"max_balance_per_run", p.MaxBalancePerRun, unit.Ether},
		{"max_gas_price", p.MaxGasPrice, unit.Gwei},
		{"min_per_transaction", p.MinPerTransaction, unit.Ether},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		a, err := unit.Parse(f.value, f.unit)
		if err != nil {
			return fmt.Errorf("policy.%s: %w", f.name, err)
		}
		if a.IsNegative() {
			return fmt.Errorf("policy.%s: %w: must not be negative", f.name, unit.ErrInvalidAmount)
		}
	}
	return nil
}

func (t TaskConfig) validateSplit() error {
	total := 0
	for _, r := range t.Recipients {
		total += r.Percent
	}
	if total != 100 {
		return fmt.Errorf("task %q: %w (got %d)", t.Name, domain.ErrSplitPercentage, total)
	}
	return nil
}

// Secret reads a required secret from the environment.
func Secret(envName string) (string, error) {
	v := strings.TrimSpace(os.Getenv(envName))
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingSecret, envName)
	}
	return v, nil
}

// LoadCacheConfig reads a standalone cache section, used as the target of a cache migration.
func LoadCacheConfig(path string) (CacheConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CacheConfig{}, err
	}
	var cfg CacheConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return CacheConfig{}, err
	}
	if err := mergo.Merge(&cfg, CacheConfig{Type: enum.KVStoreTypeBadger, Codec: "json"}); err != nil {
		return CacheConfig{}, fmt.Errorf("apply defaults: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return CacheConfig{}, fmt.Errorf("struct validation failed: %w", err)
	}
	if cfg.Type == enum.KVStoreTypeBadger && cfg.Badger.Directory == "" {
		return CacheConfig{}, errors.New("badger.directory is required")
	}
	return cfg, nil
}
