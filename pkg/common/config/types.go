package config

import (
	"time"

	"github.com/fystack/eth-disburser/pkg/common/enum"
)

type Config struct {
	Environment string          `yaml:"env"        validate:"required,oneof=production development"`
	Log         LogConfig       `yaml:"log"`
	Network     NetworkConfig   `yaml:"network"    validate:"required"`
	Node        NodeConfig      `yaml:"node"       validate:"required"`
	GasOracle   GasOracleConfig `yaml:"gas_oracle"`
	Policy      PolicyConfig    `yaml:"policy"`
	Tasks       []TaskConfig    `yaml:"tasks"      validate:"required,min=1,dive"`
	Cache       CacheConfig     `yaml:"cache"`
	Lock        LockConfig      `yaml:"lock"`
	Nats        NatsConfig      `yaml:"nats"`
	Database    DatabaseConfig  `yaml:"database"`
	Daemon      DaemonConfig    `yaml:"daemon"`
}

type LogConfig struct {
	Level   string `yaml:"level"    validate:"omitempty,oneof=debug info warn error"`
	NoColor bool   `yaml:"no_color"`
}

// NetworkConfig replaces a global "is test network" switch. A known name fills chain id and explorer.
type NetworkConfig struct {
	Name        string `yaml:"name"         validate:"required"`
	ChainID     int64  `yaml:"chain_id"     validate:"required,min=1"`
	ExplorerURL string `yaml:"explorer_url" validate:"omitempty,url"`
}

type NodeConfig struct {
	URL       string            `yaml:"url"         validate:"required,url"`
	AuthType  string            `yaml:"auth_type"   validate:"omitempty,oneof=bearer api_key basic custom"`
	ApiKeyEnv string            `yaml:"api_key_env"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Timeout   time.Duration     `yaml:"timeout"`
	Throttle  Throttle          `yaml:"throttle"`
	Retry     RetryConfig       `yaml:"retry"`
	// FallbackURLs are tried in order while the primary node is cooling down.
	// They share the primary's auth, timeout and throttle settings.
	FallbackURLs []string `yaml:"fallback_urls" validate:"omitempty,dive,url"`

	// ApiKey is resolved from ApiKeyEnv during Load, never read from the file.
	ApiKey string `yaml:"-"`
}

type Throttle struct {
	RPS   float64 `yaml:"rps"   validate:"min=0"`
	Burst int     `yaml:"burst" validate:"min=0"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts" validate:"min=0"`
	Interval time.Duration `yaml:"interval"`
}

type GasOracleConfig struct {
	Type      enum.GasOracleType `yaml:"type"        validate:"required,oneof=etherscan node"`
	URL       string             `yaml:"url"         validate:"omitempty,url"`
	ApiKeyEnv string             `yaml:"api_key_env"`
	Timeout   time.Duration      `yaml:"timeout"`
	Throttle  Throttle           `yaml:"throttle"`

	ApiKey string `yaml:"-"`
}

// PolicyConfig carries decimal amounts as strings so they are parsed exactly at the boundary.
// Ether amounts: min_available_balance, fee_buffer, max_balance_per_run, min_per_transaction.
// Gwei amounts: max_gas_price.
type PolicyConfig struct {
	MinAvailableBalance    string        `yaml:"min_available_balance"`
	FeeBuffer              string        `yaml:"fee_buffer"`
	MaxBalancePerRun       string        `yaml:"max_balance_per_run"`
	MaxGasPrice            string        `yaml:"max_gas_price"`
	MinPerTransaction      string        `yaml:"min_per_transaction"`
	ResendInterval         time.Duration `yaml:"resend_interval"`
	ReceiptTimeout         time.Duration `yaml:"receipt_timeout"`
	PollInterval           time.Duration `yaml:"poll_interval"`
	GasTier                string        `yaml:"gas_tier"                 validate:"omitempty,oneof=low medium high"`
	ReplacementBumpPercent int           `yaml:"replacement_bump_percent" validate:"min=0,max=100"`
}

type TaskConfig struct {
	Name                string            `yaml:"name"`
	PrivateKeyEnv       string            `yaml:"private_key_env"       validate:"required_without=Keystore"`
	Keystore            string            `yaml:"keystore"              validate:"required_without=PrivateKeyEnv"`
	KeystorePasswordEnv string            `yaml:"keystore_password_env" validate:"required_with=Keystore"`
	Recipients          []RecipientConfig `yaml:"recipients"            validate:"required,min=1,dive"`
}

type RecipientConfig struct {
	Address string `yaml:"address" validate:"required,len=42,startswith=0x"`
	Percent int    `yaml:"percent" validate:"min=0,max=100"`
}

type CacheConfig struct {
	Type      enum.KVStoreType `yaml:"type"      validate:"omitempty,oneof=badger consul"`
	Codec     string           `yaml:"codec"     validate:"omitempty,oneof=json gob"`
	Retention time.Duration    `yaml:"retention"`
	Badger    BadgerConfig     `yaml:"badger"`
	Consul    ConsulConfig     `yaml:"consul"`
}

type BadgerConfig struct {
	Directory string `yaml:"directory"`
	Prefix    string `yaml:"prefix"`
}

type ConsulConfig struct {
	Scheme   string         `yaml:"scheme"`
	Address  string         `yaml:"address"`
	Folder   string         `yaml:"folder"`
	Token    string         `yaml:"token"`
	HttpAuth HttpAuthConfig `yaml:"http_auth"`
}

type HttpAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LockConfig struct {
	Backend enum.LockBackend `yaml:"backend" validate:"omitempty,oneof=local redis"`
	TTL     time.Duration    `yaml:"ttl"`
	Redis   RedisConfig      `yaml:"redis"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NatsConfig enables event publishing when URL is set.
type NatsConfig struct {
	URL           string        `yaml:"url"`
	Stream        string        `yaml:"stream"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	TLS           NatsTLSConfig `yaml:"tls"`
}

type NatsTLSConfig struct {
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
	CACert     string `yaml:"ca_cert"`
}

// DatabaseConfig enables the disbursement history ledger when URL is set.
type DatabaseConfig struct {
	URL         string `yaml:"url"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type DaemonConfig struct {
	Interval time.Duration `yaml:"interval" validate:"omitempty,gt=0"`
	Port     int           `yaml:"port"     validate:"omitempty,min=1,max=65535"`
}
