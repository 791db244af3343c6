package constant

import "time"

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	TxCacheKeyPrefix = "txcache"
	RunLockKeyPrefix = "disburser:lock:"

	DefaultResendInterval = 6 * time.Hour
	DefaultReceiptTimeout = 60 * time.Second
	DefaultPollInterval   = time.Second

	// MinPerTransactionEther is the smallest value worth sending in one transfer.
	MinPerTransactionEther = "0.0008"

	EtherscanAPIURL = "https://api.etherscan.io/api"
)
