package enum

type KVStoreType string

const (
	KVStoreTypeBadger KVStoreType = "badger"
	KVStoreTypeConsul KVStoreType = "consul"
)

type LockBackend string

const (
	LockBackendLocal LockBackend = "local"
	LockBackendRedis LockBackend = "redis"
)

type GasOracleType string

const (
	GasOracleEtherscan GasOracleType = "etherscan"
	GasOracleNode      GasOracleType = "node"
)
