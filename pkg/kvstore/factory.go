package kvstore

import (
	"fmt"

	"github.com/fystack/eth-disburser/pkg/common/config"
	"github.com/fystack/eth-disburser/pkg/common/enum"
	"github.com/fystack/eth-disburser/pkg/infra"
	"github.com/hashicorp/consul/api"
)

// NewFromConfig constructs the configured infra.KVStore.
func NewFromConfig(cfg config.CacheConfig) (infra.KVStore, error) {
	codec, err := infra.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case enum.KVStoreTypeBadger, "":
		return NewBadgerStore(cfg.Badger.Directory, cfg.Badger.Prefix, codec)
	case enum.KVStoreTypeConsul:
		return NewConsulClient(Options{
			Scheme:  cfg.Consul.Scheme,
			Address: cfg.Consul.Address,
			Folder:  cfg.Consul.Folder,
			Codec:   codec,
			Token:   cfg.Consul.Token,
			HttpAuth: &api.HttpBasicAuth{
				Username: cfg.Consul.HttpAuth.Username,
				Password: cfg.Consul.HttpAuth.Password,
			},
		})
	default:
		return nil, fmt.Errorf("unsupported kvstore type: %s", cfg.Type)
	}
}
