package kvstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fystack/eth-disburser/pkg/common/enum"
	"github.com/fystack/eth-disburser/pkg/infra"
	"github.com/hashicorp/consul/api"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrKeyEmpty    = errors.New("key is empty")
	ErrCASExceeded = errors.New("too many concurrent modifications")
)

func checkKeyAndValue(k string, v any) error {
	if k == "" {
		return ErrKeyEmpty
	}
	if v == nil {
		return errors.New("the passed value is nil, which is not allowed")
	}
	return nil
}

// ConsulClient stores pairs under an optional folder of the Consul KV tree.
type ConsulClient struct {
	kv     *api.KV
	folder string
	codec  infra.Codec
}

type Options struct {
	// URI scheme, "http" by default.
	Scheme string
	// Address including port, "127.0.0.1:8500" by default.
	Address string
	// Folder under which all keys live. The Consul UI calls this "folder".
	Folder string
	Codec  infra.Codec

	Token    string
	HttpAuth *api.HttpBasicAuth
}

var DefaultConsulOptions = Options{
	Scheme:  "http",
	Address: "127.0.0.1:8500",
	Codec:   infra.JSON,
}

func NewConsulClient(options Options) (*ConsulClient, error) {
	if options.Scheme == "" {
		options.Scheme = DefaultConsulOptions.Scheme
	}
	if options.Address == "" {
		options.Address = DefaultConsulOptions.Address
	}
	if options.Codec == nil {
		options.Codec = DefaultConsulOptions.Codec
	}

	config := api.DefaultConfig()
	config.Scheme = options.Scheme
	config.Address = options.Address
	config.WaitTime = 10 * time.Second
	if options.Token != "" {
		config.Token = options.Token
	}
	if options.HttpAuth != nil && options.HttpAuth.Username != "" {
		config.HttpAuth = options.HttpAuth
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, err
	}
	if _, err := client.Status().Leader(); err != nil {
		return nil, fmt.Errorf("failed to connect to Consul: %w", err)
	}

	return &ConsulClient{
		kv:     client.KV(),
		folder: strings.Trim(options.Folder, "/"),
		codec:  options.Codec,
	}, nil
}

func (c *ConsulClient) key(k string) string {
	if c.folder != "" {
		return c.folder + "/" + k
	}
	return k
}

func (c *ConsulClient) GetName() string {
	return string(enum.KVStoreTypeConsul)
}

func (c *ConsulClient) Get(k string) ([]byte, error) {
	if k == "" {
		return nil, ErrKeyEmpty
	}
	pair, _, err := c.kv.Get(c.key(k), nil)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, ErrKeyNotFound
	}
	return pair.Value, nil
}

func (c *ConsulClient) Set(k string, v []byte) error {
	if k == "" {
		return ErrKeyEmpty
	}
	_, err := c.kv.Put(&api.KVPair{Key: c.key(k), Value: v}, nil)
	return err
}

func (c *ConsulClient) SetAny(k string, v any) error {
	if err := checkKeyAndValue(k, v); err != nil {
		return err
	}
	data, err := c.codec.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(k, data)
}

func (c *ConsulClient) GetAny(k string, v any) (bool, error) {
	if err := checkKeyAndValue(k, v); err != nil {
		return false, err
	}
	data, err := c.Get(k)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, c.codec.Unmarshal(data, v)
}

// Update uses check-and-set on the pair's ModifyIndex. ModifyIndex 0 means "create only".
func (c *ConsulClient) Update(k string, fn infra.UpdateFunc) error {
	if k == "" {
		return ErrKeyEmpty
	}
	full := c.key(k)

	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		pair, _, err := c.kv.Get(full, nil)
		if err != nil {
			return err
		}
		var (
			current []byte
			index   uint64
		)
		if pair != nil {
			current, index = pair.Value, pair.ModifyIndex
		}

		next, err := fn(current, pair != nil)
		if err != nil {
			return err
		}

		var ok bool
		if next == nil {
			if pair == nil {
				return nil
			}
			ok, _, err = c.kv.DeleteCAS(&api.KVPair{Key: full, ModifyIndex: index}, nil)
		} else {
			ok, _, err = c.kv.CAS(&api.KVPair{Key: full, Value: next, ModifyIndex: index}, nil)
		}
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("update %s: %w", k, ErrCASExceeded)
}

func (c *ConsulClient) List(prefix string) ([]*infra.KVPair, error) {
	if prefix == "" {
		return nil, ErrKeyEmpty
	}
	pairs, _, err := c.kv.List(c.key(prefix), nil)
	if err != nil {
		return nil, err
	}

	strip := ""
	if c.folder != "" {
		strip = c.folder + "/"
	}
	result := make([]*infra.KVPair, len(pairs))
	for i, p := range pairs {
		result[i] = &infra.KVPair{
			Key:   strings.TrimPrefix(p.Key, strip),
			Value: p.Value,
		}
	}
	return result, nil
}

// Delete of a missing key is not an error.
func (c *ConsulClient) Delete(k string) error {
	if k == "" {
		return ErrKeyEmpty
	}
	_, err := c.kv.Delete(c.key(k), nil)
	return err
}

func (c *ConsulClient) Close() error {
	return nil
}
