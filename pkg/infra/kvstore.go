package infra

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// KVStore is the durable key-value layer behind the idempotency cache.
// Implementations: Badger (embedded, default) and Consul.
type KVStore interface {
	GetName() string
	Get(k string) ([]byte, error)
	Set(k string, v []byte) error
	// SetAny and GetAny run v through the store's codec.
	SetAny(k string, v any) error
	GetAny(k string, v any) (found bool, err error)
	// Update performs an atomic read-modify-write of k. Returning a nil slice from fn deletes the key.
	Update(k string, fn UpdateFunc) error
	// List returns every pair whose key starts with prefix. Keys are relative to the store's own prefix.
	List(prefix string) ([]*KVPair, error)
	Delete(k string) error
	Close() error
}

type KVPair struct {
	Key   string
	Value []byte
}

type UpdateFunc func(current []byte, found bool) (next []byte, err error)

// Codec encodes/decodes Go values to/from slices of bytes.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	JSON = JSONcodec{}
	Gob  = GobCodec{}
)

func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "gob":
		return Gob, nil
	}
	return nil, fmt.Errorf("unsupported codec: %s", name)
}

type JSONcodec struct{}

func (c JSONcodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c JSONcodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

type GobCodec struct{}

func (c GobCodec) Marshal(v any) ([]byte, error) {
	buffer := new(bytes.Buffer)
	if err := gob.NewEncoder(buffer).Encode(v); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (c GobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
