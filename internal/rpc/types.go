package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	NetworkEVM = "evm"
)

// Client types - communication protocols used by remote endpoints
const (
	ClientTypeRPC  = "rpc"  // JSON-RPC 2.0
	ClientTypeREST = "rest" // plain HTTP + JSON, e.g. the Etherscan API
)

// ErrHTTPStatus is wrapped by Do when the endpoint answers with a non-2xx status.
var ErrHTTPStatus = errors.New("unexpected http status")

type RPCRequest struct {
	ID      any    `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type RPCResponse struct {
	ID      any             `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsNull reports whether the node answered with a JSON null result.
func (r *RPCResponse) IsNull() bool {
	return r == nil || len(r.Result) == 0 || string(r.Result) == "null"
}

// RPCError is a JSON-RPC error object. The node understood the request and rejected it,
// so retrying the same call will not help.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// IsRPCError reports whether err carries a JSON-RPC error object.
func IsRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}
