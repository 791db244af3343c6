package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fystack/eth-disburser/pkg/common/logger"
	"github.com/fystack/eth-disburser/pkg/ratelimiter"
)

type NetworkClient interface {
	CallRPC(ctx context.Context, method string, params any) (*RPCResponse, error)
	Do(ctx context.Context, method, endpoint string, body any, params map[string]string) ([]byte, error)
	IsHealthy(ctx context.Context) bool
	GetNetworkType() string
	GetClientType() string
	GetURL() string
	Close() error
}

// BaseClient speaks JSON-RPC 2.0 or plain REST to a single endpoint. Chain specific
// clients embed it and add typed methods.
type BaseClient struct {
	httpClient  *http.Client
	baseURL     string
	auth        *AuthConfig
	network     string
	clientType  string
	rateLimiter *ratelimiter.PooledRateLimiter

	rpcID int64
	mutex sync.Mutex
}

func NewBaseClient(
	baseURL, network, clientType string,
	auth *AuthConfig,
	timeout time.Duration,
	rateLimiter *ratelimiter.PooledRateLimiter,
) *BaseClient {
	return &BaseClient{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		auth:        auth,
		network:     network,
		clientType:  clientType,
		rateLimiter: rateLimiter,
		rpcID:       1,
	}
}

// NextRequestIDs reserves n consecutive request ids.
func (c *BaseClient) NextRequestIDs(n int) []int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = c.rpcID
		c.rpcID++
	}
	return ids
}

// CallRPC returns the decoded response. A JSON-RPC error object is returned both
// inside the response and as the error, typed *RPCError.
func (c *BaseClient) CallRPC(ctx context.Context, method string, params any) (*RPCResponse, error) {
	if c.clientType != ClientTypeRPC {
		return nil, fmt.Errorf("client is %s, not RPC", c.clientType)
	}
	req := &RPCRequest{ID: c.NextRequestIDs(1)[0], JSONRPC: "2.0", Method: method, Params: params}
	raw, err := c.Do(ctx, http.MethodPost, "", req, nil)
	if err != nil {
		return nil, err
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		return &rpcResp, rpcResp.Error
	}
	return &rpcResp, nil
}

func (c *BaseClient) Do(ctx context.Context, method, endpoint string, body any, params map[string]string) ([]byte, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx, c.baseURL); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	target := c.baseURL + endpoint
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		target += "?" + q.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuthHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	logger.Debug("HTTP request completed", "endpoint", c.baseURL+endpoint, "status", resp.StatusCode, "elapsed", time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, fmt.Errorf("%w: %d from %s: %s", ErrHTTPStatus, resp.StatusCode, c.baseURL+endpoint, string(data))
	}
	return data, nil
}

func (c *BaseClient) IsHealthy(ctx context.Context) bool {
	if c.clientType == ClientTypeRPC {
		_, err := c.CallRPC(ctx, "net_version", nil)
		return err == nil
	}
	_, err := c.Do(ctx, http.MethodGet, "", nil, nil)
	return err == nil
}

func (c *BaseClient) setAuthHeaders(req *http.Request) {
	if c.auth == nil {
		return
	}
	switch c.auth.Type {
	case AuthTypeBearer:
		req.Header.Set("Authorization", "Bearer "+c.auth.Token)
	case AuthTypeAPIKey:
		req.Header.Set("X-API-Key", c.auth.Token)
	case AuthTypeBasic:
		req.SetBasicAuth(c.auth.Username, c.auth.Password)
	case AuthTypeCustom:
		for k, v := range c.auth.Headers {
			req.Header.Set(k, v)
		}
	}
}

func (c *BaseClient) GetNetworkType() string { return c.network }
func (c *BaseClient) GetClientType() string  { return c.clientType }
func (c *BaseClient) GetURL() string         { return c.baseURL }
func (c *BaseClient) Close() error           { return nil }
