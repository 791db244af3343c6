package rpc

import (
	"maps"
	"strings"

	"github.com/fystack/eth-disburser/pkg/common/config"
)

type AuthType string

const (
	AuthTypeBearer AuthType = "bearer"
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeBasic  AuthType = "basic"
	AuthTypeCustom AuthType = "custom"
)

type AuthConfig struct {
	Type     AuthType          `json:"type"`
	Token    string            `json:"token"`
	Username string            `json:"username"`
	Password string            `json:"password"`
	Headers  map[string]string `json:"headers"`
}

// NodeToAuthConfig derives request authentication from a loaded node config.
// Explicit headers win; otherwise the api key is sent as configured by auth_type
// (bearer when unset). A key already embedded in the URL needs no auth at all.
func NodeToAuthConfig(node config.NodeConfig) *AuthConfig {
	if len(node.Headers) > 0 {
		auth := &AuthConfig{Type: AuthTypeCustom, Headers: make(map[string]string, len(node.Headers))}
		maps.Copy(auth.Headers, node.Headers)
		return auth
	}
	if node.ApiKey == "" || strings.Contains(node.URL, node.ApiKey) {
		return nil
	}

	switch AuthType(node.AuthType) {
	case AuthTypeAPIKey:
		return &AuthConfig{Type: AuthTypeAPIKey, Token: node.ApiKey}
	case AuthTypeBasic:
		user, pass, _ := strings.Cut(node.ApiKey, ":")
		return &AuthConfig{Type: AuthTypeBasic, Username: user, Password: pass}
	default:
		token := node.ApiKey
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = token[len("bearer "):]
		}
		return &AuthConfig{Type: AuthTypeBearer, Token: token}
	}
}
