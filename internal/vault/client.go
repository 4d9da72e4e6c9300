// Package vault fetches exchange API credentials from HashiCorp Vault
// as an alternative to plain environment variables.
package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"binance-futures-bot/config"
)

// Credentials is the secret material the bot needs to sign requests.
type Credentials struct {
	APIKey    string
	SecretKey string
}

// Client wraps the HashiCorp Vault client for credential reads.
type Client struct {
	client *api.Client
	cfg    config.VaultConfig
}

// NewClient creates a Vault client from the configured address and
// token.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, cfg: cfg}, nil
}

// FetchCredentials reads {api_key, secret_key} from the configured
// secret path. Supports both KV v2 (nested "data") and KV v1 layouts.
func (c *Client) FetchCredentials(ctx context.Context) (*Credentials, error) {
	secret, err := c.client.Logical().ReadWithContext(ctx, c.cfg.SecretPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault secret not found at %s", c.cfg.SecretPath)
	}

	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	apiKey, _ := data["api_key"].(string)
	secretKey, _ := data["secret_key"].(string)
	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("vault secret at %s is missing api_key or secret_key", c.cfg.SecretPath)
	}

	return &Credentials{APIKey: apiKey, SecretKey: secretKey}, nil
}
