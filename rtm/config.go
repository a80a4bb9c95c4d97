package rtm

import (
	"fmt"
	"net/url"
)

// Config binds a low-level client to one transport endpoint and credential.
type Config struct {
	// Endpoint is the WebSocket endpoint, e.g. "wss://host:443".
	Endpoint string
	// AppKey authenticates the application with the service.
	AppKey string
	// TLSInsecure skips server certificate verification.
	TLSInsecure bool
}

// URL resolves the full connection URL for the configured endpoint.
func (config Config) URL() (string, error) {
	if config.Endpoint == "" {
		return "", fmt.Errorf("endpoint is not configured")
	}
	if config.AppKey == "" {
		return "", fmt.Errorf("appkey is not configured")
	}
	parsed, err := url.Parse(config.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", config.Endpoint, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("endpoint scheme must be ws or wss, got %q", parsed.Scheme)
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = "/v2"
	}
	query := parsed.Query()
	query.Set("appkey", config.AppKey)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
