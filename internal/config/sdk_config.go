// Package config provides configuration management for the codex bridge.
// It handles loading and parsing YAML configuration files, and provides structured
// access to application settings including server port, credential storage,
// instruction caching, proxy configuration, and API keys.
package config

// SDKConfig holds the settings shared by every outbound HTTP client.
type SDKConfig struct {
	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// RequestLog enables debug logging of transformed upstream request bodies.
	RequestLog bool `yaml:"request-log" json:"request-log"`

	// APIKeys is a list of keys for authenticating clients to the local API server.
	// An empty list disables client authentication.
	APIKeys []string `yaml:"api-keys" json:"api-keys"`

	// TLSFingerprint routes HTTPS traffic through a browser-like TLS client hello.
	TLSFingerprint bool `yaml:"tls-fingerprint" json:"tls-fingerprint"`
}
