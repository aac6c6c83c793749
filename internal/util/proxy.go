package util

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/router-for-me/CodexBridge/internal/config"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// SetProxy routes httpClient through proxy-url. socks5, http and https
// proxies are supported. Without a usable proxy the client is returned as is.
func SetProxy(cfg *config.SDKConfig, httpClient *http.Client) *http.Client {
	if cfg == nil || strings.TrimSpace(cfg.ProxyURL) == "" {
		return httpClient
	}
	if transport := proxyTransport(cfg.ProxyURL); transport != nil {
		httpClient.Transport = transport
	}
	return httpClient
}

// NewHTTPClient builds the outbound client for the token endpoint and the
// codex backend, honoring proxy-url and tls-fingerprint.
func NewHTTPClient(cfg *config.SDKConfig) *http.Client {
	if cfg != nil && cfg.TLSFingerprint {
		return &http.Client{Transport: newUtlsRoundTripper(cfg)}
	}
	return SetProxy(cfg, &http.Client{})
}

// proxyDialer returns a dialer for a socks5, http or https proxy URL.
func proxyDialer(raw string) (proxy.Dialer, error) {
	proxyURL, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse proxy URL: %w", err)
	}
	if proxyURL.Scheme == "socks5" {
		var auth *proxy.Auth
		if proxyURL.User != nil {
			password, _ := proxyURL.User.Password()
			auth = &proxy.Auth{User: proxyURL.User.Username(), Password: password}
		}
		return proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
	}
	return proxy.FromURL(proxyURL, proxy.Direct)
}

// proxyTransport returns a transport routed through raw, or nil when the
// URL cannot be used.
func proxyTransport(raw string) *http.Transport {
	proxyURL, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		log.Errorf("parse proxy URL failed: %v", err)
		return nil
	}
	switch proxyURL.Scheme {
	case "socks5":
		dialer, errDialer := proxyDialer(raw)
		if errDialer != nil {
			log.Errorf("create SOCKS5 dialer failed: %v", errDialer)
			return nil
		}
		return &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
					return contextDialer.DialContext(ctx, network, addr)
				}
				return dialer.Dial(network, addr)
			},
		}
	case "http", "https":
		return &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	default:
		log.Warnf("unsupported proxy scheme %q, using direct connection", proxyURL.Scheme)
		return nil
	}
}
