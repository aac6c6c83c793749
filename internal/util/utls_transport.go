package util

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	tls "github.com/refraction-networking/utls"
	"github.com/router-for-me/CodexBridge/internal/config"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/singleflight"
)

// fingerprintTransport speaks HTTP/2 over a uTLS connection presenting a
// Firefox client hello, so chatgpt.com and auth.openai.com see a browser
// handshake. Plain HTTP requests use the fallback transport.
type fingerprintTransport struct {
	dialer   proxy.Dialer
	fallback http.RoundTripper

	mu    sync.Mutex
	conns map[string]*http2.ClientConn
	dials singleflight.Group
}

func newUtlsRoundTripper(cfg *config.SDKConfig) *fingerprintTransport {
	t := &fingerprintTransport{
		dialer:   proxy.Direct,
		fallback: http.DefaultTransport,
		conns:    make(map[string]*http2.ClientConn),
	}
	if cfg == nil || strings.TrimSpace(cfg.ProxyURL) == "" {
		return t
	}
	if dialer, err := proxyDialer(cfg.ProxyURL); err != nil {
		log.Errorf("tls fingerprint: ignoring proxy %q: %v", cfg.ProxyURL, err)
	} else {
		t.dialer = dialer
	}
	if transport := proxyTransport(cfg.ProxyURL); transport != nil {
		t.fallback = transport
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *fingerprintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !strings.EqualFold(req.URL.Scheme, "https") {
		return t.fallback.RoundTrip(req)
	}
	host := req.URL.Hostname()
	addr := req.URL.Host
	if req.URL.Port() == "" {
		addr += ":443"
	}

	conn, err := t.connFor(host, addr)
	if err != nil {
		return nil, err
	}
	resp, err := conn.RoundTrip(req)
	if err != nil {
		t.forget(host, conn)
		return nil, err
	}
	return resp, nil
}

// connFor returns a reusable connection to host. Concurrent callers share a
// single dial.
func (t *fingerprintTransport) connFor(host, addr string) (*http2.ClientConn, error) {
	t.mu.Lock()
	conn, ok := t.conns[host]
	t.mu.Unlock()
	if ok && conn.CanTakeNewRequest() {
		return conn, nil
	}

	v, err, _ := t.dials.Do(host, func() (interface{}, error) {
		fresh, errDial := t.dial(host, addr)
		if errDial != nil {
			return nil, errDial
		}
		t.mu.Lock()
		t.conns[host] = fresh
		t.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*http2.ClientConn), nil
}

func (t *fingerprintTransport) forget(host string, conn *http2.ClientConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[host] == conn {
		delete(t.conns, host)
	}
}

func (t *fingerprintTransport) dial(host, addr string) (*http2.ClientConn, error) {
	raw, err := t.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tls fingerprint: dial %s: %w", addr, err)
	}
	tlsConn := tls.UClient(raw, &tls.Config{ServerName: host, NextProtos: []string{"h2"}}, tls.HelloFirefox_Auto)
	if err = tlsConn.Handshake(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls fingerprint: handshake with %s: %w", host, err)
	}
	conn, err := (&http2.Transport{}).NewClientConn(tlsConn)
	if err != nil {
		_ = tlsConn.Close()
		return nil, fmt.Errorf("tls fingerprint: http2 setup with %s: %w", host, err)
	}
	return conn, nil
}
