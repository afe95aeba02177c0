// Package replay sends captured request bodies to a live chat-completion
// backend and records which candidate repair the backend accepts. It is a
// verification tool: nothing in the sanitization path depends on it.
package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/router-for-me/chatscrub/internal/config"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultPreviewBytes = 2048
)

// StatusError is a non-2xx backend response.
type StatusError struct {
	Code int
	Msg  string
}

func (e StatusError) Error() string {
	if strings.TrimSpace(e.Msg) != "" {
		return e.Msg
	}
	return fmt.Sprintf("status %d", e.Code)
}

// StatusCode returns the HTTP status carried by the error.
func (e StatusError) StatusCode() int { return e.Code }

// Client posts request bodies to the configured backend.
type Client struct {
	cfg        config.ReplayConfig
	httpClient *http.Client
}

// NewClient builds a backend client from the replay configuration. The
// context bounds OAuth token refreshes for the client's whole lifetime.
func NewClient(ctx context.Context, cfg config.ReplayConfig) (*Client, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("replay: endpoint is not configured")
	}
	transport, err := buildTransport(cfg.ProxyURL)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout, Transport: transport}
	if cfg.OAuth.Enabled() {
		cc := clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		// Token requests ride the same proxy-aware transport.
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		httpClient = cc.Client(ctx)
		httpClient.Timeout = timeout
	}
	return &Client{cfg: cfg, httpClient: httpClient}, nil
}

// Send posts body to the backend and returns the decoded response data and
// status. Non-2xx responses return the data alongside a StatusError so the
// caller can keep both.
func (c *Client) Send(ctx context.Context, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("replay: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br")
	if c.cfg.APIKey != "" && !c.cfg.OAuth.Enabled() {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("replay: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("replay: close body: %v", errClose)
		}
	}()

	data, err := decodeBody(resp)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("replay: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, resp.StatusCode, StatusError{Code: resp.StatusCode, Msg: PreviewText(data, c.previewLimit())}
	}
	return data, resp.StatusCode, nil
}

func (c *Client) previewLimit() int {
	if c.cfg.MaxPreviewBytes > 0 {
		return c.cfg.MaxPreviewBytes
	}
	return defaultPreviewBytes
}

// decodeBody reads the response, reversing whatever Content-Encoding the
// backend chose. Accept-Encoding is set manually, so the transport's own
// gzip handling is out of the picture.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}
	return io.ReadAll(reader)
}

func buildTransport(proxyURL string) (*http.Transport, error) {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if strings.TrimSpace(proxyURL) == "" {
		return transport, nil
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("replay: proxy url: %w", err)
	}
	switch parsed.Scheme {
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if user := parsed.User; user != nil {
			password, _ := user.Password()
			auth = &proxy.Auth{User: user.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("replay: socks5 proxy: %w", err)
		}
		transport.Proxy = nil
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
				return contextDialer.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	default:
		return nil, fmt.Errorf("replay: unsupported proxy scheme %q", parsed.Scheme)
	}
	return transport, nil
}

// PreviewText renders at most limit bytes of a backend response for logs
// and verdict notes: control runes go, CR and CRLF become LF, and the rest
// passes through untouched.
func PreviewText(payload []byte, limit int) string {
	if len(payload) == 0 {
		return ""
	}
	if limit > 0 && len(payload) > limit {
		payload = payload[:limit]
	}

	var b strings.Builder
	b.Grow(len(payload))
	lastWasCR := false
	for _, r := range string(payload) {
		switch r {
		case '\r':
			if !lastWasCR {
				b.WriteByte('\n')
			}
			lastWasCR = true
			continue
		case '\n':
			if lastWasCR {
				lastWasCR = false
				continue
			}
			b.WriteByte('\n')
			continue
		}
		lastWasCR = false
		switch {
		case r == '\t':
			b.WriteRune(r)
		case r < 0x20, r == 0x7f:
			continue
		case r >= 0x80 && r <= 0x9f:
			continue
		case r == utf8.RuneError:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
