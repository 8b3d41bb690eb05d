package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/torosent/loadforge/internal/templates"
)

// AuthProvider injects credentials into HTTP requests.
type AuthProvider interface {
	InjectHeader(ctx context.Context, req *http.Request) error
}

// RequestBuilder converts resolved template requests into HTTP requests.
type RequestBuilder struct {
	authProvider AuthProvider
}

// NewRequestBuilder creates a builder. provider may be nil.
func NewRequestBuilder(provider AuthProvider) *RequestBuilder {
	return &RequestBuilder{authProvider: provider}
}

// CanonicalHeaders validates header names and values and returns them in
// canonical form.
func CanonicalHeaders(headers map[string]string) (http.Header, error) {
	out := make(http.Header, len(headers))
	for key, value := range headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n: ") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		out.Set(canonicalKey, value)
	}
	return out, nil
}

// Build creates the HTTP request for r and returns the encoded body bytes
// alongside it.
func (b *RequestBuilder) Build(ctx context.Context, r templates.Request) (*http.Request, []byte, error) {
	if b == nil {
		return nil, nil, errors.New("builder cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target := strings.TrimSpace(r.URL)
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid target URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, nil, fmt.Errorf("target URL %q must use http or https", target)
	}

	method := strings.ToUpper(strings.TrimSpace(r.Method))
	if method == "" {
		method = http.MethodPost
	}

	headers, err := CanonicalHeaders(r.Headers)
	if err != nil {
		return nil, nil, err
	}

	body, err := NewBodySource(r.Body)
	if err != nil {
		return nil, nil, err
	}
	reader, err := body.NewReader()
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		_ = reader.Close()
		return nil, nil, err
	}
	req.Header = headers
	if length, ok := body.ContentLength(); ok {
		req.ContentLength = length
	}
	if req.ContentLength > 0 {
		req.GetBody = func() (io.ReadCloser, error) {
			return body.NewReader()
		}
		if req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
	}

	if b.authProvider != nil {
		if err := b.authProvider.InjectHeader(ctx, req); err != nil {
			return nil, nil, fmt.Errorf("auth provider inject header: %w", err)
		}
	}

	return req, body.Bytes(), nil
}

// NewClient returns a client for load generation. maxConnsPerHost sizes the
// idle pool; pass the run's concurrency.
func NewClient(timeout time.Duration, maxConnsPerHost int) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	if maxConnsPerHost < 32 {
		maxConnsPerHost = 32
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxConnsPerHost * 2,
		MaxIdleConnsPerHost:   maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
