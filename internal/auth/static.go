package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const (
	DefaultHeader = "Authorization"
	DefaultScheme = "Bearer"
)

// StaticTokenProvider sends a pre-configured token with every request. The
// token is treated as an opaque string.
type StaticTokenProvider struct {
	header string
	scheme string
	token  string
}

// StaticOption configures a StaticTokenProvider.
type StaticOption func(*StaticTokenProvider)

// WithHeader sends the token in a header other than Authorization.
func WithHeader(name string) StaticOption {
	return func(p *StaticTokenProvider) {
		if name = strings.TrimSpace(name); name != "" {
			p.header = http.CanonicalHeaderKey(name)
		}
	}
}

// WithScheme replaces the Bearer prefix. An empty scheme sends the bare
// token.
func WithScheme(scheme string) StaticOption {
	return func(p *StaticTokenProvider) {
		p.scheme = strings.TrimSpace(scheme)
	}
}

// NewStaticTokenProvider creates a provider for token.
func NewStaticTokenProvider(token string, opts ...StaticOption) (*StaticTokenProvider, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("auth token cannot be empty")
	}
	if strings.ContainsAny(token, "\r\n") {
		return nil, errors.New("auth token contains a line break")
	}
	p := &StaticTokenProvider{header: DefaultHeader, scheme: DefaultScheme, token: token}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Value returns the header value the provider sends.
func (p *StaticTokenProvider) Value() string {
	if p.scheme == "" {
		return p.token
	}
	return p.scheme + " " + p.token
}

// InjectHeader sets the token header, replacing any value a template set.
func (p *StaticTokenProvider) InjectHeader(_ context.Context, req *http.Request) error {
	req.Header.Set(p.header, p.Value())
	return nil
}
