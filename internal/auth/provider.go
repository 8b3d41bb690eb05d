// Package auth injects opaque credentials into outgoing requests.
package auth

import (
	"context"
	"net/http"
)

// Provider injects authentication into HTTP requests.
type Provider interface {
	// InjectHeader sets the credential header on req.
	InjectHeader(ctx context.Context, req *http.Request) error
}
