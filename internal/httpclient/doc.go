// Package httpclient provides HTTP client utilities for the loadforge load
// testing tool.
//
// The httpclient package turns resolved templates into *http.Request values:
//   - JSON encoding of the template body, with Content-Type defaulting to
//     application/json
//   - Header validation and canonicalisation
//   - Optional credential injection through an [AuthProvider]
//
// # Request Building
//
//	builder := httpclient.NewRequestBuilder(authProvider)
//	req, body, err := builder.Build(ctx, resolved)
//
// # HTTP Client
//
// [NewClient] creates a client tuned for load generation: pooled keep-alive
// connections sized for the configured concurrency, and redirects returned to
// the caller instead of followed so 3xx responses are observed as sent.
//
//	client := httpclient.NewClient(30*time.Second, 50)
package httpclient
