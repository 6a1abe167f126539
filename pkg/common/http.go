package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// Version returns the build version embedded in the binary.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent is sent with every outbound request.
func UserAgent() string {
	return "ChargeReport/" + Version()
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip sets the User-Agent on a clone of req and forwards it.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// the caller owns req so the header is set on a copy
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// HTTPClient returns an http client that identifies itself with UserAgent and
// gives up after timeout. A zero timeout means no client-level timeout.
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &userAgentTransport{
			transport: http.DefaultTransport,
			userAgent: UserAgent(),
		},
		Timeout: timeout,
	}
}
