package zaptec

import (
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/chargereport/chargereport/pkg/common"
)

// Configured returns a Client whose endpoint, timeout, page size and request
// rate come from command-line flags.
func Configured() *Client {
	c := New(DefaultBaseURL)

	apiURL := lflag.String("zaptec-api-url", DefaultBaseURL, "Base URL of the Zaptec API")
	timeout := lflag.Duration("zaptec-timeout", time.Minute, "Timeout for a single Zaptec API request")
	pageSize := DefaultPageSize
	lflag.JSON(&pageSize, "zaptec-page-size", DefaultPageSize, "Number of sessions requested per charge history page")
	var rps float64
	lflag.JSON(&rps, "zaptec-requests-per-second", rps, "Maximum charge history page requests per second (0 means unlimited)")

	lflag.Do(func() {
		c.baseURL = *apiURL
		c.client = common.HTTPClient(*timeout)
		if pageSize > 0 {
			c.pageSize = pageSize
		}
		WithRateLimit(rps)(c)
	})
	return c
}
