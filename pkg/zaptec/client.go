package zaptec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/chargereport/chargereport/pkg/common"
	"github.com/chargereport/chargereport/pkg/log"
	"github.com/chargereport/chargereport/pkg/types"
)

const (
	// DefaultBaseURL is the public Zaptec API.
	DefaultBaseURL = "https://api.zaptec.com"
	// DefaultPageSize is the number of sessions requested per history page.
	DefaultPageSize = 100

	tokenPath              = "oauth/token"
	installationReportPath = "api/chargehistory/installationreport"
	chargeHistoryPath      = "api/chargehistory"

	// tokens are treated as expired this long before the server says so
	expirySkew = 60 * time.Second

	// groupByUser and reportFormatJSON are the API's enum values for a per
	// user JSON rollup.
	groupByUser      = 2
	reportFormatJSON = 1

	maxErrorBody = 512
)

// Client talks to the Zaptec API. It holds a single bearer token which is
// only ever replaced by Authenticate.
type Client struct {
	client   *http.Client
	baseURL  string
	pageSize int
	limiter  *rate.Limiter
	now      func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the http client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithBaseURL replaces the API base URL. An empty value is ignored.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithPageSize sets the default charge history page size.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithRateLimit limits charge history page requests to rps per second. A
// value <= 0 disables the limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithClock replaces time.Now for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New returns a Client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		client:   common.HTTPClient(time.Minute),
		baseURL:  baseURL,
		pageSize: DefaultPageSize,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate performs a password grant and stores the resulting token. The
// token is considered expired 60 seconds before the server's expires_in.
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	tokenURL, err := c.endpoint(tokenPath)
	if err != nil {
		return &AuthenticationError{Err: err}
	}
	cfg := oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{"openid"},
	}

	issued := c.now()
	tok, err := cfg.PasswordCredentialsToken(context.WithValue(ctx, oauth2.HTTPClient, c.client), username, password)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return &AuthenticationError{
				StatusCode: re.Response.StatusCode,
				Message:    truncate(string(re.Body)),
			}
		}
		return &AuthenticationError{Err: err}
	}

	var expiry time.Time
	switch {
	case tok.ExpiresIn > 0:
		expiry = issued.Add(time.Duration(tok.ExpiresIn) * time.Second)
	case !tok.Expiry.IsZero():
		expiry = tok.Expiry
	default:
		return &AuthenticationError{Message: "token response missing expires_in"}
	}

	c.mu.Lock()
	c.token = tok.AccessToken
	c.expiry = expiry.Add(-expirySkew)
	c.mu.Unlock()

	log.Ctx(ctx).DebugContext(ctx, "authenticated with zaptec", slog.Time("expiry", expiry))
	return nil
}

// validToken returns the bearer token if it has not expired yet.
func (c *Client) validToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || !c.now().Before(c.expiry) {
		return "", ErrNotAuthenticated
	}
	return c.token, nil
}

// FetchInstallationReport returns the per-user rollup for installationID
// covering the full days from through to.
func (c *Client) FetchInstallationReport(ctx context.Context, installationID string, from, to time.Time) (types.InstallationReport, error) {
	const op = "installation report"

	token, err := c.validToken()
	if err != nil {
		return types.InstallationReport{}, err
	}

	body := map[string]any{
		"fromDate":       formatFromDate(from),
		"endDate":        formatToDate(to),
		"installationId": installationID,
		"groupBy":        groupByUser,
		"reportFormat":   reportFormatJSON,
	}
	req, err := c.newPostJSONRequest(ctx, installationReportPath, body)
	if err != nil {
		return types.InstallationReport{}, &RequestError{Op: op, Err: err}
	}

	var report types.InstallationReport
	if _, err := c.doRequest(req, token, op, &report); err != nil {
		return types.InstallationReport{}, err
	}
	return report, nil
}

// HistoryQuery filters a charge history fetch. Empty fields are not sent.
type HistoryQuery struct {
	InstallationID string
	From           *time.Time
	To             *time.Time
	// PageSize defaults to the client's page size.
	PageSize int
}

type chargeHistoryResponse struct {
	Pages int                   `json:"Pages"`
	Data  []types.ChargeSession `json:"Data"`
}

// FetchChargeHistory walks every page of the charge history and returns the
// sessions in the order the server delivered them. The page count is re-read
// from each response. Any failing page fails the whole call and no sessions
// are returned.
func (c *Client) FetchChargeHistory(ctx context.Context, q HistoryQuery) ([]types.ChargeSession, error) {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	var sessions []types.ChargeSession
	totalPages := 1
	for page := 0; page < totalPages; page++ {
		op := fmt.Sprintf("charge history page %d", page)

		token, err := c.validToken()
		if err != nil {
			return nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &RequestError{Op: op, Err: err}
		}

		params := url.Values{}
		params.Set("PageSize", strconv.Itoa(pageSize))
		params.Set("PageIndex", strconv.Itoa(page))
		if q.InstallationID != "" {
			params.Set("InstallationId", q.InstallationID)
		}
		if q.From != nil {
			params.Set("From", formatFromDate(*q.From))
		}
		if q.To != nil {
			params.Set("To", formatToDate(*q.To))
		}
		req, err := c.newGetRequest(ctx, chargeHistoryPath, params)
		if err != nil {
			return nil, &RequestError{Op: op, Err: err}
		}

		var res chargeHistoryResponse
		status, err := c.doRequest(req, token, op, &res)
		if err != nil {
			return nil, err
		}
		if err := types.ValidateSessions(res.Data); err != nil {
			return nil, &RequestError{Op: op, StatusCode: status, Message: "malformed session", Err: err}
		}

		sessions = append(sessions, res.Data...)
		totalPages = res.Pages
		log.Ctx(ctx).DebugContext(
			ctx,
			"fetched charge history page",
			slog.Int("page", page),
			slog.Int("pages", totalPages),
			slog.Int("sessions", len(res.Data)),
		)
	}
	return sessions, nil
}

func (c *Client) endpoint(path string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	u.Path, err = url.JoinPath(u.Path, path)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (c *Client) newGetRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	u, err := c.endpoint(path)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

func (c *Client) newPostJSONRequest(ctx context.Context, path string, data any) (*http.Request, error) {
	u, err := c.endpoint(path)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// doRequest sends req with the bearer token and decodes a 2xx JSON body into
// dest. Everything else becomes a RequestError. The response status is
// returned either way, zero when no response arrived.
func (c *Client) doRequest(req *http.Request, token, op string, dest any) (int, error) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, &RequestError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &RequestError{Op: op, StatusCode: resp.StatusCode, Message: truncate(string(body))}
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return resp.StatusCode, &RequestError{Op: op, StatusCode: resp.StatusCode, Message: "empty response body"}
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return resp.StatusCode, &RequestError{Op: op, StatusCode: resp.StatusCode, Message: "invalid response body", Err: err}
	}
	return resp.StatusCode, nil
}

// formatFromDate and formatToDate produce the zone-less timestamps the API
// expects, covering the whole first and last day.
func formatFromDate(t time.Time) string {
	return t.Format(time.DateOnly) + "T00:00:00"
}

func formatToDate(t time.Time) string {
	return t.Format(time.DateOnly) + "T23:59:59"
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
