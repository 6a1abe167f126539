package zaptec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t
}

func writeToken(w http.ResponseWriter, token string, expiresIn int) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	})
}

func session(id string) map[string]any {
	return map[string]any{
		"Id":            id,
		"DeviceId":      "ZAP001",
		"StartDateTime": "2025-01-01T10:00:00",
		"EndDateTime":   "2025-01-01T12:30:00",
		"Energy":        5.0,
	}
}

func newTestClient(t *testing.T, ts *httptest.Server, clock *fakeClock) *Client {
	t.Helper()
	return New(ts.URL, WithHTTPClient(ts.Client()), WithClock(clock.Now))
}

func TestAuthenticate(t *testing.T) {
	t0 := time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)

	t.Run("Password Grant", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/oauth/token", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "password", r.PostForm.Get("grant_type"))
			assert.Equal(t, "user@example.com", r.PostForm.Get("username"))
			assert.Equal(t, "secret", r.PostForm.Get("password"))
			assert.Equal(t, "openid", r.PostForm.Get("scope"))
			writeToken(w, "tok-1", 3600)
		}))
		defer ts.Close()

		clock := &fakeClock{t: t0}
		c := newTestClient(t, ts, clock)
		require.NoError(t, c.Authenticate(context.Background(), "user@example.com", "secret"))

		assert.Equal(t, "tok-1", c.token)
		assert.Equal(t, t0.Add(3540*time.Second), c.expiry)
	})

	t.Run("Rejected", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
		}))
		defer ts.Close()

		c := newTestClient(t, ts, &fakeClock{t: t0})
		err := c.Authenticate(context.Background(), "user", "wrong")
		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, http.StatusBadRequest, authErr.StatusCode)
		assert.Contains(t, authErr.Message, "invalid_grant")
		assert.Empty(t, c.token)
	})

	t.Run("Unparseable", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":`))
		}))
		defer ts.Close()

		c := newTestClient(t, ts, &fakeClock{t: t0})
		err := c.Authenticate(context.Background(), "user", "pass")
		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("Missing Expiry", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"tok"}`))
		}))
		defer ts.Close()

		c := newTestClient(t, ts, &fakeClock{t: t0})
		err := c.Authenticate(context.Background(), "user", "pass")
		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)
		_, err = c.validToken()
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	})

	t.Run("Replaces Token", func(t *testing.T) {
		var n int
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n++
			writeToken(w, "tok-"+strconv.Itoa(n), 60*n)
		}))
		defer ts.Close()

		clock := &fakeClock{t: t0}
		c := newTestClient(t, ts, clock)
		require.NoError(t, c.Authenticate(context.Background(), "u", "p"))
		require.NoError(t, c.Authenticate(context.Background(), "u", "p"))
		assert.Equal(t, "tok-2", c.token)
		assert.Equal(t, t0.Add(60*time.Second), c.expiry)
	})
}

func TestTokenExpiry(t *testing.T) {
	t0 := time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			writeToken(w, "tok", 3600)
		case "/api/chargehistory":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{"Pages": 1, "Data": []any{session("s1")}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	clock := &fakeClock{t: t0}
	c := newTestClient(t, ts, clock)

	_, err := c.FetchChargeHistory(context.Background(), HistoryQuery{})
	require.ErrorIs(t, err, ErrNotAuthenticated, "fetch before authenticating")

	require.NoError(t, c.Authenticate(context.Background(), "u", "p"))
	nominal := t0.Add(time.Hour)

	clock.Set(nominal.Add(-61 * time.Second))
	sessions, err := c.FetchChargeHistory(context.Background(), HistoryQuery{})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	clock.Set(nominal.Add(-59 * time.Second))
	_, err = c.FetchChargeHistory(context.Background(), HistoryQuery{})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = c.FetchInstallationReport(context.Background(), "inst", t0, t0)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

// pagedServer serves pages[i] for PageIndex i and reports the page count
// returned by pagesFor.
func pagedServer(t *testing.T, pages [][]string, pagesFor func(page int) int, requested *[]int) *httptest.Server {
	var mu sync.Mutex
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			writeToken(w, "tok", 3600)
			return
		}
		require.Equal(t, "/api/chargehistory", r.URL.Path)
		page, err := strconv.Atoi(r.URL.Query().Get("PageIndex"))
		require.NoError(t, err)
		mu.Lock()
		*requested = append(*requested, page)
		mu.Unlock()

		var data []any
		for _, id := range pages[page] {
			data = append(data, session(id))
		}
		json.NewEncoder(w).Encode(map[string]any{"Pages": pagesFor(page), "Data": data})
	}))
}

func TestFetchChargeHistory(t *testing.T) {
	now := time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)

	t.Run("Concatenates Pages In Order", func(t *testing.T) {
		pages := [][]string{{"a", "b", "c"}, {"d"}, {"e", "f"}}
		var requested []int
		ts := pagedServer(t, pages, func(int) int { return 3 }, &requested)
		defer ts.Close()

		c := newTestClient(t, ts, &fakeClock{t: now})
		require.NoError(t, c.Authenticate(context.Background(), "u", "p"))

		sessions, err := c.FetchChargeHistory(context.Background(), HistoryQuery{})
		require.NoError(t, err)
		require.Len(t, sessions, 6)
		var ids []string
		for _, s := range sessions {
			ids = append(ids, s.ID)
		}
		assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, ids)
		assert.Equal(t, []int{0, 1, 2}, requested)

		again, err := c.FetchChargeHistory(context.Background(), HistoryQuery{})
		require.NoError(t, err)
		assert.Equal(t, sessions, again)
	})

	t.Run("Shrinking Page Count", func(t *testing.T) {
		pages := [][]string{{"a"}, {"b"}, {"c"}, {"d"}}
		var requested []int
		ts := pagedServer(t, pages, func(page int) int {
			if page == 0 {
				return 4
			}
			return 1
		}, &requested)
		defer ts.Close()

		c := newTestClient(t, ts, &fakeClock{t: now})
		require.NoError(t, c.Authenticate(context.Background(), "u", "p"))

		sessions, err := c.FetchChargeHistory(context.Background(), HistoryQuery{})
		require.NoError(t, err)
		assert.Len(t, sessions, 2)
		assert.Equal(t, []int{0, 1}, requested)
	})

	t.Run("Empty", func(t *testing.T) {
		var requested []int
		ts := pagedServer(t, [][]string{{}}, func(int) int { return 0 }, &requested)
		defer ts.Close()

		c := newTestClient(t, ts, &fakeClock{t: now})
		require.NoError(t, c.Authenticate(context.Background(), "u", "p"))

		sessions, err := c.FetchChargeHistory(context.Background(), HistoryQuery{})
		require.NoError(t, err)
		assert.Empty(t, sessions)
		assert.Equal(t, []int{0}, requested)
	})

	t.Run("Query Parameters", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/oauth/token" {
				writeToken(w, "tok", 3600)
				return
			}
			q := r.URL.Query()
			assert.Equal(t, "25", q.Get("PageSize"))
			assert.Equal(t, "0", q.Get("PageIndex"))
			assert.Equal(t, "inst-1", q.Get("InstallationId"))
			assert.Equal(t, "2025-02-01T00:00:00", q.Get("From"))
			assert.Equal(t, "2025-02-28T23:59:59", q.Get("To"))
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			json.NewEncoder(w).Encode(map[string]any{"Pages": 1, "Data": []any{}})
		}))
		defer ts.Close()

		c := newTestClient(t, ts, &fakeClock{t: now})
		require.NoError(t, c.Authenticate(context.Background(), "u", "p"))

		from := time.Date(2025, 2, 1, 15, 30, 0, 0, time.UTC)
		to := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)
		_, err := c.FetchChargeHistory(context.Background(), HistoryQuery{
			InstallationID: "inst-1",
			From:           &from,
			To:             &to,
			PageSize:       25,
		})
		require.NoError(t, err)
	})

	t.Run("Optional Parameters Omitted", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/oauth/token" {
				writeToken(w, "tok", 3600)
				return
			}
			q := r.URL.Query()
			assert.Equal(t, "100", q.Get("PageSize"))
			assert.False(t, q.Has("InstallationId"))
			assert.False(t, q.Has("From"))
			assert.False(t, q.Has("To"))
			json.NewEncoder(w).Encode(map[string]any{"Pages": 1, "Data": []any{}})
		}))
		defer ts.Close()

		c := newTestClient(t, ts, &fakeClock{t: now})
		require.NoError(t, c.Authenticate(context.Background(), "u", "p"))
		_, err := c.FetchChargeHistory(context.Background(), HistoryQuery{})
		require.NoError(t, err)
	})

	failures := []struct {
		name   string
		handle func(w http.ResponseWriter)
		status int
	}{
		{"Server Error", func(w http.ResponseWriter) { http.Error(w, "boom", http.StatusInternalServerError) }, http.StatusInternalServerError},
		{"Invalid JSON", func(w http.ResponseWriter) { w.Write([]byte(`{"Pages": 3, "Data": [`)) }, http.StatusOK},
		{"Null Body", func(w http.ResponseWriter) { w.Write([]byte(`null`)) }, http.StatusOK},
		{"Bad Timestamp", func(w http.ResponseWriter) {
			w.Write([]byte(`{"Pages": 3, "Data": [{"Id": "x", "StartDateTime": "never"}]}`))
		}, http.StatusOK},
		{"End Before Start", func(w http.ResponseWriter) {
			w.Write([]byte(`{"Pages": 3, "Data": [{"Id": "x", "StartDateTime": "2025-01-01T10:00:00", "EndDateTime": "2025-01-01T09:00:00"}]}`))
		}, http.StatusOK},
	}
	for _, tt := range failures {
		t.Run("Page Failure "+tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/oauth/token" {
					writeToken(w, "tok", 3600)
					return
				}
				if r.URL.Query().Get("PageIndex") == "0" {
					json.NewEncoder(w).Encode(map[string]any{"Pages": 3, "Data": []any{session("a")}})
					return
				}
				tt.handle(w)
			}))
			defer ts.Close()

			c := newTestClient(t, ts, &fakeClock{t: now})
			require.NoError(t, c.Authenticate(context.Background(), "u", "p"))

			sessions, err := c.FetchChargeHistory(context.Background(), HistoryQuery{})
			assert.Nil(t, sessions)
			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, "charge history page 1", reqErr.Op)
			assert.Equal(t, tt.status, reqErr.StatusCode)
		})
	}

	t.Run("Token Checked Per Page", func(t *testing.T) {
		clock := &fakeClock{t: now}
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/oauth/token" {
				writeToken(w, "tok", 3600)
				return
			}
			// the token expires while page 0 is in flight
			clock.Set(now.Add(2 * time.Hour))
			json.NewEncoder(w).Encode(map[string]any{"Pages": 2, "Data": []any{session("a")}})
		}))
		defer ts.Close()

		c := newTestClient(t, ts, clock)
		require.NoError(t, c.Authenticate(context.Background(), "u", "p"))

		sessions, err := c.FetchChargeHistory(context.Background(), HistoryQuery{})
		assert.ErrorIs(t, err, ErrNotAuthenticated)
		assert.Nil(t, sessions)
	})

	t.Run("Canceled", func(t *testing.T) {
		var requested []int
		ts := pagedServer(t, [][]string{{"a"}}, func(int) int { return 1 }, &requested)
		defer ts.Close()

		c := newTestClient(t, ts, &fakeClock{t: now})
		require.NoError(t, c.Authenticate(context.Background(), "u", "p"))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.FetchChargeHistory(ctx, HistoryQuery{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Empty(t, requested)
	})
}

func TestFetchInstallationReport(t *testing.T) {
	now := time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)

	t.Run("Request Body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/oauth/token" {
				writeToken(w, "tok", 3600)
				return
			}
			require.Equal(t, "/api/chargehistory/installationreport", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "2025-02-01T00:00:00", body["fromDate"])
			assert.Equal(t, "2025-02-28T23:59:59", body["endDate"])
			assert.Equal(t, "inst-1", body["installationId"])
			assert.Equal(t, float64(2), body["groupBy"])
			assert.Equal(t, float64(1), body["reportFormat"])

			w.Write([]byte(`{
				"InstallationName": "Garage",
				"FromDate": "2025-02-01T00:00:00",
				"EndDate": "2025-02-28T23:59:59",
				"TotalUserChargerReportModel": [
					{"UserDetails": {"Id": "u1", "FullName": "Jane", "Email": "jane@example.com"},
					 "TotalChargeSessionCount": 3, "TotalChargeSessionEnergy": 14.75, "TotalChargeSessionDuration": 9000}
				]
			}`))
		}))
		defer ts.Close()

		c := newTestClient(t, ts, &fakeClock{t: now})
		require.NoError(t, c.Authenticate(context.Background(), "u", "p"))

		report, err := c.FetchInstallationReport(
			context.Background(),
			"inst-1",
			time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		)
		require.NoError(t, err)
		assert.Equal(t, "Garage", report.InstallationName)
		require.Len(t, report.TotalUserChargerReportModel, 1)
		assert.Equal(t, "Jane", report.TotalUserChargerReportModel[0].Name())
		assert.InDelta(t, 14.75, report.Totals().Energy, 1e-9)
	})

	for _, status := range []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusBadGateway} {
		t.Run(fmt.Sprintf("Status %d", status), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/oauth/token" {
					writeToken(w, "tok", 3600)
					return
				}
				http.Error(w, "nope", status)
			}))
			defer ts.Close()

			c := newTestClient(t, ts, &fakeClock{t: now})
			require.NoError(t, c.Authenticate(context.Background(), "u", "p"))

			_, err := c.FetchInstallationReport(context.Background(), "inst", now, now)
			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, status, reqErr.StatusCode)
			assert.Equal(t, "nope", reqErr.Message)
		})
	}
}

func TestRateLimit(t *testing.T) {
	c := New(DefaultBaseURL, WithRateLimit(0))
	assert.Equal(t, rate.Inf, c.limiter.Limit())
	c = New(DefaultBaseURL, WithRateLimit(2))
	assert.InDelta(t, 2, float64(c.limiter.Limit()), 1e-9)
}
