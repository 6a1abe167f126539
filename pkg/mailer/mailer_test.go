package mailer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	From struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"from"`
	Subject          string `json:"subject"`
	Personalizations []struct {
		To  []struct{ Email string } `json:"to"`
		CC  []struct{ Email string } `json:"cc"`
		BCC []struct{ Email string } `json:"bcc"`
	} `json:"personalizations"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
	Attachments []struct {
		Content     string `json:"content"`
		Type        string `json:"type"`
		Filename    string `json:"filename"`
		Disposition string `json:"disposition"`
	} `json:"attachments"`
}

func testMessage(t *testing.T) Message {
	dir := t.TempDir()
	path := filepath.Join(dir, "ZaptecReport_2025-02.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.3"), 0o644))
	return Message{
		FromEmail:   "reports@example.com",
		FromName:    "Zaptec Report Service",
		To:          []string{"a@example.com", " "},
		CC:          []string{"c@example.com"},
		BCC:         []string{"b@example.com"},
		Subject:     "Zaptec Usage Report - February 2025",
		Text:        "hello",
		HTML:        "<p>hello</p>",
		Attachments: []Attachment{{Path: path}},
	}
}

func TestSendGrid(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var got sentMail
		var auth string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v3/mail/send", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)
			auth = r.Header.Get("Authorization")
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(body, &got))
			w.WriteHeader(http.StatusAccepted)
		}))
		defer ts.Close()

		sg := NewSendGrid("SG.key", ts.URL)
		require.NoError(t, sg.Send(context.Background(), testMessage(t)))

		assert.Equal(t, "Bearer SG.key", auth)
		assert.Equal(t, "reports@example.com", got.From.Email)
		assert.Equal(t, "Zaptec Report Service", got.From.Name)
		assert.Equal(t, "Zaptec Usage Report - February 2025", got.Subject)
		require.Len(t, got.Personalizations, 1)
		p := got.Personalizations[0]
		require.Len(t, p.To, 1)
		assert.Equal(t, "a@example.com", p.To[0].Email)
		require.Len(t, p.CC, 1)
		require.Len(t, p.BCC, 1)

		require.Len(t, got.Content, 2)
		assert.Equal(t, "text/plain", got.Content[0].Type)
		assert.Equal(t, "text/html", got.Content[1].Type)

		require.Len(t, got.Attachments, 1)
		att := got.Attachments[0]
		assert.Equal(t, "ZaptecReport_2025-02.pdf", att.Filename)
		assert.Equal(t, "application/pdf", att.Type)
		assert.Equal(t, "attachment", att.Disposition)
		data, err := base64.StdEncoding.DecodeString(att.Content)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.3", string(data))
	})

	t.Run("Rejected", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
		}))
		defer ts.Close()

		err := NewSendGrid("SG.key", ts.URL).Send(context.Background(), testMessage(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 401")
		assert.Contains(t, err.Error(), "bad key")
	})

	t.Run("MissingAttachment", func(t *testing.T) {
		msg := testMessage(t)
		msg.Attachments = []Attachment{{Path: filepath.Join(t.TempDir(), "nope.xlsx")}}
		err := NewSendGrid("SG.key", "http://127.0.0.1:1").Send(context.Background(), msg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read attachment")
	})

	t.Run("Invalid", func(t *testing.T) {
		err := NewSendGrid("SG.key", "").Send(context.Background(), Message{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing sender address")
		assert.Contains(t, err.Error(), "missing recipients")

		err = NewSendGrid("", "").Send(context.Background(), testMessage(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api key")
	})
}

func TestMessageRecipients(t *testing.T) {
	msg := Message{To: []string{"a@x", ""}, CC: []string{"c@x"}, BCC: []string{" b@x "}}
	assert.Equal(t, []string{"a@x", "c@x", "b@x"}, msg.Recipients())
}

func TestSubject(t *testing.T) {
	from := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		tmpl string
		want string
	}{
		{"", "Zaptec Usage Report - February 2025"},
		{"Zaptec Usage Report - {0:MMMM yyyy}", "Zaptec Usage Report - February 2025"},
		{"Report {0:yyyy-MM}", "Report 2025-02"},
		{"Report {0:MMM yy}", "Report Feb 25"},
		{"Report {0}", "Report 2025-02-01"},
		{"Laden {month} {year}", "Laden February 2025"},
		{"Static", "Static"},
	}
	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			assert.Equal(t, tt.want, Subject(tt.tmpl, from))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0.00:00:00", FormatDuration(0))
	assert.Equal(t, "0.02:30:05", FormatDuration(2*time.Hour+30*time.Minute+5*time.Second))
	assert.Equal(t, "1.03:00:00", FormatDuration(27*time.Hour))
	assert.Equal(t, "0.00:00:00", FormatDuration(-time.Hour))
}

func TestReportBody(t *testing.T) {
	s := Summary{
		InstallationName: "Garage <A>",
		From:             time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		To:               time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		Sessions:         3,
		Energy:           14.756,
		Duration:         90 * time.Minute,
		HasPDF:           true,
	}
	text, html, err := ReportBody(s)
	require.NoError(t, err)

	assert.Contains(t, text, "Charging report for Garage <A>")
	assert.Contains(t, text, "Period: 2025-02-01 - 2025-02-28")
	assert.Contains(t, text, "Sessions: 3")
	assert.Contains(t, text, "Total energy: 14.76 kWh")
	assert.Contains(t, text, "Total duration: 0.01:30:00")
	assert.Contains(t, text, "Attachments: PDF")

	assert.Contains(t, html, "Garage &lt;A&gt;")
	assert.Contains(t, html, "14.76 kWh")

	s.HasPDF = false
	text, _, err = ReportBody(s)
	require.NoError(t, err)
	assert.Contains(t, text, "Attachments: none")
}
