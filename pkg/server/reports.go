package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/chargereport/chargereport/pkg/log"
	"github.com/chargereport/chargereport/pkg/pdf"
	"github.com/chargereport/chargereport/pkg/report"
	"github.com/chargereport/chargereport/pkg/types"
	"github.com/chargereport/chargereport/pkg/zaptec"
)

// maxRange limits how much history one request may fetch.
const maxRange = 366 * 24 * time.Hour

type sessionsResponse struct {
	From     string                `json:"from"`
	To       string                `json:"to"`
	Summary  sessionsSummary       `json:"summary"`
	Sessions []types.ChargeSession `json:"sessions"`
}

type sessionsSummary struct {
	Sessions       int     `json:"sessions"`
	TotalEnergyKWH float64 `json:"totalEnergyKWH"`
	TotalCost      float64 `json:"totalCost"`
	TotalDuration  string  `json:"totalDuration"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, to, err := parseDateRange(r, s.now())
	if err != nil {
		writeJSONError(w, "invalid date range: "+err.Error(), http.StatusBadRequest)
		return
	}

	sessions, err := s.reports.Sessions(ctx, from, to)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get sessions", slog.Any("error", err))
		writeUpstreamError(w, err)
		return
	}

	sum := pdf.Summarize(sessions, s.reports.Pricing())
	resp := sessionsResponse{
		From: from.Format(time.DateOnly),
		To:   to.Format(time.DateOnly),
		Summary: sessionsSummary{
			Sessions:       sum.Sessions,
			TotalEnergyKWH: sum.Energy,
			TotalCost:      sum.Cost,
			TotalDuration:  types.FormatHoursMinutes(types.TotalDuration(sessions)),
		},
		Sessions: sessions,
	}
	if resp.Sessions == nil {
		resp.Sessions = []types.ChargeSession{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleReport(format report.Format) http.HandlerFunc {
	contentType := "application/pdf"
	if format == report.FormatXLSX {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		from, to, err := parseDateRange(r, s.now())
		if err != nil {
			writeJSONError(w, "invalid date range: "+err.Error(), http.StatusBadRequest)
			return
		}

		// rendered fully before anything is written so failures still get a
		// proper status code
		var buf bytes.Buffer
		if err := s.reports.Generate(ctx, from, to, format, &buf); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to generate report", slog.String("format", string(format)), slog.Any("error", err))
			writeUpstreamError(w, err)
			return
		}

		name := fmt.Sprintf("ZaptecReport_%s_%s.%s", from.Format(time.DateOnly), to.Format(time.DateOnly), format)
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		if _, err := w.Write(buf.Bytes()); err != nil {
			panic(http.ErrAbortHandler)
		}
	}
}

// writeUpstreamError maps failures talking to the Zaptec API to 502 and
// everything else to 500.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var authErr *zaptec.AuthenticationError
	var reqErr *zaptec.RequestError
	var notFound *types.TemplateNotFoundError
	switch {
	case errors.As(err, &authErr):
		writeJSONError(w, "upstream authentication failed", http.StatusBadGateway)
	case errors.As(err, &reqErr):
		writeJSONError(w, "upstream request failed", http.StatusBadGateway)
	case errors.As(err, &notFound):
		writeJSONError(w, "spreadsheet template not available", http.StatusNotFound)
	default:
		writeJSONError(w, "failed to generate report", http.StatusInternalServerError)
	}
}

// parseDateRange reads from and to (YYYY-MM-DD) or period (last-month,
// current-month, YYYY-MM) from the query. Without either the previous month
// is used.
func parseDateRange(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	q := r.URL.Query()
	fromStr, toStr := q.Get("from"), q.Get("to")

	if fromStr == "" && toStr == "" {
		p, err := report.ParsePeriod(q.Get("period"), now)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return p.From, p.To, nil
	}
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("from and to must be set together")
	}

	from, err := time.ParseInLocation(time.DateOnly, fromStr, now.Location())
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from date: %w", err)
	}
	to, err := time.ParseInLocation(time.DateOnly, toStr, now.Location())
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to date: %w", err)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("from must not be after to")
	}
	if to.Sub(from) > maxRange {
		return time.Time{}, time.Time{}, fmt.Errorf("date range cannot exceed one year")
	}
	return from, to, nil
}
