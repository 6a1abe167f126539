// Package report runs a complete report: it fetches charging data for a
// period, renders the requested documents and optionally e-mails them.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/chargereport/chargereport/pkg/config"
	"github.com/chargereport/chargereport/pkg/log"
	"github.com/chargereport/chargereport/pkg/mailer"
	"github.com/chargereport/chargereport/pkg/pdf"
	"github.com/chargereport/chargereport/pkg/spreadsheet"
	"github.com/chargereport/chargereport/pkg/storage"
	"github.com/chargereport/chargereport/pkg/types"
	"github.com/chargereport/chargereport/pkg/zaptec"
)

const (
	DefaultTemplate = "template.xlsx"

	unknownInstallation = "Unknown Installation"
	fileNamePrefix      = "ZaptecReport_"
)

// Fetcher is the part of the Zaptec client a run needs.
type Fetcher interface {
	Authenticate(ctx context.Context, username, password string) error
	FetchInstallationReport(ctx context.Context, installationID string, from, to time.Time) (types.InstallationReport, error)
	FetchChargeHistory(ctx context.Context, q zaptec.HistoryQuery) ([]types.ChargeSession, error)
}

// Runner executes report runs for one installation.
type Runner struct {
	fetcher   Fetcher
	cfg       config.Config
	ledger    storage.Ledger
	transport mailer.Transport
	template  string
	out       io.Writer
	now       func() time.Time
}

type Option func(*Runner)

// WithLedger records deliveries after a successful send.
func WithLedger(l storage.Ledger) Option {
	return func(r *Runner) { r.ledger = l }
}

// WithTransport enables e-mail delivery.
func WithTransport(t mailer.Transport) Option {
	return func(r *Runner) { r.transport = t }
}

// WithTemplate sets the spreadsheet template path.
func WithTemplate(path string) Option {
	return func(r *Runner) {
		if path != "" {
			r.template = path
		}
	}
}

// WithOutput sets where the console listing of a run is written.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func NewRunner(fetcher Fetcher, cfg config.Config, opts ...Option) *Runner {
	r := &Runner{
		fetcher:  fetcher,
		cfg:      cfg,
		ledger:   storage.NewMemory(),
		template: DefaultTemplate,
		out:      io.Discard,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Request describes one run.
type Request struct {
	Period Period
	Kind   Kind
	Format Format
	// OutputDir defaults to the system temp directory.
	OutputDir string
	// Email sends the rendered documents and deletes them afterwards.
	Email bool
}

// Result describes what a run produced. Files that were e-mailed are deleted
// and no longer exist.
type Result struct {
	RunID    string
	Period   Period
	Sessions int
	Files    []string
	Sent     bool
	Delivery *types.Delivery
}

// Run executes a request. A run that finds no sessions succeeds without
// rendering or sending anything.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	res := Result{RunID: uuid.NewString(), Period: req.Period}
	ctx = log.WithAttrs(ctx, slog.String("runID", res.RunID), slog.String("period", req.Period.Key))

	if req.Email {
		if req.Kind == KindSummary {
			return res, errors.New("e-mail delivery requires a detailed report")
		}
		if r.transport == nil {
			return res, errors.New("e-mail delivery is not configured")
		}
		if err := r.cfg.Email.Validate(); err != nil {
			return res, fmt.Errorf("invalid email config: %w", err)
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "authenticating")
	if err := r.authenticate(ctx); err != nil {
		return res, err
	}

	if req.Kind == KindSummary {
		rep, err := r.fetcher.FetchInstallationReport(ctx, r.cfg.Zaptec.InstallationID, req.Period.From, req.Period.To)
		if err != nil {
			return res, err
		}
		res.Sessions = int(rep.Totals().Sessions)
		printInstallationReport(r.out, rep)
		return res, nil
	}

	sessions, err := r.sessions(ctx, req.Period.From, req.Period.To)
	if err != nil {
		return res, err
	}
	res.Sessions = len(sessions)
	if len(sessions) == 0 {
		log.Ctx(ctx).InfoContext(ctx, "no charge sessions found")
		fmt.Fprintln(r.out, "No charge sessions found in this period.")
		return res, nil
	}
	printSessions(r.out, sessions)

	if req.Format == FormatNone {
		return res, nil
	}

	dir := req.OutputDir
	if dir == "" {
		dir = os.TempDir()
	}
	name := installationName(sessions)
	base := fileNamePrefix + req.Period.From.Format(periodLayout) + "_" + r.now().Format("20060102_150405")
	rc := types.ReportContext{
		From:             req.Period.From,
		To:               req.Period.To,
		InstallationName: name,
		ExportedAt:       r.now(),
	}

	if req.Format.wantsXLSX() {
		path := filepath.Join(dir, base+".xlsx")
		err := spreadsheet.Render(ctx, sessions, r.template, path, rc)
		var notFound *types.TemplateNotFoundError
		switch {
		case errors.As(err, &notFound) && req.Format != FormatXLSX:
			log.Ctx(ctx).WarnContext(ctx, "template not found, skipping spreadsheet", slog.String("template", r.template))
		case err != nil:
			return res, err
		default:
			log.Ctx(ctx).InfoContext(ctx, "spreadsheet created", slog.String("path", path))
			fmt.Fprintf(r.out, "Excel report saved to: %s\n", path)
			res.Files = append(res.Files, path)
		}
	}

	if req.Format.wantsPDF() {
		path := filepath.Join(dir, base+".pdf")
		if err := r.composer().Compose(ctx, sessions, name, req.Period.From, req.Period.To, path); err != nil {
			return res, err
		}
		log.Ctx(ctx).InfoContext(ctx, "pdf created", slog.String("path", path))
		fmt.Fprintf(r.out, "PDF report saved to: %s\n", path)
		res.Files = append(res.Files, path)
	}

	if !req.Email || len(res.Files) == 0 {
		return res, nil
	}

	delivery, err := r.send(ctx, req.Period, rc, sessions, res.Files)
	if err != nil {
		return res, err
	}
	res.Sent = true
	delivery.RunID = res.RunID
	res.Delivery = &delivery

	r.cleanup(ctx, res.Files)

	if err := r.ledger.PutDelivery(ctx, delivery); err != nil {
		return res, fmt.Errorf("failed to record delivery: %w", err)
	}
	return res, nil
}

// Generate renders a single document for the given dates into w.
func (r *Runner) Generate(ctx context.Context, from, to time.Time, format Format, w io.Writer) error {
	if format != FormatXLSX && format != FormatPDF {
		return fmt.Errorf("cannot generate format %q", format)
	}
	if err := r.authenticate(ctx); err != nil {
		return err
	}
	sessions, err := r.sessions(ctx, from, to)
	if err != nil {
		return err
	}
	name := installationName(sessions)
	if format == FormatPDF {
		return r.composer().ComposeTo(ctx, w, sessions, name, from, to)
	}
	return spreadsheet.RenderTo(ctx, w, sessions, r.template, types.ReportContext{
		From:             from,
		To:               to,
		InstallationName: name,
		ExportedAt:       r.now(),
	})
}

// Sessions authenticates and returns the sessions between from and to ordered
// by start time.
func (r *Runner) Sessions(ctx context.Context, from, to time.Time) ([]types.ChargeSession, error) {
	if err := r.authenticate(ctx); err != nil {
		return nil, err
	}
	return r.sessions(ctx, from, to)
}

// Pricing returns the tariff costs are computed with.
func (r *Runner) Pricing() types.Pricing {
	return r.cfg.Pricing
}

// Delivered reports whether a delivery was recorded for the period.
func (r *Runner) Delivered(ctx context.Context, p Period) (bool, error) {
	_, err := r.ledger.GetDelivery(ctx, r.cfg.Zaptec.InstallationID, p.Key)
	if errors.Is(err, storage.ErrDeliveryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Runner) authenticate(ctx context.Context) error {
	return r.fetcher.Authenticate(ctx, r.cfg.Zaptec.Username, r.cfg.Zaptec.Password)
}

func (r *Runner) sessions(ctx context.Context, from, to time.Time) ([]types.ChargeSession, error) {
	sessions, err := r.fetcher.FetchChargeHistory(ctx, zaptec.HistoryQuery{
		InstallationID: r.cfg.Zaptec.InstallationID,
		From:           &from,
		To:             &to,
	})
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).DebugContext(ctx, "fetched charge sessions", slog.Int("count", len(sessions)))
	return types.SortedByStart(sessions), nil
}

func (r *Runner) composer() *pdf.Composer {
	return pdf.NewComposer(r.cfg.Pricing, r.cfg.ReportInfo, pdf.WithClock(r.now))
}

func (r *Runner) send(ctx context.Context, p Period, rc types.ReportContext, sessions []types.ChargeSession, files []string) (types.Delivery, error) {
	summary := mailer.Summarize(rc, sessions)
	var attachments []mailer.Attachment
	var names []string
	for _, f := range files {
		name := filepath.Base(f)
		switch filepath.Ext(f) {
		case ".xlsx":
			summary.HasSpreadsheet = true
		case ".pdf":
			summary.HasPDF = true
		}
		attachments = append(attachments, mailer.Attachment{Path: f, Name: name})
		names = append(names, name)
	}

	text, html, err := mailer.ReportBody(summary)
	if err != nil {
		return types.Delivery{}, err
	}
	email := r.cfg.Email
	msg := mailer.Message{
		FromEmail:   email.FromEmail,
		FromName:    email.FromName,
		To:          email.ToEmails,
		CC:          email.CcEmails,
		BCC:         email.BccEmails,
		Subject:     mailer.Subject(email.SubjectTemplate, p.From),
		Text:        text,
		HTML:        html,
		Attachments: attachments,
	}

	log.Ctx(ctx).InfoContext(ctx, "sending report", slog.Int("attachments", len(attachments)), slog.Any("to", msg.To))
	if err := r.transport.Send(ctx, msg); err != nil {
		return types.Delivery{}, err
	}
	log.Ctx(ctx).InfoContext(ctx, "report sent")

	return types.Delivery{
		InstallationID: r.cfg.Zaptec.InstallationID,
		Period:         p.Key,
		From:           p.From,
		To:             p.To,
		SessionCount:   len(sessions),
		TotalEnergyKWH: summary.Energy,
		Attachments:    names,
		Recipients:     msg.Recipients(),
		DeliveredAt:    r.now(),
	}, nil
}

func (r *Runner) cleanup(ctx context.Context, files []string) {
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Ctx(ctx).WarnContext(ctx, "failed to delete report file", slog.String("path", f), slog.Any("error", err))
		}
	}
}

func installationName(sessions []types.ChargeSession) string {
	if len(sessions) > 0 && sessions[0].InstallationName != "" {
		return sessions[0].InstallationName
	}
	return unknownInstallation
}
