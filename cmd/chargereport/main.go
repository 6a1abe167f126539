package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"

	"github.com/chargereport/chargereport/pkg/config"
	"github.com/chargereport/chargereport/pkg/log"
	"github.com/chargereport/chargereport/pkg/mailer"
	"github.com/chargereport/chargereport/pkg/report"
	"github.com/chargereport/chargereport/pkg/schedule"
	"github.com/chargereport/chargereport/pkg/server"
	"github.com/chargereport/chargereport/pkg/storage"
	"github.com/chargereport/chargereport/pkg/zaptec"
)

const defaultConfigPath = "appsettings.json"

func main() {
	configPath := lflag.String("config", defaultConfigPath, "Settings file (.json, .yaml or .yml)")
	envFile := lflag.String("env-file", ".env", "File with environment variables loaded before the settings")
	mode := lflag.String("mode", "run", "run (one report), service (scheduled e-mail delivery) or serve (HTTP endpoint)")
	period := lflag.String("period", report.LastMonth, "Report period: last-month, current-month or YYYY-MM")
	kind := lflag.String("report", string(report.KindDetailed), "Report kind: summary or detailed")
	format := lflag.String("format", string(report.FormatBoth), "Documents to render: xlsx, pdf, both or none")
	outputDir := lflag.String("output-dir", "", "Directory the documents are written to")
	templatePath := lflag.String("template", report.DefaultTemplate, "Spreadsheet template")
	email := lflag.Bool("email", false, "E-mail the rendered documents and delete them afterwards")
	serviceAction := lflag.String("service-action", "", "Service manager action in service mode: install, uninstall, start, stop, status or run")

	// init packages
	zc := zaptec.Configured()
	ledger := storage.Configured()

	// filled in once the settings are loaded
	var runner report.Runner
	srv := server.Configured(&runner)
	sched := schedule.Configured(&runner)

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level, err := log.LevelFromLLog(llog.GetLevel())
	if err != nil {
		panic(err)
	}
	log.SetDefaultLogLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	defer func() {
		if err := ledger.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	path := *configPath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && path == defaultConfigPath {
		// settings may come from the environment alone
		path = ""
	}
	cfg, err := config.Load(path, *envFile)
	if err != nil {
		fatal(ctx, "failed to load config", err)
	}
	zaptec.WithBaseURL(cfg.Zaptec.APIBaseURL)(zc)

	opts := []report.Option{
		report.WithLedger(ledger),
		report.WithTemplate(*templatePath),
		report.WithTransport(mailer.NewSendGrid(cfg.Email.SendGridAPIKey, cfg.Email.SendGridHost)),
	}
	if *mode == "run" {
		opts = append(opts, report.WithOutput(os.Stdout))
	}
	runner = *report.NewRunner(zc, *cfg, opts...)

	switch *mode {
	case "run":
		req, err := buildRequest(*period, *kind, *format, *outputDir, *email)
		if err != nil {
			fatal(ctx, "invalid arguments", err)
		}
		res, err := runner.Run(ctx, req)
		if err != nil {
			fatal(ctx, "report failed", err)
		}
		log.Ctx(ctx).InfoContext(ctx, "report finished",
			slog.String("runID", res.RunID),
			slog.Int("sessions", res.Sessions),
			slog.Any("files", res.Files),
			slog.Bool("sent", res.Sent),
		)

	case "service":
		f, err := report.ParseFormat(*format)
		if err != nil {
			fatal(ctx, "invalid arguments", err)
		}
		schedule.WithFormat(f)(sched)
		schedule.WithOutputDir(outputDirOrDefault(*outputDir, true))(sched)

		if *serviceAction == "" {
			sched.Loop(ctx)
			return
		}
		msg, err := sched.Control(*serviceAction, serviceArgs(os.Args[1:]))
		if err != nil {
			fatal(ctx, "service action failed", err)
		}
		if msg != "" {
			fmt.Println(msg)
		}

	case "serve":
		// Run will block until context is canceled or error happens
		if err := srv.Run(ctx); err != nil {
			fatal(ctx, "server failed", err)
		}
		log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")

	default:
		fatal(ctx, "invalid arguments", fmt.Errorf("unknown mode: %s", *mode))
	}
}

func buildRequest(period, kind, format, outputDir string, email bool) (report.Request, error) {
	p, err := report.ParsePeriod(period, time.Now())
	if err != nil {
		return report.Request{}, err
	}
	k, err := report.ParseKind(kind)
	if err != nil {
		return report.Request{}, err
	}
	f, err := report.ParseFormat(format)
	if err != nil {
		return report.Request{}, err
	}
	return report.Request{
		Period:    p,
		Kind:      k,
		Format:    f,
		OutputDir: outputDirOrDefault(outputDir, email),
		Email:     email,
	}, nil
}

// outputDirOrDefault picks the temp directory for documents that are
// e-mailed and deleted, and ~/Documents for everything else.
func outputDirOrDefault(dir string, temporary bool) string {
	if dir != "" || temporary {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	docs := filepath.Join(home, "Documents")
	if st, err := os.Stat(docs); err == nil && st.IsDir() {
		return docs
	}
	return home
}

// serviceArgs are the arguments the installed service is started with: the
// current ones with the service action replaced by run.
func serviceArgs(args []string) []string {
	out := make([]string, 0, len(args)+1)
	for i := 0; i < len(args); i++ {
		a := args[i]
		name := strings.TrimLeft(a, "-")
		if name == "service-action" {
			// value is the next argument
			i++
			continue
		}
		if strings.HasPrefix(name, "service-action=") {
			continue
		}
		out = append(out, a)
	}
	return append(out, "--service-action=run")
}

func fatal(ctx context.Context, msg string, err error) {
	log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
	os.Exit(1)
}
