// Package schedule delivers the previous month's report in the background,
// either in the foreground of the process or installed as an OS service.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kardianos/service"
	"github.com/levenlabs/go-lflag"

	"github.com/chargereport/chargereport/pkg/log"
	"github.com/chargereport/chargereport/pkg/report"
)

const (
	DefaultInterval = 6 * time.Hour

	serviceName = "chargereport"
)

// Deliverer runs reports and knows which periods were already delivered.
type Deliverer interface {
	Delivered(ctx context.Context, p report.Period) (bool, error)
	Run(ctx context.Context, req report.Request) (report.Result, error)
}

// Service implements service.Interface. Every tick it delivers the previous
// month unless the ledger already has it.
type Service struct {
	runner    Deliverer
	interval  time.Duration
	outputDir string
	format    report.Format
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

var _ service.Interface = (*Service)(nil)

type Option func(*Service)

func WithInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithOutputDir(dir string) Option {
	return func(s *Service) { s.outputDir = dir }
}

func WithFormat(f report.Format) Option {
	return func(s *Service) { s.format = f }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(runner Deliverer, opts ...Option) *Service {
	s := &Service{
		runner:   runner,
		interval: DefaultInterval,
		format:   report.FormatBoth,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured returns a Service whose interval comes from flags.
func Configured(runner Deliverer) *Service {
	interval := lflag.Duration("schedule-interval", DefaultInterval, "How often the service checks whether last month's report was delivered")

	s := New(runner)
	lflag.Do(func() {
		WithInterval(*interval)(s)
	})
	return s
}

// Tick delivers the previous month if it was not delivered yet.
func (s *Service) Tick(ctx context.Context) error {
	p := report.PreviousMonth(s.now())
	ctx = log.WithAttrs(ctx, slog.String("period", p.Key))

	delivered, err := s.runner.Delivered(ctx, p)
	if err != nil {
		return fmt.Errorf("failed to check delivery: %w", err)
	}
	if delivered {
		log.Ctx(ctx).DebugContext(ctx, "report already delivered")
		return nil
	}

	log.Ctx(ctx).InfoContext(ctx, "delivering report", slog.String("from", p.From.Format(time.DateOnly)), slog.String("to", p.To.Format(time.DateOnly)))
	res, err := s.runner.Run(ctx, report.Request{
		Period:    p,
		Kind:      report.KindDetailed,
		Format:    s.format,
		OutputDir: s.outputDir,
		Email:     true,
	})
	if err != nil {
		return err
	}
	if !res.Sent {
		log.Ctx(ctx).InfoContext(ctx, "nothing delivered", slog.Int("sessions", res.Sessions))
	}
	return nil
}

// Loop ticks immediately and then every interval until ctx is done. Failed
// ticks are logged and retried on the next tick.
func (s *Service) Loop(ctx context.Context) {
	tick := func() {
		if err := s.Tick(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "scheduled delivery failed", slog.Any("error", err))
		}
	}
	tick()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tick()
		case <-ctx.Done():
			return
		}
	}
}

// Start implements service.Interface. It must not block.
func (s *Service) Start(svc service.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("service already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go func() {
		defer close(done)
		s.Loop(ctx)
	}()
	return nil
}

// Stop implements service.Interface and waits for a running tick to finish.
func (s *Service) Stop(svc service.Service) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Control performs a service manager action: install, uninstall, start,
// stop, status or run. args are the arguments the installed service is
// started with.
func (s *Service) Control(action string, args []string) (string, error) {
	svc, err := service.New(s, &service.Config{
		Name:        serviceName,
		DisplayName: "ChargeReport",
		Description: "Delivers the monthly Zaptec charging report by e-mail",
		Arguments:   args,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create service: %w", err)
	}

	switch action {
	case "install":
		if err := svc.Install(); err != nil {
			return "", fmt.Errorf("failed to install service: %w", err)
		}
		return "service installed", nil
	case "uninstall":
		_ = svc.Stop()
		if err := svc.Uninstall(); err != nil {
			return "", fmt.Errorf("failed to uninstall service: %w", err)
		}
		return "service uninstalled", nil
	case "start":
		if err := svc.Start(); err != nil {
			return "", fmt.Errorf("failed to start service: %w", err)
		}
		return "service started", nil
	case "stop":
		if err := svc.Stop(); err != nil {
			return "", fmt.Errorf("failed to stop service: %w", err)
		}
		return "service stopped", nil
	case "status":
		st, err := svc.Status()
		if err != nil {
			return "", fmt.Errorf("failed to get service status: %w", err)
		}
		return "service " + statusString(st), nil
	case "run":
		if err := svc.Run(); err != nil {
			return "", fmt.Errorf("service failed: %w", err)
		}
		return "", nil
	}
	return "", fmt.Errorf("unknown service action: %s", action)
}

func statusString(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	}
	return "status unknown"
}
