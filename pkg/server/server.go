package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"

	"github.com/chargereport/chargereport/pkg/log"
	"github.com/chargereport/chargereport/pkg/report"
	"github.com/chargereport/chargereport/pkg/types"
)

// tokenVerifier validates an OIDC ID token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Reports is what the HTTP endpoints serve documents from.
type Reports interface {
	Sessions(ctx context.Context, from, to time.Time) ([]types.ChargeSession, error)
	Generate(ctx context.Context, from, to time.Time, format report.Format, w io.Writer) error
	Pricing() types.Pricing
}

// Server serves charging data and rendered reports on demand.
type Server struct {
	reports Reports

	listenAddr string
	httpServer *http.Server

	verifier   tokenVerifier
	serverName string
	now        func() time.Time
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(reports Reports) *Server {
	srv := &Server{
		reports:    reports,
		serverName: "chargereport",
		now:        time.Now,
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	oidcIssuer := lflag.String("oidc-issuer", "", "Issuer of the ID tokens accepted as bearer tokens (e.g. https://accounts.google.com)")
	oidcAudience := lflag.String("oidc-audience", "", "Audience the ID tokens must be issued for")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *oidcIssuer == "" && *oidcAudience == "" {
			return
		}
		if *oidcIssuer == "" || *oidcAudience == "" {
			log.Ctx(context.Background()).Error("oidc-issuer and oidc-audience must be set together")
			os.Exit(1)
		}
		provider, err := oidc.NewProvider(context.Background(), *oidcIssuer)
		if err != nil {
			log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("issuer", *oidcIssuer), slog.Any("error", err))
			os.Exit(1)
		}
		srv.verifier = provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/sessions", s.handleSessions)
	apiMux.HandleFunc("GET /api/report.pdf", s.handleReport(report.FormatPDF))
	apiMux.HandleFunc("GET /api/report.xlsx", s.handleReport(report.FormatXLSX))

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
