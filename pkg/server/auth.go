package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/chargereport/chargereport/pkg/log"
)

// authMiddleware requires a valid bearer ID token when a verifier is
// configured. Without one every request is allowed.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		if s.verifier == nil {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSONError(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
			writeJSONError(w, "invalid auth header", http.StatusUnauthorized)
			return
		}

		idToken, err := s.verifier(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid token", http.StatusUnauthorized)
			return
		}
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("subject", idToken.Subject)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
