package api

import (
	"context"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"taskflow/internal/auth"
	"taskflow/pkg/types"
)

type contextKey int

const identityKey contextKey = iota

// IdentityFrom returns the authenticated caller stored by the auth middleware
func IdentityFrom(ctx context.Context) (types.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(types.Identity)
	return identity, ok
}

// corsMiddleware enables browser clients on other origins
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs method, path, status and duration of each request
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.Debug("handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", m.Code),
			zap.Duration("duration", m.Duration))
	})
}

// authMiddleware verifies the bearer credential with the same verifier the
// realtime gateway uses
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.verifier.Verify(auth.TokenFromRequest(r))
		if err != nil {
			sendError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}

// rateLimitMiddleware limits mutating requests per authenticated user
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
			identity, _ := IdentityFrom(r.Context())
			if !s.limiter.Allow(identity.UserID) {
				sendError(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// orgMiddleware guards every /api/orgs/{orgId} route with a membership check
func (s *Server) orgMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFrom(r.Context())
		orgID := mux.Vars(r)["orgId"]

		if _, err := s.tracker.RequireMember(r.Context(), orgID, identity.UserID); err != nil {
			s.sendDomainError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestFields(r *http.Request, err error) []zap.Field {
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	}
	if identity, ok := IdentityFrom(r.Context()); ok {
		fields = append(fields, zap.String("user_id", identity.UserID))
	}
	return fields
}
