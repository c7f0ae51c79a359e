package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	slogctx "github.com/veqryn/slog-context"

	"ocm.software/open-component-model/server/internal/errdefs"
)

// DefaultMaxBodySize limits request bodies accepted by the body parser.
const DefaultMaxBodySize = 10 << 20

// BodyParsing returns the middlewares that bound and type-check request bodies.
func BodyParsing(maxBytes int64) []Middleware {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	return []Middleware{
		middleware.RequestSize(maxBytes),
		middleware.AllowContentType("application/json", "application/x-www-form-urlencoded", "multipart/form-data", "text/plain"),
	}
}

// RequestLogger assigns a request ID and stores a request scoped logger in the
// request context, retrievable with slogctx.FromCtx.
func RequestLogger(base *slog.Logger) []Middleware {
	return []Middleware{
		middleware.RequestID,
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
				logger := base.With(
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				next.ServeHTTP(ww, r.WithContext(slogctx.NewCtx(r.Context(), logger)))
				logger.DebugContext(r.Context(), "request served", slog.Int("status", ww.Status()), slog.Int("bytes", ww.BytesWritten()))
			})
		},
	}
}

// DecodeJSON decodes the request body into v. Malformed bodies are client errors.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errdefs.NewStatusError(http.StatusBadRequest, fmt.Errorf("could not decode request body: %w", err))
	}
	return nil
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("could not encode response: %w", err)
	}
	return nil
}
