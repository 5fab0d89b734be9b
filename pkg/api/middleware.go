package api

import (
	"bytes"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	httperrors "github.com/husmancristian/ta-collector/errors"

	"github.com/go-chi/chi/v5/middleware"
)

// maxLoggedBody caps how much of an error response is kept for the log line.
const maxLoggedBody = 2048

// responseWriterInterceptor captures the status code and the start of the response body.
type responseWriterInterceptor struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func newResponseWriterInterceptor(w http.ResponseWriter) *responseWriterInterceptor {
	return &responseWriterInterceptor{
		ResponseWriter: w,
		statusCode:     http.StatusOK, // Default to 200
		body:           new(bytes.Buffer),
	}
}

// WriteHeader captures the status code.
func (rwi *responseWriterInterceptor) WriteHeader(statusCode int) {
	rwi.statusCode = statusCode
	rwi.ResponseWriter.WriteHeader(statusCode)
}

// Write captures the response body and calls the underlying Write.
func (rwi *responseWriterInterceptor) Write(b []byte) (int, error) {
	if room := maxLoggedBody - rwi.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		rwi.body.Write(b[:room])
	}
	return rwi.ResponseWriter.Write(b)
}

// StructuredRequestLogger logs each request with slog. Error responses
// include the start of the response body.
func StructuredRequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			rwi := newResponseWriterInterceptor(ww)

			t1 := time.Now()
			defer func() {
				attrs := []any{
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
					slog.Int("status", rwi.statusCode),
					slog.Int("bytes_written", ww.BytesWritten()),
					slog.Duration("latency", time.Since(t1)),
				}
				if rwi.statusCode >= http.StatusBadRequest {
					attrs = append(attrs, slog.String("response_body", rwi.body.String()))
				}
				logger.Info("http request", attrs...)
			}()

			next.ServeHTTP(rwi, r)
		})
	}
}

// BearerAuth rejects requests without the expected bearer token. An empty
// token disables the check.
func BearerAuth(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				httperrors.Unauthorized(w, logger, "Missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
