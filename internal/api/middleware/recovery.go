package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/bulkimport/bulkimport/internal/api/models"
)

// PanicReporter forwards recovered panics, e.g. to Sentry.
type PanicReporter interface {
	CaptureUnexpected(ctx context.Context, msg string, tags map[string]string)
}

// Recovery turns a handler panic into a 500 problem. The panic and its stack
// are logged and, with a reporter, captured with the request id and the
// addressed route. http.ErrAbortHandler is re-raised for net/http.
func Recovery(log zerolog.Logger, reporter PanicReporter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				requestID := GetRequestID(r.Context())
				stack := string(debug.Stack())
				log.Error().
					Str("request_id", requestID).
					Str("route", routePattern(r)).
					Interface("error", rec).
					Str("stack", stack).
					Msg("panic recovered")

				if reporter != nil {
					tags := map[string]string{
						"request_id": requestID,
						"route":      routePattern(r),
						"method":     r.Method,
					}
					for _, kv := range routeTask(r) {
						tags[string(kv.Key)] = kv.Value.AsString()
					}
					reporter.CaptureUnexpected(r.Context(), fmt.Sprintf("Panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, stack), tags)
				}

				problem := models.NewInternalError(requestID, "an unexpected error occurred")
				problem.Instance = r.URL.Path
				problem.Write(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
