package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kiranshivaraju/podpilot/internal/api/response"
	"github.com/kiranshivaraju/podpilot/internal/metrics"
)

// Recovery turns a handler panic into a 500 INTERNAL_ERROR. A handler that
// already started its response keeps it; http.ErrAbortHandler is re-raised.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}

		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}

			metrics.HTTPPanicsTotal.Inc()
			slog.Error("handler panic",
				"panic", v,
				"method", r.Method,
				"route", routePattern(r),
				"stack", string(debug.Stack()),
			)
			if rec.status == 0 {
				response.Error(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
		}()

		next.ServeHTTP(rec, r)
	})
}
