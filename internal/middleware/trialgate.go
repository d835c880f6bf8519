package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	licerrors "posd/internal/errors"
	"posd/internal/infrastructure"
	"posd/internal/services"
)

// Headers the gate attaches to gated responses so POS clients can surface
// trial warnings without a second status call.
const (
	RemainingHeader    = "X-Trial-Remaining"
	WarningLevelHeader = "X-Trial-Warning"
)

// TrialGate increments the transaction counter before the wrapped handler
// runs. A trial-limit refusal aborts the request with a 402 problem, so the
// transaction-creation route behind it never persists a sale past the limit.
type TrialGate struct {
	service services.LicenseService
	logger  *slog.Logger
	enabled bool
}

// NewTrialGate creates the gate middleware.
func NewTrialGate(service services.LicenseService, logger *slog.Logger) *TrialGate {
	return &TrialGate{
		service: service,
		logger:  logger.With(slog.String("component", "trial_gate")),
		enabled: true,
	}
}

// SetEnabled toggles enforcement. Disabled, the gate passes requests through
// untouched; used by tests and support tooling.
func (g *TrialGate) SetEnabled(enabled bool) {
	g.enabled = enabled
}

// Handler returns the middleware function for chi.Use.
func (g *TrialGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.enabled {
			next.ServeHTTP(w, r)
			return
		}

		result, err := g.service.IncrementTransaction(r.Context())
		if err != nil {
			traceID := infrastructure.TraceIDFromContext(r.Context())
			g.logger.WarnContext(r.Context(), "transaction gated",
				slog.String("trace_id", traceID),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			render.Render(w, r, licerrors.MapLicenseError(err, traceID))
			return
		}

		w.Header().Set(RemainingHeader, fmt.Sprintf("%v", result.Remaining))
		if result.WarningLevel != "" {
			w.Header().Set(WarningLevelHeader, result.WarningLevel)
		}
		next.ServeHTTP(w, r)
	})
}
