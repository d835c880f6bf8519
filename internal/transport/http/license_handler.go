package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	licerrors "posd/internal/errors"
	"posd/internal/infrastructure"
	"posd/internal/security"
	"posd/internal/services"
)

// ResetTokenHeader carries the shared support secret for trial resets.
const ResetTokenHeader = "X-Reset-Token"

var validate = validator.New()

// LicenseHandler handles license-related HTTP requests.
type LicenseHandler struct {
	service    services.LicenseService
	resetToken *security.ResetTokenVerifier
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewLicenseHandler creates a license handler. The limiter throttles
// activation attempts; resetToken guards the trial reset endpoint and a nil
// verifier disables it entirely.
func NewLicenseHandler(service services.LicenseService, resetToken *security.ResetTokenVerifier, limiter *rate.Limiter, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:    service,
		resetToken: resetToken,
		limiter:    limiter,
		logger:     logger.With(slog.String("handler", "license")),
	}
}

// ActivationRequest is the activation request payload.
type ActivationRequest struct {
	SerialNumber string `json:"serialNumber" validate:"required,min=16,max=32"`
	ComputerInfo string `json:"computerInfo,omitempty" validate:"omitempty,max=128"`
}

// Bind implements render.Binder.
func (a *ActivationRequest) Bind(r *http.Request) error {
	if err := validate.Struct(a); err != nil {
		return errors.New("serialNumber is required and must be between 16 and 32 characters")
	}
	return nil
}

// Routes returns the license router.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.GetStatus)
	r.Post("/activate", h.Activate)
	r.Post("/increment-transaction", h.IncrementTransaction)
	r.Post("/reset-trial", h.ResetTrial)

	return r
}

// GetStatus handles GET /api/license/status.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.service.GetStatus(ctx)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// Activate handles POST /api/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := h.traceID(r)

	if !h.limiter.Allow() {
		h.logger.WarnContext(ctx, "activation rate limit exceeded",
			slog.String("trace_id", traceID),
			slog.String("remote_addr", r.RemoteAddr),
		)
		render.Render(w, r, licerrors.NewProblemDetails(
			http.StatusTooManyRequests,
			"/errors/rate-limited",
			"Too Many Activation Attempts",
			"Activation attempts are rate limited. Please wait before retrying.",
			r.URL.Path,
		).WithExtension("trace_id", traceID))
		return
	}

	data := &ActivationRequest{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, licerrors.NewProblemDetails(
			http.StatusBadRequest,
			"/errors/invalid-request",
			"Invalid Activation Request",
			err.Error(),
			r.URL.Path,
		).WithExtension("trace_id", traceID))
		return
	}

	resp, err := h.service.Activate(ctx, data.SerialNumber, data.ComputerInfo)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// IncrementTransaction handles POST /api/license/increment-transaction. A
// trial-limit refusal renders 402 so the caller can prompt for activation
// instead of persisting the sale.
func (h *LicenseHandler) IncrementTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.service.IncrementTransaction(ctx)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// ResetTrial handles POST /api/license/reset-trial. Support tooling only.
func (h *LicenseHandler) ResetTrial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.Header.Get(ResetTokenHeader)
	if !h.resetToken.Verify(token) {
		h.logger.WarnContext(ctx, "trial reset rejected",
			slog.String("trace_id", h.traceID(r)),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Bool("token_present", token != ""),
		)
		h.renderError(w, r, licerrors.ErrResetForbidden)
		return
	}

	resp, err := h.service.ResetTrial(ctx)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

func (h *LicenseHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	render.Render(w, r, licerrors.MapLicenseError(err, h.traceID(r)))
}

func (h *LicenseHandler) traceID(r *http.Request) string {
	return infrastructure.TraceIDFromContext(r.Context())
}
