package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// License-specific sentinel errors. Handlers and the service layer match on
// these with errors.Is; the engine wraps them with operation context.
var (
	ErrInvalidFormat           = errors.New("invalid serial number format")
	ErrInvalidChecksum         = errors.New("invalid serial number checksum")
	ErrSerialNotFound          = errors.New("serial number not found")
	ErrMaxInstallationsReached = errors.New("maximum installations reached")
	ErrActivationFailed        = errors.New("activation failed")
	ErrTrialLimitReached       = errors.New("trial transaction limit reached")
	ErrResetForbidden          = errors.New("trial reset not permitted")
)

// Wire-level error codes shared with the licensing server and API clients.
const (
	CodeInvalidFormat           = "INVALID_FORMAT"
	CodeInvalidChecksum         = "INVALID_CHECKSUM"
	CodeSerialNotFound          = "SN_NOT_FOUND"
	CodeMaxInstallationsReached = "MAX_INSTALLATIONS_REACHED"
	CodeTrialLimitReached       = "TRIAL_LIMIT_REACHED"
	CodeActivationFailed        = "ACTIVATION_FAILED"
	CodeInternalError           = "INTERNAL_ERROR"
)

// Code returns the wire-level error code for a license error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidFormat):
		return CodeInvalidFormat
	case errors.Is(err, ErrInvalidChecksum):
		return CodeInvalidChecksum
	case errors.Is(err, ErrSerialNotFound):
		return CodeSerialNotFound
	case errors.Is(err, ErrMaxInstallationsReached):
		return CodeMaxInstallationsReached
	case errors.Is(err, ErrTrialLimitReached):
		return CodeTrialLimitReached
	case errors.Is(err, ErrActivationFailed):
		return CodeActivationFailed
	default:
		return CodeInternalError
	}
}

// MaxInstallationsError carries the installation list the licensing server
// returned alongside a MAX_INSTALLATIONS_REACHED refusal.
type MaxInstallationsError struct {
	Installations []Installation
}

// Installation describes one machine a serial is already activated on.
type Installation struct {
	HardwareID    string `json:"hardware_id"`
	ComputerInfo  string `json:"computer_info,omitempty"`
	ActivatedDate string `json:"activated_date,omitempty"`
}

func (e *MaxInstallationsError) Error() string {
	return fmt.Sprintf("maximum installations reached (%d existing)", len(e.Installations))
}

// Unwrap lets errors.Is(err, ErrMaxInstallationsReached) match.
func (e *MaxInstallationsError) Unwrap() error {
	return ErrMaxInstallationsReached
}

// MapLicenseError maps domain errors to HTTP problem details
func MapLicenseError(err error, traceID string) render.Renderer {
	instance := fmt.Sprintf("/api/license#trace-%s", traceID)

	switch {
	case errors.Is(err, ErrInvalidFormat):
		return NewProblemDetails(
			http.StatusBadRequest,
			"/errors/invalid-serial-format",
			"Invalid Serial Number Format",
			"Serial number must be in format: POS-YYYY-XXXXXX-CCCC",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INVALID_FORMAT").
			WithExtension("expected_format", "POS-YYYY-XXXXXX-CCCC")

	case errors.Is(err, ErrInvalidChecksum):
		return NewProblemDetails(
			http.StatusBadRequest,
			"/errors/invalid-serial-checksum",
			"Invalid Serial Number Checksum",
			"The serial number checksum does not match. Please verify the key was entered correctly.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INVALID_CHECKSUM")

	case errors.Is(err, ErrSerialNotFound):
		return NewProblemDetails(
			http.StatusNotFound,
			"/errors/serial-not-found",
			"Serial Number Not Found",
			"This serial number is not known to the licensing service.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "SN_NOT_FOUND")

	case errors.Is(err, ErrMaxInstallationsReached):
		problem := NewProblemDetails(
			http.StatusConflict,
			"/errors/max-installations-reached",
			"Maximum Installations Reached",
			"This serial number is already activated on the maximum number of machines. Contact support to transfer the license.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "MAX_INSTALLATIONS_REACHED").
			WithExtension("support_email", "support@possuite.io")

		var maxErr *MaxInstallationsError
		if errors.As(err, &maxErr) && len(maxErr.Installations) > 0 {
			problem.WithExtension("installations", maxErr.Installations).
				WithExtension("installation_count", len(maxErr.Installations))
		}
		return problem

	case errors.Is(err, ErrTrialLimitReached):
		return NewProblemDetails(
			http.StatusPaymentRequired,
			"/errors/trial-limit-reached",
			"Trial Limit Reached",
			"The trial transaction limit has been reached. Activate a license to continue creating transactions.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "TRIAL_LIMIT_REACHED")

	case errors.Is(err, ErrResetForbidden):
		return NewProblemDetails(
			http.StatusForbidden,
			"/errors/reset-forbidden",
			"Trial Reset Not Permitted",
			"Resetting the trial counter requires a valid support token.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "RESET_FORBIDDEN")

	case errors.Is(err, ErrActivationFailed):
		return NewProblemDetails(
			http.StatusUnprocessableEntity,
			"/errors/activation-failed",
			"License Activation Failed",
			"Unable to activate the license. Please verify the serial number and try again.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "ACTIVATION_FAILED")

	case errors.Is(err, context.DeadlineExceeded):
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			"/errors/timeout",
			"Request Timeout",
			"The request timed out while processing. Please try again.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "TIMEOUT")

	default:
		// Generic failure: never leak raw internal error text.
		return NewProblemDetails(
			http.StatusInternalServerError,
			"/errors/internal-error",
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INTERNAL_ERROR")
	}
}
