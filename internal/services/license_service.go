package services

import (
	"context"
	"log/slog"
	"time"

	"posd/internal/infrastructure"
	"posd/internal/license"
)

// unlimitedRemaining is the wire value for an unmetered transaction count.
const unlimitedRemaining = "unlimited"

// LicenseService provides business logic for license operations.
type LicenseService interface {
	GetStatus(ctx context.Context) (*StatusResponse, error)
	Activate(ctx context.Context, serialNumber, computerInfo string) (*ActivateResponse, error)
	IncrementTransaction(ctx context.Context) (*IncrementResponse, error)
	ResetTrial(ctx context.Context) (*ResetResponse, error)
}

// StatusResponse is the wire shape of a license status snapshot. Remaining
// is the string "unlimited" for activated and grace-period licenses and a
// number otherwise.
type StatusResponse struct {
	Status            string     `json:"status"`
	TotalTransactions int        `json:"totalTransactions"`
	Remaining         any        `json:"remaining"`
	Activated         bool       `json:"activated"`
	SerialNumber      string     `json:"serialNumber,omitempty"`
	HardwareID        string     `json:"hardwareId,omitempty"`
	ActivationDate    *time.Time `json:"activationDate,omitempty"`
	Temporary         bool       `json:"temporary"`
	Expires           *time.Time `json:"expires,omitempty"`
	TraceID           string     `json:"traceId,omitempty"`
}

// IncrementResponse reports a recorded transaction. Status is the
// post-increment license state, so POS clients can tell from the reply alone
// whether they are still metered.
type IncrementResponse struct {
	Success           bool   `json:"success"`
	TotalTransactions int    `json:"totalTransactions"`
	Remaining         any    `json:"remaining"`
	Status            string `json:"status"`
	WarningLevel      string `json:"warningLevel,omitempty"`
	Warning           string `json:"warning,omitempty"`
}

// ActivateResponse reports a completed activation.
type ActivateResponse struct {
	Success      bool       `json:"success"`
	SerialNumber string     `json:"serialNumber"`
	HardwareID   string     `json:"hardwareId"`
	Type         string     `json:"type,omitempty"`
	Temporary    bool       `json:"temporary"`
	Expires      *time.Time `json:"expires,omitempty"`
	Message      string     `json:"message"`
}

// ResetResponse reports a trial counter reset.
type ResetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type licenseService struct {
	engine *license.Engine
	logger *slog.Logger
}

// NewLicenseService wires the service over the activation engine.
func NewLicenseService(engine *license.Engine, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		engine: engine,
		logger: logger.With(slog.String("service", "license")),
	}
}

func (s *licenseService) GetStatus(ctx context.Context) (*StatusResponse, error) {
	traceID := traceIDFrom(ctx)

	info, err := s.engine.GetStatus(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "license status check failed",
			slog.String("trace_id", traceID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.DebugContext(ctx, "license status check completed",
		slog.String("trace_id", traceID),
		slog.String("status", info.Status),
		slog.Int("total_transactions", info.TotalTransactions),
	)

	return &StatusResponse{
		Status:            info.Status,
		TotalTransactions: info.TotalTransactions,
		Remaining:         remainingValue(info.Remaining),
		Activated:         info.Activated,
		SerialNumber:      info.SerialNumber,
		HardwareID:        info.HardwareID,
		ActivationDate:    info.ActivationDate,
		Temporary:         info.Temporary,
		Expires:           info.Expires,
		TraceID:           traceID,
	}, nil
}

func (s *licenseService) Activate(ctx context.Context, serialNumber, computerInfo string) (*ActivateResponse, error) {
	traceID := traceIDFrom(ctx)
	s.logger.InfoContext(ctx, "license activation requested",
		slog.String("trace_id", traceID),
		slog.String("serial_number", license.MaskSerial(serialNumber)),
	)

	result, err := s.engine.ActivateLicense(ctx, serialNumber, computerInfo)
	if err != nil {
		s.logger.WarnContext(ctx, "license activation failed",
			slog.String("trace_id", traceID),
			slog.String("serial_number", license.MaskSerial(serialNumber)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return &ActivateResponse{
		Success:      true,
		SerialNumber: result.SerialNumber,
		HardwareID:   result.HardwareID,
		Type:         result.LicenseType,
		Temporary:    result.Temporary,
		Expires:      result.Expires,
		Message:      result.Message,
	}, nil
}

func (s *licenseService) IncrementTransaction(ctx context.Context) (*IncrementResponse, error) {
	result, err := s.engine.IncrementTransaction(ctx)
	if err != nil {
		return nil, err
	}

	resp := &IncrementResponse{
		Success:           true,
		TotalTransactions: result.TotalTransactions,
		Remaining:         remainingValue(result.Remaining),
		Status:            result.Status,
		WarningLevel:      result.WarningLevel,
	}
	if result.WarningLevel != license.WarningNone {
		resp.Warning = warningMessage(result.Remaining)
	}
	return resp, nil
}

func (s *licenseService) ResetTrial(ctx context.Context) (*ResetResponse, error) {
	traceID := traceIDFrom(ctx)
	s.logger.WarnContext(ctx, "trial reset requested",
		slog.String("trace_id", traceID),
	)

	if err := s.engine.ResetTrialCounter(ctx); err != nil {
		return nil, err
	}
	return &ResetResponse{
		Success: true,
		Message: "Trial counter reset; license state reverted to fresh trial",
	}, nil
}

func remainingValue(remaining int) any {
	if remaining < 0 {
		return unlimitedRemaining
	}
	return remaining
}

func warningMessage(remaining int) string {
	switch remaining {
	case 0:
		return "Trial limit reached. Activate a license to continue creating transactions."
	case 1:
		return "Only 1 trial transaction remaining. Activate a license to continue."
	default:
		return "Trial transactions running low. Activate a license to avoid interruption."
	}
}

func traceIDFrom(ctx context.Context) string {
	return infrastructure.TraceIDFromContext(ctx)
}
