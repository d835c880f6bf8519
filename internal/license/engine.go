package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	licerrors "posd/internal/errors"
	"posd/internal/security"
)

// Warning levels attached to trial increments as the counter approaches the
// limit.
const (
	WarningNone     = ""
	WarningMedium   = "medium"
	WarningHigh     = "high"
	WarningCritical = "critical"
)

// License status values reported by GetStatus.
const (
	StateActivated = "activated"
	StateTemporary = "temporary"
	StateTrial     = "trial"
)

// RemoteValidator is the license server contract the engine depends on.
// *Client satisfies it; tests substitute fakes.
type RemoteValidator interface {
	Validate(ctx context.Context, req ValidateRequest) (*ValidateResponse, error)
	Activate(ctx context.Context, req ValidateRequest) (*ActivateResponse, error)
}

// Fingerprinter produces the device identity bound to activations.
type Fingerprinter interface {
	GenerateFingerprint() *security.DeviceFingerprint
}

// StatusInfo is the status snapshot returned by GetStatus. Remaining is -1
// when transactions are unlimited.
type StatusInfo struct {
	Status            string
	TotalTransactions int
	Remaining         int
	Activated         bool
	SerialNumber      string
	HardwareID        string
	ActivationDate    *time.Time
	Temporary         bool
	Expires           *time.Time
}

// Unlimited reports whether the license permits unmetered transactions.
func (s *StatusInfo) Unlimited() bool { return s.Remaining < 0 }

// IncrementResult reports a successful transaction increment. Status carries
// the post-increment license state so callers can tell a trial increment from
// an activated one without a second status call.
type IncrementResult struct {
	TotalTransactions int
	Remaining         int
	WarningLevel      string
	Status            string
}

// Unlimited reports whether the increment was made under an active license.
func (r *IncrementResult) Unlimited() bool { return r.Remaining < 0 }

// ActivationResult reports a successful activation, online or offline.
type ActivationResult struct {
	SerialNumber string
	HardwareID   string
	LicenseType  string
	Temporary    bool
	Expires      *time.Time
	Message      string
}

// validationOutcome is the internal result of either validation protocol.
type validationOutcome struct {
	licenseType string
	temporary   bool
	expires     *time.Time
	message     string
}

// EngineConfig carries the engine's tunables.
type EngineConfig struct {
	TrialLimit  int
	GracePeriod time.Duration
}

// Engine implements the activation protocol: serial verification, online
// validation with unconditional offline fallback, and the trial transaction
// gate. It holds no license state of its own; every call reads the store.
type Engine struct {
	cfg         EngineConfig
	codec       *SerialCodec
	store       *Store
	client      RemoteValidator
	fingerprint Fingerprinter
	metrics     *Metrics
	logger      *slog.Logger

	// now is swapped in tests to pin grace expiry times.
	now func() time.Time
}

// NewEngine wires the activation engine. metrics may be nil.
func NewEngine(cfg EngineConfig, codec *SerialCodec, store *Store, client RemoteValidator, fingerprint Fingerprinter, metrics *Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		codec:       codec,
		store:       store,
		client:      client,
		fingerprint: fingerprint,
		metrics:     metrics,
		logger:      logger.With(slog.String("component", "license-engine")),
		now:         time.Now,
	}
}

// GetStatus derives the current license status from the store.
func (e *Engine) GetStatus(ctx context.Context) (*StatusInfo, error) {
	counter, err := e.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read license state: %w", err)
	}

	info := &StatusInfo{
		TotalTransactions: counter.TotalTransactions,
		SerialNumber:      counter.SerialNumber,
		HardwareID:        counter.HardwareID,
		ActivationDate:    counter.ActivationDate,
	}

	switch info.Status = e.state(counter); info.Status {
	case StateTemporary:
		info.Activated = true
		info.Temporary = true
		info.Expires = counter.TemporaryUntil
		info.Remaining = -1
	case StateActivated:
		info.Activated = true
		info.Remaining = -1
	default:
		info.Remaining = remaining(e.cfg.TrialLimit, counter.TotalTransactions)
	}
	return info, nil
}

// state derives the reported license state from a counter row. A running
// grace period wins over the activated flag so offline grants report as
// temporary until reconciliation settles them.
func (e *Engine) state(counter *TransactionCounter) string {
	switch {
	case counter.TemporaryUntil != nil && counter.TemporaryUntil.After(e.now()):
		return StateTemporary
	case counter.LicenseStatus == StatusActivated:
		return StateActivated
	default:
		return StateTrial
	}
}

// IncrementTransaction records one transaction. In trial mode the increment
// is refused with ErrTrialLimitReached once the limit is reached; an
// activated license increments without bound. The refusal never changes the
// counter, so concurrent calls at the boundary cannot overshoot.
func (e *Engine) IncrementTransaction(ctx context.Context) (*IncrementResult, error) {
	counter, err := e.store.IncrementAndGet(ctx, e.cfg.TrialLimit)
	if err != nil {
		if errors.Is(err, licerrors.ErrTrialLimitReached) {
			e.metrics.RecordIncrement(ctx, true)
			e.logger.WarnContext(ctx, "transaction refused at trial limit",
				slog.Int("trial_limit", e.cfg.TrialLimit),
			)
		}
		return nil, err
	}
	e.metrics.RecordIncrement(ctx, false)

	result := &IncrementResult{
		TotalTransactions: counter.TotalTransactions,
		Status:            e.state(counter),
	}
	if result.Status != StateTrial {
		result.Remaining = -1
		return result, nil
	}

	result.Remaining = remaining(e.cfg.TrialLimit, counter.TotalTransactions)
	result.WarningLevel = warningLevel(result.Remaining)
	if result.WarningLevel != WarningNone {
		e.logger.InfoContext(ctx, "trial transactions running low",
			slog.Int("remaining", result.Remaining),
			slog.String("warning_level", result.WarningLevel),
		)
	}
	return result, nil
}

// ActivateLicense verifies the serial locally, validates it online with an
// unconditional offline fallback on transport failure, and persists the
// resulting activation. Format and checksum failures return before any
// fingerprint, network or store work happens.
func (e *Engine) ActivateLicense(ctx context.Context, serialNumber, computerInfo string) (*ActivationResult, error) {
	start := e.now()

	if !e.codec.IsValidFormat(serialNumber) {
		e.metrics.RecordActivation(ctx, start, "invalid_format", licerrors.ErrInvalidFormat)
		return nil, licerrors.ErrInvalidFormat
	}
	if !e.codec.IsValidChecksum(serialNumber) {
		e.metrics.RecordActivation(ctx, start, "invalid_checksum", licerrors.ErrInvalidChecksum)
		return nil, licerrors.ErrInvalidChecksum
	}

	fp := e.fingerprint.GenerateFingerprint()
	e.logger.InfoContext(ctx, "activating license",
		slog.String("serial_number", MaskSerial(serialNumber)),
		slog.String("hardware_id", fp.Fingerprint),
		slog.Bool("basic_fingerprint", fp.Basic),
	)

	req := ValidateRequest{
		SerialNumber: serialNumber,
		HardwareID:   fp.Fingerprint,
		ComputerInfo: computerInfo,
	}

	outcome, err := e.validateOnline(ctx, req)
	if err != nil {
		if !IsTransportError(err) {
			// An authoritative server refusal is final; it never degrades
			// into an offline grant.
			e.metrics.RecordActivation(ctx, start, "refused", err)
			return nil, err
		}
		e.logger.WarnContext(ctx, "license server unreachable, falling back to offline validation",
			slog.String("error", err.Error()),
		)
		outcome, err = e.validateOffline(ctx, req)
		if err != nil {
			e.metrics.RecordActivation(ctx, start, "offline_failed", err)
			return nil, err
		}
		e.metrics.RecordOfflineFallback(ctx, outcome.temporary)
	}

	if err := e.store.SetActivated(ctx, serialNumber, fp.Fingerprint, outcome.expires); err != nil {
		e.metrics.RecordActivation(ctx, start, "persist_failed", err)
		return nil, fmt.Errorf("persist activation: %w", err)
	}

	result := &ActivationResult{
		SerialNumber: serialNumber,
		HardwareID:   fp.Fingerprint,
		LicenseType:  outcome.licenseType,
		Temporary:    outcome.temporary,
		Expires:      outcome.expires,
		Message:      outcome.message,
	}
	e.metrics.RecordActivation(ctx, start, activationOutcomeLabel(outcome), nil)
	e.logger.InfoContext(ctx, "license activated",
		slog.String("serial_number", MaskSerial(serialNumber)),
		slog.Bool("temporary", outcome.temporary),
		slog.String("license_type", outcome.licenseType),
	)
	return result, nil
}

// ResetTrialCounter reverts the store to a fresh trial state. Access control
// is the caller's responsibility.
func (e *Engine) ResetTrialCounter(ctx context.Context) error {
	if err := e.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset license state: %w", err)
	}
	e.logger.WarnContext(ctx, "trial counter reset")
	return nil
}

// validateOnline runs the validate/activate exchange with the license
// server. Transport failures come back as *TransportError so the caller can
// fall back; server refusals come back as protocol errors.
func (e *Engine) validateOnline(ctx context.Context, req ValidateRequest) (*validationOutcome, error) {
	resp, err := e.client.Validate(ctx, req)
	if err != nil {
		return nil, err
	}

	if !resp.Valid {
		switch resp.Reason {
		case licerrors.CodeMaxInstallationsReached:
			return nil, &licerrors.MaxInstallationsError{Installations: resp.Installations}
		case licerrors.CodeSerialNotFound:
			return nil, licerrors.ErrSerialNotFound
		case "":
			return nil, licerrors.ErrActivationFailed
		default:
			return nil, fmt.Errorf("%w: %s", licerrors.ErrActivationFailed, resp.Reason)
		}
	}

	switch {
	case resp.Existing:
		return &validationOutcome{
			licenseType: resp.Type,
			message:     "License already activated on this hardware",
		}, nil
	case resp.CanActivate:
		actResp, err := e.client.Activate(ctx, req)
		if err != nil {
			return nil, err
		}
		msg := actResp.Message
		if msg == "" {
			msg = "License activated"
		}
		return &validationOutcome{licenseType: resp.Type, message: msg}, nil
	default:
		// Permissive default for any other valid=true shape.
		msg := resp.Message
		if msg == "" {
			msg = "License validated"
		}
		return &validationOutcome{licenseType: resp.Type, message: msg}, nil
	}
}

// validateOffline checks the serial against the preloaded reference table.
// An unknown serial is provisionally trusted for the grace period and queued
// for later reconciliation. This leniency is deliberate: a checksum-valid
// but unlisted serial grants full access until the grace expiry, so a
// legitimate customer without connectivity is never blocked at install time.
func (e *Engine) validateOffline(ctx context.Context, req ValidateRequest) (*validationOutcome, error) {
	preloaded, err := e.store.LookupPreloadedSerial(ctx, req.SerialNumber)
	if err == nil && preloaded.Valid {
		return &validationOutcome{
			licenseType: preloaded.LicenseType,
			message:     "License activated offline; activation will sync when connectivity returns",
		}, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("offline serial lookup: %w", err)
	}

	if err := e.store.EnqueueValidation(ctx, req.SerialNumber, req.HardwareID); err != nil {
		return nil, fmt.Errorf("enqueue validation: %w", err)
	}
	expires := e.now().Add(e.cfg.GracePeriod)
	return &validationOutcome{
		temporary: true,
		expires:   &expires,
		message:   fmt.Sprintf("License accepted temporarily; verification pending until %s", expires.Format("2006-01-02")),
	}, nil
}

func activationOutcomeLabel(o *validationOutcome) string {
	if o.temporary {
		return "temporary"
	}
	return "permanent"
}

func remaining(limit, used int) int {
	if r := limit - used; r > 0 {
		return r
	}
	return 0
}

func warningLevel(remaining int) string {
	switch {
	case remaining <= 4:
		return WarningCritical
	case remaining <= 9:
		return WarningHigh
	case remaining <= 19:
		return WarningMedium
	default:
		return WarningNone
	}
}
