package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licerrors "posd/internal/errors"
	"posd/internal/license"
	"posd/internal/security"
)

type stubValidator struct {
	validateResp *license.ValidateResponse
	validateErr  error
	activateResp *license.ActivateResponse
	activateErr  error
}

func (s *stubValidator) Validate(ctx context.Context, req license.ValidateRequest) (*license.ValidateResponse, error) {
	return s.validateResp, s.validateErr
}

func (s *stubValidator) Activate(ctx context.Context, req license.ValidateRequest) (*license.ActivateResponse, error) {
	return s.activateResp, s.activateErr
}

type stubFingerprinter struct{}

func (stubFingerprinter) GenerateFingerprint() *security.DeviceFingerprint {
	return &security.DeviceFingerprint{Fingerprint: "0011223344556677-8899aabb"}
}

func newTestService(t *testing.T, limit int, validator *stubValidator) (LicenseService, *license.Store) {
	t.Helper()

	store, err := license.OpenStore(filepath.Join(t.TempDir(), "license.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := license.NewEngine(
		license.EngineConfig{TrialLimit: limit, GracePeriod: 30 * 24 * time.Hour},
		license.NewSerialCodec("POS"),
		store,
		validator,
		stubFingerprinter{},
		nil,
		slog.Default(),
	)
	return NewLicenseService(engine, slog.Default()), store
}

func TestServiceGetStatusWire(t *testing.T) {
	t.Run("trial remaining is a number", func(t *testing.T) {
		svc, _ := newTestService(t, 99, &stubValidator{})

		resp, err := svc.GetStatus(context.Background())
		require.NoError(t, err)

		data, err := json.Marshal(resp)
		require.NoError(t, err)

		var wire map[string]any
		require.NoError(t, json.Unmarshal(data, &wire))
		assert.Equal(t, "trial", wire["status"])
		assert.Equal(t, float64(99), wire["remaining"])
		assert.Equal(t, false, wire["activated"])
	})

	t.Run("activated remaining is the unlimited string", func(t *testing.T) {
		svc, store := newTestService(t, 99, &stubValidator{})
		require.NoError(t, store.SetActivated(context.Background(), "POS-2024-ABC123-B4E3", "hw-1", nil))

		resp, err := svc.GetStatus(context.Background())
		require.NoError(t, err)

		data, err := json.Marshal(resp)
		require.NoError(t, err)

		var wire map[string]any
		require.NoError(t, json.Unmarshal(data, &wire))
		assert.Equal(t, "activated", wire["status"])
		assert.Equal(t, "unlimited", wire["remaining"])
		assert.Equal(t, "POS-2024-ABC123-B4E3", wire["serialNumber"])
	})
}

func TestServiceIncrementTransaction(t *testing.T) {
	svc, _ := newTestService(t, 5, &stubValidator{})
	ctx := context.Background()

	resp, err := svc.IncrementTransaction(ctx)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.TotalTransactions)
	assert.Equal(t, 4, resp.Remaining)
	assert.Equal(t, "trial", resp.Status)
	assert.Equal(t, "critical", resp.WarningLevel)
	assert.NotEmpty(t, resp.Warning)

	for i := 0; i < 4; i++ {
		_, err = svc.IncrementTransaction(ctx)
		require.NoError(t, err)
	}

	_, err = svc.IncrementTransaction(ctx)
	assert.ErrorIs(t, err, licerrors.ErrTrialLimitReached)
}

func TestServiceIncrementWire(t *testing.T) {
	t.Run("trial increment carries the license state", func(t *testing.T) {
		svc, _ := newTestService(t, 99, &stubValidator{})

		resp, err := svc.IncrementTransaction(context.Background())
		require.NoError(t, err)

		data, err := json.Marshal(resp)
		require.NoError(t, err)

		var wire map[string]any
		require.NoError(t, json.Unmarshal(data, &wire))
		assert.Equal(t, "trial", wire["status"])
		assert.Equal(t, float64(98), wire["remaining"])
	})

	t.Run("activated increment reports unlimited and activated", func(t *testing.T) {
		svc, store := newTestService(t, 99, &stubValidator{})
		require.NoError(t, store.SetActivated(context.Background(), "POS-2024-ABC123-B4E3", "hw-1", nil))

		resp, err := svc.IncrementTransaction(context.Background())
		require.NoError(t, err)

		data, err := json.Marshal(resp)
		require.NoError(t, err)

		var wire map[string]any
		require.NoError(t, json.Unmarshal(data, &wire))
		assert.Equal(t, "activated", wire["status"])
		assert.Equal(t, "unlimited", wire["remaining"])
	})

	t.Run("grace period increment reports temporary", func(t *testing.T) {
		svc, store := newTestService(t, 99, &stubValidator{})
		expires := time.Now().Add(30 * 24 * time.Hour)
		require.NoError(t, store.SetActivated(context.Background(), "POS-2024-ABC123-B4E3", "hw-1", &expires))

		resp, err := svc.IncrementTransaction(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "temporary", resp.Status)
		assert.Equal(t, unlimitedRemaining, resp.Remaining)
	})
}

func TestServiceActivate(t *testing.T) {
	t.Run("online success", func(t *testing.T) {
		svc, _ := newTestService(t, 99, &stubValidator{
			validateResp: &license.ValidateResponse{Valid: true, Existing: true, Type: "professional"},
		})

		resp, err := svc.Activate(context.Background(), "POS-2024-ABC123-B4E3", "FRONT-DESK-1")
		require.NoError(t, err)

		assert.True(t, resp.Success)
		assert.Equal(t, "POS-2024-ABC123-B4E3", resp.SerialNumber)
		assert.Equal(t, "0011223344556677-8899aabb", resp.HardwareID)
		assert.Equal(t, "professional", resp.Type)
		assert.False(t, resp.Temporary)
	})

	t.Run("offline fallback surfaces the grace expiry", func(t *testing.T) {
		svc, _ := newTestService(t, 99, &stubValidator{
			validateErr: &license.TransportError{Op: "validate", Err: context.DeadlineExceeded},
		})

		resp, err := svc.Activate(context.Background(), "POS-2024-ABC123-B4E3", "FRONT-DESK-1")
		require.NoError(t, err)

		assert.True(t, resp.Temporary)
		require.NotNil(t, resp.Expires)
		assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), *resp.Expires, time.Minute)
	})

	t.Run("format error passes through", func(t *testing.T) {
		svc, _ := newTestService(t, 99, &stubValidator{})

		_, err := svc.Activate(context.Background(), "garbage", "FRONT-DESK-1")
		assert.ErrorIs(t, err, licerrors.ErrInvalidFormat)
	})
}

func TestServiceResetTrial(t *testing.T) {
	svc, _ := newTestService(t, 99, &stubValidator{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.IncrementTransaction(ctx)
		require.NoError(t, err)
	}

	resp, err := svc.ResetTrial(ctx)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	status, err := svc.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.TotalTransactions)
	assert.Equal(t, "trial", status.Status)
}
