package license

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licerrors "posd/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenStore(filepath.Join(t.TempDir(), "license.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenStoreIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "license.db")

	store, err := OpenStore(path, slog.Default())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening must not fail or duplicate the singleton row.
	store, err = OpenStore(path, slog.Default())
	require.NoError(t, err)
	defer store.Close()

	counter, err := store.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, counter.TotalTransactions)
	assert.Equal(t, StatusTrial, counter.LicenseStatus)
}

func TestReadFreshState(t *testing.T) {
	store := newTestStore(t)

	counter, err := store.Read(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, counter.TotalTransactions)
	assert.Equal(t, StatusTrial, counter.LicenseStatus)
	assert.Empty(t, counter.SerialNumber)
	assert.Empty(t, counter.HardwareID)
	assert.Nil(t, counter.ActivationDate)
	assert.Nil(t, counter.TemporaryUntil)
}

func TestIncrementAndGetTrialLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		counter, err := store.IncrementAndGet(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, i, counter.TotalTransactions)
	}

	// Sixth increment must fail and leave the counter untouched.
	_, err := store.IncrementAndGet(ctx, 5)
	require.ErrorIs(t, err, licerrors.ErrTrialLimitReached)

	counter, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, counter.TotalTransactions)
}

func TestIncrementUnlimitedWhenActivated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetActivated(ctx, "POS-2024-ABC123-B4E3", "hw-1", nil))

	// Far past any trial limit.
	for i := 0; i < 10; i++ {
		_, err := store.IncrementAndGet(ctx, 3)
		require.NoError(t, err)
	}

	counter, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, counter.TotalTransactions)
}

func TestConcurrentIncrementsNeverExceedLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const limit = 99
	// Pre-consume 95 of the 99 slots.
	for i := 0; i < 95; i++ {
		_, err := store.IncrementAndGet(ctx, limit)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	successes := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.IncrementAndGet(ctx, limit); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	var count int
	for range successes {
		count++
	}
	assert.Equal(t, 4, count, "only the remaining 4 slots may be granted")

	counter, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, limit, counter.TotalTransactions)
}

func TestConcurrentIncrementsReturnDistinctCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const workers = 20

	var wg sync.WaitGroup
	counts := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			counter, err := store.IncrementAndGet(ctx, 99)
			if assert.NoError(t, err) {
				counts <- counter.TotalTransactions
			}
		}()
	}
	wg.Wait()
	close(counts)

	// Each call gets back the count its own increment produced, so the
	// returned values are exactly 1..workers with no duplicates.
	seen := make(map[int]bool, workers)
	for c := range counts {
		assert.False(t, seen[c], "count %d returned twice", c)
		seen[c] = true
	}
	for i := 1; i <= workers; i++ {
		assert.True(t, seen[i], "count %d missing", i)
	}
}

func TestSetActivatedPersistsFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expires := time.Now().Add(30 * 24 * time.Hour).UTC()
	require.NoError(t, store.SetActivated(ctx, "POS-2024-ABC123-B4E3", "hw-fingerprint", &expires))

	counter, err := store.Read(ctx)
	require.NoError(t, err)

	assert.Equal(t, StatusActivated, counter.LicenseStatus)
	assert.Equal(t, "POS-2024-ABC123-B4E3", counter.SerialNumber)
	assert.Equal(t, "hw-fingerprint", counter.HardwareID)
	require.NotNil(t, counter.ActivationDate)
	require.NotNil(t, counter.TemporaryUntil)
	assert.WithinDuration(t, expires, *counter.TemporaryUntil, time.Second)

	// Audit trail records the activation.
	activations, err := store.Activations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, activations, 1)
	assert.Equal(t, "POS-2024-ABC123-B4E3", activations[0].SerialNumber)
	assert.NotNil(t, activations[0].TemporaryUntil)
}

func TestResetClearsEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := store.IncrementAndGet(ctx, 99)
		require.NoError(t, err)
	}
	expires := time.Now().Add(time.Hour)
	require.NoError(t, store.SetActivated(ctx, "POS-2024-ABC123-B4E3", "hw-1", &expires))

	require.NoError(t, store.Reset(ctx))

	counter, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counter.TotalTransactions)
	assert.Equal(t, StatusTrial, counter.LicenseStatus)
	assert.Empty(t, counter.SerialNumber)
	assert.Empty(t, counter.HardwareID)
	assert.Nil(t, counter.ActivationDate)
	assert.Nil(t, counter.LastValidation)
	assert.Nil(t, counter.TemporaryUntil)
}

func TestPreloadedSerials(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	serials := []PreloadedSerial{
		{SerialNumber: "POS-2024-ABC123-B4E3", Valid: true, MaxInstallations: 3, LicenseType: "professional", GeneratedDate: time.Now()},
		{SerialNumber: "POS-2025-XYZ789-E1A7", Valid: false, MaxInstallations: 1, LicenseType: "standard", GeneratedDate: time.Now()},
	}
	require.NoError(t, store.SeedPreloadedSerials(ctx, serials))

	// Seeding again must be a no-op, not an error.
	require.NoError(t, store.SeedPreloadedSerials(ctx, serials))

	ps, err := store.LookupPreloadedSerial(ctx, "POS-2024-ABC123-B4E3")
	require.NoError(t, err)
	assert.True(t, ps.Valid)
	assert.Equal(t, 3, ps.MaxInstallations)
	assert.Equal(t, "professional", ps.LicenseType)

	ps, err = store.LookupPreloadedSerial(ctx, "POS-2025-XYZ789-E1A7")
	require.NoError(t, err)
	assert.False(t, ps.Valid)

	_, err = store.LookupPreloadedSerial(ctx, "POS-2024-NOPE99-0000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnqueueValidationUpsertsBySerial(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnqueueValidation(ctx, "POS-2024-ABC123-B4E3", "hw-1"))
	require.NoError(t, store.EnqueueValidation(ctx, "POS-2024-ABC123-B4E3", "hw-2"))

	entries, err := store.PendingValidations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "re-enqueueing the same serial must not duplicate")

	assert.Equal(t, "POS-2024-ABC123-B4E3", entries[0].SerialNumber)
	assert.Equal(t, "hw-2", entries[0].HardwareID)
	assert.Equal(t, 0, entries[0].Attempts)
	assert.Equal(t, QueuePending, entries[0].Status)
}

func TestMarkValidationAttempt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnqueueValidation(ctx, "POS-2024-ABC123-B4E3", "hw-1"))
	entries, err := store.PendingValidations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Transport failure: attempt counted, still pending.
	require.NoError(t, store.MarkValidationAttempt(ctx, entries[0].ID, QueuePending))
	entries, err = store.PendingValidations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Attempts)

	// Confirmed entries leave the pending set.
	require.NoError(t, store.MarkValidationAttempt(ctx, entries[0].ID, QueueConfirmed))
	entries, err = store.PendingValidations(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, store.MarkValidationAttempt(ctx, "missing-id", QueueRejected), ErrNotFound)
}

func TestTouchValidationClearsTemporary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	require.NoError(t, store.SetActivated(ctx, "POS-2024-ABC123-B4E3", "hw-1", &expires))

	require.NoError(t, store.TouchValidation(ctx, true))

	counter, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Nil(t, counter.TemporaryUntil)
	assert.NotNil(t, counter.LastValidation)
}
