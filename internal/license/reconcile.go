package license

import (
	"context"
	"log/slog"
	"time"

	"github.com/claudiu/gocron"
)

// reconcileBatchSize bounds how many queue entries one run drains.
const reconcileBatchSize = 100

// Reconciler drains the validation retry queue: every pending entry is
// re-validated against the license server, its attempt count bumped, and its
// status settled to confirmed or rejected. Transport failures leave the
// entry pending for the next run.
type Reconciler struct {
	store   *Store
	client  RemoteValidator
	metrics *Metrics
	logger  *slog.Logger
	timeout time.Duration
}

// NewReconciler wires the queue drain worker. metrics may be nil.
func NewReconciler(store *Store, client RemoteValidator, metrics *Metrics, logger *slog.Logger, timeout time.Duration) *Reconciler {
	return &Reconciler{
		store:   store,
		client:  client,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "validation-reconciler")),
		timeout: timeout,
	}
}

// Schedule registers the drain on the process-wide cron and starts it.
// intervalMinutes is clamped to at least one minute.
func (r *Reconciler) Schedule(intervalMinutes uint64) {
	if intervalMinutes == 0 {
		intervalMinutes = 1
	}
	gocron.Every(intervalMinutes).Minutes().Do(r.RunOnce)
	gocron.Start()
	r.logger.Info("validation reconciler scheduled",
		slog.Uint64("interval_minutes", intervalMinutes),
	)
}

// RunOnce drains the pending queue a single time. It is the gocron job body
// and is also callable directly by tests and support tooling.
func (r *Reconciler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	confirmed, rejected, err := r.drain(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "queue reconciliation failed",
			slog.String("error", err.Error()),
		)
	}
	r.metrics.RecordReconcile(ctx, confirmed, rejected)
}

func (r *Reconciler) drain(ctx context.Context) (confirmed, rejected int64, err error) {
	entries, err := r.store.PendingValidations(ctx, reconcileBatchSize)
	if err != nil {
		return 0, 0, err
	}
	if len(entries) == 0 {
		return 0, 0, nil
	}

	r.logger.InfoContext(ctx, "draining validation queue",
		slog.Int("pending", len(entries)),
	)

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return confirmed, rejected, ctx.Err()
		default:
		}

		resp, err := r.client.Validate(ctx, ValidateRequest{
			SerialNumber: entry.SerialNumber,
			HardwareID:   entry.HardwareID,
		})
		if err != nil {
			// Still offline or server trouble: count the attempt, keep the
			// entry pending.
			if markErr := r.store.MarkValidationAttempt(ctx, entry.ID, QueuePending); markErr != nil {
				r.logger.WarnContext(ctx, "failed to record validation attempt",
					slog.String("entry_id", entry.ID),
					slog.String("error", markErr.Error()),
				)
			}
			continue
		}

		if resp.Valid {
			if err := r.confirm(ctx, entry); err != nil {
				return confirmed, rejected, err
			}
			confirmed++
			continue
		}

		if err := r.store.MarkValidationAttempt(ctx, entry.ID, QueueRejected); err != nil {
			return confirmed, rejected, err
		}
		rejected++
		r.logger.WarnContext(ctx, "queued serial rejected by license server",
			slog.String("serial_number", MaskSerial(entry.SerialNumber)),
			slog.String("reason", resp.Reason),
		)
	}
	return confirmed, rejected, nil
}

// confirm settles a queue entry the server vouched for. When the confirmed
// serial is the one currently active, the grace expiry is lifted and the
// grant becomes permanent.
func (r *Reconciler) confirm(ctx context.Context, entry ValidationQueueEntry) error {
	if err := r.store.MarkValidationAttempt(ctx, entry.ID, QueueConfirmed); err != nil {
		return err
	}

	counter, err := r.store.Read(ctx)
	if err != nil {
		return err
	}
	if counter.SerialNumber != entry.SerialNumber {
		return nil
	}

	if err := r.store.TouchValidation(ctx, true); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "temporary grant confirmed by license server",
		slog.String("serial_number", MaskSerial(entry.SerialNumber)),
	)
	return nil
}
