package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	licerrors "posd/internal/errors"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Status is the license state of this installation.
type Status string

const (
	StatusTrial     Status = "trial"
	StatusActivated Status = "activated"
)

// Validation queue entry states.
const (
	QueuePending   = "pending"
	QueueConfirmed = "confirmed"
	QueueRejected  = "rejected"
)

// TransactionCounter is the singleton license state row. Exactly one such
// row exists per installation; all reads and writes go against it.
type TransactionCounter struct {
	TotalTransactions int        `json:"total_transactions"`
	LicenseStatus     Status     `json:"license_status"`
	SerialNumber      string     `json:"serial_number,omitempty"`
	HardwareID        string     `json:"hardware_id,omitempty"`
	ActivationDate    *time.Time `json:"activation_date,omitempty"`
	LastValidation    *time.Time `json:"last_validation,omitempty"`
	TemporaryUntil    *time.Time `json:"temporary_until,omitempty"`
}

// PreloadedSerial is a reference-table entry used for offline recognition of
// known-good serials without network access.
type PreloadedSerial struct {
	SerialNumber     string    `json:"serial_number"`
	Valid            bool      `json:"valid"`
	MaxInstallations int       `json:"max_installations"`
	LicenseType      string    `json:"license_type"`
	GeneratedDate    time.Time `json:"generated_date"`
}

// ValidationQueueEntry records a serial accepted offline under temporary
// grace, awaiting confirmation against the authoritative server.
type ValidationQueueEntry struct {
	ID           string    `json:"id"`
	SerialNumber string    `json:"serial_number"`
	HardwareID   string    `json:"hardware_id"`
	Timestamp    time.Time `json:"timestamp"`
	Attempts     int       `json:"attempts"`
	Status       string    `json:"status"`
}

// LocalActivation is one entry of the activation audit trail.
type LocalActivation struct {
	ID             int64      `json:"id"`
	SerialNumber   string     `json:"serial_number"`
	HardwareID     string     `json:"hardware_id"`
	ActivatedAt    time.Time  `json:"activated_at"`
	TemporaryUntil *time.Time `json:"temporary_until,omitempty"`
}

// Store owns the durable license state exclusively. No other component
// persists activation data directly.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS transaction_counter (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	total_transactions INTEGER NOT NULL DEFAULT 0,
	license_status TEXT NOT NULL DEFAULT 'trial',
	serial_number TEXT,
	hardware_id TEXT,
	activation_date DATETIME,
	last_validation DATETIME,
	temporary_until DATETIME
);
CREATE TABLE IF NOT EXISTS preloaded_serials (
	serial_number TEXT PRIMARY KEY,
	valid INTEGER NOT NULL DEFAULT 1,
	max_installations INTEGER NOT NULL DEFAULT 1,
	license_type TEXT NOT NULL DEFAULT 'standard',
	generated_date DATE
);
CREATE TABLE IF NOT EXISTS validation_queue (
	id TEXT PRIMARY KEY,
	serial_number TEXT NOT NULL UNIQUE,
	hardware_id TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS validation_queue_status_idx ON validation_queue (status);
CREATE TABLE IF NOT EXISTS local_activations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	serial_number TEXT NOT NULL,
	hardware_id TEXT NOT NULL,
	activated_at DATETIME NOT NULL,
	temporary_until DATETIME
);
`

// OpenStore opens (creating if needed) the embedded license database.
// Schema creation is idempotent and safe to run on every startup.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open license database: %w", err)
	}

	// A single connection serializes writers; the conditional-UPDATE
	// increment then cannot interleave with a concurrent read-modify-write.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create license tables: %w", err)
	}
	if _, err := db.Exec(`INSERT OR IGNORE INTO transaction_counter (id) VALUES (1)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed transaction counter: %w", err)
	}

	logger.Info("license store opened",
		slog.String("component", "license_store"),
		slog.String("path", path))

	return &Store{db: db, logger: logger.With(slog.String("component", "license_store"))}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Read returns the singleton transaction counter row.
func (s *Store) Read(ctx context.Context) (*TransactionCounter, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT total_transactions, license_status, serial_number, hardware_id,
		       activation_date, last_validation, temporary_until
		FROM transaction_counter WHERE id = 1`)
	return scanCounter(row)
}

// IncrementAndGet atomically increments the trial usage counter and returns
// the updated row. In trial mode the increment only succeeds while the
// counter is below limit; an activated license increments unconditionally.
// The conditional UPDATE is the atomicity boundary: two concurrent calls can
// never both pass a check that only one should pass, and RETURNING hands
// back the row this call produced rather than a later caller's.
func (s *Store) IncrementAndGet(ctx context.Context, limit int) (*TransactionCounter, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE transaction_counter
		SET total_transactions = total_transactions + 1
		WHERE id = 1 AND (license_status = ? OR total_transactions < ?)
		RETURNING total_transactions, license_status, serial_number, hardware_id,
		          activation_date, last_validation, temporary_until`,
		string(StatusActivated), limit)

	counter, err := scanCounter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, licerrors.ErrTrialLimitReached
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment transaction counter: %w", err)
	}
	return counter, nil
}

// SetActivated persists an activation: status, serial, hardware binding,
// activation timestamp and, for offline-granted activations, the grace
// expiry. The singleton update and the audit-trail append are one
// transaction so partial state is never visible.
func (s *Store) SetActivated(ctx context.Context, serialNumber, hardwareID string, temporaryUntil *time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin activation transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE transaction_counter
		SET license_status = ?, serial_number = ?, hardware_id = ?,
		    activation_date = ?, last_validation = ?, temporary_until = ?
		WHERE id = 1`,
		string(StatusActivated), serialNumber, hardwareID, now, now, temporaryUntil); err != nil {
		return fmt.Errorf("failed to persist activation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO local_activations (serial_number, hardware_id, activated_at, temporary_until)
		VALUES (?, ?, ?, ?)`,
		serialNumber, hardwareID, now, temporaryUntil); err != nil {
		return fmt.Errorf("failed to record activation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activation: %w", err)
	}

	s.logger.InfoContext(ctx, "activation persisted",
		slog.String("serial_masked", MaskSerial(serialNumber)),
		slog.Bool("temporary", temporaryUntil != nil))

	return nil
}

// TouchValidation updates the last successful validation timestamp and
// optionally clears the grace expiry once a serial is confirmed online.
func (s *Store) TouchValidation(ctx context.Context, clearTemporary bool) error {
	query := `UPDATE transaction_counter SET last_validation = ? WHERE id = 1`
	if clearTemporary {
		query = `UPDATE transaction_counter SET last_validation = ?, temporary_until = NULL WHERE id = 1`
	}
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update validation timestamp: %w", err)
	}
	return nil
}

// Reset clears the counter and all activation fields, reverting the
// installation to a fresh trial state.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE transaction_counter
		SET total_transactions = 0, license_status = ?, serial_number = NULL,
		    hardware_id = NULL, activation_date = NULL, last_validation = NULL,
		    temporary_until = NULL
		WHERE id = 1`, string(StatusTrial)); err != nil {
		return fmt.Errorf("failed to reset transaction counter: %w", err)
	}

	s.logger.InfoContext(ctx, "trial counter reset")
	return nil
}

// SeedPreloadedSerials loads reference serials, ignoring ones already known.
func (s *Store) SeedPreloadedSerials(ctx context.Context, serials []PreloadedSerial) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	for _, ps := range serials {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO preloaded_serials
				(serial_number, valid, max_installations, license_type, generated_date)
			VALUES (?, ?, ?, ?, ?)`,
			ps.SerialNumber, ps.Valid, ps.MaxInstallations, ps.LicenseType, ps.GeneratedDate); err != nil {
			return fmt.Errorf("failed to seed serial %s: %w", MaskSerial(ps.SerialNumber), err)
		}
	}

	return tx.Commit()
}

// LookupPreloadedSerial returns the reference entry for a serial, or
// ErrNotFound when the serial is not in the table.
func (s *Store) LookupPreloadedSerial(ctx context.Context, serialNumber string) (*PreloadedSerial, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT serial_number, valid, max_installations, license_type, generated_date
		FROM preloaded_serials WHERE serial_number = ?`, serialNumber)

	var ps PreloadedSerial
	var generated sql.NullTime
	err := row.Scan(&ps.SerialNumber, &ps.Valid, &ps.MaxInstallations, &ps.LicenseType, &generated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up preloaded serial: %w", err)
	}
	if generated.Valid {
		ps.GeneratedDate = generated.Time
	}
	return &ps, nil
}

// EnqueueValidation upserts a pending retry-queue entry for the serial.
// Re-enqueueing an already-queued serial resets its attempts and timestamp
// rather than creating a duplicate.
func (s *Store) EnqueueValidation(ctx context.Context, serialNumber, hardwareID string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO validation_queue (id, serial_number, hardware_id, created_at, attempts, status)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(serial_number) DO UPDATE SET
			hardware_id = excluded.hardware_id,
			created_at = excluded.created_at,
			attempts = 0,
			status = excluded.status`,
		uuid.New().String(), serialNumber, hardwareID, time.Now().UTC(), QueuePending); err != nil {
		return fmt.Errorf("failed to enqueue validation: %w", err)
	}

	s.logger.InfoContext(ctx, "validation queued for reconciliation",
		slog.String("serial_masked", MaskSerial(serialNumber)))

	return nil
}

// PendingValidations returns up to max pending queue entries, oldest first.
func (s *Store) PendingValidations(ctx context.Context, max int) ([]ValidationQueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, serial_number, hardware_id, created_at, attempts, status
		FROM validation_queue WHERE status = ?
		ORDER BY created_at ASC LIMIT ?`, QueuePending, max)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending validations: %w", err)
	}
	defer rows.Close()

	var entries []ValidationQueueEntry
	for rows.Next() {
		var e ValidationQueueEntry
		if err := rows.Scan(&e.ID, &e.SerialNumber, &e.HardwareID, &e.Timestamp, &e.Attempts, &e.Status); err != nil {
			return nil, fmt.Errorf("failed to scan validation entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkValidationAttempt increments the attempt counter and sets the entry
// status. A transport failure keeps the status pending for the next run.
func (s *Store) MarkValidationAttempt(ctx context.Context, id, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE validation_queue SET attempts = attempts + 1, status = ? WHERE id = ?`,
		status, id)
	if err != nil {
		return fmt.Errorf("failed to update validation entry: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Activations returns the most recent audit-trail entries.
func (s *Store) Activations(ctx context.Context, max int) ([]LocalActivation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, serial_number, hardware_id, activated_at, temporary_until
		FROM local_activations ORDER BY id DESC LIMIT ?`, max)
	if err != nil {
		return nil, fmt.Errorf("failed to list activations: %w", err)
	}
	defer rows.Close()

	var activations []LocalActivation
	for rows.Next() {
		var a LocalActivation
		var temporary sql.NullTime
		if err := rows.Scan(&a.ID, &a.SerialNumber, &a.HardwareID, &a.ActivatedAt, &temporary); err != nil {
			return nil, fmt.Errorf("failed to scan activation: %w", err)
		}
		if temporary.Valid {
			t := temporary.Time
			a.TemporaryUntil = &t
		}
		activations = append(activations, a)
	}
	return activations, rows.Err()
}

func scanCounter(row *sql.Row) (*TransactionCounter, error) {
	var tc TransactionCounter
	var status string
	var serial, hardware sql.NullString
	var activation, validation, temporary sql.NullTime

	err := row.Scan(&tc.TotalTransactions, &status, &serial, &hardware,
		&activation, &validation, &temporary)
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction counter: %w", err)
	}

	tc.LicenseStatus = Status(status)
	if serial.Valid {
		tc.SerialNumber = serial.String
	}
	if hardware.Valid {
		tc.HardwareID = hardware.String
	}
	if activation.Valid {
		t := activation.Time
		tc.ActivationDate = &t
	}
	if validation.Valid {
		t := validation.Time
		tc.LastValidation = &t
	}
	if temporary.Valid {
		t := temporary.Time
		tc.TemporaryUntil = &t
	}

	return &tc, nil
}
