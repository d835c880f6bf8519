package security

import (
	"context"
	"time"
)

// probeContext bounds platform probe subprocesses so a hung utility cannot
// stall fingerprint generation.
func probeContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
