package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	licerrors "posd/internal/errors"
)

// TransportError marks failures to reach or understand the license server:
// connection errors, timeouts, non-2xx statuses outside the protocol, and
// malformed response bodies. Callers fall back to offline validation on it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("license server %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err (or anything it wraps) is a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ValidateRequest is the payload for both validate and activate calls.
type ValidateRequest struct {
	SerialNumber string `json:"serialNumber"`
	HardwareID   string `json:"hardwareId"`
	ComputerInfo string `json:"computerInfo,omitempty"`
}

// ValidateResponse is the license server's answer to a validate call.
type ValidateResponse struct {
	Valid         bool                     `json:"valid"`
	Existing      bool                     `json:"existing,omitempty"`
	CanActivate   bool                     `json:"canActivate,omitempty"`
	Type          string                   `json:"type,omitempty"`
	Reason        string                   `json:"reason,omitempty"`
	Installations []licerrors.Installation `json:"installations,omitempty"`
	Message       string                   `json:"message,omitempty"`
}

// ActivateResponse is the license server's answer to a slot claim.
type ActivateResponse struct {
	Success       bool                     `json:"success"`
	Message       string                   `json:"message,omitempty"`
	Installations []licerrors.Installation `json:"installations,omitempty"`
}

// Client talks to the central license server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a client for the server at baseURL with the given
// per-request timeout.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "license-client")),
	}
}

// Validate asks the server whether the serial is valid for this hardware.
// Network, timeout, decoding and unexpected-status failures come back as
// *TransportError; a well-formed server answer is returned as-is, including
// refusals.
func (c *Client) Validate(ctx context.Context, req ValidateRequest) (*ValidateResponse, error) {
	start := time.Now()

	body, status, err := c.post(ctx, "/api/v1/license/validate", req)
	if err != nil {
		c.logger.WarnContext(ctx, "validate request failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	if status < 200 || status >= 300 {
		c.logger.WarnContext(ctx, "validate returned unexpected status",
			slog.Int("status_code", status),
		)
		return nil, &TransportError{Op: "validate", Err: fmt.Errorf("unexpected status %d: %s", status, truncate(body, 256))}
	}

	var resp ValidateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &TransportError{Op: "validate", Err: fmt.Errorf("decode response: %w", err)}
	}

	c.logger.InfoContext(ctx, "validate completed",
		slog.Bool("valid", resp.Valid),
		slog.Bool("existing", resp.Existing),
		slog.Bool("can_activate", resp.CanActivate),
		slog.Duration("duration", time.Since(start)),
	)
	return &resp, nil
}

// Activate claims an activation slot for the serial on this hardware. A 409
// from the server means all slots are taken and maps to
// *licerrors.MaxInstallationsError with whatever installation metadata the
// server included.
func (c *Client) Activate(ctx context.Context, req ValidateRequest) (*ActivateResponse, error) {
	start := time.Now()

	body, status, err := c.post(ctx, "/api/v1/license/activate", req)
	if err != nil {
		c.logger.WarnContext(ctx, "activate request failed",
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return nil, err
	}

	if status == http.StatusConflict {
		var resp ActivateResponse
		// Best effort: a bare 409 with no parsable body still carries the
		// conflict meaning.
		_ = json.Unmarshal(body, &resp)
		c.logger.WarnContext(ctx, "activation slots exhausted",
			slog.Int("installations", len(resp.Installations)),
		)
		return nil, &licerrors.MaxInstallationsError{Installations: resp.Installations}
	}
	if status < 200 || status >= 300 {
		return nil, &TransportError{Op: "activate", Err: fmt.Errorf("unexpected status %d: %s", status, truncate(body, 256))}
	}

	var resp ActivateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &TransportError{Op: "activate", Err: fmt.Errorf("decode response: %w", err)}
	}

	c.logger.InfoContext(ctx, "activate completed",
		slog.Bool("success", resp.Success),
		slog.Duration("duration", time.Since(start)),
	)
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, &TransportError{Op: path, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(data))
	if err != nil {
		return nil, 0, &TransportError{Op: path, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "posd-license-client/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &TransportError{Op: path, Err: fmt.Errorf("read response: %w", err)}
	}
	return body, resp.StatusCode, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
