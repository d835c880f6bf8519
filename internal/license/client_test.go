package license

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licerrors "posd/internal/errors"
)

func TestClientValidate(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		want     *ValidateResponse
		wantErr  bool
		wantPath string
	}{
		{
			name: "valid existing activation",
			handler: func(w http.ResponseWriter, r *http.Request) {
				var req ValidateRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "POS-2024-ABC123-B4E3", req.SerialNumber)
				assert.Equal(t, "hw-1", req.HardwareID)
				json.NewEncoder(w).Encode(ValidateResponse{Valid: true, Existing: true, Type: "professional"})
			},
			want: &ValidateResponse{Valid: true, Existing: true, Type: "professional"},
		},
		{
			name: "refusal with reason",
			handler: func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(ValidateResponse{Valid: false, Reason: "SN_NOT_FOUND"})
			},
			want: &ValidateResponse{Valid: false, Reason: "SN_NOT_FOUND"},
		},
		{
			name: "non-200 success status is still a success",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				json.NewEncoder(w).Encode(ValidateResponse{Valid: true, CanActivate: true})
			},
			want: &ValidateResponse{Valid: true, CanActivate: true},
		},
		{
			name: "server error is transport failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantErr: true,
		},
		{
			name: "malformed body is transport failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not json"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				tt.handler(w, r)
			}))
			defer srv.Close()

			client := NewClient(srv.URL, 5*time.Second, slog.Default())
			resp, err := client.Validate(context.Background(), ValidateRequest{
				SerialNumber: "POS-2024-ABC123-B4E3",
				HardwareID:   "hw-1",
			})

			assert.Equal(t, "/api/v1/license/validate", gotPath)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsTransportError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp)
		})
	}
}

func TestClientValidateUnreachableServer(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 500*time.Millisecond, slog.Default())

	_, err := client.Validate(context.Background(), ValidateRequest{SerialNumber: "POS-2024-ABC123-B4E3"})
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
}

func TestClientActivate(t *testing.T) {
	t.Run("success claims a slot", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/license/activate", r.URL.Path)
			json.NewEncoder(w).Encode(ActivateResponse{Success: true, Message: "activated"})
		}))
		defer srv.Close()

		client := NewClient(srv.URL, 5*time.Second, slog.Default())
		resp, err := client.Activate(context.Background(), ValidateRequest{SerialNumber: "POS-2024-ABC123-B4E3"})
		require.NoError(t, err)
		assert.True(t, resp.Success)
	})

	t.Run("conflict maps to max installations", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(ActivateResponse{
				Installations: []licerrors.Installation{
					{HardwareID: "hw-a", ComputerInfo: "FRONT-DESK-1"},
					{HardwareID: "hw-b", ComputerInfo: "FRONT-DESK-2"},
				},
			})
		}))
		defer srv.Close()

		client := NewClient(srv.URL, 5*time.Second, slog.Default())
		_, err := client.Activate(context.Background(), ValidateRequest{SerialNumber: "POS-2024-ABC123-B4E3"})
		require.Error(t, err)

		var maxErr *licerrors.MaxInstallationsError
		require.ErrorAs(t, err, &maxErr)
		assert.Len(t, maxErr.Installations, 2)
		assert.ErrorIs(t, err, licerrors.ErrMaxInstallationsReached)
		assert.False(t, IsTransportError(err), "a conflict is authoritative, not a transport failure")
	})

	t.Run("bare conflict without body still maps", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
		}))
		defer srv.Close()

		client := NewClient(srv.URL, 5*time.Second, slog.Default())
		_, err := client.Activate(context.Background(), ValidateRequest{SerialNumber: "POS-2024-ABC123-B4E3"})
		assert.ErrorIs(t, err, licerrors.ErrMaxInstallationsReached)
	})

	t.Run("other non-2xx is transport failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		client := NewClient(srv.URL, 5*time.Second, slog.Default())
		_, err := client.Activate(context.Background(), ValidateRequest{SerialNumber: "POS-2024-ABC123-B4E3"})
		require.Error(t, err)
		assert.True(t, IsTransportError(err))
	})
}
