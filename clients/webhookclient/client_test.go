package webhookclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		wantErr string
	}{
		{name: "valid https host", host: "https://hook.example.com/notify"},
		{name: "valid http host", host: "http://192.168.1.50:8080/hook"},
		{name: "missing scheme", host: "hook.example.com", wantErr: "must include scheme"},
		{name: "missing host", host: "https:///notify", wantErr: "must include a host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.host, WithLogger(discardLogger()))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, client.Host)
			assert.NotNil(t, client.Logger)
		})
	}
}

func TestNotify_SignsBody(t *testing.T) {
	const secret = "sekrit"

	var gotBody []byte
	var gotSignature, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		gotBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		gotSignature = r.Header.Get(SignatureHeader)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := New(server.URL, WithLogger(discardLogger()), WithSigningSecret(secret))
	require.NoError(t, err)

	payload := map[string]string{"notification_id": "N1", "message_id": "M1"}
	require.NoError(t, client.Notify(context.Background(), payload))

	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"notification_id":"N1","message_id":"M1"}`, string(gotBody))

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSignature)
}

func TestNotify_NoSecretNoSignature(t *testing.T) {
	var gotSignature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := New(server.URL, WithLogger(discardLogger()))
	require.NoError(t, err)

	require.NoError(t, client.Notify(context.Background(), map[string]string{"a": "b"}))
	assert.Empty(t, gotSignature)
}

func TestNotify_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not today", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := New(server.URL, WithLogger(discardLogger()))
	require.NoError(t, err)

	err = client.Notify(context.Background(), map[string]string{"a": "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "not today")
}

func TestNotify_ConnectionError(t *testing.T) {
	client, err := New("http://localhost:1/hook", WithLogger(discardLogger()))
	require.NoError(t, err)

	err = client.Notify(context.Background(), map[string]string{"a": "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivering webhook")
}
