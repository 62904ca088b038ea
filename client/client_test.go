package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/aswan"
)

const (
	testKey    = "ABCD-EFGH-IJKL-MNOP"
	testSecret = "sk_test"
)

func newTestServer(t *testing.T, verify http.HandlerFunc) (*httptest.Server, *int32) {
	t.Helper()
	var discoveries int32
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/aswan", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&discoveries, 1)
		_ = json.NewEncoder(w).Encode(aswan.WellKnownAswan{
			Version: "1.0",
			Endpoints: map[string]aswan.Endpoint{
				"aswan.verify": {Template: "/v1/verify", Method: "POST"},
			},
		})
	})
	mux.HandleFunc("/v1/verify", verify)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &discoveries
}

func TestVerifyKYCSignsRequest(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 123e6, time.UTC)

	srv, discoveries := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body aswan.VerifyRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		assert.Equal(t, "user-1", body.UserID)
		assert.Equal(t, testKey, r.Header.Get(aswan.HeaderAPIKey))
		assert.Equal(t, "2026-03-01T12:00:00.123Z", r.Header.Get(aswan.HeaderTimestamp))
		assert.Equal(t, aswan.Sign(testSecret, "user-1", "2026-03-01T12:00:00.123Z", testKey), r.Header.Get(aswan.HeaderSignature))
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("id")), r.Header.Get(aswan.HeaderDocumentBlob))
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("face")), r.Header.Get(aswan.HeaderSelfieBlob))
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))

		_ = json.NewEncoder(w).Encode(aswan.VerifyResponse{Status: aswan.StatusVerified})
	})

	c := New(testKey, testSecret, srv.URL+"/")
	c.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		status, err := c.VerifyKYC(context.Background(), VerifyKYCRequest{UserID: "user-1", IDFile: []byte("id"), FaceFile: []byte("face")})
		require.NoError(t, err)
		assert.Equal(t, aswan.StatusVerified, status)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(discoveries))
}

func TestVerifyKYCRejections(t *testing.T) {
	respond := func(status int, code string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(aswan.ErrorResponse{Code: code, Error: "rejected"})
		}
	}

	srv, _ := newTestServer(t, respond(http.StatusConflict, aswan.CodeAlreadyVerified))
	_, err := New(testKey, testSecret, srv.URL).VerifyKYC(context.Background(), VerifyKYCRequest{UserID: "u"})
	assert.ErrorIs(t, err, ErrAlreadyVerified)

	srv, _ = newTestServer(t, respond(http.StatusUnauthorized, "INVALID_SIGNATURE"))
	_, err = New(testKey, testSecret, srv.URL).VerifyKYC(context.Background(), VerifyKYCRequest{UserID: "u"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "INVALID_SIGNATURE", apiErr.Code)
	assert.Equal(t, "rejected", apiErr.Message)
	assert.False(t, apiErr.Retryable())

	srv, _ = newTestServer(t, respond(http.StatusServiceUnavailable, "DECISION_ENGINE_UNAVAILABLE"))
	_, err = New(testKey, testSecret, srv.URL).VerifyKYC(context.Background(), VerifyKYCRequest{UserID: "u"})
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Retryable())

	_, err = New(testKey, testSecret, srv.URL).VerifyKYC(context.Background(), VerifyKYCRequest{})
	assert.Error(t, err)
}

func TestVerifyKYCWithoutDiscovery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(aswan.VerifyResponse{Status: aswan.StatusNotVerified})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	status, err := New(testKey, testSecret, srv.URL).VerifyKYC(context.Background(), VerifyKYCRequest{UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, aswan.StatusNotVerified, status)
}

func TestNewDefaultsBaseURL(t *testing.T) {
	assert.Equal(t, DefaultBaseURL, New("k", "s", "").baseURL)
}
