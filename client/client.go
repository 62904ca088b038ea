// Package client is the Go SDK for calling an aswan verification server.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/totegamma/aswan"
)

const (
	DefaultBaseURL = "https://api.kyc-service.com"

	defaultTimeout = 30 * time.Second
	userAgent      = "aswan-go-sdk/1.0"
)

// ErrAlreadyVerified is returned when the user was already verified with this key.
var ErrAlreadyVerified = errors.New("user already verified")

// APIError is any other rejection reported by the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aswan: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Retryable reports whether the same request may succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable || e.StatusCode == 499
}

type Client struct {
	client    *http.Client
	cache     *cache.Cache
	apiKey    string
	secretKey string
	baseURL   string
	now       func() time.Time
}

// New creates a client. An empty baseURL uses DefaultBaseURL.
func New(apiKey, secretKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := http.Client{
		Timeout: defaultTimeout,
	}

	c := &Client{
		client:    &httpClient,
		cache:     cache.New(10*time.Minute, 15*time.Minute),
		apiKey:    apiKey,
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		now:       time.Now,
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	return http.DefaultTransport.RoundTrip(req)
}

type VerifyKYCRequest struct {
	UserID   string
	IDFile   []byte
	FaceFile []byte
}

// VerifyKYC submits a verification and returns aswan.StatusVerified or
// aswan.StatusNotVerified.
func (c *Client) VerifyKYC(ctx context.Context, request VerifyKYCRequest) (string, error) {
	if request.UserID == "" {
		return "", fmt.Errorf("user id is required")
	}

	body, err := json.Marshal(aswan.VerifyRequest{UserID: request.UserID})
	if err != nil {
		return "", err
	}

	path, err := c.endpoint(ctx, "aswan.verify", "/verify")
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	timestamp := c.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(aswan.HeaderAPIKey, c.apiKey)
	req.Header.Set(aswan.HeaderTimestamp, timestamp)
	req.Header.Set(aswan.HeaderSignature, aswan.Sign(c.secretKey, request.UserID, timestamp, c.apiKey))
	req.Header.Set(aswan.HeaderDocumentBlob, base64.StdEncoding.EncodeToString(request.IDFile))
	req.Header.Set(aswan.HeaderSelfieBlob, base64.StdEncoding.EncodeToString(request.FaceFile))

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var result aswan.VerifyResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		return result.Status, nil
	}

	var rejection aswan.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&rejection); err != nil {
		return "", &APIError{StatusCode: resp.StatusCode, Code: "UNKNOWN", Message: http.StatusText(resp.StatusCode)}
	}
	if rejection.Code == aswan.CodeAlreadyVerified {
		return "", ErrAlreadyVerified
	}
	return "", &APIError{StatusCode: resp.StatusCode, Code: rejection.Code, Message: rejection.Error}
}

// WellKnown fetches the server's discovery document.
func (c *Client) WellKnown(ctx context.Context) (aswan.WellKnownAswan, error) {
	cacheKey := "wellknown:" + c.baseURL
	x, found := c.cache.Get(cacheKey)
	if found {
		return x.(aswan.WellKnownAswan), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/.well-known/aswan", nil)
	if err != nil {
		return aswan.WellKnownAswan{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return aswan.WellKnownAswan{}, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return aswan.WellKnownAswan{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var wk aswan.WellKnownAswan
	if err := json.NewDecoder(resp.Body).Decode(&wk); err != nil {
		return aswan.WellKnownAswan{}, fmt.Errorf("failed to decode response: %w", err)
	}

	c.cache.Set(cacheKey, wk, cache.DefaultExpiration)
	return wk, nil
}

// endpoint resolves a path from the discovery document, falling back when the
// server does not publish one.
func (c *Client) endpoint(ctx context.Context, name, fallback string) (string, error) {
	wk, err := c.WellKnown(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return fallback, nil
	}
	ep, ok := wk.Endpoints[name]
	if !ok || ep.Template == "" {
		return fallback, nil
	}
	return ep.Template, nil
}
