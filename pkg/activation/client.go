package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every call to the verification service. A timeout is
// reported as unreachable, never as a negative answer.
const DefaultTimeout = 8 * time.Second

const maxResponseSize = 64 * 1024

// ErrUnreachable wraps every failure to get a definitive answer.
var ErrUnreachable = errors.New("verification service unreachable")

// VerifyResponse is the service's answer to a verify call.
type VerifyResponse struct {
	Valid bool   `json:"valid"`
	Plan  string `json:"plan,omitempty"`
	Token string `json:"token,omitempty"`
	Error string `json:"error,omitempty"`
}

// RevalidateResponse is the service's answer to a revalidate call.
type RevalidateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// GiftResponse is the service's answer to a gift code redemption.
type GiftResponse struct {
	Valid      bool       `json:"valid"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Token      string     `json:"token,omitempty"`
	Identifier string     `json:"identifier,omitempty"`
	Plan       string     `json:"plan,omitempty"`
}

// Verifier is the verification service as seen by the client.
type Verifier interface {
	Verify(ctx context.Context, identifier string) (VerifyResponse, error)
	Revalidate(ctx context.Context, identifier, plan, token string) (RevalidateResponse, error)
	RedeemGiftCode(ctx context.Context, code string) (GiftResponse, error)
}

// HTTPClient talks to the verification service over its JSON API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ Verifier = (*HTTPClient)(nil)

// NewHTTPClient returns a client for the service at baseURL. A non-positive
// timeout uses DefaultTimeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Verify(ctx context.Context, identifier string) (VerifyResponse, error) {
	var out VerifyResponse
	err := c.post(ctx, "/verify", map[string]string{"email": identifier}, &out)
	return out, err
}

func (c *HTTPClient) Revalidate(ctx context.Context, identifier, plan, token string) (RevalidateResponse, error) {
	var out RevalidateResponse
	err := c.post(ctx, "/verify", map[string]string{
		"action": "revalidate",
		"email":  identifier,
		"plan":   plan,
		"token":  token,
	}, &out)
	return out, err
}

func (c *HTTPClient) RedeemGiftCode(ctx context.Context, code string) (GiftResponse, error) {
	var out GiftResponse
	err := c.post(ctx, "/validate-gift-code", map[string]string{"code": code}, &out)
	return out, err
}

// post sends body and decodes a 200 response into out. Any other status is
// unreachable: only a decoded 200 is a definitive answer.
func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return fmt.Errorf("%w: %s returned status %d", ErrUnreachable, path, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrUnreachable, path, err)
	}
	return nil
}
