package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	x402 "github.com/nacorid/x402-go"
	"github.com/nacorid/x402-go/facilitator"
)

// AuthorizationProvider is a function that returns an Authorization header value.
// This is useful for dynamic tokens (e.g., JWT refresh) where the value may change.
//
// The provider is called on every request and must be safe for concurrent use.
type AuthorizationProvider func(*http.Request) string

// FacilitatorClient is a client for communicating with x402 facilitator services.
type FacilitatorClient struct {
	// BaseURL is the facilitator service URL (e.g., "https://facilitator.example.com").
	BaseURL string

	// Client is the HTTP client to use for requests. If nil, http.DefaultClient is used.
	Client *http.Client

	// Timeouts contains timeout configuration for payment operations.
	Timeouts x402.TimeoutConfig

	// Authorization is a static Authorization header value (e.g., "Bearer token" or "Basic base64").
	// If AuthorizationProvider is also set, the provider takes precedence.
	Authorization string

	// AuthorizationProvider is a function that returns an Authorization header value.
	// If set, this takes precedence over the static Authorization field.
	AuthorizationProvider AuthorizationProvider
}

// Verify that FacilitatorClient implements facilitator.Interface.
var _ facilitator.Interface = (*FacilitatorClient)(nil)

// FacilitatorOption configures a FacilitatorClient.
type FacilitatorOption func(*FacilitatorClient) error

// NewFacilitatorClient returns a client for baseURL using DefaultTimeouts.
func NewFacilitatorClient(baseURL string, opts ...FacilitatorOption) (*FacilitatorClient, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, x402.NewPaymentError(x402.ErrCodeConfiguration, "invalid facilitator client",
			fmt.Errorf("%w: base URL is empty", x402.ErrValidation))
	}

	c := &FacilitatorClient{
		BaseURL:  baseURL,
		Timeouts: x402.DefaultTimeouts,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeouts.RequestTimeout}
	}
	return c, nil
}

// WithTimeouts replaces DefaultTimeouts. The config must pass Validate.
func WithTimeouts(tc x402.TimeoutConfig) FacilitatorOption {
	return func(c *FacilitatorClient) error {
		if err := tc.Validate(); err != nil {
			return err
		}
		c.Timeouts = tc
		return nil
	}
}

// WithFacilitatorHTTPClient sets the HTTP client used for facilitator calls.
func WithFacilitatorHTTPClient(client *http.Client) FacilitatorOption {
	return func(c *FacilitatorClient) error {
		if client == nil {
			return fmt.Errorf("x402: facilitator http client is nil")
		}
		c.Client = client
		return nil
	}
}

// WithAuthorization sets a static Authorization header value.
func WithAuthorization(value string) FacilitatorOption {
	return func(c *FacilitatorClient) error {
		c.Authorization = value
		return nil
	}
}

// WithAuthorizationProvider sets a per-request Authorization source.
func WithAuthorizationProvider(provider AuthorizationProvider) FacilitatorOption {
	return func(c *FacilitatorClient) error {
		c.AuthorizationProvider = provider
		return nil
	}
}

// httpClient returns the HTTP client to use, defaulting to http.DefaultClient.
func (c *FacilitatorClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

// setAuthorizationHeader sets the Authorization header on the request if configured.
func (c *FacilitatorClient) setAuthorizationHeader(req *http.Request) {
	var authValue string
	if c.AuthorizationProvider != nil {
		authValue = c.AuthorizationProvider(req)
	} else if c.Authorization != "" {
		authValue = c.Authorization
	}
	if authValue != "" {
		req.Header.Set("Authorization", authValue)
	}
}

// Verify asks the facilitator whether payload satisfies details.
func (c *FacilitatorClient) Verify(ctx context.Context, payload string, details x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	var resp x402.VerifyResponse
	if err := c.post(ctx, x402.OpVerify, payload, details, x402.ErrVerificationFailed, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Settle asks the facilitator to execute the payment.
func (c *FacilitatorClient) Settle(ctx context.Context, payload string, details x402.PaymentRequirements) (*x402.SettleResponse, error) {
	var resp x402.SettleResponse
	if err := c.post(ctx, x402.OpSettle, payload, details, x402.ErrSettlementFailed, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *FacilitatorClient) post(ctx context.Context, op x402.FacilitatorOp, payload string, details x402.PaymentRequirements, failure error, out any) error {
	data, err := json.Marshal(facilitator.Request{Payload: payload, Details: details})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	reqCtx, cancel := c.Timeouts.Bound(ctx, op)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.BaseURL+"/"+string(op), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthorizationHeader(httpReq)

	httpResp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return parseErrorResponse(httpResp, failure)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// parseErrorResponse extracts error details from a non-200 HTTP response.
func parseErrorResponse(resp *http.Response, baseErr error) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errBody map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &errBody); err == nil {
		for _, key := range []string{"invalidReason", "error"} {
			if reason, ok := errBody[key].(string); ok && reason != "" {
				return fmt.Errorf("%w: status %d, reason: %s", baseErr, resp.StatusCode, reason)
			}
		}
	}

	if len(bodyBytes) > 0 && len(bodyBytes) < 500 {
		return fmt.Errorf("%w: status %d, body: %s", baseErr, resp.StatusCode, string(bodyBytes))
	}

	return fmt.Errorf("%w: status %d", baseErr, resp.StatusCode)
}
