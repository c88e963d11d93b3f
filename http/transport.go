package http

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	x402 "github.com/nacorid/x402-go"
	"github.com/nacorid/x402-go/encoding"
	"github.com/nacorid/x402-go/http/internal/helpers"
	"github.com/nacorid/x402-go/validation"
)

// X402Transport is a custom RoundTripper that handles x402 payment flows.
// It wraps an existing http.RoundTripper and pays for a 402 Payment Required
// response at most once per logical request.
//
// Fields are read-only once the transport is in use; a single transport may
// be shared by concurrent requests.
type X402Transport struct {
	// Base is the underlying RoundTripper (typically http.DefaultTransport).
	Base http.RoundTripper

	// Signer turns validated requirements into a signed payment.
	Signer x402.Signer

	// Codec encodes payments for the X-PAYMENT header. Defaults to encoding.Default.
	Codec *encoding.PayloadCodec

	// Logger receives payment flow diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// OnPaymentAttempt is called when a payment attempt is made.
	OnPaymentAttempt x402.PaymentCallback

	// OnPaymentSuccess is called when a payment succeeds.
	OnPaymentSuccess x402.PaymentCallback

	// OnPaymentFailure is called when a payment fails.
	OnPaymentFailure x402.PaymentCallback
}

// attempt tracks one logical request across its original send and its paid retry.
// It travels next to the request and is never stored on it.
type attempt struct {
	id      string
	retried bool
	started time.Time
}

// RoundTrip implements http.RoundTripper.
// A request that already carries X-PAYMENT is treated as a paid retry and is
// never paid for again.
func (t *X402Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req, err := replayable(req)
	if err != nil {
		return nil, err
	}

	return t.send(req, attempt{
		id:      uuid.NewString(),
		retried: req.Header.Get(x402.HeaderPayment) != "",
		started: time.Now(),
	})
}

func (t *X402Transport) send(req *http.Request, a attempt) (*http.Response, error) {
	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	if a.retried {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		t.logger().Warn("payment rejected on retry", "attempt", a.id, "url", req.URL.String())
		return nil, x402.NewPaymentError(x402.ErrCodeRetryExhausted, "server answered 402 to a paid request", x402.ErrRetryExhausted).
			WithDetails("attemptId", a.id)
	}

	return t.pay(req, resp, a)
}

// pay answers a 402 with a signed payment and resends the request once.
func (t *X402Transport) pay(req *http.Request, resp *http.Response, a attempt) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading 402 response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	raw, ok := helpers.RequirementsDocument(body)
	if !ok {
		t.logger().Debug("402 response without payment requirements", "attempt", a.id, "url", req.URL.String())
		return resp, nil
	}

	fail := func(requirements *x402.PaymentRequirements, cause error) (*http.Response, error) {
		t.notify(t.OnPaymentFailure, t.event(x402.PaymentEventFailure, req, requirements, a, cause))
		t.logger().Warn("payment aborted", "attempt", a.id, "url", req.URL.String(), "error", cause)
		return nil, &PaymentRequiredError{
			StatusCode:   resp.StatusCode,
			Body:         body,
			Requirements: requirements,
			Err:          cause,
		}
	}

	requirements, err := validation.ParsePaymentRequirements(raw)
	if err != nil {
		return fail(nil, x402.NewPaymentError(x402.ErrCodeValidation, "invalid payment requirements", err))
	}
	if t.Signer == nil {
		return fail(requirements, x402.NewPaymentError(x402.ErrCodeConfiguration, "no payment signer configured", x402.ErrSigningFailed))
	}
	if !t.Signer.CanSign(requirements) {
		return fail(requirements, x402.NewPaymentError(x402.ErrCodeConfiguration, "signer cannot pay these requirements",
			fmt.Errorf("%w: network %s", x402.ErrChainNotConfigured, requirements.NetworkID)))
	}

	t.logger().Info("paying for request",
		"attempt", a.id,
		"url", req.URL.String(),
		"network", requirements.NetworkID,
		"amount", requirements.MaxAmountRequired,
		"payTo", requirements.PayToAddress)
	t.notify(t.OnPaymentAttempt, t.event(x402.PaymentEventAttempt, req, requirements, a, nil))

	payment, err := t.Signer.Sign(req.Context(), requirements)
	if err != nil {
		return fail(requirements, err)
	}

	header, err := helpers.BuildPaymentHeader(t.codec(), payment)
	if err != nil {
		return fail(requirements, err)
	}

	retry, err := retryRequest(req, header)
	if err != nil {
		return fail(requirements, err)
	}

	a.retried = true
	retryResp, err := t.send(retry, a)
	if err != nil {
		t.notify(t.OnPaymentFailure, t.event(x402.PaymentEventFailure, req, requirements, a, err))
		return nil, err
	}

	settlement := helpers.ParseSettlement(retryResp.Header.Get(x402.HeaderPaymentResponse))
	if settlement != nil && settlement.Success {
		t.notify(t.OnPaymentSuccess, t.event(x402.PaymentEventSuccess, req, requirements, a, nil).WithSettlement(settlement))
	}
	t.logger().Debug("paid request completed", "attempt", a.id, "status", retryResp.StatusCode)

	return retryResp, nil
}

func (t *X402Transport) event(kind x402.PaymentEventType, req *http.Request, requirements *x402.PaymentRequirements, a attempt, err error) x402.PaymentEvent {
	event := x402.NewPaymentEvent(kind, a.id, req.URL.String(), requirements, a.started)
	event.Error = err
	return event
}

func (t *X402Transport) notify(cb x402.PaymentCallback, event x402.PaymentEvent) {
	t.logger().Debug("payment event", "event", event)
	if cb != nil {
		cb(event)
	}
}

func (t *X402Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *X402Transport) codec() *encoding.PayloadCodec {
	if t.Codec != nil {
		return t.Codec
	}
	return encoding.Default
}

func (t *X402Transport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// replayable makes sure the request body can be sent a second time.
// Bodies without GetBody are buffered into memory.
func replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}

	body, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffering request body: %w", err)
	}

	buffered := req.Clone(req.Context())
	buffered.Body = io.NopCloser(bytes.NewReader(body))
	buffered.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return buffered, nil
}

// retryRequest clones req with the payment header attached.
func retryRequest(req *http.Request, paymentHeader string) (*http.Request, error) {
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replaying request body: %w", err)
		}
		retry.Body = body
	}

	retry.Header.Set(x402.HeaderPayment, paymentHeader)
	retry.Header.Set(x402.HeaderExposeHeaders, x402.HeaderPaymentResponse)
	return retry, nil
}
