package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/nacorid/x402-go"
	"github.com/nacorid/x402-go/encoding"
	"github.com/nacorid/x402-go/facilitator"
)

// stubFacilitator verifies with a LocalVerifier and settles with a canned response.
type stubFacilitator struct {
	verifier    facilitator.Verifier
	verifyErr   error
	settleErr   error
	settleFail  string
	settleNil   bool
	verifyCalls atomic.Int32
	settleCalls atomic.Int32
}

func newStubFacilitator() *stubFacilitator {
	return &stubFacilitator{verifier: facilitator.NewLocalVerifier(x402.DefaultChains)}
}

func (f *stubFacilitator) Verify(ctx context.Context, payload string, details x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	f.verifyCalls.Add(1)
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.verifier.Verify(ctx, payload, details)
}

func (f *stubFacilitator) Settle(_ context.Context, _ string, details x402.PaymentRequirements) (*x402.SettleResponse, error) {
	f.settleCalls.Add(1)
	switch {
	case f.settleErr != nil:
		return nil, f.settleErr
	case f.settleNil:
		return nil, nil
	case f.settleFail != "":
		return &x402.SettleResponse{Success: false, Error: f.settleFail, NetworkID: details.NetworkID}, nil
	}
	return &x402.SettleResponse{Success: true, TxHash: "0xsettled", NetworkID: details.NetworkID, Payer: testAddress}, nil
}

func signedPaymentHeader(t *testing.T) string {
	t.Helper()
	requirements := testRequirements()
	payment, err := newCountingSigner(t).Sign(context.Background(), &requirements)
	require.NoError(t, err)
	header, err := encoding.EncodePayment(*payment)
	require.NoError(t, err)
	return header
}

func paidContent(w http.ResponseWriter, r *http.Request) {
	payment := GetPaymentFromContext(r.Context())
	if payment == nil {
		http.Error(w, "no payment in context", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "success", "payer": payment.Payer})
}

func serveGated(t *testing.T, config Config, handler http.HandlerFunc, header string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	if header != "" {
		req.Header.Set(x402.HeaderPayment, header)
	}
	rec := httptest.NewRecorder()
	NewX402Middleware(config)(handler).ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_NoPaymentReturns402(t *testing.T) {
	stub := newStubFacilitator()
	requirements := testRequirements()
	requirements.Resource = ""
	requirements.Description = ""

	rec := serveGated(t, Config{Facilitator: stub, PaymentRequirements: requirements}, paidContent, "")

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body x402.PaymentRequired
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "X-PAYMENT header is required", body.Error)
	require.NotNil(t, body.Requirements())
	assert.Equal(t, "http://example.com/data", body.Requirements().Resource)
	assert.Equal(t, "Payment required for /data", body.Requirements().Description)
	assert.Zero(t, stub.verifyCalls.Load())
}

func TestMiddleware_InvalidHeaderReturns400(t *testing.T) {
	stub := newStubFacilitator()
	rec := serveGated(t, Config{Facilitator: stub, PaymentRequirements: testRequirements()}, paidContent, "garbage")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, stub.verifyCalls.Load())
}

func TestMiddleware_SettlesAfterHandler(t *testing.T) {
	stub := newStubFacilitator()
	var settledBeforeHandler int32 = -1
	handler := func(w http.ResponseWriter, r *http.Request) {
		settledBeforeHandler = stub.settleCalls.Load()
		paidContent(w, r)
	}

	rec := serveGated(t, Config{Facilitator: stub, PaymentRequirements: testRequirements()}, handler, signedPaymentHeader(t))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Zero(t, settledBeforeHandler, "settlement must wait for the handler")
	assert.Equal(t, int32(1), stub.settleCalls.Load())

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, testAddress, body["payer"])

	settlement, err := encoding.DecodeSettlement(rec.Header().Get(x402.HeaderPaymentResponse))
	require.NoError(t, err)
	assert.Equal(t, "0xsettled", settlement.TxHash)
}

func TestMiddleware_HandlerWithoutBodyIsSettled(t *testing.T) {
	stub := newStubFacilitator()
	rec := serveGated(t, Config{Facilitator: stub, PaymentRequirements: testRequirements()},
		func(http.ResponseWriter, *http.Request) {}, signedPaymentHeader(t))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), stub.settleCalls.Load())
	assert.NotEmpty(t, rec.Header().Get(x402.HeaderPaymentResponse))
}

func TestMiddleware_FailedHandlerIsNotCharged(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			stub := newStubFacilitator()
			rec := serveGated(t, Config{Facilitator: stub, PaymentRequirements: testRequirements()},
				func(w http.ResponseWriter, r *http.Request) { http.Error(w, "handler failed", status) },
				signedPaymentHeader(t))

			assert.Equal(t, status, rec.Code)
			assert.Contains(t, rec.Body.String(), "handler failed")
			assert.Equal(t, int32(1), stub.verifyCalls.Load())
			assert.Zero(t, stub.settleCalls.Load())
			assert.Empty(t, rec.Header().Get(x402.HeaderPaymentResponse))
		})
	}
}

func TestMiddleware_VerifyOnly(t *testing.T) {
	stub := newStubFacilitator()
	rec := serveGated(t, Config{Facilitator: stub, PaymentRequirements: testRequirements(), VerifyOnly: true},
		paidContent, signedPaymentHeader(t))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, stub.settleCalls.Load())
	assert.Empty(t, rec.Header().Get(x402.HeaderPaymentResponse))
}

func TestMiddleware_RejectedPayment(t *testing.T) {
	requirements := testRequirements()
	requirements.MaxAmountRequired = "1"

	stub := newStubFacilitator()
	var handled bool
	rec := serveGated(t, Config{Facilitator: stub, PaymentRequirements: requirements},
		func(http.ResponseWriter, *http.Request) { handled = true }, signedPaymentHeader(t))

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var body x402.PaymentRequired
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, facilitator.ReasonValueExceeded, body.Error)
	assert.False(t, handled)
	assert.Zero(t, stub.settleCalls.Load())
}

func TestMiddleware_FacilitatorFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*stubFacilitator)
		status int
	}{
		{"verify error", func(f *stubFacilitator) { f.verifyErr = x402.ErrFacilitatorUnavailable }, http.StatusServiceUnavailable},
		{"settle error", func(f *stubFacilitator) { f.settleErr = errors.New("rpc down") }, http.StatusServiceUnavailable},
		{"settle unsuccessful", func(f *stubFacilitator) { f.settleFail = "insufficient_funds" }, http.StatusPaymentRequired},
		{"settle without result", func(f *stubFacilitator) { f.settleNil = true }, http.StatusPaymentRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := newStubFacilitator()
			tt.mutate(stub)
			rec := serveGated(t, Config{Facilitator: stub, PaymentRequirements: testRequirements()},
				paidContent, signedPaymentHeader(t))

			assert.Equal(t, tt.status, rec.Code)
			assert.NotContains(t, rec.Body.String(), "success", "handler output must be discarded")
			assert.Empty(t, rec.Header().Get(x402.HeaderPaymentResponse))
		})
	}
}

func TestMiddleware_ClientRoundTrip(t *testing.T) {
	stub := newStubFacilitator()
	requirements := testRequirements()
	requirements.Resource = ""
	server := httptest.NewServer(NewX402Middleware(Config{Facilitator: stub, PaymentRequirements: requirements})(http.HandlerFunc(paidContent)))
	defer server.Close()

	signer := newCountingSigner(t)
	client, err := NewClient(WithSigner(signer))
	require.NoError(t, err)

	resp, err := client.Get(server.URL + "/data")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	settlement := GetSettlement(resp)
	require.NotNil(t, settlement)
	assert.Equal(t, "0xsettled", settlement.TxHash)
	assert.Equal(t, int32(1), signer.calls.Load())
	assert.Equal(t, int32(1), stub.verifyCalls.Load())
	assert.Equal(t, int32(1), stub.settleCalls.Load())
}
