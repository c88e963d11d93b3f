package x402

import (
	"log/slog"
	"time"
)

// PaymentEventType is the stage of a paid request an event reports.
type PaymentEventType string

const (
	PaymentEventAttempt PaymentEventType = "attempt"
	PaymentEventSuccess PaymentEventType = "success"
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentEvent reports one stage of answering a 402. All events of one
// logical request share an AttemptID. Requirement fields are empty when the
// 402 carried nothing usable.
type PaymentEvent struct {
	Type      PaymentEventType
	AttemptID string
	Timestamp time.Time
	URL       string

	// Copied from the PaymentRequirements being paid.
	Amount    string
	Asset     string
	Network   string
	Scheme    string
	Recipient string

	// Set from X-PAYMENT-RESPONSE on success.
	Payer       string
	Transaction string

	Error error

	// Duration is measured from the first send of the request.
	Duration time.Duration
}

// NewPaymentEvent builds an event for a request first sent at started.
// requirements may be nil.
func NewPaymentEvent(kind PaymentEventType, attemptID, url string, requirements *PaymentRequirements, started time.Time) PaymentEvent {
	now := time.Now()
	event := PaymentEvent{
		Type:      kind,
		AttemptID: attemptID,
		Timestamp: now,
		URL:       url,
		Duration:  now.Sub(started),
	}
	if requirements != nil {
		event.Amount = requirements.MaxAmountRequired
		event.Asset = requirements.USDCAddress
		event.Network = requirements.NetworkID
		event.Scheme = requirements.Scheme
		event.Recipient = requirements.PayToAddress
	}
	return event
}

// WithSettlement copies payer and transaction from a settlement.
func (e PaymentEvent) WithSettlement(s *SettleResponse) PaymentEvent {
	if s != nil {
		e.Payer = s.Payer
		e.Transaction = s.TxHash
	}
	return e
}

// LogValue implements slog.LogValuer. Empty fields are omitted.
func (e PaymentEvent) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("type", string(e.Type)),
		slog.String("attempt", e.AttemptID),
		slog.String("url", e.URL),
		slog.Duration("duration", e.Duration),
	}
	for _, kv := range [][2]string{
		{"network", e.Network},
		{"amount", e.Amount},
		{"payTo", e.Recipient},
		{"payer", e.Payer},
		{"txHash", e.Transaction},
	} {
		if kv[1] != "" {
			attrs = append(attrs, slog.String(kv[0], kv[1]))
		}
	}
	if e.Error != nil {
		attrs = append(attrs, slog.String("error", e.Error.Error()))
	}
	return slog.GroupValue(attrs...)
}

// PaymentCallback receives payment events synchronously on the request path.
type PaymentCallback func(PaymentEvent)
