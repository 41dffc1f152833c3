package event

import (
	"time"

	"github.com/google/uuid"
)

// Payload keys shared by publishers and handlers
const (
	KeyStatus        = "status"
	KeyFileName      = "file_name"
	KeyFileSize      = "file_size"
	KeyLedgerEntryID = "ledger_entry_id"
	KeyTokensIn      = "tokens_in"
	KeyTokensOut     = "tokens_out"
	KeyCostCents     = "cost_cents"
	KeySpentCents    = "spent_cents"
	KeyBudgetCents   = "budget_cents"
	KeyUsedPercent   = "used_percent"
	KeyDurationMS    = "duration_ms"
	KeyFields        = "fields"
)

// Event represents a domain event about one invoice record
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	InvoiceID     int64                  `json:"invoice_id"`
	UserID        string                 `json:"user_id"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with auto-generated ID and timestamp
func NewEvent(eventType Type, invoiceID int64, userID string, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, invoiceID, userID, payload, uuid.NewString())
}

// NewEventWithCorrelation creates an event linked to a correlation chain,
// e.g. every event raised by one upload batch.
func NewEventWithCorrelation(eventType Type, invoiceID int64, userID string, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		InvoiceID:     invoiceID,
		UserID:        userID,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}
}

// WithPayload returns a copy of the event with an added payload key
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	cp := *e
	cp.Payload = newPayload
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

// GetPayloadFloat retrieves a float64 value from the payload
func (e *Event) GetPayloadFloat(key string) float64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case int:
			return float64(v)
		}
	}
	return 0.0
}
