package port

import (
	"context"
	"time"
)

// ExtractionResult is the sanitized reply of the extraction service.
// Field values are nil when absent or rejected by sanitization.
type ExtractionResult struct {
	Amount        *float64
	Date          *string
	Vendor        *string
	InvoiceNumber *string
	TokensIn      int
	TokensOut     int
	RawText       string
	Model         string
}

// Extractor reads structured fields from an invoice document.
// An error means the call failed in transport or authentication; unparseable
// replies are returned as a result with nil fields.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mediaType, fileName string) (*ExtractionResult, error)
}

// Notifier delivers operator alerts
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// Clock provides the current time
type Clock interface {
	Now() time.Time
}
