package entity

import (
	"time"

	"github.com/garyjia/invoice-matcher/internal/domain/workflow"
)

// InvoiceRecord tracks one uploaded document from storage through extraction to linking.
// A nil LedgerEntryID marks an orphan invoice.
type InvoiceRecord struct {
	ID            int64          `json:"id"`
	StorageKey    string         `json:"storage_key"`
	FileName      string         `json:"file_name"`
	MediaType     string         `json:"media_type"`
	FileSize      int64          `json:"file_size"`
	LedgerEntryID *int64         `json:"ledger_entry_id"`
	OCRStatus     workflow.State `json:"ocr_status"`

	Extracted ExtractedFields `json:"extracted"`

	RawResponse  *string `json:"raw_response,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`

	// Accounting, set only when an extraction call actually ran
	TokensIn  *int    `json:"tokens_in,omitempty"`
	TokensOut *int    `json:"tokens_out,omitempty"`
	CostCents *int64  `json:"cost_cents,omitempty"`
	Model     *string `json:"model,omitempty"`

	UploadedBy string    `json:"uploaded_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ExtractedFields are the structured values read from an invoice, all optional
type ExtractedFields struct {
	Amount        *float64 `json:"amount"`
	Date          *string  `json:"date"`
	Vendor        *string  `json:"vendor"`
	InvoiceNumber *string  `json:"invoice_number"`
}

// IsOrphan reports whether the invoice is not linked to any ledger entry yet
func (r *InvoiceRecord) IsOrphan() bool {
	return r.LedgerEntryID == nil
}

// IsEmpty reports whether no field carries a value
func (f ExtractedFields) IsEmpty() bool {
	return f.Amount == nil && f.Date == nil && f.Vendor == nil && f.InvoiceNumber == nil
}

// ExtractionOutcome is the result of the gated extraction stage, persisted in one step
type ExtractionOutcome struct {
	Status       workflow.State
	Fields       ExtractedFields
	RawResponse  *string
	ErrorMessage *string
	TokensIn     int
	TokensOut    int
	CostCents    int64
	Model        string
	// Ran is false when the extraction service was never called (budget rejection)
	Ran bool
}

// Apply copies a persisted outcome onto the in-memory record
func (r *InvoiceRecord) Apply(o ExtractionOutcome) {
	r.OCRStatus = o.Status
	r.Extracted = o.Fields
	r.RawResponse = o.RawResponse
	r.ErrorMessage = o.ErrorMessage
	if !o.Ran {
		return
	}
	tokensIn, tokensOut, cost, model := o.TokensIn, o.TokensOut, o.CostCents, o.Model
	r.TokensIn = &tokensIn
	r.TokensOut = &tokensOut
	r.CostCents = &cost
	r.Model = &model
}
