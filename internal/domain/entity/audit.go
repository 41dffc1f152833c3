package entity

import "time"

// AuditLogEntry records a user-facing action on an invoice
type AuditLogEntry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Action    string    `json:"action"`
	InvoiceID *int64    `json:"invoice_id,omitempty"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}
