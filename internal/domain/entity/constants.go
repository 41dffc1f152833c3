package entity

// Supported media types for invoice uploads
const (
	MediaTypePDF  = "application/pdf"
	MediaTypeJPEG = "image/jpeg"
	MediaTypePNG  = "image/png"
	MediaTypeWebP = "image/webp"
)

// AllowedMediaTypes is the upload allow-list
var AllowedMediaTypes = map[string]bool{
	MediaTypePDF:  true,
	MediaTypeJPEG: true,
	MediaTypePNG:  true,
	MediaTypeWebP: true,
}

// Field length limits applied to extracted and corrected values
const (
	MaxVendorLength        = 500
	MaxInvoiceNumberLength = 200
	MaxErrorMessageLength  = 500
)

// Storage key namespaces
const (
	NamespaceOrphan = "orphan"
)

// Audit log actions
const (
	AuditActionUpload  = "invoice.upload"
	AuditActionExtract = "invoice.extract"
	AuditActionCorrect = "invoice.correct"
	AuditActionLink    = "invoice.link"
	AuditActionRemove  = "invoice.remove"
)
