package event

// Type identifies the type of domain event
type Type string

const (
	TypeInvoiceIngested  Type = "invoice.ingested"
	TypeInvoiceExtracted Type = "invoice.extracted"
	TypeBudgetExceeded   Type = "budget.exceeded"
	TypeBudgetAlert      Type = "budget.alert"
	TypeInvoiceLinked    Type = "invoice.linked"
	TypeInvoiceCorrected Type = "invoice.corrected"
	TypeInvoiceRemoved   Type = "invoice.removed"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeInvoiceIngested,
		TypeInvoiceExtracted,
		TypeBudgetExceeded,
		TypeBudgetAlert,
		TypeInvoiceLinked,
		TypeInvoiceCorrected,
		TypeInvoiceRemoved:
		return true
	default:
		return false
	}
}
