package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/garyjia/invoice-matcher/internal/application/dispatcher"
	"github.com/garyjia/invoice-matcher/internal/application/port"
	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/garyjia/invoice-matcher/internal/domain/event"
)

var auditActions = map[event.Type]string{
	event.TypeInvoiceIngested:  entity.AuditActionUpload,
	event.TypeInvoiceExtracted: entity.AuditActionExtract,
	event.TypeInvoiceCorrected: entity.AuditActionCorrect,
	event.TypeInvoiceLinked:    entity.AuditActionLink,
	event.TypeInvoiceRemoved:   entity.AuditActionRemove,
}

// AuditRecorder writes invoice events to the audit log
type AuditRecorder struct {
	audit  port.AuditRepository
	clock  port.Clock
	logger Logger
}

// NewAuditRecorder creates a new AuditRecorder
func NewAuditRecorder(audit port.AuditRepository, clk port.Clock, logger Logger) *AuditRecorder {
	return &AuditRecorder{audit: audit, clock: clk, logger: logger}
}

// Handle records one event. Failures are logged and returned to the
// dispatcher, never to the request that raised the event.
func (a *AuditRecorder) Handle(ctx context.Context, evt *event.Event) error {
	action, ok := auditActions[evt.Type]
	if !ok {
		return nil
	}

	detail, err := json.Marshal(evt.Payload)
	if err != nil {
		detail = []byte("{}")
	}

	entry := &entity.AuditLogEntry{
		UserID:    evt.UserID,
		Action:    action,
		Detail:    string(detail),
		CreatedAt: a.clock.Now(),
	}
	if evt.InvoiceID > 0 {
		id := evt.InvoiceID
		entry.InvoiceID = &id
	}

	if err := a.audit.Create(ctx, entry); err != nil {
		a.logger.Error("Failed to write audit entry", "action", action, "invoice_id", evt.InvoiceID, "error", err)
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// BudgetAlerter notifies operators when spend crosses the alert threshold
// or the monthly cap
type BudgetAlerter struct {
	notifier port.Notifier
	logger   Logger
}

// NewBudgetAlerter creates a new BudgetAlerter
func NewBudgetAlerter(notifier port.Notifier, logger Logger) *BudgetAlerter {
	return &BudgetAlerter{notifier: notifier, logger: logger}
}

// Handle sends one alert
func (b *BudgetAlerter) Handle(ctx context.Context, evt *event.Event) error {
	spent := evt.GetPayloadInt(event.KeySpentCents)
	budget := evt.GetPayloadInt(event.KeyBudgetCents)

	var title string
	switch evt.Type {
	case event.TypeBudgetAlert:
		title = "Extraction budget alert"
	case event.TypeBudgetExceeded:
		title = "Extraction budget exhausted"
	default:
		return nil
	}

	body := fmt.Sprintf("Month-to-date extraction spend is %s of %s (%.0f%%).",
		formatCents(spent), formatCents(budget), entity.NewBudgetSnapshot(spent, budget, evt.Timestamp).UsedPercent())
	if evt.Type == event.TypeBudgetExceeded {
		body += " New uploads will be stored without extraction until next month or until the budget is raised."
	}

	if err := b.notifier.Notify(ctx, title, body); err != nil {
		b.logger.Error("Failed to send budget alert", "event_type", evt.Type, "error", err)
		return fmt.Errorf("send budget alert: %w", err)
	}
	b.logger.Info("Budget alert sent", "event_type", evt.Type, "spent_cents", spent, "budget_cents", budget)
	return nil
}

func formatCents(c int64) string {
	return fmt.Sprintf("$%d.%02d", c/100, c%100)
}

// RegisterHandlers subscribes the audit recorder and, when configured, the
// budget alerter. Either may be nil.
func RegisterHandlers(d dispatcher.Dispatcher, audit *AuditRecorder, alerter *BudgetAlerter) {
	if audit != nil {
		for t := range auditActions {
			d.SubscribeNamed(t, "audit-log", audit.Handle)
		}
	}
	if alerter != nil {
		d.SubscribeNamed(event.TypeBudgetAlert, "budget-alert", alerter.Handle)
		d.SubscribeNamed(event.TypeBudgetExceeded, "budget-alert", alerter.Handle)
	}
}
