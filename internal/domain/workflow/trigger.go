package workflow

// Trigger represents an event that moves a record out of PENDING
type Trigger string

const (
	TriggerComplete     Trigger = "COMPLETE"
	TriggerFail         Trigger = "FAIL"
	TriggerRejectBudget Trigger = "REJECT_BUDGET"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
