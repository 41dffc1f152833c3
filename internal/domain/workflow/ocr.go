package workflow

import "sync"

var ocrBuilder = sync.OnceValue(func() StateMachineBuilder {
	b := NewBuilder()
	b.Configure(StatePending).
		Permit(TriggerComplete, StateCompleted).
		Permit(TriggerFail, StateFailed).
		Permit(TriggerRejectBudget, StateBudgetExceeded)
	return b
})

// NewOCRMachine returns a machine enforcing the extraction status transitions,
// starting from the given state. Terminal states have no configuration, so any
// trigger fired from them fails with ErrInvalidTransition.
func NewOCRMachine(current State) StateMachine {
	return ocrBuilder().Build(current)
}

// Next returns the state reached by firing trigger from current
func Next(current State, trigger Trigger) (State, error) {
	if !current.IsValid() {
		return current, ErrInvalidState
	}
	m := NewOCRMachine(current)
	if err := m.Fire(trigger); err != nil {
		return current, err
	}
	return m.State(), nil
}

var triggerFor = map[State]Trigger{
	StateCompleted:      TriggerComplete,
	StateFailed:         TriggerFail,
	StateBudgetExceeded: TriggerRejectBudget,
}

// TriggerFor returns the trigger that leads from PENDING to target
func TriggerFor(target State) (Trigger, error) {
	t, ok := triggerFor[target]
	if !ok {
		return "", ErrInvalidTransition
	}
	return t, nil
}
