package workflow

// State is the extraction lifecycle status of an invoice record
type State string

const (
	StatePending        State = "PENDING"
	StateCompleted      State = "COMPLETED"
	StateFailed         State = "FAILED"
	StateBudgetExceeded State = "BUDGET_EXCEEDED"
)

// IsTerminal returns true if no further transitions are allowed from the state
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateBudgetExceeded:
		return true
	}
	return false
}

// IsLinkable reports whether a record in this state may be linked to a ledger entry.
// Budget-rejected records never ran extraction and stay orphans until removed.
func (s State) IsLinkable() bool {
	return s == StateCompleted || s == StateFailed
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known status
func (s State) IsValid() bool {
	return s == StatePending || s.IsTerminal()
}

// ParseState converts a stored status string into a State
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.IsValid() {
		return "", ErrInvalidState
	}
	return s, nil
}
