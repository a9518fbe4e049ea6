package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPaid: true, StatusCancelled: true, StatusExpired: true, StatusFailed: true},
	StatusPaid:      {StatusCompleted: true, StatusRefunded: true},
	StatusCompleted: {StatusRefunded: true},
	StatusCancelled: {},
	StatusExpired:   {},
	StatusFailed:    {},
	StatusRefunded:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// IsTerminal reports whether no core-level transition leaves the status.
func (s Status) IsTerminal() bool {
	return len(validNext[s]) == 0
}

func (s Status) String() string { return string(s) }
