package order

// transitions is the lifecycle table. Creation (none -> NEW) is handled by
// the store when the order row is inserted and is not listed here.
var transitions = map[Status][]Status{
	StatusNew:        {StatusInProgress, StatusCanceled},
	StatusInProgress: {StatusDone, StatusCanceled},
	StatusDone:       nil,
	StatusCanceled:   nil,
}

// CanTransition reports whether from -> to is an allowed lifecycle move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an InvalidTransition error when from -> to is not
// in the table.
func CheckTransition(orderID int64, from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return NewInvalidTransition(orderID, from, to)
}
