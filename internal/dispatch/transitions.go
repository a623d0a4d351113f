package dispatch

var allowedTransitions = map[RideStatus]map[RideStatus]bool{
	StatusPending: {
		StatusDriverAssigned: true,
		StatusCancelled:      true,
	},
	StatusDriverAssigned: {
		StatusEnRoute:    true,
		StatusInProgress: true,
		StatusCancelled:  true,
	},
	StatusEnRoute: {
		StatusInProgress: true,
		StatusCancelled:  true,
	},
	StatusInProgress: {
		StatusCompleted: true,
	},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether the ride state machine allows from -> to.
func CanTransition(from, to RideStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// ParseRideStatus validates a status coming from the wire.
func ParseRideStatus(s string) (RideStatus, bool) {
	st := RideStatus(s)
	_, ok := allowedTransitions[st]
	return st, ok
}
