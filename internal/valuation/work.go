package valuation

// WorkState tracks a recompute through its lifecycle
type WorkState int32

const (
	StateQueued WorkState = iota
	StateDispatched
	StateComputing
	StateBroadcastQueued
	StateDone
	StateFailed
)

func (s WorkState) String() string {
	switch s {
	case StateQueued:
		return "QUEUED"
	case StateDispatched:
		return "DISPATCHED"
	case StateComputing:
		return "COMPUTING"
	case StateBroadcastQueued:
		return "BROADCAST_QUEUED"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Terminal reports whether the state ends a work item
func (s WorkState) Terminal() bool {
	return s == StateDone || s == StateFailed
}
