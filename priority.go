package oxygen

// Priority orders components for setup and update. Higher values go first.
type Priority float32

const (
	PriorityBus      Priority = 1000
	PriorityIO       Priority = 900
	PriorityHardware Priority = 800
	// PriorityData is used by sensors that only read data from already initialized buses.
	PriorityData      Priority = 600
	PriorityProcessor Priority = 400
	PriorityLate      Priority = -100
)
