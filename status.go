package oxygen

// Status is the health signal a driver exposes to external monitoring.
type Status int

const (
	// StatusUnknown is reported until setup has talked to the device.
	StatusUnknown Status = iota
	StatusHealthy
	// StatusWarning is transient and cleared by the next successful read.
	StatusWarning
	// StatusFailed is terminal until the driver is re-created.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
