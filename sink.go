package oxygen

// Sink receives validated readings. Publish must not block for long; implementations
// that talk to remote services apply their own timeouts.
type Sink interface {
	Publish(value float32)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(value float32)

func (f SinkFunc) Publish(value float32) {
	f(value)
}

// Tee publishes every value to all wrapped sinks in order.
type Tee []Sink

func (t Tee) Publish(value float32) {
	for _, s := range t {
		s.Publish(value)
	}
}
