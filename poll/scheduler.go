// Package poll runs polling components: one setup pass in priority order, then
// periodic updates on a single goroutine.
package poll

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/mklimuk/oxygen"
)

// Component is a device driver that can be polled periodically.
type Component interface {
	Name() string
	Priority() oxygen.Priority
	Interval() time.Duration
	Setup(ctx context.Context) error
	Update(ctx context.Context)
}

// StatusReporter is implemented by components exposing their health.
type StatusReporter interface {
	Status() oxygen.Status
}

// StatusObserver is notified of the component status after every update.
type StatusObserver interface {
	ObserveStatus(component string, status oxygen.Status)
}

// StatusObservers notifies every wrapped observer in order.
type StatusObservers []StatusObserver

func (o StatusObservers) ObserveStatus(component string, status oxygen.Status) {
	for _, observer := range o {
		observer.ObserveStatus(component, status)
	}
}

type entry struct {
	component Component
	due       time.Time
}

type Scheduler struct {
	components []Component
	observer   StatusObserver
}

type SchedulerOpt func(*Scheduler)

func WithStatusObserver(observer StatusObserver) SchedulerOpt {
	return func(s *Scheduler) {
		s.observer = observer
	}
}

func NewScheduler(opts ...SchedulerOpt) *Scheduler {
	s := &Scheduler{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Register(components ...Component) {
	s.components = append(s.components, components...)
}

// Run blocks until ctx is done. It returns the number of components that failed setup.
func (s *Scheduler) Run(ctx context.Context) int {
	active := s.setup(ctx)
	failed := len(s.components) - len(active)
	if len(active) == 0 {
		slog.Warn("no component to poll")
		<-ctx.Done()
		return failed
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return failed
		case <-timer.C:
		}
		now := time.Now()
		for _, e := range active {
			if now.Before(e.due) {
				continue
			}
			s.update(ctx, e.component)
			e.due = e.due.Add(e.component.Interval())
			if !e.due.After(now) {
				// missed cycles are dropped, not replayed
				e.due = time.Now().Add(e.component.Interval())
			}
		}
		timer.Reset(time.Until(nextDue(active)))
	}
}

func (s *Scheduler) setup(ctx context.Context) []*entry {
	ordered := make([]Component, len(s.components))
	copy(ordered, s.components)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() > ordered[j].Priority()
	})
	now := time.Now()
	active := make([]*entry, 0, len(ordered))
	for _, c := range ordered {
		slog.Debug("setting up component", "component", c.Name(), "priority", c.Priority())
		if err := c.Setup(ctx); err != nil {
			slog.Error("component setup failed", "component", c.Name(), "error", err)
			s.observe(c)
			continue
		}
		active = append(active, &entry{component: c, due: now})
	}
	return active
}

func (s *Scheduler) update(ctx context.Context, c Component) {
	c.Update(ctx)
	s.observe(c)
}

func (s *Scheduler) observe(c Component) {
	if s.observer == nil {
		return
	}
	if r, ok := c.(StatusReporter); ok {
		s.observer.ObserveStatus(c.Name(), r.Status())
	}
}

func nextDue(entries []*entry) time.Time {
	next := entries[0].due
	for _, e := range entries[1:] {
		if e.due.Before(next) {
			next = e.due
		}
	}
	return next
}
