// Package events dispatches run/node lifecycle events to registered
// observers (spec.md §4.8). Grounded on the original Python system's
// EventDispatcher (original_source's app.chains.events), reimplemented as
// a Go fan-out: observer invocation is fire-and-forget, observer panics
// are recovered and logged rather than propagated, matching "observer
// exceptions are logged and swallowed."
package events

import (
	"sync"
	"time"

	"github.com/flowforge/orchestrator/common/logger"
)

// Type is one of the lifecycle event kinds spec.md §4.8 enumerates.
type Type string

const (
	RunStart      Type = "run_start"
	NodeStart     Type = "node_start"
	NodeEnd       Type = "node_end"
	NodeError     Type = "node_error"
	RunEnd        Type = "run_end"
	SchemaWarning Type = "schema_warning"
	CacheHit      Type = "cache_hit"
)

// Event is one lifecycle notification.
type Event struct {
	Type      Type
	RunID     string
	NodeID    string
	Timestamp time.Time
	Data      map[string]interface{}
}

// Observer receives dispatched events. Implementations that need to do
// I/O should return quickly; Dispatcher enforces a soft deadline and does
// not block node execution on slow observers.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(e Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// softDeadline bounds how long the dispatcher waits for an observer
// before moving on; the observer goroutine still completes in the
// background, it merely stops blocking the caller.
const softDeadline = 50 * time.Millisecond

// Dispatcher fans events out to every registered observer.
type Dispatcher struct {
	mu        sync.RWMutex
	observers []Observer
	log       *logger.Logger
}

// NewDispatcher creates a Dispatcher with the given initial observers.
func NewDispatcher(observers ...Observer) *Dispatcher {
	return &Dispatcher{observers: append([]Observer{}, observers...), log: logger.New("info", "text")}
}

// Register adds an observer at runtime.
func (d *Dispatcher) Register(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// Dispatch sends e to every observer. Each observer runs in its own
// goroutine so a slow or panicking observer cannot affect others or the
// caller; Dispatch waits up to softDeadline for all of them, then returns
// regardless of whether any are still running.
func (d *Dispatcher) Dispatch(e Event) {
	d.mu.RLock()
	observers := append([]Observer{}, d.observers...)
	d.mu.RUnlock()

	if len(observers) == 0 {
		return
	}

	done := make(chan struct{}, len(observers))
	for _, o := range observers {
		go func(o Observer) {
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("observer panicked", "panic", r)
				}
				done <- struct{}{}
			}()
			o.Observe(e)
		}(o)
	}

	timer := time.NewTimer(softDeadline)
	defer timer.Stop()
	remaining := len(observers)
	for remaining > 0 {
		select {
		case <-done:
			remaining--
		case <-timer.C:
			return
		}
	}
}
