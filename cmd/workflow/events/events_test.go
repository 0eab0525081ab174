package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatchReachesAllObservers(t *testing.T) {
	d := NewDispatcher()
	var count int32
	var wg sync.WaitGroup
	wg.Add(2)
	d.Register(ObserverFunc(func(e Event) { atomic.AddInt32(&count, 1); wg.Done() }))
	d.Register(ObserverFunc(func(e Event) { atomic.AddInt32(&count, 1); wg.Done() }))

	d.Dispatch(Event{Type: NodeStart, NodeID: "A"})
	wg.Wait()
	assert.Equal(t, int32(2), atomic.LoadInt32(&count))
}

func TestDispatchSwallowsPanics(t *testing.T) {
	d := NewDispatcher()
	var ran int32
	d.Register(ObserverFunc(func(e Event) { panic("boom") }))
	d.Register(ObserverFunc(func(e Event) { atomic.AddInt32(&ran, 1) }))

	assert.NotPanics(t, func() { d.Dispatch(Event{Type: NodeError}) })
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestDispatchNoObserversNoop(t *testing.T) {
	d := NewDispatcher()
	assert.NotPanics(t, func() { d.Dispatch(Event{Type: RunStart}) })
}
