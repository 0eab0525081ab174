// Package metrics collects per-run resource usage: the static host
// profile (delegated to common/metrics, captured once per process) plus
// the per-run memory/goroutine delta (RuntimeMetrics below) and the
// per-node token/cost accounting in usage.go.
package metrics

import (
	"context"
	"runtime"

	hostmetrics "github.com/flowforge/orchestrator/common/metrics"
)

// SystemInfo is the static host profile captured once at process start.
type SystemInfo = hostmetrics.SystemInfo

// GetSystemInfo returns the cached host profile (captured once).
func GetSystemInfo() *SystemInfo {
	return hostmetrics.GetSystemInfo()
}

// RuntimeMetrics captures memory and goroutine metrics for worker execution
type RuntimeMetrics struct {
	MemoryStartMB  float64
	MemoryPeakMB   float64
	MemoryEndMB    float64
	GoroutineStart int
	GoroutineEnd   int
}

// CaptureStart captures runtime metrics at the beginning of execution
// Context is provided for future extensions (tracing, cancellation, etc.)
func CaptureStart(ctx context.Context) *RuntimeMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &RuntimeMetrics{
		MemoryStartMB:  float64(m.Alloc) / 1024 / 1024,
		GoroutineStart: runtime.NumGoroutine(),
	}
}

// Finalize completes the metrics capture at the end of execution
// Context is provided for future extensions (tracing, cancellation, etc.)
func (rm *RuntimeMetrics) Finalize(ctx context.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	rm.MemoryEndMB = float64(m.Alloc) / 1024 / 1024
	rm.GoroutineEnd = runtime.NumGoroutine()

	// Peak is the higher of start or end (for short operations)
	// For longer operations, this could be enhanced with periodic sampling
	if rm.MemoryEndMB > rm.MemoryStartMB {
		rm.MemoryPeakMB = rm.MemoryEndMB
	} else {
		rm.MemoryPeakMB = rm.MemoryStartMB
	}
}

// ToMap converts RuntimeMetrics to a map for storage/serialization
func (rm *RuntimeMetrics) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"memory_start_mb": rm.MemoryStartMB,
		"memory_peak_mb":  rm.MemoryPeakMB,
		"memory_end_mb":   rm.MemoryEndMB,
		"goroutine_start": rm.GoroutineStart,
		"goroutine_end":   rm.GoroutineEnd,
		"thread_count":    rm.GoroutineEnd, // Use goroutine count as thread count
	}
}
