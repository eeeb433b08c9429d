// Package sysmon samples host CPU and memory usage on an interval and
// publishes it to the metrics package, the same resource-awareness role
// the teacher's container-CPU monitor plays for its admission checks.
package sysmon

import (
	"context"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/adred-codev/blip/internal/metrics"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Sampler periodically reads host resource usage. Besides publishing to
// Prometheus, it keeps the last reading available synchronously via
// CPUPercent/MemoryBytes so the admission limiter can gate on current
// load without an extra syscall per connection attempt.
type Sampler struct {
	interval time.Duration

	cpuPercent atomic.Uint64 // math.Float64bits
	memBytes   atomic.Uint64
}

// NewSampler builds a Sampler with the given sampling interval.
func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Sampler{interval: interval}
}

// CPUPercent returns the most recently sampled host CPU usage percentage.
// Zero until the first sample completes.
func (s *Sampler) CPUPercent() float64 {
	return math.Float64frombits(s.cpuPercent.Load())
}

// MemoryBytes returns the most recently sampled host memory usage in bytes.
func (s *Sampler) MemoryBytes() uint64 {
	return s.memBytes.Load()
}

// Run samples CPU percent, memory usage, and goroutine count on Sampler's
// interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		metrics.CPUUsagePercent.Set(percents[0])
		s.cpuPercent.Store(math.Float64bits(percents[0]))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		metrics.MemoryUsageBytes.Set(float64(vm.Used))
		s.memBytes.Store(vm.Used)
	}
	metrics.GoroutinesActive.Set(float64(runtime.NumGoroutine()))
}
