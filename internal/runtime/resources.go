package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// ResourceUsage is a coarse view of the process hosting the participant.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

const cpuMetric = "/sched/cpu:seconds"

// usageSampler turns the cumulative CPU counter into a percentage between
// two consecutive samples.
type usageSampler struct {
	mu       sync.Mutex
	samples  []metrics.Sample
	lastCPU  float64
	lastWall time.Time
	numCPU   float64
}

func newUsageSampler() *usageSampler {
	return &usageSampler{
		samples: []metrics.Sample{{Name: cpuMetric}},
		numCPU:  float64(runtime.NumCPU()),
	}
}

func (u *usageSampler) sample() ResourceUsage {
	if u == nil {
		return ResourceUsage{}
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	metrics.Read(u.samples)
	now := time.Now()

	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}
	if v := u.samples[0].Value; v.Kind() == metrics.KindFloat64 {
		cpu := v.Float64()
		if wall := now.Sub(u.lastWall).Seconds(); !u.lastWall.IsZero() && wall > 0 && u.numCPU > 0 {
			usage.CPUPercent = (cpu - u.lastCPU) / wall / u.numCPU * 100
		}
		u.lastCPU = cpu
	}
	u.lastWall = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.MemoryBytes = mem.Alloc
	return usage
}
