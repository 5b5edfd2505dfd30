package tuner

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
)

// MemoryReading is one sample of process and system memory state.
type MemoryReading struct {
	// ProcessBytes is the Go heap in use (HeapAlloc).
	ProcessBytes uint64
	// AvailableBytes and TotalBytes describe system memory.
	AvailableBytes uint64
	TotalBytes     uint64
	UsedPercent    float64
	// Cached is true when the reading was served from the TTL cache
	// rather than a fresh system call.
	Cached bool
	At     time.Time
}

// Sampler produces a memory reading. The default hits the OS; tests
// inject deterministic samplers.
type Sampler func() (MemoryReading, error)

// systemSampler reads the Go heap and system memory via gopsutil.
func systemSampler() (MemoryReading, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	vm, err := mem.VirtualMemory()
	if err != nil {
		return MemoryReading{}, err
	}
	return MemoryReading{
		ProcessBytes:   ms.HeapAlloc,
		AvailableBytes: vm.Available,
		TotalBytes:     vm.Total,
		UsedPercent:    vm.UsedPercent,
		At:             time.Now(),
	}, nil
}
