package system

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Info is a point-in-time snapshot of the host and process, served on the
// operations listener.
type Info struct {
	Hostname      string    `json:"hostname"`
	PID           int       `json:"pid"`
	GoVersion     string    `json:"go_version"`
	NumCPU        int       `json:"num_cpu"`
	NumGoroutine  int       `json:"num_goroutine"`
	UptimeSeconds uint64    `json:"uptime_seconds"`
	MemoryTotal   uint64    `json:"memory_total_bytes"`
	MemoryUsed    uint64    `json:"memory_used_bytes"`
	ProcessRSS    uint64    `json:"process_rss_bytes"`
	CPUPercent    []float64 `json:"cpu_percent,omitempty"`
	CollectedAt   time.Time `json:"collected_at"`
}

// CollectInfo gathers a host snapshot. Collection is best-effort: fields
// whose probes fail are left zero rather than failing the whole snapshot.
func CollectInfo() Info {
	info := Info{
		PID:          os.Getpid(),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
		CollectedAt:  time.Now().UTC(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if uptime, err := host.Uptime(); err == nil {
		info.UptimeSeconds = uptime
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryUsed = vm.Used
	}
	if percents, err := cpu.Percent(0, false); err == nil {
		info.CPUPercent = percents
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
			info.ProcessRSS = memInfo.RSS
		}
	}

	return info
}
