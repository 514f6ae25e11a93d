package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// PIDSource lists the PIDs of currently recorded services keyed by name.
type PIDSource func() map[string]int

// ResourceCollector reports CPU, memory and thread counts of managed services
// at scrape time. Services whose PID is gone are skipped.
type ResourceCollector struct {
	pids PIDSource

	cpu     *prometheus.Desc
	rss     *prometheus.Desc
	threads *prometheus.Desc
}

func NewResourceCollector(pids PIDSource) *ResourceCollector {
	labels := []string{"name", "pid"}
	return &ResourceCollector{
		pids:    pids,
		cpu:     prometheus.NewDesc("remoto_service_cpu_percent", "CPU usage of the service process.", labels, nil),
		rss:     prometheus.NewDesc("remoto_service_memory_rss_bytes", "Resident memory of the service process.", labels, nil),
		threads: prometheus.NewDesc("remoto_service_threads", "Thread count of the service process.", labels, nil),
	}
}

func (c *ResourceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
	ch <- c.threads
}

func (c *ResourceCollector) Collect(ch chan<- prometheus.Metric) {
	for name, pid := range c.pids() {
		s, ok := Sample(pid)
		if !ok {
			continue
		}
		p := strconv.Itoa(pid)
		ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, s.CPUPercent, name, p)
		ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(s.RSS), name, p)
		ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(s.Threads), name, p)
	}
}

// Usage is a point-in-time resource reading for one process.
type Usage struct {
	CPUPercent float64
	RSS        uint64
	Threads    int32
}

// Sample reads resource usage for pid; false when the process is gone.
func Sample(pid int) (Usage, bool) {
	if pid <= 0 {
		return Usage{}, false
	}
	p, err := process.NewProcess(int32(pid)) // #nosec G115 -- pids fit in int32
	if err != nil {
		return Usage{}, false
	}
	var u Usage
	if cpu, err := p.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		u.RSS = mem.RSS
	}
	if n, err := p.NumThreads(); err == nil {
		u.Threads = n
	}
	return u, true
}
