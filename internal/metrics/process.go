package metrics

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats - снимок потребления ресурсов процессом
type ProcessStats struct {
	Uptime       time.Duration `json:"-"`
	UptimeText   string        `json:"uptime"`
	CPUPercent   float64       `json:"cpu_percent"`
	SystemCPU    float64       `json:"system_cpu_percent"`
	RSSMB        float64       `json:"rss_mb"`
	HeapAllocMB  float64       `json:"heap_alloc_mb"`
	Goroutines   int           `json:"goroutines"`
	NumGC        uint32        `json:"num_gc"`
	SampledAtUTC time.Time     `json:"sampled_at"`
}

// ProcessSampler снимает статистику процесса через gopsutil.
// Снимок кешируется на minInterval, чтобы частые запросы /status не
// нагружали систему.
type ProcessSampler struct {
	start       time.Time
	minInterval time.Duration

	mu   sync.Mutex
	proc *process.Process
	last ProcessStats
}

// NewProcessSampler создаёт сэмплер для текущего процесса
func NewProcessSampler() *ProcessSampler {
	ps := &ProcessSampler{
		start:       time.Now(),
		minInterval: time.Second,
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		ps.proc = proc
	}
	return ps
}

// Sample возвращает актуальный снимок
func (ps *ProcessSampler) Sample() ProcessStats {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	if !ps.last.SampledAtUTC.IsZero() && now.Sub(ps.last.SampledAtUTC) < ps.minInterval {
		return ps.last
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := ProcessStats{
		Uptime:       now.Sub(ps.start),
		HeapAllocMB:  float64(m.HeapAlloc) / 1024 / 1024,
		Goroutines:   runtime.NumGoroutine(),
		NumGC:        m.NumGC,
		SampledAtUTC: now.UTC(),
	}
	stats.UptimeText = FormatUptime(stats.Uptime)

	if ps.proc != nil {
		if pct, err := ps.proc.CPUPercent(); err == nil {
			stats.CPUPercent = pct
		}
		if mem, err := ps.proc.MemoryInfo(); err == nil && mem != nil {
			stats.RSSMB = float64(mem.RSS) / 1024 / 1024
		}
	}
	// Ноль интервала - сравнение с предыдущим вызовом, без ожидания
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		stats.SystemCPU = pcts[0]
	}

	ps.last = stats
	return stats
}

// Register добавляет в reg метрики CPU и RSS процесса
func (ps *ProcessSampler) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "Загрузка CPU процессом по данным gopsutil.",
		}, func() float64 { return ps.Sample().CPUPercent }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "rss_megabytes",
			Help:      "Резидентная память процесса.",
		}, func() float64 { return ps.Sample().RSSMB }),
	)
}

// FormatUptime форматирует время работы в виде "1д 2ч 3м 4с"
func FormatUptime(uptime time.Duration) string {
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}
