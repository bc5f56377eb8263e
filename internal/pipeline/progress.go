package pipeline

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/JervenBolleman/sesame-loader/pkg/metrics"
)

// ResourceUsage is a snapshot of the process footprint.
type ResourceUsage struct {
	CPUPercent          float64
	MemoryRSS           uint64
	SystemMemoryPercent float64
	GoroutineCount      int
}

// resourceMonitor samples the loader process. A monitor whose process could
// not be opened reports goroutines only.
type resourceMonitor struct {
	process      *process.Process
	startCPUTime float64
	startTime    time.Time
}

func newResourceMonitor() *resourceMonitor {
	rm := &resourceMonitor{startTime: time.Now()}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return rm
	}
	rm.process = proc
	if t, err := proc.Times(); err == nil {
		rm.startCPUTime = t.Total()
	}
	return rm
}

func (rm *resourceMonitor) usage() ResourceUsage {
	u := ResourceUsage{GoroutineCount: runtime.NumGoroutine()}

	if rm.process != nil {
		if t, err := rm.process.Times(); err == nil {
			if elapsed := time.Since(rm.startTime).Seconds(); elapsed > 0 {
				u.CPUPercent = (t.Total() - rm.startCPUTime) / elapsed * 100
			}
		}
		if m, err := rm.process.MemoryInfo(); err == nil {
			u.MemoryRSS = m.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		u.SystemMemoryPercent = vm.UsedPercent
	}
	return u
}

// progressReporter logs the state of a running load at a fixed period.
type progressReporter struct {
	interval time.Duration
	queue    *BoundedQueue
	producer *Producer
	pushers  []*Pusher
	tracker  *metrics.ThroughputTracker
	monitor  *resourceMonitor
	logger   *zap.Logger
	metrics  *metrics.LoaderMetrics

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func newProgressReporter(interval time.Duration, queue *BoundedQueue, producer *Producer,
	pushers []*Pusher, logger *zap.Logger, m *metrics.LoaderMetrics) *progressReporter {
	return &progressReporter{
		interval: interval,
		queue:    queue,
		producer: producer,
		pushers:  pushers,
		tracker:  metrics.NewThroughputTracker(),
		logger:   logger,
		metrics:  m,
		stop:     make(chan struct{}),
	}
}

// start begins reporting. A zero interval disables the reporter.
func (r *progressReporter) start() {
	if r.interval <= 0 {
		return
	}
	r.monitor = newResourceMonitor()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.report()
			case <-r.stop:
				return
			}
		}
	}()
}

func (r *progressReporter) close() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
}

func (r *progressReporter) report() {
	var committed int64
	active := 0
	for _, p := range r.pushers {
		committed += p.Committed()
		if p.State() != StateClosed {
			active++
		}
	}
	rate := r.tracker.Rate(committed)
	depth := r.queue.Len()
	usage := r.monitor.usage()

	r.metrics.SetQueueDepth(depth)
	r.metrics.SetThroughput(rate)

	r.logger.Info("load progress",
		zap.Int("queue_depth", depth),
		zap.Int("queue_capacity", r.queue.Cap()),
		zap.Int64("enqueued", r.producer.Enqueued()),
		zap.Int64("committed", committed),
		zap.Int("active_pushers", active),
		zap.Float64("records_per_sec", rate),
		zap.Uint64("rss_bytes", usage.MemoryRSS),
		zap.Float64("cpu_percent", usage.CPUPercent),
		zap.Float64("system_memory_percent", usage.SystemMemoryPercent),
		zap.Int("goroutines", usage.GoroutineCount))
}
