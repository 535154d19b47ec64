package processor

import (
	"sync/atomic"
	"time"
)

// ServiceMetrics tracks submission throughput for the periodic log report.
type ServiceMetrics struct {
	totalProcessed  int64
	totalFailed     int64
	totalDurationNs int64
	startedNs       int64
}

func NewServiceMetrics() *ServiceMetrics {
	return &ServiceMetrics{startedNs: time.Now().UnixNano()}
}

func (m *ServiceMetrics) RecordSuccess(duration time.Duration) {
	atomic.AddInt64(&m.totalProcessed, 1)
	atomic.AddInt64(&m.totalDurationNs, int64(duration))
}

func (m *ServiceMetrics) RecordFailure() {
	atomic.AddInt64(&m.totalFailed, 1)
}

type Stats struct {
	Processed     int64
	Failed        int64
	RatePerSecond float64
	AvgDuration   time.Duration
	Uptime        time.Duration
}

func (m *ServiceMetrics) GetStats() Stats {
	processed := atomic.LoadInt64(&m.totalProcessed)
	failed := atomic.LoadInt64(&m.totalFailed)
	durationNs := atomic.LoadInt64(&m.totalDurationNs)
	started := atomic.LoadInt64(&m.startedNs)

	uptime := time.Since(time.Unix(0, started))

	rate := 0.0
	if secs := uptime.Seconds(); secs > 0 {
		rate = float64(processed) / secs
	}

	avg := time.Duration(0)
	if processed > 0 {
		avg = time.Duration(durationNs / processed)
	}

	return Stats{
		Processed:     processed,
		Failed:        failed,
		RatePerSecond: rate,
		AvgDuration:   avg,
		Uptime:        uptime,
	}
}
