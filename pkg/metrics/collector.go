package metrics

import (
	"strconv"
	"time"
)

// StatsSource is the minimal read-only view a Collector needs into the
// running engine. pkg/engine's job table implements it; tests can supply a
// stub. Keeping this as a small interface (rather than importing
// pkg/engine directly) avoids a metrics->engine->metrics import cycle.
type StatsSource interface {
	ActiveJobs() int
	DurabilityWaitlistDepth() int
	SchedulerQueueDepths() []int
}

// Collector polls a StatsSource on a fixed interval and republishes its
// counts into the package's gauges, following a ticker-driven
// background-collector lifecycle (Start spawns one goroutine, Stop closes
// a channel).
type Collector struct {
	source   StatsSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector constructs a collector. interval <= 0 defaults to 15s,
// a reasonable default poll cadence.
func NewCollector(source StatsSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{source: source, interval: interval, stopCh: make(chan struct{})}
}

// Start begins collecting metrics.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	JobsActive.Set(float64(c.source.ActiveJobs()))
	DurabilityWaitlistDepth.Set(float64(c.source.DurabilityWaitlistDepth()))

	for worker, depth := range c.source.SchedulerQueueDepths() {
		SchedulerQueueDepth.WithLabelValues(strconv.Itoa(worker)).Set(float64(depth))
	}
}
