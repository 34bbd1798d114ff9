package metrics

import (
	"time"

	"github.com/cuemby/captain/pkg/captain"
	"github.com/cuemby/captain/pkg/types"
)

// Collector periodically snapshots the chore/crew stores into gauges that
// an event-driven Inc/Observe can't express on its own (current totals by
// state, current per-sailor usage).
type Collector struct {
	cap    *captain.Captain
	stopCh chan struct{}
}

// NewCollector creates a collector bound to cap.
func NewCollector(cap *captain.Captain) *Collector {
	return &Collector{
		cap:    cap,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
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
	c.collectSailorMetrics()
	c.collectChoreMetrics()
}

func (c *Collector) collectSailorMetrics() {
	crew, err := c.cap.Crew.Read()
	if err != nil {
		return
	}

	statusCounts := make(map[types.SailorStatus]int)
	now := time.Now()
	cfg := c.cap.Config()

	for _, s := range crew {
		statusCounts[s.Status(now, cfg.AliveThreshold)]++
		SailorUsedCPUs.WithLabelValues(s.Name).Set(float64(s.UsedCPUs))
		SailorUsedGPUs.WithLabelValues(s.Name).Set(float64(s.UsedGPUs))
	}

	for status, count := range statusCounts {
		SailorsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectChoreMetrics() {
	chores, err := c.cap.Chores.Read()
	if err != nil {
		return
	}

	statusCounts := make(map[types.ChoreStatus]int)
	activeBySailor := make(map[string]int)

	for _, ch := range chores {
		statusCounts[ch.Status]++
		if ch.Sailor != "" && ch.Status.IsActive() {
			activeBySailor[ch.Sailor]++
		}
	}

	for status, count := range statusCounts {
		ChoresTotal.WithLabelValues(string(status)).Set(float64(count))
	}
	for sailor, count := range activeBySailor {
		CrewActiveChores.WithLabelValues(sailor).Set(float64(count))
	}
}
