package metrics

import (
	"time"

	"github.com/ryftlabs/dwn/pkg/storage"
	"github.com/ryftlabs/dwn/pkg/tenant"
)

// Collector periodically samples the tenant ordering logs and the
// resumable-task ledger into gauges, since both change outside of any
// single request's lifecycle.
type Collector struct {
	tenants *tenant.Manager
	tasks   storage.TaskLedger
	stopCh  chan struct{}
}

// NewCollector builds a Collector that samples mgr's ordering-log groups
// and tasks' pending queue every 15 seconds once Start is called.
func NewCollector(mgr *tenant.Manager, tasks storage.TaskLedger) *Collector {
	return &Collector{
		tenants: mgr,
		tasks:   tasks,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics in the background.
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
	c.collectRaftMetrics()
	c.collectTaskMetrics()
}

func (c *Collector) collectRaftMetrics() {
	for _, t := range c.tenants.Tenants() {
		leader, err := c.tenants.IsLeader(t)
		if err != nil {
			continue
		}
		if leader {
			RaftLeader.WithLabelValues(t).Set(1)
		} else {
			RaftLeader.WithLabelValues(t).Set(0)
		}
	}
}

func (c *Collector) collectTaskMetrics() {
	pending, err := c.tasks.Pending()
	if err != nil {
		return
	}
	ResumableTasksPending.Set(float64(len(pending)))
}
