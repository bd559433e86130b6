package metrics

import (
	"time"

	"github.com/minifly/minifly/pkg/storage"
)

// Collector periodically samples store state into gauges.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over store.
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
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
	c.collectAppMetrics()
	c.collectMachineMetrics()
	c.collectVolumeMetrics()
}

func (c *Collector) collectAppMetrics() {
	apps, err := c.store.ListApps()
	if err != nil {
		return
	}
	AppsTotal.Set(float64(len(apps)))
}

func (c *Collector) collectMachineMetrics() {
	machines, err := c.store.ListMachines()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, m := range machines {
		counts[string(m.State)]++
	}

	for state, count := range counts {
		MachinesTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectVolumeMetrics() {
	apps, err := c.store.ListApps()
	if err != nil {
		return
	}

	total := 0
	for _, app := range apps {
		volumes, err := c.store.ListVolumesByApp(app.Name)
		if err != nil {
			continue
		}
		total += len(volumes)
	}

	VolumesTotal.Set(float64(total))
}
