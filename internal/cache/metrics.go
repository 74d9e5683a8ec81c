package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Every series carries a "cache" label set from ProviderConfig.Group.
var (
	HitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subrelay",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits.",
		},
		[]string{"cache"},
	)

	MissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subrelay",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses.",
		},
		[]string{"cache"},
	)

	EvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "subrelay",
			Name:      "cache_evictions_total",
			Help:      "Total number of entries evicted from the cache.",
		},
		[]string{"cache"},
	)
)

func init() {
	prometheus.MustRegister(HitsTotal, MissesTotal, EvictionsTotal)
}

// entriesCollector reports Len() at scrape time so backend-side expiry is reflected.
type entriesCollector struct {
	desc    *prometheus.Desc
	lenFunc func() int
}

func (c *entriesCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *entriesCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(c.lenFunc()))
}

var (
	collectorsMu sync.Mutex
	collectors   = make(map[string]*entriesCollector)
	// entriesReg is swapped for an isolated registry in tests.
	entriesReg prometheus.Registerer = prometheus.DefaultRegisterer
)

// registerEntriesCollector replaces any collector already registered for group.
func registerEntriesCollector(group string, lenFunc func() int) {
	c := &entriesCollector{
		desc: prometheus.NewDesc(
			"subrelay_cache_entries",
			"Current number of entries in the cache.",
			nil,
			prometheus.Labels{"cache": group},
		),
		lenFunc: lenFunc,
	}

	collectorsMu.Lock()
	defer collectorsMu.Unlock()

	if old, ok := collectors[group]; ok {
		entriesReg.Unregister(old)
	}
	collectors[group] = c
	_ = entriesReg.Register(c)
}

func unregisterEntriesCollector(group string) {
	collectorsMu.Lock()
	defer collectorsMu.Unlock()

	if c, ok := collectors[group]; ok {
		entriesReg.Unregister(c)
		delete(collectors, group)
	}
}
