package metric

import "github.com/prometheus/client_golang/prometheus"

// StoreStats is the point-in-time view of the versioned store that the
// collector exports.
type StoreStats struct {
	Keys       int
	Entries    int
	Tombstones int
	Version    uint64
}

// StoreCollector exports StoreStats on every scrape. History in the store
// is never compacted, so entries_total only grows.
type StoreCollector struct {
	stats func() StoreStats

	keys       *prometheus.Desc
	entries    *prometheus.Desc
	tombstones *prometheus.Desc
	version    *prometheus.Desc
}

// NewStoreCollector creates a collector that calls stats on each scrape.
func NewStoreCollector(stats func() StoreStats) *StoreCollector {
	return &StoreCollector{
		stats: stats,
		keys: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "keys"),
			"Keys with at least one history entry.", nil, nil),
		entries: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "entries"),
			"Versioned entries held across all keys.", nil, nil),
		tombstones: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "tombstones"),
			"Entries marked deleted.", nil, nil),
		version: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "published_version"),
			"Version visible to readers at scrape time.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keys
	ch <- c.entries
	ch <- c.tombstones
	ch <- c.version
}

// Collect implements prometheus.Collector.
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(s.Keys))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.Entries))
	ch <- prometheus.MustNewConstMetric(c.tombstones, prometheus.GaugeValue, float64(s.Tombstones))
	ch <- prometheus.MustNewConstMetric(c.version, prometheus.GaugeValue, float64(s.Version))
}
