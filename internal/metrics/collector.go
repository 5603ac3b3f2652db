package metrics

import (
	"sort"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "volley"

var exportedQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Collector exposes the live state of one or more aggregators as Prometheus
// metrics. Values are read at scrape time, so nothing is duplicated on the
// hot path.
type Collector struct {
	mu   sync.RWMutex
	aggs map[string]*Aggregator

	requests      *prometheus.Desc
	failed        *prometheus.Desc
	dropped       *prometheus.Desc
	bytesSent     *prometheus.Desc
	bytesReceived *prometheus.Desc
	vus           *prometheus.Desc
	latency       *prometheus.Desc
	checks        *prometheus.Desc
}

// NewCollector creates a collector with no aggregators attached.
func NewCollector() *Collector {
	scenario := []string{"scenario"}
	return &Collector{
		aggs: make(map[string]*Aggregator),
		requests: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "http_reqs_total"),
			"Requests issued.", scenario, nil),
		failed: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "http_req_failed_total"),
			"Requests that failed with a transport error or unexpected status.", scenario, nil),
		dropped: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "dropped_iterations_total"),
			"Iteration starts skipped because no VU was available.", scenario, nil),
		bytesSent: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "data_sent_bytes_total"),
			"Request body bytes sent.", scenario, nil),
		bytesReceived: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "data_received_bytes_total"),
			"Response body bytes received.", scenario, nil),
		vus: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "vus"),
			"Active virtual users.", scenario, nil),
		latency: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "http_req_duration_seconds"),
			"Request latency quantiles.", []string{"scenario", "quantile"}, nil),
		checks: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "checks_total"),
			"Check outcomes.", []string{"scenario", "check", "result"}, nil),
	}
}

// Attach adds an aggregator; it is reported under its name.
func (c *Collector) Attach(agg *Aggregator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aggs[agg.Name()] = agg
}

// Detach removes the aggregator with the given name.
func (c *Collector) Detach(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.aggs, name)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.failed
	ch <- c.dropped
	ch <- c.bytesSent
	ch <- c.bytesReceived
	ch <- c.vus
	ch <- c.latency
	ch <- c.checks
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	names := make([]string, 0, len(c.aggs))
	for name := range c.aggs {
		names = append(names, name)
	}
	sort.Strings(names)
	aggs := make([]*Aggregator, 0, len(names))
	for _, name := range names {
		aggs = append(aggs, c.aggs[name])
	}
	c.mu.RUnlock()

	for _, agg := range aggs {
		name := agg.Name()
		snap := agg.Snapshot()

		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snap.TotalRequests), name)
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(snap.FailedRequests), name)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(snap.DroppedIterations), name)
		ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(snap.BytesSent), name)
		ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(snap.BytesReceived), name)
		ch <- prometheus.MustNewConstMetric(c.vus, prometheus.GaugeValue, float64(snap.ActiveVUs), name)

		for _, q := range exportedQuantiles {
			ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue,
				agg.Quantile(q).Seconds(), name, strconv.FormatFloat(q, 'f', -1, 64))
		}

		for check, count := range snap.Checks {
			ch <- prometheus.MustNewConstMetric(c.checks, prometheus.CounterValue, float64(count.Passes), name, check, "pass")
			ch <- prometheus.MustNewConstMetric(c.checks, prometheus.CounterValue, float64(count.Fails), name, check, "fail")
		}
	}
}
