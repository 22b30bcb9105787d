// Package metrics exports queue activity to Prometheus: every remote
// call the client makes, and the task counts of each registered tube.
package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tntqueue/tntqueue/client"
	"github.com/tntqueue/tntqueue/util"
)

const namespace = "tntqueue"

// Collector is both a client.Observer, counting calls as they happen,
// and a prometheus.Collector which reads tube statistics on scrape.
type Collector struct {
	calls     *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	tubeTasks *prometheus.Desc
	registry  *prometheus.Registry

	mu    sync.RWMutex
	queue *client.Queue
}

func New() *Collector {
	c := &Collector{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Remote queue calls by tube, operation and result",
		}, []string{"tube", "op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Latency of remote queue calls",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"tube", "op"}),
		tubeTasks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "tube", "tasks"),
			"Number of tasks in each tube by status",
			[]string{"tube", "kind", "status"}, nil,
		),
		registry: prometheus.NewRegistry(),
	}
	c.registry.MustRegister(c)
	return c
}

// Watch makes scrapes report the tubes registered on q.
func (c *Collector) Watch(q *client.Queue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = q
}

// Handler serves the collector's own registry. A tube whose
// statistics fail is skipped, the rest of the scrape is still served.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}

func (c *Collector) ObserveCall(procedure string, elapsed time.Duration, err error) {
	tube, op := splitProcedure(procedure)
	c.calls.WithLabelValues(tube, op, result(err)).Inc()
	c.latency.WithLabelValues(tube, op).Observe(elapsed.Seconds())
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.calls.Describe(ch)
	c.latency.Describe(ch)
	ch <- c.tubeTasks
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.calls.Collect(ch)
	c.latency.Collect(ch)

	c.mu.RLock()
	q := c.queue
	c.mu.RUnlock()
	if q == nil {
		return
	}
	for _, tube := range q.Tubes() {
		if err := c.collectTube(tube, ch); err != nil {
			util.Debugf("Unable to collect statistics for %s: %v", tube.Name(), err)
			ch <- prometheus.NewInvalidMetric(c.tubeTasks, err)
		}
	}
}

func (c *Collector) collectTube(tube client.Tube, ch chan<- prometheus.Metric) error {
	stats, err := tube.Statistics()
	if err != nil {
		return err
	}
	tasks, _ := stats["tasks"].(map[string]interface{})

	statuses := make([]string, 0, len(tasks))
	for status := range tasks {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	for _, status := range statuses {
		count, ok := number(tasks[status])
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(
			c.tubeTasks,
			prometheus.GaugeValue,
			count,
			tube.Name(),
			string(tube.Kind()),
			status,
		)
	}
	return nil
}

func splitProcedure(procedure string) (string, string) {
	rest, ok := strings.CutPrefix(procedure, "queue.tube.")
	if !ok {
		return "", strings.TrimPrefix(procedure, "queue.")
	}
	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		return rest[:idx], rest[idx+1:]
	}
	return rest, ""
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case client.IsDatabaseError(err):
		return "database_error"
	case client.IsNetworkError(err):
		return "network_error"
	default:
		return "error"
	}
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case uint64:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case uint32:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
