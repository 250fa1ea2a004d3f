// Package stats counts decoded RBus traffic.
package stats

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/mdzio/go-logging"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/mdzio/go-rbus/dissect"
	"github.com/mdzio/go-rbus/rtmsg"
)

var log = logging.Get("rbus-stats")

const namespace = "rbus"

// Collector implements dissect.Observer. It is safe for concurrent use.
type Collector struct {
	registry   *prometheus.Registry
	messages   *prometheus.CounterVec
	conditions *prometheus.CounterVec
	methods    *prometheus.CounterVec
	needMore   prometheus.Counter
	bytes      prometheus.Counter

	mu    sync.Mutex
	sizes *hdrhistogram.Histogram
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Dissected messages by payload mode.",
			},
			[]string{"mode"},
		),
		conditions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conditions_total",
				Help:      "Conditions attached to dissected messages by kind.",
			},
			[]string{"kind"},
		),
		methods: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "methods_total",
				Help:      "Dissected messages by method marker.",
			},
			[]string{"method"},
		),
		needMore: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "need_more_total",
			Help:      "Dissections deferred because the message was incomplete.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_bytes_total",
			Help:      "Bytes of completely framed messages.",
		}),
		// payload sizes up to the framing limit, 3 significant digits
		sizes: hdrhistogram.New(1, rtmsg.MaxPayloadSize, 3),
	}
	c.registry.MustRegister(c.messages, c.conditions, c.methods, c.needMore, c.bytes)
	return c
}

// Registry returns the registry holding the counters, e.g. for an HTTP
// exposition handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe implements dissect.Observer.
func (c *Collector) Observe(r *dissect.Result) {
	c.messages.WithLabelValues(r.Mode.String()).Inc()
	for _, cond := range r.Conditions {
		c.conditions.WithLabelValues(cond.Kind.String()).Inc()
	}
	if r.Method != "" {
		c.methods.WithLabelValues(r.Method).Inc()
	}
	if r.Len == 0 {
		return
	}
	c.bytes.Add(float64(r.Len))

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sizes.RecordValue(int64(r.Header.PayloadLength)); err != nil {
		log.Warningf("Recording payload size %d failed: %v", r.Header.PayloadLength, err)
	}
}

// NeedMore implements dissect.Observer.
func (c *Collector) NeedMore(int) {
	c.needMore.Inc()
}

// Sizes holds payload size percentiles.
type Sizes struct {
	Count                int64
	Min, Max             int64
	Mean                 float64
	P50, P95, P99, P9999 int64
}

// PayloadSizes returns the distribution of the payload sizes seen so far.
func (c *Collector) PayloadSizes() Sizes {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.sizes
	return Sizes{
		Count: h.TotalCount(),
		Min:   h.Min(),
		Max:   h.Max(),
		Mean:  h.Mean(),
		P50:   h.ValueAtQuantile(50),
		P95:   h.ValueAtQuantile(95),
		P99:   h.ValueAtQuantile(99),
		P9999: h.ValueAtQuantile(99.99),
	}
}

// Counter is a gathered counter sample.
type Counter struct {
	Name   string
	Labels string
	Value  float64
}

// Counters gathers all non-zero counters, sorted by name and labels.
func (c *Collector) Counters() ([]Counter, error) {
	mfs, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("Gathering metrics failed: %w", err)
	}
	var res []Counter
	for _, mf := range mfs {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue()
			if v == 0 {
				continue
			}
			res = append(res, Counter{Name: mf.GetName(), Labels: labelText(m.GetLabel()), Value: v})
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Name != res[j].Name {
			return res[i].Name < res[j].Name
		}
		return res[i].Labels < res[j].Labels
	})
	return res, nil
}

func labelText(lps []*dto.LabelPair) string {
	if len(lps) == 0 {
		return ""
	}
	parts := make([]string, len(lps))
	for i, lp := range lps {
		parts[i] = fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue())
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Report writes the counters and the payload size distribution.
func (c *Collector) Report(w io.Writer) error {
	cs, err := c.Counters()
	if err != nil {
		return err
	}
	for _, ct := range cs {
		if _, err := fmt.Fprintf(w, "%s%s %g\n", ct.Name, ct.Labels, ct.Value); err != nil {
			return err
		}
	}
	s := c.PayloadSizes()
	_, err = fmt.Fprintf(w, "payload sizes: count %d, min %d, mean %.1f, p50 %d, p95 %d, p99 %d, p99.99 %d, max %d\n",
		s.Count, s.Min, s.Mean, s.P50, s.P95, s.P99, s.P9999, s.Max)
	return err
}
