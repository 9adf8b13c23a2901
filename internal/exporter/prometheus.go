package exporter

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// RenderPrometheus builds the text-exposition snapshot from spec §4.E using a
// throwaway prometheus.Registry — this is a one-shot render, not a live
// /metrics endpoint (explicitly out of scope per spec §1).
func RenderPrometheus(s Snapshot) ([]byte, error) {
	reg := prometheus.NewRegistry()

	eventsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ebpf_latency_events_total",
		Help: "Total LatencyEvents observed, by event kind.",
	}, []string{"kind"})
	for kind, count := range s.EventKinds {
		eventsTotal.WithLabelValues(kind).Add(float64(count))
	}

	bucket := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ebpf_latency_bucket",
		Help: "Cumulative count of RECV latencies at or below each bucket boundary.",
	}, []string{"le"})
	var cumulative uint64
	labels := []string{"0.001", "0.005", "0.01", "0.05", "0.1", "+Inf"}
	keys := []string{"0-1ms", "1-5ms", "5-10ms", "10-50ms", "50-100ms", "100ms+"}
	for i, key := range keys {
		cumulative += s.Coarse[key]
		bucket.WithLabelValues(labels[i]).Set(float64(cumulative))
	}

	sum := prometheus.NewGauge(prometheus.GaugeOpts{Name: "ebpf_latency_sum_us", Help: "Sum of all RECV latencies in microseconds."})
	count := prometheus.NewGauge(prometheus.GaugeOpts{Name: "ebpf_latency_count", Help: "Count of RECV latencies observed."})
	var sumUs float64
	var n uint64
	for _, c := range s.Connections {
		sumUs += c.AvgUs * float64(c.Events)
		n += c.Events
	}
	sum.Set(sumUs)
	count.Set(float64(n))

	flowAvg := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ebpf_flow_latency_avg_us",
		Help: "Average RECV latency in microseconds, per flow.",
	}, []string{"src", "dst"})
	for _, c := range s.Connections {
		flowAvg.WithLabelValues(c.Source, c.Destination).Set(c.AvgUs)
	}

	reg.MustRegister(eventsTotal, bucket, sum, count, flowAvg)

	families, err := reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("exporter: gather prometheus families: %w", err)
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# tcplatprobe snapshot at %s\n", s.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, fmt.Errorf("exporter: encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}

// WritePrometheus atomically writes the Prometheus rendering to path, or to
// w if path is empty.
func WritePrometheus(s Snapshot, path string, w io.Writer) error {
	data, err := RenderPrometheus(s)
	if err != nil {
		return err
	}
	if path == "" {
		_, err := w.Write(data)
		return err
	}
	return writeAtomic(path, data)
}
