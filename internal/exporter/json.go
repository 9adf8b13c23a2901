package exporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

type jsonConnection struct {
	Source      string  `json:"source"`
	Destination string  `json:"destination"`
	Events      uint64  `json:"events"`
	MinLatency  float64 `json:"min_latency_us"`
	MaxLatency  float64 `json:"max_latency_us"`
	AvgLatency  float64 `json:"avg_latency_us"`
	StdDev      float64 `json:"std_dev_us"`
}

type jsonPercentiles struct {
	P50  float64 `json:"p50"`
	P75  float64 `json:"p75"`
	P90  float64 `json:"p90"`
	P95  float64 `json:"p95"`
	P99  float64 `json:"p99"`
	P999 float64 `json:"p999"`
}

type jsonDoc struct {
	Timestamp        string                    `json:"timestamp"`
	DurationSeconds  int                       `json:"duration_seconds"`
	TotalEvents      uint64                    `json:"total_events"`
	Connections      map[string]jsonConnection `json:"connections"`
	Histogram        map[string]uint64         `json:"histogram"`
	Percentiles      jsonPercentiles           `json:"percentiles"`
	EventTypeBreakdown map[string]uint64       `json:"event_type_breakdown"`
	SelfStats        map[string]uint64         `json:"self_stats,omitempty"`
}

// RenderJSON builds the §4.E JSON document from a Snapshot.
func RenderJSON(s Snapshot) ([]byte, error) {
	doc := jsonDoc{
		Timestamp:          s.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		DurationSeconds:    s.DurationSeconds,
		TotalEvents:        s.TotalEvents,
		Connections:        make(map[string]jsonConnection, len(s.Connections)),
		Histogram:          s.Coarse,
		EventTypeBreakdown: s.EventKinds,
		SelfStats:          s.SelfStats,
		Percentiles: jsonPercentiles{
			P50: s.Percentiles.P50 / 1000.0, P75: s.Percentiles.P75 / 1000.0,
			P90: s.Percentiles.P90 / 1000.0, P95: s.Percentiles.P95 / 1000.0,
			P99: s.Percentiles.P99 / 1000.0, P999: s.Percentiles.P999 / 1000.0,
		},
	}
	// Sort connections for deterministic output (Scenario "exporting the
	// same frozen aggregate twice yields byte-identical output").
	conns := append([]ConnectionSummary(nil), s.Connections...)
	sort.Slice(conns, func(i, j int) bool {
		return conns[i].Source+conns[i].Destination < conns[j].Source+conns[j].Destination
	})
	for _, c := range conns {
		key := fmt.Sprintf("%s -> %s", c.Source, c.Destination)
		doc.Connections[key] = jsonConnection{
			Source: c.Source, Destination: c.Destination, Events: c.Events,
			MinLatency: c.MinUs, MaxLatency: c.MaxUs, AvgLatency: c.AvgUs, StdDev: c.StdDevUs,
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("exporter: encode json: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteJSON atomically writes the JSON rendering to path, or to w if path is
// empty (spec §4.F: "if absent, write to standard output").
func WriteJSON(s Snapshot, path string, w io.Writer) error {
	data, err := RenderJSON(s)
	if err != nil {
		return err
	}
	if path == "" {
		_, err := w.Write(data)
		return err
	}
	return writeAtomic(path, data)
}
