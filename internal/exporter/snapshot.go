// Package exporter renders a frozen collector.Aggregate in one of the three
// formats from spec §4.E and writes it atomically.
package exporter

import (
	"time"

	"github.com/jedi132000/tcplatprobe/internal/collector"
	"github.com/jedi132000/tcplatprobe/internal/flowschema"
)

// ConnectionSummary is one entry of the exported "connections" map.
type ConnectionSummary struct {
	Source      string
	Destination string
	Events      uint64
	MinUs       float64
	MaxUs       float64
	AvgUs       float64
	StdDevUs    float64
}

// Snapshot is the format-agnostic view of a frozen run, built once from a
// collector.Aggregate and rendered by each of json.go/prometheus.go/influx.go.
type Snapshot struct {
	Timestamp       time.Time
	DurationSeconds int
	TotalEvents     uint64
	Connections     []ConnectionSummary
	Coarse          map[string]uint64
	Percentiles     collector.Percentiles
	EventKinds      map[string]uint64
	SelfStats       map[string]uint64 // optional; nil if unavailable
}

// NewSnapshot builds a Snapshot from a frozen aggregate. selfStats may be nil.
func NewSnapshot(agg *collector.Aggregate, duration time.Duration, selfStats *flowschema.SelfStats) Snapshot {
	s := Snapshot{
		Timestamp:       time.Now().UTC(),
		DurationSeconds: int(duration.Seconds()),
		TotalEvents:     agg.TotalEvents,
		Coarse:          make(map[string]uint64, len(collector.CoarseBuckets)),
		Percentiles:     agg.Percentiles(),
		EventKinds: map[string]uint64{
			"send":    agg.EventKinds[flowschema.EventSend],
			"recv":    agg.EventKinds[flowschema.EventRecv],
			"cleanup": agg.EventKinds[flowschema.EventCleanup],
		},
	}
	for i, b := range collector.CoarseBuckets {
		s.Coarse[b.Label] = agg.Coarse[i]
	}
	for key, cs := range agg.Connections {
		s.Connections = append(s.Connections, ConnectionSummary{
			Source:      key.Source(),
			Destination: key.Destination(),
			Events:      cs.Count,
			MinUs:       cs.Min / 1000.0,
			MaxUs:       cs.Max / 1000.0,
			AvgUs:       cs.Mean() / 1000.0,
			StdDevUs:    cs.StdDev() / 1000.0,
		})
	}
	if selfStats != nil {
		s.SelfStats = map[string]uint64{}
		for slot, v := range selfStats {
			if name := flowschema.SlotName(slot); name != "" {
				s.SelfStats[name] = v
			}
		}
	}
	return s
}
