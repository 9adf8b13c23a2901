package exporter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/require"

	"github.com/jedi132000/tcplatprobe/internal/collector"
)

func sampleSnapshot() Snapshot {
	return Snapshot{
		Timestamp:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		DurationSeconds: 10,
		TotalEvents:     3,
		Coarse: map[string]uint64{
			"0-1ms": 1, "1-5ms": 1, "5-10ms": 0, "10-50ms": 0, "50-100ms": 1, "100ms+": 0,
		},
		Percentiles: collector.Percentiles{P50: 1000, P75: 2000, P90: 3000, P95: 4000, P99: 5000, P999: 6000},
		EventKinds:  map[string]uint64{"send": 0, "recv": 3, "cleanup": 0},
		Connections: []ConnectionSummary{
			{Source: "10.0.0.1:1", Destination: "10.0.0.2:80", Events: 3, MinUs: 100, MaxUs: 300, AvgUs: 200, StdDevUs: 50},
		},
	}
}

func TestRenderJSONParsesAndRoundTrips(t *testing.T) {
	s := sampleSnapshot()
	data, err := RenderJSON(s)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.EqualValues(t, 3, doc["total_events"])

	data2, err := RenderJSON(s)
	require.NoError(t, err)
	require.Equal(t, data, data2, "rendering the same frozen snapshot twice must be byte-identical")
}

func TestZeroEventsJSONIsWellFormed(t *testing.T) {
	s := Snapshot{Timestamp: time.Now().UTC(), Coarse: map[string]uint64{}, EventKinds: map[string]uint64{"send": 0, "recv": 0, "cleanup": 0}}
	data, err := RenderJSON(s)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.EqualValues(t, 0, doc["total_events"])
	require.Empty(t, doc["connections"])
}

func TestWriteJSONAtomicToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	require.NoError(t, WriteJSON(sampleSnapshot(), path, nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no leftover temp file after a successful atomic write")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
}

func TestWriteAtomicLeavesNoTempFileOnFailure(t *testing.T) {
	err := writeAtomic("/nonexistent-dir/out.json", []byte("data"))
	require.Error(t, err)

	// The final path is an existing directory, so the temp file is created
	// and written but the rename into place fails.
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	require.NoError(t, os.Mkdir(path, 0o755))
	require.Error(t, writeAtomic(path, []byte("data")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "the temp file must be removed when the rename fails")
}

func TestRenderPrometheusParsesAsExposition(t *testing.T) {
	data, err := RenderPrometheus(sampleSnapshot())
	require.NoError(t, err)

	body := string(data)
	if idx := strings.IndexByte(body, '\n'); idx >= 0 && strings.HasPrefix(body, "#") {
		body = body[idx+1:] // drop the non-metric "snapshot at ..." comment line
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(body))
	require.NoError(t, err)
	require.Contains(t, families, "ebpf_latency_events_total")
	require.Contains(t, families, "ebpf_latency_bucket")
}

func TestRenderInfluxIsNewlineTerminatedLines(t *testing.T) {
	data, err := RenderInflux(sampleSnapshot())
	require.NoError(t, err)
	require.Contains(t, string(data), "ebpf_latency,src=")
	require.Equal(t, byte('\n'), data[len(data)-1])
}
