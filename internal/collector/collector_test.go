package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jedi132000/tcplatprobe/internal/flowschema"
)

// fakeReader replays a fixed slice of events then reports ErrReaderClosed,
// exactly like a perf.Reader does once Close() has been called.
type fakeReader struct {
	mu     sync.Mutex
	events []flowschema.LatencyEvent
	cpu    []int
	idx    int
}

func (f *fakeReader) Read() ([]byte, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.events) {
		return nil, 0, ErrReaderClosed
	}
	e := f.events[f.idx]
	cpu := f.cpu[f.idx]
	f.idx++
	raw, err := e.MarshalBinary()
	return raw, cpu, err
}

func (f *fakeReader) Close() error { return nil }

func recvEvent(key flowschema.FlowKey, latencyNs uint64) flowschema.LatencyEvent {
	return flowschema.LatencyEvent{Kind: flowschema.EventRecv, Key: key, LatencyNs: latencyNs}
}

// Scenario 1 (spec §8): single flow, 1000 echo exchanges at a constant 1.5ms.
func TestScenarioSingleFlowConstantLatency(t *testing.T) {
	key := flowschema.FlowKey{SAddr: 0x0100000a, DAddr: 0x0200000a, SPort: 50000, DPort: 80, PID: 42}
	r := &fakeReader{}
	for i := 0; i < 1000; i++ {
		r.events = append(r.events, recvEvent(key, 1_500_000))
		r.cpu = append(r.cpu, 0)
	}

	c := New(r, Config{NumShards: 1}, nil)
	agg, err := c.Run(context.Background())
	require.NoError(t, err)

	require.EqualValues(t, 1000, agg.TotalEvents)
	require.Len(t, agg.Connections, 1)
	cs := agg.Connections[key]
	require.EqualValues(t, 1000, cs.Count)
	require.InDelta(t, 1_500_000, cs.Mean(), 1)
	require.InDelta(t, 0, cs.StdDev(), 1e-6)
	require.EqualValues(t, 1000, agg.Coarse[1]) // "1-5ms"
	for i, c := range agg.Coarse {
		if i != 1 {
			require.EqualValues(t, 0, c)
		}
	}
	pct := agg.Percentiles()
	require.InDelta(t, 1_500_000, pct.P50, 1_500_000*0.05)
	require.InDelta(t, 1_500_000, pct.P99, 1_500_000*0.05)
}

// Scenario 2 (spec §8): three flows, mixed latencies across three coarse buckets.
func TestScenarioThreeFlowsMixedLatency(t *testing.T) {
	keyA := flowschema.FlowKey{SAddr: 1, DAddr: 2, SPort: 1, DPort: 80, PID: 1}
	keyB := flowschema.FlowKey{SAddr: 1, DAddr: 2, SPort: 2, DPort: 80, PID: 1}
	keyC := flowschema.FlowKey{SAddr: 1, DAddr: 2, SPort: 3, DPort: 80, PID: 1}

	r := &fakeReader{}
	add := func(key flowschema.FlowKey, latency uint64, n int) {
		for i := 0; i < n; i++ {
			r.events = append(r.events, recvEvent(key, latency))
			r.cpu = append(r.cpu, i%4)
		}
	}
	add(keyA, 500_000, 1000)
	add(keyB, 7_000_000, 1000)
	add(keyC, 75_000_000, 1000)

	c := New(r, Config{}, nil)
	agg, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, agg.Connections, 3)
	require.EqualValues(t, 1000, agg.Coarse[0]) // 0-1ms
	require.EqualValues(t, 1000, agg.Coarse[2]) // 5-10ms
	require.EqualValues(t, 1000, agg.Coarse[4]) // 50-100ms

	pct := agg.Percentiles()
	require.InDelta(t, 7_000_000, pct.P50, 7_000_000*0.05)
	require.InDelta(t, 75_000_000, pct.P99, 75_000_000*0.05)
	require.True(t, pct.P50 <= pct.P75)
	require.True(t, pct.P75 <= pct.P90)
	require.True(t, pct.P90 <= pct.P95)
	require.True(t, pct.P95 <= pct.P99)
	require.True(t, pct.P99 <= pct.P999)
}

// Scenario 4 (spec §8): sampling at rate 10 retains roughly 1/10 of events.
func TestScenarioSamplingRetainsApproximateFraction(t *testing.T) {
	key := flowschema.FlowKey{SAddr: 1, DAddr: 2, SPort: 1, DPort: 80, PID: 1}
	r := &fakeReader{}
	const n = 100_000
	for i := 0; i < n; i++ {
		r.events = append(r.events, recvEvent(key, 2_000_000))
		r.cpu = append(r.cpu, i%4)
	}

	c := New(r, Config{SampleRate: 10}, nil)
	agg, err := c.Run(context.Background())
	require.NoError(t, err)

	require.InEpsilon(t, n/10, agg.TotalEvents, 0.05)
}

func TestZeroEventsProducesWellFormedEmptyAggregate(t *testing.T) {
	r := &fakeReader{}
	c := New(r, Config{}, nil)
	agg, err := c.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, agg.TotalEvents)
	require.Empty(t, agg.Connections)
}

func TestCancellationFreezesAggregateWithinDeadline(t *testing.T) {
	key := flowschema.FlowKey{SAddr: 1, DAddr: 2, SPort: 1, DPort: 80, PID: 1}
	r := &fakeReader{}
	for i := 0; i < 10; i++ {
		r.events = append(r.events, recvEvent(key, 1_000_000))
		r.cpu = append(r.cpu, 0)
	}

	c := New(r, Config{NumShards: 1, DrainDeadline: 50 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel before any events are drained

	agg, err := c.Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, agg) // well-formed even if empty, per spec §8 boundary behavior
}

func TestParseErrorsAreCountedNotFatal(t *testing.T) {
	r := &fakeReader{}
	r.events = []flowschema.LatencyEvent{{Kind: flowschema.EventRecv, LatencyNs: 1_000_000}}
	r.cpu = []int{0}
	c := New(r, Config{}, nil)

	// Inject a raw short record by wrapping the reader.
	wrapped := &shortOnceReader{inner: r}
	c2 := New(wrapped, Config{}, nil)
	_, err := c2.Run(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, c2.Stats().ParseErrors)
	_ = c
}

type shortOnceReader struct {
	inner  *fakeReader
	served bool
}

func (s *shortOnceReader) Read() ([]byte, int, error) {
	if !s.served {
		s.served = true
		return []byte{1, 2, 3}, 0, nil // too short to decode
	}
	return s.inner.Read()
}

func (s *shortOnceReader) Close() error { return nil }
