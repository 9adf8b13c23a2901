package collector

import (
	"math"

	"github.com/jedi132000/tcplatprobe/internal/flowschema"
)

// connStats is the per-FlowKey rolling record from spec §3's Aggregate
// "per-connection record": n, sum, sum-of-squares, min, max.
type connStats struct {
	Count  uint64
	Sum    float64 // ns
	SumSq  float64 // ns^2
	Min    float64
	Max    float64
}

func (c *connStats) observe(latencyNs uint64) {
	v := float64(latencyNs)
	if c.Count == 0 {
		c.Min, c.Max = v, v
	} else {
		if v < c.Min {
			c.Min = v
		}
		if v > c.Max {
			c.Max = v
		}
	}
	c.Count++
	c.Sum += v
	c.SumSq += v * v
}

func (c *connStats) merge(o connStats) {
	if o.Count == 0 {
		return
	}
	if c.Count == 0 {
		*c = o
		return
	}
	if o.Min < c.Min {
		c.Min = o.Min
	}
	if o.Max > c.Max {
		c.Max = o.Max
	}
	c.Count += o.Count
	c.Sum += o.Sum
	c.SumSq += o.SumSq
}

// Mean returns the arithmetic mean latency in ns.
func (c connStats) Mean() float64 {
	if c.Count == 0 {
		return 0
	}
	return c.Sum / float64(c.Count)
}

// StdDev returns the population standard deviation in ns.
func (c connStats) StdDev() float64 {
	if c.Count < 2 {
		return 0
	}
	mean := c.Mean()
	variance := c.SumSq/float64(c.Count) - mean*mean
	if variance < 0 {
		variance = 0 // guard against floating-point cancellation
	}
	return math.Sqrt(variance)
}

// Aggregate is one shard (or, post-merge, the final frozen view) of the
// streaming statistics described in spec §3.
type Aggregate struct {
	TotalEvents  uint64
	EventKinds   [4]uint64 // indexed by flowschema.EventKind
	Coarse       [len(CoarseBuckets)]uint64
	Fine         *fineHistogram
	Connections  map[flowschema.FlowKey]*connStats
}

// NewAggregate returns an empty, ready-to-use shard.
func NewAggregate() *Aggregate {
	return &Aggregate{
		Fine:        newFineHistogram(),
		Connections: make(map[flowschema.FlowKey]*connStats),
	}
}

// Observe folds one already-sampled, already-kind-filtered RECV/CLEANUP
// event into the shard, per spec §4.D step 3-5.
func (a *Aggregate) Observe(e flowschema.LatencyEvent) {
	a.TotalEvents++
	a.EventKinds[e.Kind]++
	if e.Kind != flowschema.EventRecv {
		return // only RECV latencies enter the latency histograms, per spec §9
	}
	a.Coarse[coarseBucketIndex(e.LatencyNs)]++
	a.Fine.observe(e.LatencyNs)

	cs, ok := a.Connections[e.Key]
	if !ok {
		cs = &connStats{}
		a.Connections[e.Key] = cs
	}
	cs.observe(e.LatencyNs)
}

// ObserveRollup folds one kernel-side PerFlowAgg rollup entry directly into
// the aggregate, used in --rollup mode where per-event ring traffic is
// suppressed (spec §4.B/§9). Sum-of-squares is unavailable from the rollup
// table, so StdDev() degrades to 0 for rolled-up flows — a documented
// tradeoff, not a bug.
func (a *Aggregate) ObserveRollup(key flowschema.FlowKey, rollup flowschema.PerFlowAgg) {
	a.TotalEvents += rollup.Count
	a.EventKinds[flowschema.EventRecv] += rollup.Count
	a.Connections[key] = &connStats{
		Count: rollup.Count,
		Sum:   float64(rollup.SumNs),
		Min:   float64(rollup.MinNs),
		Max:   float64(rollup.MaxNs),
	}
}

// Merge folds another shard into a, consuming it.
func (a *Aggregate) Merge(o *Aggregate) {
	a.TotalEvents += o.TotalEvents
	for i := range a.EventKinds {
		a.EventKinds[i] += o.EventKinds[i]
	}
	for i := range a.Coarse {
		a.Coarse[i] += o.Coarse[i]
	}
	a.Fine.merge(o.Fine)
	for k, v := range o.Connections {
		if existing, ok := a.Connections[k]; ok {
			existing.merge(*v)
		} else {
			a.Connections[k] = v
		}
	}
}

// snapshot returns a deep copy of a, safe to hand to another goroutine. Must
// only be called from the goroutine that owns a (spec §4.D's shard-ownership
// rule) — the periodic reporter asks for one via a request/response channel
// instead of reading shard fields directly, so this copy always happens on
// the owning goroutine's own stack, never racing against its Observe calls.
func (a *Aggregate) snapshot() *Aggregate {
	cp := &Aggregate{
		TotalEvents: a.TotalEvents,
		EventKinds:  a.EventKinds,
		Coarse:      a.Coarse,
		Fine:        a.Fine.clone(),
		Connections: make(map[flowschema.FlowKey]*connStats, len(a.Connections)),
	}
	for k, v := range a.Connections {
		cs := *v
		cp.Connections[k] = &cs
	}
	return cp
}

// Percentiles returns the landmark set spec §3 requires: p50/p75/p90/p95/p99/p99.9.
type Percentiles struct {
	P50, P75, P90, P95, P99, P999 float64
}

// Percentiles computes the landmark set from the fine histogram, clamped to
// the smallest and largest latency observed across Connections so that
// interpolation inside a wide log bucket never reports a value outside the
// observed range. With an empty fine histogram every landmark is 0.
func (a *Aggregate) Percentiles() Percentiles {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, cs := range a.Connections {
		lo, hi = math.Min(lo, cs.Min), math.Max(hi, cs.Max)
	}
	at := func(q float64) float64 {
		v := a.Fine.percentile(q)
		if a.Fine.total == 0 || lo > hi {
			return v
		}
		return math.Max(lo, math.Min(hi, v))
	}
	return Percentiles{
		P50:  at(0.50),
		P75:  at(0.75),
		P90:  at(0.90),
		P95:  at(0.95),
		P99:  at(0.99),
		P999: at(0.999),
	}
}
