package loader

import (
	"fmt"

	"github.com/jedi132000/tcplatprobe/internal/flowschema"
)

// ReadSelfStats reads the fixed-size self-health counter array, read-only
// from user space per spec §3.
func (l *Loader) ReadSelfStats() (flowschema.SelfStats, error) {
	var stats flowschema.SelfStats
	m, err := l.MapHandle(flowschema.MapSelfStats)
	if err != nil {
		return stats, err
	}
	for slot := 0; slot < flowschema.SelfStatsSlots; slot++ {
		var v uint64
		if err := m.Lookup(uint32(slot), &v); err != nil {
			return stats, fmt.Errorf("loader: read self_stats[%d]: %w", slot, err)
		}
		stats[slot] = v
	}
	return stats, nil
}

// SetRollupMode writes the kernel tier's rollup_enabled flag, telling
// complete_round_trip in bpf/tcplat.c whether to suppress per-event ring
// traffic in favor of the per_flow_agg rollup table (spec §3/§9). Must be
// called before any hook is attached so no event slips through on the stale
// default of zero.
func (l *Loader) SetRollupMode(enabled bool) error {
	m, err := l.MapHandle(flowschema.MapRollupEnabled)
	if err != nil {
		return err
	}
	var v uint32
	if enabled {
		v = 1
	}
	if err := m.Put(uint32(0), v); err != nil {
		return fmt.Errorf("loader: set rollup_enabled: %w", err)
	}
	return nil
}

// ReadPerFlowAgg iterates the optional kernel-side rollup table, used when
// --rollup suppresses per-event ring traffic (spec §4.B/§9).
func (l *Loader) ReadPerFlowAgg() (map[flowschema.FlowKey]flowschema.PerFlowAgg, error) {
	m, err := l.MapHandle(flowschema.MapPerFlowAgg)
	if err != nil {
		return nil, err
	}
	out := make(map[flowschema.FlowKey]flowschema.PerFlowAgg)
	var key flowschema.FlowKey
	var val flowschema.PerFlowAgg
	it := m.Iterate()
	for it.Next(&key, &val) {
		out[key] = val
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("loader: iterate per_flow_agg: %w", err)
	}
	return out, nil
}
