package flowschema

import "github.com/cilium/ebpf"

// Table capacities, fixed at load time per spec §3/§5.
const (
	FlowStartCapacity    = 10240
	SockIndexCapacity    = 10240
	XdpConnStatsCapacity = 10240
	PerFlowAggCapacity   = 10240
	SelfStatsSlots       = 16
)

// Map names, matching the SEC(".maps") declarations in bpf/tcplat.c.
const (
	MapFlowStart     = "flow_start"
	MapSockIndex     = "sock_index"
	MapXdpConnStats  = "xdp_conn_stats"
	MapEvents        = "events"
	MapSelfStats     = "self_stats"
	MapPerFlowAgg    = "per_flow_agg"
	MapRollupEnabled = "rollup_enabled"
)

// SelfStats reserved counter slots, per spec §4.B.
const (
	SlotSendsSeen        = 0
	SlotRecvsSeen        = 1
	SlotCleanupsSeen     = 2
	SlotEventsEmitted    = 3
	SlotEventsDropped    = 4
	SlotLookupMisses     = 5
	SlotElapsedAnomalies = 6
	SlotXdpPackets       = 7
	SlotXdpIPv4          = 8
	SlotXdpTCP           = 9
	SlotXdpUDP           = 10
	SlotXdpICMP          = 11
	SlotXdpOther         = 12
)

var slotNames = [SelfStatsSlots]string{
	SlotSendsSeen:        "sends_seen",
	SlotRecvsSeen:        "recvs_seen",
	SlotCleanupsSeen:     "cleanups_seen",
	SlotEventsEmitted:    "events_emitted",
	SlotEventsDropped:    "events_dropped",
	SlotLookupMisses:     "lookup_misses",
	SlotElapsedAnomalies: "elapsed_anomalies",
	SlotXdpPackets:       "xdp_packets",
	SlotXdpIPv4:          "xdp_ipv4",
	SlotXdpTCP:           "xdp_tcp",
	SlotXdpUDP:           "xdp_udp",
	SlotXdpICMP:          "xdp_icmp",
	SlotXdpOther:         "xdp_other",
}

// SlotName returns the human name of a reserved SelfStats slot, or "" if the
// slot is unreserved.
func SlotName(slot int) string {
	if slot < 0 || slot >= SelfStatsSlots {
		return ""
	}
	return slotNames[slot]
}

// SelfStats is a snapshot of the kernel tier's own-health counters, read
// from MapSelfStats. It mirrors the fixed array of u64 counters described
// in spec §3/§4.B.
type SelfStats [SelfStatsSlots]uint64

// MapSpec describes one of the expected kernel tables, used by the loader
// to sanity-check the loaded collection against this package's authoritative
// shapes before trusting it.
type MapSpec struct {
	Name       string
	Type       ebpf.MapType
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
}

// ExpectedMaps enumerates the six tables from spec §4.B plus the
// single-slot rollup_enabled flag, in the shape the loader expects to find
// them in the compiled object.
func ExpectedMaps() []MapSpec {
	return []MapSpec{
		{Name: MapFlowStart, Type: ebpf.Hash, KeySize: 16, ValueSize: 8, MaxEntries: FlowStartCapacity},
		{Name: MapSockIndex, Type: ebpf.Hash, KeySize: 8, ValueSize: 16, MaxEntries: SockIndexCapacity},
		{Name: MapXdpConnStats, Type: ebpf.Hash, KeySize: 13, ValueSize: 32, MaxEntries: XdpConnStatsCapacity},
		{Name: MapEvents, Type: ebpf.PerfEventArray, KeySize: 4, ValueSize: 4},
		{Name: MapSelfStats, Type: ebpf.Array, KeySize: 4, ValueSize: 8, MaxEntries: SelfStatsSlots},
		{Name: MapPerFlowAgg, Type: ebpf.Hash, KeySize: 16, ValueSize: 32, MaxEntries: PerFlowAggCapacity},
		{Name: MapRollupEnabled, Type: ebpf.Array, KeySize: 4, ValueSize: 4, MaxEntries: 1},
	}
}
