// Package flowschema is the single authoritative definition of the shared
// state exchanged between the kernel probe (bpf/tcplat.c) and the user-space
// tiers: map shapes, capacities, and the LatencyEvent wire struct. Keeping
// one Go-side definition prevents layout drift between loader, collector,
// and exporter.
package flowschema

import "fmt"

// EventKind identifies which hook produced a LatencyEvent.
type EventKind uint8

const (
	EventUnknown EventKind = 0
	EventSend    EventKind = 1
	EventRecv    EventKind = 2
	EventCleanup EventKind = 3
)

func (k EventKind) String() string {
	switch k {
	case EventSend:
		return "send"
	case EventRecv:
		return "recv"
	case EventCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// FlowKey identifies one unidirectional TCP flow. Addresses are stored in
// network byte order exactly as read off the socket by the kernel tier;
// ports are host byte order. PID disambiguates concurrent flows on the same
// 4-tuple under SO_REUSEPORT.
type FlowKey struct {
	SAddr uint32 // network byte order
	DAddr uint32 // network byte order
	SPort uint16
	DPort uint16
	PID   uint32
}

// String renders a FlowKey as "src:port -> dst:port" for map keys and logs.
func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d", ipString(k.SAddr), k.SPort, ipString(k.DAddr), k.DPort)
}

// Source renders just the source endpoint, "addr:port".
func (k FlowKey) Source() string { return fmt.Sprintf("%s:%d", ipString(k.SAddr), k.SPort) }

// Destination renders just the destination endpoint, "addr:port".
func (k FlowKey) Destination() string {
	return fmt.Sprintf("%s:%d", ipString(k.DAddr), k.DPort)
}

func ipString(addr uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(addr), byte(addr>>8), byte(addr>>16), byte(addr>>24))
}

// XdpFlowTuple is the subset of FlowKey visible to the NIC-level hook, which
// has no notion of owning process.
type XdpFlowTuple struct {
	SAddr    uint32
	DAddr    uint32
	SPort    uint16
	DPort    uint16
	Protocol uint8
}

// XdpConnStats are the per-tuple counters the XDP hook maintains.
type XdpConnStats struct {
	Packets   uint64
	Bytes     uint64
	LastSeen  uint64
	DropCount uint64 // reserved: never incremented, see DESIGN.md open question
}

// PerFlowAgg is the optional kernel-side rollup value, populated when
// rollup mode is requested so the ring can stay quiet.
type PerFlowAgg struct {
	Count  uint64
	SumNs  uint64
	MinNs  uint64
	MaxNs  uint64
}
