package flowschema

import (
	"encoding/binary"
	"fmt"
)

// EventSize is the wire size of LatencyEvent in bytes — must stay a multiple
// of 8 and identical to the C struct in bpf/tcplat.c.
const EventSize = 48

// MaxLatencyNs is the invariant ceiling from spec §3: the kernel tier
// discards anything measured at or above this before emitting.
const MaxLatencyNs = 60_000_000_000

// LatencyEvent is the fixed-size record emitted to the per-CPU ring. Its
// MarshalBinary/UnmarshalBinary encoding uses the offsets documented in
// spec §4.B exactly:
//
//	offset 0  : u8  kind
//	offset 1  : u8  cpu_id
//	offset 2  : u16 reserved
//	offset 4  : u32 saddr (network order)
//	offset 8  : u32 daddr (network order)
//	offset 12 : u16 sport (host order)
//	offset 14 : u16 dport (host order)
//	offset 16 : u32 pid
//	offset 20 : u32 payload_hint_bytes
//	offset 24 : u64 latency_ns
//	offset 32 : u64 timestamp_ns
//	offset 40 : u64 reserved2
type LatencyEvent struct {
	Kind         EventKind
	CPU          uint8
	Key          FlowKey
	LatencyNs    uint64
	PayloadBytes uint32
	TimestampNs  uint64
}

// Valid reports whether e satisfies the 0 < latency_ns < 60s invariant
// required of every emitted RECV/CLEANUP event (spec §8 invariant #1). SEND
// events are valid only when LatencyNs == 0. A zero-latency
// RECV/CLEANUP record means now <= start_ns at the kernel tier, which
// bpf/tcplat.c itself treats as an anomaly rather than a real measurement.
func (e LatencyEvent) Valid() bool {
	if e.Kind == EventSend {
		return e.LatencyNs == 0
	}
	return e.LatencyNs > 0 && e.LatencyNs < MaxLatencyNs
}

// MarshalBinary encodes e into the 48-byte little-endian wire layout.
func (e LatencyEvent) MarshalBinary() ([]byte, error) {
	buf := make([]byte, EventSize)
	buf[0] = byte(e.Kind)
	buf[1] = e.CPU
	binary.LittleEndian.PutUint16(buf[2:4], 0) // reserved
	binary.LittleEndian.PutUint32(buf[4:8], e.Key.SAddr)
	binary.LittleEndian.PutUint32(buf[8:12], e.Key.DAddr)
	binary.LittleEndian.PutUint16(buf[12:14], e.Key.SPort)
	binary.LittleEndian.PutUint16(buf[14:16], e.Key.DPort)
	binary.LittleEndian.PutUint32(buf[16:20], e.Key.PID)
	binary.LittleEndian.PutUint32(buf[20:24], e.PayloadBytes)
	binary.LittleEndian.PutUint64(buf[24:32], e.LatencyNs)
	binary.LittleEndian.PutUint64(buf[32:40], e.TimestampNs)
	binary.LittleEndian.PutUint64(buf[40:48], 0) // reserved2
	return buf, nil
}

// UnmarshalBinary decodes a 48-byte little-endian record into e.
func (e *LatencyEvent) UnmarshalBinary(raw []byte) error {
	if len(raw) < EventSize {
		return fmt.Errorf("flowschema: short LatencyEvent record: got %d bytes, want %d", len(raw), EventSize)
	}
	e.Kind = EventKind(raw[0])
	e.CPU = raw[1]
	e.Key.SAddr = binary.LittleEndian.Uint32(raw[4:8])
	e.Key.DAddr = binary.LittleEndian.Uint32(raw[8:12])
	e.Key.SPort = binary.LittleEndian.Uint16(raw[12:14])
	e.Key.DPort = binary.LittleEndian.Uint16(raw[14:16])
	e.Key.PID = binary.LittleEndian.Uint32(raw[16:20])
	e.PayloadBytes = binary.LittleEndian.Uint32(raw[20:24])
	e.LatencyNs = binary.LittleEndian.Uint64(raw[24:32])
	e.TimestampNs = binary.LittleEndian.Uint64(raw[32:40])
	return nil
}
