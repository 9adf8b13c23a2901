package flowschema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLatencyEventRoundTrip(t *testing.T) {
	e := LatencyEvent{
		Kind: EventRecv,
		CPU:  3,
		Key: FlowKey{
			SAddr: 0x0100000a, // 10.0.0.1 network order
			DAddr: 0x0200000a, // 10.0.0.2 network order
			SPort: 50000,
			DPort: 80,
			PID:   42,
		},
		LatencyNs:    1_500_000,
		PayloadBytes: 128,
		TimestampNs:  987654321,
	}

	raw, err := e.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, raw, EventSize)
	require.Equal(t, 0, EventSize%8, "wire size must be a multiple of 8")

	var got LatencyEvent
	require.NoError(t, got.UnmarshalBinary(raw))
	require.Equal(t, e, got)
}

func TestLatencyEventReservedBytesAreZero(t *testing.T) {
	e := LatencyEvent{Kind: EventSend, Key: FlowKey{PID: 1}}
	raw, err := e.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, byte(0), raw[2])
	require.Equal(t, byte(0), raw[3])
	for _, b := range raw[40:48] {
		require.Equal(t, byte(0), b)
	}
}

func TestLatencyEventValid(t *testing.T) {
	cases := []struct {
		name string
		e    LatencyEvent
		want bool
	}{
		{"send with zero latency", LatencyEvent{Kind: EventSend, LatencyNs: 0}, true},
		{"send with nonzero latency is invalid", LatencyEvent{Kind: EventSend, LatencyNs: 5}, false},
		{"recv under ceiling", LatencyEvent{Kind: EventRecv, LatencyNs: MaxLatencyNs - 1}, true},
		{"recv at ceiling is invalid", LatencyEvent{Kind: EventRecv, LatencyNs: MaxLatencyNs}, false},
		{"recv with zero latency is invalid", LatencyEvent{Kind: EventRecv, LatencyNs: 0}, false},
		{"cleanup with zero latency is invalid", LatencyEvent{Kind: EventCleanup, LatencyNs: 0}, false},
		{"cleanup under ceiling", LatencyEvent{Kind: EventCleanup, LatencyNs: 1000}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.e.Valid())
		})
	}
}

func TestUnmarshalBinaryShortRecord(t *testing.T) {
	var e LatencyEvent
	err := e.UnmarshalBinary(make([]byte, EventSize-1))
	require.Error(t, err)
}

func TestFlowKeyString(t *testing.T) {
	k := FlowKey{SAddr: 0x0100000a, DAddr: 0x0200000a, SPort: 50000, DPort: 80, PID: 42}
	require.Equal(t, "10.0.0.1:50000 -> 10.0.0.2:80", k.String())
	require.Equal(t, "10.0.0.1:50000", k.Source())
	require.Equal(t, "10.0.0.2:80", k.Destination())
}
