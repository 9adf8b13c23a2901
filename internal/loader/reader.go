package loader

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf/perf"

	"github.com/jedi132000/tcplatprobe/internal/collector"
)

// PerfRawReader adapts a cilium/ebpf/perf.Reader to collector.RawReader.
// perf.Reader already demultiplexes the kernel's per-CPU
// BPF_MAP_TYPE_PERF_EVENT_ARRAY sub-buffers behind one epoll-driven Read()
// call and tags each record with its producing CPU — see
// SPEC_FULL.md §4.D for why this is the grounded realization of "per-CPU
// ring, per-CPU drainer" on top of this library's actual contract.
type PerfRawReader struct {
	r *perf.Reader
}

// NewPerfRawReader opens a per-CPU perf event reader over the loader's
// Events map, sized to hold at least 1 MiB of events per CPU (spec §5).
func NewPerfRawReader(l *Loader) (*PerfRawReader, error) {
	m, err := l.MapHandle("events")
	if err != nil {
		return nil, err
	}
	r, err := perf.NewReader(m, 1<<20)
	if err != nil {
		return nil, fmt.Errorf("loader: open perf reader: %w", err)
	}
	return &PerfRawReader{r: r}, nil
}

// Read returns the next record's raw bytes and producing CPU.
func (p *PerfRawReader) Read() ([]byte, int, error) {
	rec, err := p.r.Read()
	if err != nil {
		if errors.Is(err, perf.ErrClosed) {
			return nil, 0, collector.ErrReaderClosed
		}
		return nil, 0, fmt.Errorf("loader: perf read: %w", err)
	}
	if rec.LostSamples > 0 {
		// Accounted for via SelfStats slot 4 (events dropped) on the kernel
		// side; nothing further to do here beyond not blocking.
		_ = rec.LostSamples
	}
	return rec.RawSample, rec.CPU, nil
}

// Close releases the underlying perf reader.
func (p *PerfRawReader) Close() error {
	return p.r.Close()
}
