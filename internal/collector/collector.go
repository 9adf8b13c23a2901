// Package collector drains the kernel tier's per-CPU event rings into a
// streaming Aggregate (spec §4.D). The ring-drain primitive is abstracted
// behind RawReader so the folding/sharding/reporting logic here is testable
// with a synthetic reader, independent of a live eBPF collection.
package collector

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jedi132000/tcplatprobe/internal/flowschema"
)

// ErrReaderClosed is returned by a RawReader's Read once it has been closed,
// mirroring cilium/ebpf/perf.ErrClosed and ringbuf.ErrClosed.
var ErrReaderClosed = errors.New("collector: reader closed")

// RawReader is the ring-drain primitive the Collector consumes. The real
// implementation (internal/loader) wraps a cilium/ebpf/perf.Reader, whose
// single Read() call already demultiplexes the kernel's per-CPU
// BPF_MAP_TYPE_PERF_EVENT_ARRAY sub-buffers and tags each record with its
// producing CPU — see SPEC_FULL.md §4.D for why this satisfies the
// "per-CPU ring, per-CPU drainer" model on top of that library's actual
// single-reader contract.
type RawReader interface {
	Read() (raw []byte, cpu int, err error)
	Close() error
}

// Config controls collector behavior, independent of the flags in
// internal/config so the collector can be unit tested directly.
type Config struct {
	SampleRate     uint32
	NumShards      int // 0 selects runtime.NumCPU()
	ReportInterval time.Duration // 0 disables the periodic reporter
	DrainDeadline  time.Duration // bound on cancellation drain, spec §4.D/§5
}

func (c Config) withDefaults() Config {
	if c.NumShards <= 0 {
		c.NumShards = runtime.NumCPU()
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1
	}
	if c.DrainDeadline <= 0 {
		c.DrainDeadline = 2 * time.Second
	}
	return c
}

// Stats accumulates runtime-error counters that spec §4.D/§7 say must never
// fail the run: parse errors and the eventual single reader-error give-up.
type Stats struct {
	mu          sync.Mutex
	ParseErrors uint64
	ReaderDown  bool
}

func (s *Stats) addParseError() {
	s.mu.Lock()
	s.ParseErrors++
	s.mu.Unlock()
}

func (s *Stats) markReaderDown() {
	s.mu.Lock()
	s.ReaderDown = true
	s.mu.Unlock()
}

// Collector drains RawReader into sharded Aggregates and merges them at the
// end-of-run barrier, per spec §4.D/§5.
type Collector struct {
	reader RawReader
	cfg    Config
	logger *zap.Logger

	shards   []*Aggregate
	samplers []*sampler
	inbox    []chan flowschema.LatencyEvent
	snapReq  []chan chan *Aggregate

	stats Stats
}

// New builds a Collector around reader. logger may be nil, in which case a
// no-op logger is used.
func New(reader RawReader, cfg Config, logger *zap.Logger) *Collector {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{reader: reader, cfg: cfg, logger: logger}
	c.shards = make([]*Aggregate, cfg.NumShards)
	c.samplers = make([]*sampler, cfg.NumShards)
	c.inbox = make([]chan flowschema.LatencyEvent, cfg.NumShards)
	c.snapReq = make([]chan chan *Aggregate, cfg.NumShards)
	for i := range c.shards {
		c.shards[i] = NewAggregate()
		c.samplers[i] = newSampler(cfg.SampleRate)
		c.inbox[i] = make(chan flowschema.LatencyEvent, 1024)
		c.snapReq[i] = make(chan chan *Aggregate)
	}
	return c
}

// Stats returns the collector's own runtime-error counters.
func (c *Collector) Stats() Stats {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()
	return Stats{ParseErrors: c.stats.ParseErrors, ReaderDown: c.stats.ReaderDown}
}

// Run drains the reader until ctx is cancelled or the reader is exhausted,
// then freezes and returns the merged Aggregate. It implements spec §4.D's
// cancellation contract: on cancellation, already-queued events drain with a
// bounded deadline before the aggregate is frozen.
func (c *Collector) Run(ctx context.Context) (*Aggregate, error) {
	// A blocked Read() only returns once the reader is closed, so close it
	// on cancellation to let the fan-out goroutine below see ErrReaderClosed.
	stopClose := context.AfterFunc(ctx, func() { c.reader.Close() })
	defer stopClose()

	g, gctx := errgroup.WithContext(ctx)

	// One shard worker per inbox channel; each owns its Aggregate
	// exclusively, so no locking is needed on the hot path (spec §5).
	for i := range c.shards {
		i := i
		g.Go(func() error {
			shard := c.shards[i]
			for {
				select {
				case e, ok := <-c.inbox[i]:
					if !ok {
						return nil
					}
					shard.Observe(e)
				case respCh := <-c.snapReq[i]:
					// Answer from inside the owning goroutine so the
					// periodic reporter never reads shard state directly
					// (spec §4.D; see Collector.peekMerge).
					respCh <- shard.snapshot()
				case <-gctx.Done():
					// Drain whatever is already queued, bounded by DrainDeadline.
					deadline := time.NewTimer(c.cfg.DrainDeadline)
					defer deadline.Stop()
					for {
						select {
						case e, ok := <-c.inbox[i]:
							if !ok {
								return nil
							}
							shard.Observe(e)
						case <-deadline.C:
							return nil
						}
					}
				}
			}
		})
	}

	// Single fan-out goroutine: the only goroutine calling reader.Read(),
	// per that interface's single-reader contract (see RawReader doc).
	g.Go(func() error {
		defer func() {
			for _, ch := range c.inbox {
				close(ch)
			}
		}()
		retriedAfterError := false
		for {
			select {
			case <-gctx.Done():
				return nil
			default:
			}

			raw, cpu, err := c.reader.Read()
			if err != nil {
				if errors.Is(err, ErrReaderClosed) {
					return nil
				}
				if retriedAfterError {
					c.stats.markReaderDown()
					c.logger.Error("ring reader failed twice, giving up for remainder of run", zap.Error(err))
					return nil
				}
				retriedAfterError = true
				c.logger.Warn("ring reader error, retrying once", zap.Error(err))
				continue
			}
			retriedAfterError = false

			var e flowschema.LatencyEvent
			if err := e.UnmarshalBinary(raw); err != nil {
				c.stats.addParseError()
				continue
			}
			if !e.Valid() || e.Kind < flowschema.EventSend || e.Kind > flowschema.EventCleanup {
				// Defensive: the kernel tier should never emit an invalid
				// event, but a corrupted/mocked record must not poison
				// the aggregate.
				c.stats.addParseError()
				continue
			}
			if e.Kind == flowschema.EventSend {
				// SEND carries no latency; it is dropped before sampling so
				// the sampler only counts RECV/CLEANUP events.
				continue
			}

			shardIdx := cpu % len(c.inbox)
			if !c.samplers[shardIdx].keep() {
				continue
			}

			select {
			case c.inbox[shardIdx] <- e:
			case <-gctx.Done():
			}
		}
	})

	// Periodic reporter, per spec §4.D: active only when ReportInterval > 0.
	if c.cfg.ReportInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(c.cfg.ReportInterval)
			defer ticker.Stop()
			start := time.Now()
			var lastTotal uint64
			for {
				select {
				case <-gctx.Done():
					return nil
				case now := <-ticker.C:
					snapshot := c.peekMerge(gctx)
					if snapshot == nil {
						return nil
					}
					rate := float64(snapshot.TotalEvents-lastTotal) / c.cfg.ReportInterval.Seconds()
					lastTotal = snapshot.TotalEvents
					pct := snapshot.Percentiles()
					c.logger.Info("tcplatprobe progress",
						zap.Duration("elapsed", now.Sub(start).Truncate(time.Second)),
						zap.Uint64("total_events", snapshot.TotalEvents),
						zap.Float64("events_per_sec", rate),
						zap.Float64("p50_us", pct.P50/1000),
						zap.Float64("p95_us", pct.P95/1000),
						zap.Float64("p99_us", pct.P99/1000),
					)
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return c.mergeShards(), nil
}

// peekMerge builds a throwaway merged copy of the current shard state for
// reporting, without ever reading a shard's live fields from outside its
// owning goroutine: each shard answers a snapshot request over its own
// snapReq channel (see the shard worker's select loop in Run), and peekMerge
// only touches the deep copies that come back. Returns nil if ctx is
// cancelled before every shard has replied.
func (c *Collector) peekMerge(ctx context.Context) *Aggregate {
	merged := NewAggregate()
	for i := range c.shards {
		respCh := make(chan *Aggregate, 1)
		select {
		case c.snapReq[i] <- respCh:
		case <-ctx.Done():
			return nil
		}
		var snap *Aggregate
		select {
		case snap = <-respCh:
		case <-ctx.Done():
			return nil
		}
		merged.Merge(snap)
	}
	return merged
}

func (c *Collector) mergeShards() *Aggregate {
	final := c.shards[0]
	for _, s := range c.shards[1:] {
		final.Merge(s)
	}
	return final
}
