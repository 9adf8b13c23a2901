// Package loader brings the kernel tier online: it loads the compiled
// object, validates its maps against flowschema's authoritative shapes,
// attaches hooks with graceful degradation for optional ones, and releases
// everything in reverse-attachment order on Close (spec §4.C).
package loader

import (
	"fmt"
	"net"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"

	"github.com/jedi132000/tcplatprobe/internal/flowschema"
)

// AttachResult mirrors spec §4.C's AttachResult enum.
type AttachResult int

const (
	Attached AttachResult = iota
	NotFound
	IncompatibleTarget
)

func (r AttachResult) String() string {
	switch r {
	case Attached:
		return "attached"
	case NotFound:
		return "not_found"
	case IncompatibleTarget:
		return "incompatible_target"
	default:
		return "unknown"
	}
}

// HookKind is the kernel attach mechanism a HookSpec uses.
type HookKind int

const (
	HookKprobe HookKind = iota
	HookKretprobe
	HookTracepoint
)

// HookSpec names one of the kernel probe's attach points from spec §4.A.
type HookSpec struct {
	ProgramName string // symbol name inside the loaded collection
	Kind        HookKind
	Symbol      string // kprobe/kretprobe target function
	Group, Name string // tracepoint group/name
	Required    bool
}

// RequiredHooks are the send/recv hooks spec §4.C says must succeed or
// loading fails outright.
func RequiredHooks() []HookSpec {
	return []HookSpec{
		{ProgramName: "trace_tcp_send", Kind: HookKprobe, Symbol: "tcp_sendmsg", Required: true},
		{ProgramName: "trace_tcp_recv", Kind: HookKretprobe, Symbol: "tcp_recvmsg", Required: true},
	}
}

// OptionalHooks may fail to attach without aborting startup.
func OptionalHooks() []HookSpec {
	return []HookSpec{
		{ProgramName: "trace_tcp_cleanup", Kind: HookKprobe, Symbol: "tcp_cleanup_rbuf", Required: false},
	}
}

// XDPMode selects the NIC-level attach mode, tried in preference order per
// spec §4.A/§4.C.
type XDPMode int

const (
	XDPNative XDPMode = iota
	XDPGeneric
	XDPHardware
)

func (m XDPMode) flags() link.XDPAttachFlags {
	switch m {
	case XDPNative:
		return link.XDPDriverMode
	case XDPGeneric:
		return link.XDPGenericMode
	case XDPHardware:
		return link.XDPOffloadMode
	default:
		return link.XDPGenericMode
	}
}

func (m XDPMode) String() string {
	switch m {
	case XDPNative:
		return "native"
	case XDPGeneric:
		return "generic"
	case XDPHardware:
		return "hardware"
	default:
		return "unknown"
	}
}

// Loader owns the loaded collection and every attached link for the process
// lifetime, per spec §4.C.
type Loader struct {
	coll   *ebpf.Collection
	links  []link.Link // attach order; Close releases in reverse
	logger *zap.Logger
}

// Load validates the embedded/co-located object is present, instantiates
// every map declared in flowschema, and resolves program symbols. It does
// not attach anything yet.
func Load(objectPath string, logger *zap.Logger) (*Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("loader: remove memlock rlimit: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(objectPath)
	if err != nil {
		return nil, fmt.Errorf("loader: load collection spec from %q: %w", objectPath, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("loader: instantiate collection (verifier rejected program or missing capability): %w", err)
	}

	l := &Loader{coll: coll, logger: logger}
	if err := l.validateMaps(); err != nil {
		coll.Close()
		return nil, err
	}
	return l, nil
}

// validateMaps confirms every table flowschema expects is present with the
// expected shape, so a mismatched object fails loudly at load time rather
// than producing silently wrong aggregates later.
func (l *Loader) validateMaps() error {
	for _, want := range flowschema.ExpectedMaps() {
		m, ok := l.coll.Maps[want.Name]
		if !ok {
			return fmt.Errorf("loader: object missing required map %q", want.Name)
		}
		if m.Type() != want.Type {
			return fmt.Errorf("loader: map %q has type %s, want %s", want.Name, m.Type(), want.Type)
		}
		if m.KeySize() != want.KeySize || m.ValueSize() != want.ValueSize {
			return fmt.Errorf("loader: map %q has key/value size %d/%d, want %d/%d",
				want.Name, m.KeySize(), m.ValueSize(), want.KeySize, want.ValueSize)
		}
		if want.MaxEntries != 0 && m.MaxEntries() != want.MaxEntries {
			return fmt.Errorf("loader: map %q has %d max entries, want %d", want.Name, m.MaxEntries(), want.MaxEntries)
		}
	}
	return nil
}

// Attach attaches one hook. Required-hook failures are returned as hard
// errors (spec §4.C: "the process must never proceed without the required
// hooks attached"); optional-hook failures are logged and return NotFound.
func (l *Loader) Attach(spec HookSpec) (AttachResult, error) {
	prog, ok := l.coll.Programs[spec.ProgramName]
	if !ok {
		if spec.Required {
			return NotFound, fmt.Errorf("loader: required program %q absent from object", spec.ProgramName)
		}
		l.logger.Warn("optional hook program absent, feature disabled", zap.String("program", spec.ProgramName))
		return NotFound, nil
	}

	var lnk link.Link
	var err error
	switch spec.Kind {
	case HookKprobe:
		lnk, err = link.Kprobe(spec.Symbol, prog, nil)
	case HookKretprobe:
		lnk, err = link.Kretprobe(spec.Symbol, prog, nil)
	case HookTracepoint:
		lnk, err = link.Tracepoint(spec.Group, spec.Name, prog, nil)
	default:
		return IncompatibleTarget, fmt.Errorf("loader: unknown hook kind for %q", spec.ProgramName)
	}

	if err != nil {
		if spec.Required {
			return IncompatibleTarget, fmt.Errorf("loader: attach required hook %q: %w", spec.ProgramName, err)
		}
		l.logger.Warn("optional hook failed to attach, continuing without it",
			zap.String("program", spec.ProgramName), zap.Error(err))
		return NotFound, nil
	}

	l.links = append(l.links, lnk)
	l.logger.Info("attached hook", zap.String("program", spec.ProgramName), zap.String("symbol", spec.Symbol))
	return Attached, nil
}

// AttachXDP attaches the optional NIC-level hook, trying native, generic,
// then hardware-offload modes in that order and recording the first that
// succeeds, per spec §4.A/§4.C.
func (l *Loader) AttachXDP(iface string) (AttachResult, XDPMode, error) {
	prog, ok := l.coll.Programs["xdp_inspect"]
	if !ok {
		l.logger.Warn("xdp_inspect program absent from object, NIC-level hook disabled")
		return NotFound, 0, nil
	}

	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return NotFound, 0, fmt.Errorf("loader: resolve interface %q: %w", iface, err)
	}

	modes := []XDPMode{XDPNative, XDPGeneric, XDPHardware}
	var lastErr error
	for _, mode := range modes {
		lnk, err := link.AttachXDP(link.XDPOptions{
			Program:   prog,
			Interface: ifi.Index,
			Flags:     mode.flags(),
		})
		if err != nil {
			lastErr = err
			l.logger.Warn("xdp attach mode failed, trying next", zap.String("mode", mode.String()), zap.Error(err))
			continue
		}
		l.links = append(l.links, lnk)
		l.logger.Info("attached xdp hook", zap.String("interface", iface), zap.String("mode", mode.String()))
		return Attached, mode, nil
	}
	l.logger.Warn("all xdp attach modes failed, NIC-level hook disabled", zap.Error(lastErr))
	return NotFound, 0, nil
}

// MapHandle returns the named map for direct reads (e.g. SelfStats,
// PerFlowAgg rollup).
func (l *Loader) MapHandle(name string) (*ebpf.Map, error) {
	m, ok := l.coll.Maps[name]
	if !ok {
		return nil, fmt.Errorf("loader: no such map %q", name)
	}
	return m, nil
}

// Close detaches everything in reverse attachment order and releases the
// collection, per spec §4.C's scoped-resource-release design note.
func (l *Loader) Close() error {
	var firstErr error
	for i := len(l.links) - 1; i >= 0; i-- {
		if err := l.links[i].Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("loader: close link %d: %w", i, err)
		}
	}
	l.links = nil
	if l.coll != nil {
		l.coll.Close()
		l.coll = nil
	}
	return firstErr
}
