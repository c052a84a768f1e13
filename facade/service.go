// File: facade/service.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Service orchestrates every core subsystem (UMEM registry, socket
// handles, program manager, offload manager, notify engine, command
// dispatcher) behind one construction call: one struct owns the pool,
// executor, and control-plane wiring and exposes the AF_XDP datapath
// objects as a small set of handle-based operations.

package facade

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xdpfabric/afxdp/api"
	"github.com/xdpfabric/afxdp/control"
	"github.com/xdpfabric/afxdp/core/concurrency"
	"github.com/xdpfabric/afxdp/core/iface"
	"github.com/xdpfabric/afxdp/core/notify"
	"github.com/xdpfabric/afxdp/core/offload"
	"github.com/xdpfabric/afxdp/core/program"
	"github.com/xdpfabric/afxdp/core/socket"
	"github.com/xdpfabric/afxdp/core/umem"
	"github.com/xdpfabric/afxdp/internal/cmddispatch"
	"github.com/xdpfabric/afxdp/internal/provider"
)

// Config exposes every configurable system parameter for one-call setup.
type Config struct {
	NUMANode   int
	NumWorkers int

	UmemSize    uint64
	UmemChunk   uint32
	UmemHeadrom uint32

	ProgramRetireDelay time.Duration
	BusyPollHz         float64

	EnableMetrics bool
	EnableDebug   bool
	CPUAffinity   bool
	EnableEBPF    bool

	ShutdownTimeout time.Duration
}

// DefaultConfig returns sane defaults for development against the
// reference Loopback provider.
func DefaultConfig() *Config {
	return &Config{
		NUMANode:           -1,
		NumWorkers:         4,
		UmemSize:           16 << 20,
		UmemChunk:          4096,
		UmemHeadrom:        256,
		ProgramRetireDelay: 50 * time.Millisecond,
		BusyPollHz:         1000,
		EnableMetrics:      true,
		EnableDebug:        true,
		CPUAffinity:        false,
		ShutdownTimeout:    10 * time.Second,
	}
}

type socketHandle struct {
	sock     *socket.Socket
	provider iface.Provider
	ifIndex  int
	queueID  int
}

// Service is the orchestrator the CLI and any embedding application build
// against: it owns every object SPEC_FULL.md's core modules name and
// exposes them both as direct Go methods and through the generic
// cmddispatch command surface.
type Service struct {
	config *Config

	umemReg   *umem.Registry
	programs  *program.Manager
	offloads  *offload.Manager
	notifier  *notify.Engine
	dispatch  *cmddispatch.Dispatcher
	provider  iface.Provider
	executor  *concurrency.Executor

	configStore *control.ConfigStore
	metrics     *control.MetricsRegistry
	debug       *control.DebugProbes
	eventSink   control.EventSink
	promReg     *prometheus.Registry
	promExport  *control.PrometheusExporter

	mu         sync.RWMutex
	sockets    map[uint32]*socketHandle
	nextHandle uint32

	started bool
}

// New wires every subsystem and registers the default command-dispatch
// handlers. The returned Service owns a reference Loopback provider; swap
// it by calling SetProvider before Start if a real provider is available.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Service{
		config:      cfg,
		umemReg:     umem.NewRegistry(),
		programs:    program.NewManager(cfg.ProgramRetireDelay),
		dispatch:    cmddispatch.NewDispatcher(),
		sockets:     make(map[uint32]*socketHandle),
		configStore: control.NewConfigStore(),
		metrics:     control.NewMetricsRegistry(),
		debug:       control.NewDebugProbes(),
		eventSink:   control.NewLogrusEventSink(nil),
	}
	control.RegisterPlatformProbes(s.debug)

	s.provider = provider.NewLoopback(4, iface.Capabilities{ZeroCopy: false, ChecksumTx: true, MaxQueueSize: 4096})
	s.offloads = offload.NewManager(&loggingApplier{sink: s.eventSink})

	reactor, err := notify.NewEpollReactor()
	if err != nil {
		s.eventSink.Emit(control.Event{Level: "warn", Message: "epoll reactor unavailable", Fields: map[string]any{"error": err.Error()}})
	}
	var r api.Reactor
	if reactor != nil {
		r = reactor
	}
	s.notifier = notify.NewEngine(r, cfg.BusyPollHz)

	if cfg.EnableMetrics {
		s.promReg = prometheus.NewRegistry()
		s.promExport = control.NewPrometheusExporter(s.promReg)
	}

	s.executor = concurrency.NewExecutor(cfg.NumWorkers, cfg.NUMANode)

	s.configStore.SetConfig(map[string]any{
		"numa_node":   cfg.NUMANode,
		"num_workers": cfg.NumWorkers,
		"umem_size":   cfg.UmemSize,
		"umem_chunk":  cfg.UmemChunk,
	})

	s.registerDefaultHandlers()
	return s, nil
}

// loggingApplier is the default offload.Applier: it records install/revert
// as events instead of touching real hardware, so offload.Manager has
// something to drive against the reference Loopback provider.
type loggingApplier struct {
	sink control.EventSink
}

func (a *loggingApplier) Apply(ifIndex int, s offload.Settings) error {
	a.sink.Emit(control.Event{Message: "offload installed", Fields: map[string]any{"if_index": ifIndex, "kind": s.Kind}})
	return nil
}

func (a *loggingApplier) Revert(ifIndex int, prev offload.Settings, hadPrev bool) error {
	a.sink.Emit(control.Event{Message: "offload reverted", Fields: map[string]any{"if_index": ifIndex, "had_previous": hadPrev}})
	return nil
}

// EBPFEngineRegistered implements program.EngineRegistry.
func (s *Service) EBPFEngineRegistered() bool { return s.config.EnableEBPF }

// SetProvider swaps the interface provider, which must happen before any
// socket is bound through this Service.
func (s *Service) SetProvider(p iface.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = p
}

// Provider returns the Service's current interface provider.
func (s *Service) Provider() iface.Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// Dispatcher exposes the generic command-dispatch surface (§6.2) for
// anything driving this Service through headers-and-bytes rather than
// direct Go calls.
func (s *Service) Dispatcher() *cmddispatch.Dispatcher { return s.dispatch }

// Config exposes the live configuration store for hot-reload hooks.
func (s *Service) Config() *control.ConfigStore { return s.configStore }

// Metrics exposes the metrics registry.
func (s *Service) Metrics() *control.MetricsRegistry { return s.metrics }

// Debug exposes the debug probe registry.
func (s *Service) Debug() *control.DebugProbes { return s.debug }

// NewUmem registers a fresh mmap-backed UMEM region sized per Config.
func (s *Service) NewUmem() (*umem.Umem, error) {
	return s.umemReg.RegisterMapped(s.config.UmemSize, s.config.UmemChunk, s.config.UmemHeadrom)
}

// NewSocket allocates a socket handle in CREATED state and returns both
// the handle (for the cmddispatch surface) and the *socket.Socket (for
// direct Go callers).
func (s *Service) NewSocket() (uint32, *socket.Socket) {
	sock := socket.New()
	h := atomic.AddUint32(&s.nextHandle, 1)
	s.mu.Lock()
	s.sockets[h] = &socketHandle{sock: sock}
	s.mu.Unlock()
	return h, sock
}

func (s *Service) handle(h uint32) (*socketHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sockets[h]
	if !ok {
		return nil, api.NewError(api.ErrCodeNotFound, "facade: unknown socket handle")
	}
	return e, nil
}

// BindSocket binds handle's socket to ifIndex/queueID on the Service's
// current provider under flags (RX/TX direction selection, GENERIC xor
// NATIVE), using u as its UMEM region.
func (s *Service) BindSocket(h uint32, ifIndex, queueID int, flags socket.BindFlags, u *umem.Umem) error {
	e, err := s.handle(h)
	if err != nil {
		return err
	}
	if err := e.sock.Configure(); err != nil {
		return err
	}
	p := s.Provider()
	if err := e.sock.Bind(p, ifIndex, queueID, flags, u); err != nil {
		return err
	}
	s.mu.Lock()
	e.provider, e.ifIndex, e.queueID = p, ifIndex, queueID
	s.mu.Unlock()
	return nil
}

// ActivateSocket activates handle's socket.
func (s *Service) ActivateSocket(h uint32) error {
	e, err := s.handle(h)
	if err != nil {
		return err
	}
	return e.sock.Activate()
}

// CloseSocket closes handle's socket and forgets the handle.
func (s *Service) CloseSocket(h uint32) error {
	e, err := s.handle(h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sockets, h)
	s.mu.Unlock()
	return e.sock.Close()
}

// NotifySocket implements notify(socket, flags, timeout) for handle's
// socket: POKE the directions flags names, then (if any WAIT bit was also
// set) block up to timeout for at least one requested condition.
func (s *Service) NotifySocket(ctx context.Context, h uint32, flags notify.Flags, timeout time.Duration) (notify.Result, error) {
	e, err := s.handle(h)
	if err != nil {
		return 0, err
	}
	return s.notifier.Notify(ctx, e.sock, e.provider, e.ifIndex, e.queueID, flags, timeout)
}

// NotifySocketAsync starts an async notify and returns the handle to it.
func (s *Service) NotifySocketAsync(ctx context.Context, h uint32, flags notify.Flags, timeout time.Duration) (*notify.Async, error) {
	e, err := s.handle(h)
	if err != nil {
		return nil, err
	}
	return s.notifier.NotifyAsync(ctx, e.sock, e.provider, e.ifIndex, e.queueID, flags, timeout), nil
}

// PollInfo reports the notify engine's current poll mode and NEED_POKE
// counters for handle's socket, for debug-dump tooling.
func (s *Service) PollInfo(h uint32) (notify.PollInfo, error) {
	e, err := s.handle(h)
	if err != nil {
		return notify.PollInfo{}, err
	}
	return s.notifier.PollInfo(e.sock), nil
}

// AttachProgram compiles rules and attaches the resulting Program at key,
// replacing whatever was previously attached there.
func (s *Service) AttachProgram(key program.Key, rules []program.Rule) (bool, error) {
	p, err := program.Compile(rules, s)
	if err != nil {
		return false, err
	}
	return s.programs.Attach(key, p), nil
}

// DetachProgram removes whatever Program is attached at key.
func (s *Service) DetachProgram(key program.Key) bool {
	return s.programs.Detach(key)
}

// InstallOffload installs RSS/QEO settings on ifIndex.
func (s *Service) InstallOffload(ifIndex int, set offload.Settings) error {
	return s.offloads.Install(ifIndex, set)
}

// RevertOffload reverts ifIndex's settings of kind to whatever preceded
// the most recent install.
func (s *Service) RevertOffload(ifIndex int, kind offload.Kind) error {
	return s.offloads.Revert(ifIndex, kind)
}

// CurrentOffload returns ifIndex's installed settings of kind, if any.
func (s *Service) CurrentOffload(ifIndex int, kind offload.Kind) (offload.Settings, bool) {
	return s.offloads.Current(ifIndex, kind)
}

// Start pins the calling goroutine's OS thread per Config.CPUAffinity and
// marks the service started. Submitting work to Executor before Start is
// fine; Start only affects affinity.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.config.CPUAffinity && s.config.NUMANode >= 0 {
		if err := concurrency.PinCurrentThread(s.config.NUMANode, 0); err != nil {
			s.eventSink.Emit(control.Event{Level: "warn", Message: "affinity pin failed", Fields: map[string]any{"error": err.Error()}})
		}
	}
	s.started = true
	return nil
}

// Stop tears down the executor, provider, and every remaining socket.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	handles := make([]uint32, 0, len(s.sockets))
	for h := range s.sockets {
		handles = append(handles, h)
	}
	s.started = false
	s.mu.Unlock()

	for _, h := range handles {
		_ = s.CloseSocket(h)
	}
	s.executor.Close()
	if err := s.provider.Close(); err != nil {
		return fmt.Errorf("facade: provider close: %w", err)
	}
	return nil
}

// Shutdown is an alias for Stop, satisfying api.GracefulShutdown.
func (s *Service) Shutdown() error {
	return s.Stop()
}

// Submit dispatches a task to the background executor.
func (s *Service) Submit(task func()) error {
	return s.executor.Submit(task)
}

// registerDefaultHandlers wires the generic cmddispatch command surface
// onto this Service's own methods, the way §6.2's IRP surface sits on top
// of typed Go APIs rather than replacing them.
func (s *Service) registerDefaultHandlers() {
	d := s.dispatch

	d.Register(cmddispatch.ObjectSocket, cmddispatch.CmdSocketBind, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		if len(req.Body) < 16 {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "facade: bind body too short")
		}
		ifIndex := int(byteOrderUint32(req.Body[0:4]))
		queueID := int(byteOrderUint32(req.Body[4:8]))
		h := byteOrderUint32(req.Body[8:12])
		flags := socket.BindFlags(byteOrderUint32(req.Body[12:16]))
		u, err := s.NewUmem()
		if err != nil {
			return nil, err
		}
		if err := s.BindSocket(h, ifIndex, queueID, flags, u); err != nil {
			return nil, err
		}
		return &cmddispatch.Response{}, nil
	})

	d.Register(cmddispatch.ObjectSocket, cmddispatch.CmdSocketActivate, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		if len(req.Body) < 4 {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "facade: activate body too short")
		}
		h := byteOrderUint32(req.Body[0:4])
		if err := s.ActivateSocket(h); err != nil {
			return nil, err
		}
		return &cmddispatch.Response{}, nil
	})

	d.Register(cmddispatch.ObjectSocket, cmddispatch.CmdSocketGetSockopt, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		if len(req.Body) < 8 {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "facade: getsockopt body too short")
		}
		h := byteOrderUint32(req.Body[0:4])
		outLen := int(byteOrderUint32(req.Body[4:8]))
		e, err := s.handle(h)
		if err != nil {
			return nil, err
		}
		wire, err := encodeSockOpt(e.sock, socket.SockOpt(req.Header.Minor))
		if err != nil {
			return nil, err
		}
		dst := make([]byte, outLen)
		n, err := cmddispatch.CopyOut(dst, wire)
		if err != nil {
			return nil, err
		}
		return &cmddispatch.Response{Body: dst[:n]}, nil
	})

	d.Register(cmddispatch.ObjectSocket, cmddispatch.CmdSocketSetSockopt, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		if len(req.Body) < 4 {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "facade: setsockopt body too short")
		}
		h := byteOrderUint32(req.Body[0:4])
		e, err := s.handle(h)
		if err != nil {
			return nil, err
		}
		if err := s.applySockOpt(e.sock, socket.SockOpt(req.Header.Minor), req.Body[4:]); err != nil {
			return nil, err
		}
		return &cmddispatch.Response{}, nil
	})

	d.Register(cmddispatch.ObjectSocket, cmddispatch.CmdSocketNotify, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		if len(req.Body) < 12 {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "facade: notify body too short")
		}
		h := byteOrderUint32(req.Body[0:4])
		flags := notify.Flags(byteOrderUint32(req.Body[4:8]))
		timeoutMs := byteOrderUint32(req.Body[8:12])
		res, err := s.NotifySocket(ctx, h, flags, time.Duration(timeoutMs)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		return &cmddispatch.Response{Body: encodeUint32(uint32(res))}, nil
	})

	d.Register(cmddispatch.ObjectSocket, cmddispatch.CmdSocketNotifyAsync, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		if len(req.Body) < 12 {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "facade: notify-async body too short")
		}
		h := byteOrderUint32(req.Body[0:4])
		flags := notify.Flags(byteOrderUint32(req.Body[4:8]))
		timeoutMs := byteOrderUint32(req.Body[8:12])
		id := d.NewPending()
		async, err := s.NotifySocketAsync(ctx, h, flags, time.Duration(timeoutMs)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		go func() {
			<-async.Done()
			d.Complete(id, &cmddispatch.Response{Body: encodeUint32(uint32(async.Result()))}, async.Err())
		}()
		return &cmddispatch.Response{Pending: true, CommandID: id}, nil
	})

	d.Register(cmddispatch.ObjectProgram, cmddispatch.CmdProgramCreate, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		return nil, api.NewError(api.ErrCodeNotSupported, "facade: program create requires typed rules, use AttachProgram")
	})

	d.Register(cmddispatch.ObjectProgram, cmddispatch.CmdProgramDelete, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		if len(req.Body) < 8 {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "facade: program delete body too short")
		}
		key := program.Key{IfIndex: int(byteOrderUint32(req.Body[0:4])), Queue: int(byteOrderUint32(req.Body[4:8]))}
		s.DetachProgram(key)
		return &cmddispatch.Response{}, nil
	})

	d.Register(cmddispatch.ObjectInterface, cmddispatch.CmdInterfaceOffloadRSSGet, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		if len(req.Body) < 4 {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "facade: rss-get body too short")
		}
		ifIndex := int(byteOrderUint32(req.Body[0:4]))
		set, ok := s.offloads.Current(ifIndex, offload.KindRSS)
		if !ok {
			return nil, api.NewError(api.ErrCodeNotFound, "facade: no RSS settings installed")
		}
		return &cmddispatch.Response{Body: set.RSSHashKey}, nil
	})

	d.Register(cmddispatch.ObjectInterface, cmddispatch.CmdInterfaceOffloadRSSSet, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		if len(req.Body) < 4 {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "facade: rss-set body too short")
		}
		ifIndex := int(byteOrderUint32(req.Body[0:4]))
		set := offload.Settings{Kind: offload.KindRSS, RSSHashKey: append([]byte(nil), req.Body[4:]...)}
		if err := s.InstallOffload(ifIndex, set); err != nil {
			return nil, err
		}
		return &cmddispatch.Response{}, nil
	})

	d.Register(cmddispatch.ObjectInterface, cmddispatch.CmdInterfaceOffloadRSSGetCapabilities, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		if len(req.Body) < 8 {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "facade: rss-caps body too short")
		}
		ifIndex := int(byteOrderUint32(req.Body[0:4]))
		queueID := int(byteOrderUint32(req.Body[4:8]))
		caps, err := s.Provider().Capabilities(ifIndex, queueID)
		if err != nil {
			return nil, err
		}
		wire := []byte{0}
		if caps.ZeroCopy {
			wire[0] = 1
		}
		return &cmddispatch.Response{Body: wire}, nil
	})

	d.Register(cmddispatch.ObjectInterface, cmddispatch.CmdInterfaceOffloadQEOSet, func(ctx context.Context, req *cmddispatch.Request) (*cmddispatch.Response, error) {
		if len(req.Body) < 4 {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "facade: qeo-set body too short")
		}
		ifIndex := int(byteOrderUint32(req.Body[0:4]))
		set := offload.Settings{Kind: offload.KindQEO, QEOKeys: map[int][]byte{0: append([]byte(nil), req.Body[4:]...)}}
		if err := s.InstallOffload(ifIndex, set); err != nil {
			return nil, err
		}
		return &cmddispatch.Response{}, nil
	})
}

func byteOrderUint32(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func encodeUint32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

func encodeStats(st socket.Stats) []byte {
	buf := make([]byte, 48)
	binary.LittleEndian.PutUint64(buf[0:8], st.RxPackets)
	binary.LittleEndian.PutUint64(buf[8:16], st.TxPackets)
	binary.LittleEndian.PutUint64(buf[16:24], st.RxDropped)
	binary.LittleEndian.PutUint64(buf[24:32], st.RxTruncated)
	binary.LittleEndian.PutUint64(buf[32:40], st.RxInvalidDesc)
	binary.LittleEndian.PutUint64(buf[40:48], st.TxInvalidDesc)
	return buf
}

var _ api.GracefulShutdown = (*Service)(nil)
