// File: internal/cmddispatch/cmddispatch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package cmddispatch maps a 16-byte command header onto a registered
// handler function, the way a driver's ioctl dispatch table maps an
// object-type-plus-command pair onto a component entry point. It owns
// three things: the header wire layout, bounce-buffering caller bodies
// into dispatcher-owned memory before a handler touches them, and the
// sync/pend/complete bookkeeping for commands that can't finish inline.
//
// Grounded on ehrlich-b-go-ublk/internal/uapi/marshal.go's explicit
// per-field binary.LittleEndian encode/decode functions for the header
// layout (deliberately not that file's unsafe reflect-based directMarshal
// fallback, a past source of bugs there), and on internal/ctrl/control.go's
// StartDeviceAsync/AsyncStartHandle pattern for Pend/Complete/Wait: submit
// returns a handle, completion arrives later on that handle, independent of
// the goroutine that submitted it.
//
// Handlers are registered by whatever owns the concrete component state
// (facade.Service wires core/socket, core/program, core/offload and
// core/iface entry points here); this package only knows about headers,
// bytes and completion bookkeeping, never about sockets or programs.

package cmddispatch

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/xdpfabric/afxdp/api"
)

// APIVersion is the only api_version this dispatcher accepts. A mismatch
// is rejected before any handler runs.
const APIVersion = 1

// HeaderSize is the wire size of Header: four little-endian uint32 fields.
const HeaderSize = 16

// ObjectType selects which command table a header's Major command is
// looked up in. It corresponds to the object a PROGRAM_OPEN / XSK /
// INTERFACE_OPEN open-packet created.
type ObjectType uint32

const (
	ObjectProgram ObjectType = iota
	ObjectSocket
	ObjectInterface
)

// Command is a command code scoped to one ObjectType's table. The same
// numeric value means different things under different object types.
type Command uint32

// Socket object commands.
const (
	CmdSocketBind Command = iota + 1
	CmdSocketActivate
	CmdSocketGetSockopt
	CmdSocketSetSockopt
	CmdSocketNotify
	CmdSocketNotifyAsync
)

// Interface object commands.
const (
	CmdInterfaceOffloadRSSGet Command = iota + 1
	CmdInterfaceOffloadRSSSet
	CmdInterfaceOffloadRSSGetCapabilities
	CmdInterfaceOffloadQEOSet
)

// Program object commands.
const (
	CmdProgramCreate Command = iota + 1
	CmdProgramDelete
)

// Header is the 16-byte command header carried by every control command.
// Major identifies the command within ObjectType's table; Minor is a
// command-specific sub-selector (e.g. which sockopt). Object creation
// itself (the PROGRAM_OPEN/XSK/INTERFACE_OPEN open-packet) is handled by
// the facade's typed constructors, not by this struct: once an object
// exists, every further operation on it addresses this header's
// ObjectType and Major.
type Header struct {
	Major      uint32
	Minor      uint32
	APIVersion uint32
	ObjectType ObjectType
}

// EncodeHeader serializes h into its 16-byte wire form.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Major)
	binary.LittleEndian.PutUint32(buf[4:8], h.Minor)
	binary.LittleEndian.PutUint32(buf[8:12], h.APIVersion)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.ObjectType))
	return buf
}

// DecodeHeader parses a 16-byte wire header, rejecting anything shorter.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, api.NewError(api.ErrCodeInvalidArgument, "cmddispatch: command header truncated")
	}
	return Header{
		Major:      binary.LittleEndian.Uint32(buf[0:4]),
		Minor:      binary.LittleEndian.Uint32(buf[4:8]),
		APIVersion: binary.LittleEndian.Uint32(buf[8:12]),
		ObjectType: ObjectType(binary.LittleEndian.Uint32(buf[12:16])),
	}, nil
}

// Request is what a handler sees: the header and a bounce-buffered copy
// of the caller's body, independent of whatever slice the caller passed
// to Dispatch.
type Request struct {
	Header Header
	Body   []byte
}

// Response carries either an inline result or a pending command's id.
// CommandID is only meaningful when Pending is true; the caller passes it
// to Dispatcher.Wait to block for completion.
type Response struct {
	Body      []byte
	Pending   bool
	CommandID uint64
}

// HandlerFunc is a component entry point. Returning api.ErrPending without
// having already called NewPending/registered a completion path is a
// handler bug: the dispatcher has no way to later deliver a result for a
// command it never tracked.
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

type pendingEntry struct {
	done chan struct{}
	resp *Response
	err  error
}

// Dispatcher routes headers to registered handlers and tracks commands
// that pend rather than complete inline.
type Dispatcher struct {
	mu     sync.RWMutex
	tables map[ObjectType]map[Command]HandlerFunc

	pendMu  sync.Mutex
	pending map[uint64]*pendingEntry
	nextID  uint64
}

// NewDispatcher returns a Dispatcher with no handlers registered.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		tables:  make(map[ObjectType]map[Command]HandlerFunc),
		pending: make(map[uint64]*pendingEntry),
	}
}

// Register installs fn as the entry point for (obj, cmd). A later call
// with the same (obj, cmd) replaces the previous handler.
func (d *Dispatcher) Register(obj ObjectType, cmd Command, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[obj]
	if !ok {
		t = make(map[Command]HandlerFunc)
		d.tables[obj] = t
	}
	t[cmd] = fn
}

// Dispatch bounces body into dispatcher-owned memory, looks up the
// handler for hdr's (ObjectType, Major) pair, and runs it. Errors from the
// handler pass through MapError so every caller sees the §7 taxonomy
// regardless of what the handler itself returned.
func (d *Dispatcher) Dispatch(ctx context.Context, hdr Header, body []byte) (*Response, error) {
	if hdr.APIVersion != APIVersion {
		return nil, api.NewError(api.ErrCodeNotSupported, "cmddispatch: unsupported api_version").WithContext("api_version", hdr.APIVersion)
	}

	d.mu.RLock()
	var fn HandlerFunc
	if t, ok := d.tables[hdr.ObjectType]; ok {
		fn = t[Command(hdr.Major)]
	}
	d.mu.RUnlock()
	if fn == nil {
		return nil, api.NewError(api.ErrCodeNotSupported, "cmddispatch: no handler for object/command").
			WithContext("object_type", hdr.ObjectType).WithContext("major", hdr.Major)
	}

	req := &Request{Header: hdr, Body: bounce(body)}
	resp, err := fn(ctx, req)
	if err != nil {
		return nil, MapError(err)
	}
	return resp, nil
}

// NewPending allocates a command id a handler can complete later via
// Complete, and that a caller blocks on via Wait. Handlers call this when
// they're about to return {Pending: true} rather than an inline result.
func (d *Dispatcher) NewPending() uint64 {
	id := atomic.AddUint64(&d.nextID, 1)
	d.pendMu.Lock()
	d.pending[id] = &pendingEntry{done: make(chan struct{})}
	d.pendMu.Unlock()
	return id
}

// Complete delivers a pending command's result. Completing an id that was
// never allocated, or completing it twice, is a no-op: the second call
// finds nothing left to close.
func (d *Dispatcher) Complete(id uint64, resp *Response, err error) {
	d.pendMu.Lock()
	defer d.pendMu.Unlock()
	e, ok := d.pending[id]
	if !ok {
		return
	}
	select {
	case <-e.done:
		return
	default:
	}
	e.resp, e.err = resp, MapError(err)
	close(e.done)
}

// Wait blocks until id completes or ctx is canceled, then forgets id.
func (d *Dispatcher) Wait(ctx context.Context, id uint64) (*Response, error) {
	d.pendMu.Lock()
	e, ok := d.pending[id]
	d.pendMu.Unlock()
	if !ok {
		return nil, api.NewError(api.ErrCodeNotFound, "cmddispatch: unknown command id")
	}
	select {
	case <-e.done:
		d.pendMu.Lock()
		delete(d.pending, id)
		d.pendMu.Unlock()
		return e.resp, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PendingCount reports how many pending commands have not yet been
// collected by Wait (completed ones included), for the same kind of debug
// visibility core/notify.PendingCount
// gives the async notify path.
func (d *Dispatcher) PendingCount() int {
	d.pendMu.Lock()
	defer d.pendMu.Unlock()
	return len(d.pending)
}

func bounce(body []byte) []byte {
	if body == nil {
		return nil
	}
	owned := make([]byte, len(body))
	copy(owned, body)
	return owned
}

// CopyOut copies src into dst, or fails with ErrCodeInsufficientBuffer
// carrying the required size in its context, matching §7's contract for
// output buffers the caller sized too small.
func CopyOut(dst, src []byte) (int, error) {
	if len(dst) < len(src) {
		return 0, api.NewError(api.ErrCodeInsufficientBuffer, "cmddispatch: output buffer too small").
			WithContext("required", len(src))
	}
	return copy(dst, src), nil
}

// MapError normalizes any error a handler returns into an *api.Error so
// every command response carries a §7 taxonomy code. Errors that are
// already *api.Error pass through untouched; anything else (a stray
// context.DeadlineExceeded, a bug in a handler that returned a bare
// error) is folded into ErrCodeInternal rather than leaking an
// unclassified error type across the dispatch boundary.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*api.Error); ok {
		return ae
	}
	return api.NewError(api.ErrCodeInternal, err.Error())
}
