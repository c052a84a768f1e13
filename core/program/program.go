// File: core/program/program.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package program implements the filter Program object: a closed set of
// match types and actions, validated once at creation, published and
// retired under RCU-style semantics so the inspection engine never
// observes a partially updated rule list. Grounded on
// penguintechinc-marchproxy's offload manager (atomic-pointer install under
// a push-lock) adapted from offload settings to rule lists, with a
// listener fan-out for attach/detach notification.

package program

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xdpfabric/afxdp/api"
)

// MatchType is the closed set of packet match predicates a Rule may use.
type MatchType int

const (
	// MatchAll matches every frame unconditionally.
	MatchAll MatchType = iota
	// MatchUDP matches any UDP packet regardless of port.
	MatchUDP
	// MatchUDPDst matches UDP packets addressed to Rule.Port.
	MatchUDPDst
	// MatchTCP matches any TCP packet regardless of port.
	MatchTCP
	// MatchTCPDst matches TCP packets addressed to Rule.Port.
	MatchTCPDst
	// MatchIPv4 matches on the destination IPv4 address under IPv4Mask.
	MatchIPv4
	// MatchIPv6 matches on the destination IPv6 address under IPv6Mask.
	MatchIPv6
	// MatchQUICConnID matches the destination connection ID of a QUIC long
	// header carried over UDP.
	MatchQUICConnID
	// MatchQUICFlowSrcCID matches the source connection ID of a QUIC long
	// header carried over UDP.
	MatchQUICFlowSrcCID
	// MatchPortSet matches any L4 protocol whose destination port is a
	// member of PortSet.
	MatchPortSet
	// MatchIPv4UDPTuple matches the full (src ip, dst ip) 2-tuple for IPv4
	// UDP traffic: IPv4/IPv4Mask for the destination, SrcIPv4/SrcIPv4Mask
	// for the source.
	MatchIPv4UDPTuple
	// MatchIPv6UDPTuple is MatchIPv4UDPTuple's IPv6 counterpart.
	MatchIPv6UDPTuple
	// MatchUDPPortSet matches UDP traffic whose destination port is a
	// member of PortSet, without an L3 qualifier.
	MatchUDPPortSet
	// MatchIPv4UDPPortSet qualifies MatchUDPPortSet to IPv4 frames.
	MatchIPv4UDPPortSet
	// MatchIPv6UDPPortSet qualifies MatchUDPPortSet to IPv6 frames.
	MatchIPv6UDPPortSet
	// MatchIPv4TCPPortSet matches IPv4 TCP traffic whose destination port
	// is a member of PortSet.
	MatchIPv4TCPPortSet
	// MatchIPv6TCPPortSet is MatchIPv4TCPPortSet's IPv6 counterpart.
	MatchIPv6TCPPortSet
	// MatchTCPQUICFlowSrcCID matches the source connection ID of a QUIC
	// long header carried over a TCP connection.
	MatchTCPQUICFlowSrcCID
	// MatchTCPQUICFlowDstCID is MatchTCPQUICFlowSrcCID's destination-CID
	// counterpart.
	MatchTCPQUICFlowDstCID
	// MatchTCPControlDst matches TCP control segments (SYN, FIN, or RST
	// set) addressed to Rule.Port.
	MatchTCPControlDst
)

// ActionType is the closed set of dispositions a matching Rule may apply.
type ActionType int

const (
	ActionDrop ActionType = iota
	ActionPass
	ActionRedirect
	ActionL2Forward
	ActionEBPF
)

// Rule is one ordered entry in a Program. Only the fields relevant to
// Match are interpreted; the rest are ignored, matching the closed-set
// validation model (a caller cannot smuggle extra semantics in by setting
// unrelated fields).
type Rule struct {
	Match MatchType
	Action ActionType

	IPv4       net.IP
	IPv4Mask   net.IPMask
	IPv6       net.IP
	IPv6Mask   net.IPMask
	Port       uint16
	PortSet    []uint16
	QUICConnID []byte

	// SrcIPv4/SrcIPv6 qualify the source side of a tuple match
	// (MatchIPv4UDPTuple/MatchIPv6UDPTuple); ignored by every other Match.
	// SrcPort is carried but no Match reads it.
	SrcIPv4       net.IP
	SrcIPv4Mask   net.IPMask
	SrcIPv6       net.IP
	SrcIPv6Mask   net.IPMask
	SrcPort       uint16
	SrcQUICConnID []byte

	RedirectIfIndex int
	RedirectQueue   int
}

// Program is an immutable, validated, ordered rule list. Immutability is
// what makes RCU-style publish/retire safe: once a Program passes Compile,
// nothing about it changes, so concurrent readers in core/inspect never
// need to synchronize against a writer.
type Program struct {
	rules []Rule
}

// Rules returns the program's rule list. Callers must not mutate the
// returned slice; it is shared with every reader holding this Program.
func (p *Program) Rules() []Rule { return p.rules }

const maxPortSetEntries = 1024

// EngineRegistry reports whether an eBPF execution engine is available, so
// Compile can enforce the resolved Open Question: EBPF actions are
// rejected unless one is registered.
type EngineRegistry interface {
	EBPFEngineRegistered() bool
}

// Compile validates rules and returns an immutable Program, or the first
// validation failure encountered, in rule order.
func Compile(rules []Rule, engines EngineRegistry) (*Program, error) {
	out := make([]Rule, len(rules))
	for i, r := range rules {
		if err := validateRule(r, engines); err != nil {
			return nil, api.NewError(api.ErrCodeInvalidArgument, "program: rule "+itoa(i)+": "+err.Error())
		}
		r.PortSet = append([]uint16(nil), r.PortSet...)
		r.QUICConnID = append([]byte(nil), r.QUICConnID...)
		r.SrcQUICConnID = append([]byte(nil), r.SrcQUICConnID...)
		for _, ip := range []*net.IP{&r.IPv4, &r.IPv6, &r.SrcIPv4, &r.SrcIPv6} {
			*ip = append(net.IP(nil), *ip...)
		}
		for _, m := range []*net.IPMask{&r.IPv4Mask, &r.IPv6Mask, &r.SrcIPv4Mask, &r.SrcIPv6Mask} {
			*m = append(net.IPMask(nil), *m...)
		}
		out[i] = r
	}
	return &Program{rules: out}, nil
}

func validateRule(r Rule, engines EngineRegistry) error {
	switch r.Match {
	case MatchAll, MatchUDP, MatchTCP:
		// no port, no address: matches the bare predicate.
	case MatchUDPDst, MatchTCPDst, MatchTCPControlDst:
		if r.Port == 0 {
			return api.ErrInvalidArgument
		}
	case MatchIPv4:
		if r.IPv4 == nil || r.IPv4.To4() == nil {
			return api.ErrInvalidArgument
		}
	case MatchIPv6:
		if r.IPv6 == nil || r.IPv6.To16() == nil {
			return api.ErrInvalidArgument
		}
	case MatchQUICConnID:
		if len(r.QUICConnID) == 0 || len(r.QUICConnID) > 20 {
			return api.ErrInvalidArgument
		}
	case MatchQUICFlowSrcCID:
		if len(r.SrcQUICConnID) == 0 || len(r.SrcQUICConnID) > 20 {
			return api.ErrInvalidArgument
		}
	case MatchTCPQUICFlowDstCID:
		if len(r.QUICConnID) == 0 || len(r.QUICConnID) > 20 {
			return api.ErrInvalidArgument
		}
	case MatchTCPQUICFlowSrcCID:
		if len(r.SrcQUICConnID) == 0 || len(r.SrcQUICConnID) > 20 {
			return api.ErrInvalidArgument
		}
	case MatchPortSet, MatchUDPPortSet, MatchIPv4UDPPortSet, MatchIPv6UDPPortSet,
		MatchIPv4TCPPortSet, MatchIPv6TCPPortSet:
		if len(r.PortSet) == 0 || len(r.PortSet) > maxPortSetEntries {
			return api.ErrInvalidArgument
		}
	case MatchIPv4UDPTuple:
		if r.IPv4 == nil || r.IPv4.To4() == nil || r.SrcIPv4 == nil || r.SrcIPv4.To4() == nil {
			return api.ErrInvalidArgument
		}
	case MatchIPv6UDPTuple:
		if r.IPv6 == nil || r.IPv6.To16() == nil || r.SrcIPv6 == nil || r.SrcIPv6.To16() == nil {
			return api.ErrInvalidArgument
		}
	default:
		return api.ErrInvalidArgument
	}

	switch r.Action {
	case ActionDrop, ActionPass:
	case ActionL2Forward, ActionRedirect:
		if r.RedirectIfIndex <= 0 {
			return api.ErrInvalidArgument
		}
	case ActionEBPF:
		if engines == nil || !engines.EBPFEngineRegistered() {
			return api.ErrInvalidArgument
		}
	default:
		return api.ErrInvalidArgument
	}
	return nil
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Key identifies an attach point: an interface, a hook point name
// ("ingress"/"egress"), and a queue index (or -1 for "all queues").
type Key struct {
	IfIndex int
	Hook    string
	Queue   int
}

// AttachEvent is delivered to listeners registered via Manager.OnChange.
type AttachEvent struct {
	Key       Key
	Attached  bool // true for an attach, including one that replaced a program; false for a Detach
	Program   *Program
}

// retiring holds a program pulled out of the live table, waiting out its
// grace period before any reader-visible memory it references could be
// reused by the caller.
type retiring struct {
	program *Program
	timer   *time.Timer
}

// Manager is the keyed registry of live programs. Attach-at-same-key policy
// is REPLACE (resolved Open Question #1): attaching to an occupied key
// swaps the pointer atomically and retires the old program through the
// same grace-period path as an explicit Detach.
type Manager struct {
	mu          sync.Mutex
	table       map[Key]*atomic.Pointer[Program]
	retireDelay time.Duration
	retiringSet map[*Program]*retiring

	listenersMu sync.Mutex
	listeners   []func(AttachEvent)
}

// NewManager returns a Manager that retires detached/replaced programs
// after retireDelay, giving in-flight core/inspect readers time to finish
// evaluating the old Program before it becomes eligible for GC.
func NewManager(retireDelay time.Duration) *Manager {
	if retireDelay <= 0 {
		retireDelay = 100 * time.Millisecond
	}
	return &Manager{
		table:       make(map[Key]*atomic.Pointer[Program]),
		retireDelay: retireDelay,
		retiringSet: make(map[*Program]*retiring),
	}
}

// OnChange registers a listener invoked on every attach/detach/replace.
func (m *Manager) OnChange(fn func(AttachEvent)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) fire(ev AttachEvent) {
	m.listenersMu.Lock()
	ls := append([]func(AttachEvent){}, m.listeners...)
	m.listenersMu.Unlock()
	for _, fn := range ls {
		fn(ev)
	}
}

// Attach publishes p at key, replacing whatever was there. Returns true if
// a previous program was replaced.
func (m *Manager) Attach(key Key, p *Program) bool {
	m.mu.Lock()
	slot, existed := m.table[key]
	if !existed {
		slot = &atomic.Pointer[Program]{}
		m.table[key] = slot
	}
	old := slot.Swap(p)
	m.mu.Unlock()

	if old != nil {
		m.retire(old)
	}
	m.fire(AttachEvent{Key: key, Attached: true, Program: p})
	return old != nil
}

// Lookup returns the currently published program at key, or nil.
func (m *Manager) Lookup(key Key) *Program {
	m.mu.Lock()
	slot, ok := m.table[key]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return slot.Load()
}

// Detach removes the program at key, retiring it through the grace period.
// Returns false if nothing was attached at key.
func (m *Manager) Detach(key Key) bool {
	m.mu.Lock()
	slot, ok := m.table[key]
	if ok {
		delete(m.table, key)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	old := slot.Load()
	if old != nil {
		m.retire(old)
	}
	m.fire(AttachEvent{Key: key, Attached: false, Program: old})
	return true
}

func (m *Manager) retire(p *Program) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &retiring{program: p}
	r.timer = time.AfterFunc(m.retireDelay, func() {
		m.mu.Lock()
		delete(m.retiringSet, p)
		m.mu.Unlock()
	})
	m.retiringSet[p] = r
}

// RetiringCount reports how many programs are currently in their grace
// period, used by tests and diagnostics to observe the RCU-style teardown.
func (m *Manager) RetiringCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.retiringSet)
}
