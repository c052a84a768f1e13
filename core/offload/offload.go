// File: core/offload/offload.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package offload manages the install/apply/revert lifetime of RSS and QEO
// (queue/encryption offload) settings, serialized per interface so two
// concurrent installs on the same interface can't interleave. Grounded on
// penguintechinc-marchproxy's acceleration/offload and acceleration/numa
// manager shape: a guarded struct holding a "current" and a "previous"
// snapshot with an Apply/Revert pair.

package offload

import (
	"sync"

	"github.com/xdpfabric/afxdp/api"
)

// Kind is the closed set of offload settings this module manages.
type Kind int

const (
	KindRSS Kind = iota
	KindQEO
)

// Settings is a snapshot of one offload kind's configuration for one
// interface. Only the fields relevant to Kind are meaningful.
type Settings struct {
	Kind Kind

	RSSHashKey    []byte
	RSSIndirTable []uint32

	QEOKeys map[int][]byte // queue index -> key material
}

// Applier is the narrow hook into whatever backend (real driver ioctl,
// loopback no-op) actually applies or reverts settings. core/iface's
// Provider does not itself implement this; a facade wires a concrete
// Applier per provider so offload stays decoupled from the queue-binding
// contract.
type Applier interface {
	Apply(ifIndex int, s Settings) error
	Revert(ifIndex int, prev Settings, hadPrev bool) error
}

type perInterface struct {
	mu      sync.Mutex
	current map[Kind]Settings
	hasPrev map[Kind]bool
	prev    map[Kind]Settings
}

// Manager serializes offload installs per interface and keeps enough state
// to revert each applied kind one step. Nothing in this module reverts
// settings when a socket or handle closes; Revert is always an explicit call.
type Manager struct {
	applier Applier

	mu    sync.Mutex
	byIf  map[int]*perInterface
}

// NewManager returns a Manager that applies settings through applier.
func NewManager(applier Applier) *Manager {
	return &Manager{applier: applier, byIf: make(map[int]*perInterface)}
}

func (m *Manager) interfaceState(ifIndex int) *perInterface {
	m.mu.Lock()
	defer m.mu.Unlock()
	pi, ok := m.byIf[ifIndex]
	if !ok {
		pi = &perInterface{
			current: make(map[Kind]Settings),
			hasPrev: make(map[Kind]bool),
			prev:    make(map[Kind]Settings),
		}
		m.byIf[ifIndex] = pi
	}
	return pi
}

// Install snapshots whatever settings of s.Kind are currently applied to
// ifIndex, then applies s. The snapshot lets Revert restore exactly what
// was there before, even across repeated installs.
func (m *Manager) Install(ifIndex int, s Settings) error {
	pi := m.interfaceState(ifIndex)
	pi.mu.Lock()
	defer pi.mu.Unlock()

	if err := m.applier.Apply(ifIndex, s); err != nil {
		return err
	}
	if cur, ok := pi.current[s.Kind]; ok {
		pi.prev[s.Kind] = cur
		pi.hasPrev[s.Kind] = true
	}
	pi.current[s.Kind] = s
	return nil
}

// Revert restores whatever settings of kind preceded the most recent
// Install, or clears the setting entirely if none preceded it. Socket Close
// does not call it.
func (m *Manager) Revert(ifIndex int, kind Kind) error {
	pi := m.interfaceState(ifIndex)
	pi.mu.Lock()
	defer pi.mu.Unlock()

	if _, ok := pi.current[kind]; !ok {
		return api.NewError(api.ErrCodeNotFound, "offload: nothing installed for this kind")
	}
	prev, hadPrev := pi.prev[kind], pi.hasPrev[kind]
	if err := m.applier.Revert(ifIndex, prev, hadPrev); err != nil {
		return err
	}
	if hadPrev {
		pi.current[kind] = prev
	} else {
		delete(pi.current, kind)
	}
	delete(pi.prev, kind)
	delete(pi.hasPrev, kind)
	return nil
}

// Current returns the currently applied settings of kind for ifIndex, and
// whether anything is installed.
func (m *Manager) Current(ifIndex int, kind Kind) (Settings, bool) {
	pi := m.interfaceState(ifIndex)
	pi.mu.Lock()
	defer pi.mu.Unlock()
	s, ok := pi.current[kind]
	return s, ok
}
