// File: core/socket/layout.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Descriptor extension negotiation and checksum offload capability query,
// supplemented from original_source/xdp/extensioninfo.h, framelayout.h, and
// framechecksum.h: the distilled spec names these sockopts but doesn't back
// them with a concrete type, so this rounds that out.

package socket

// ExtensionKind identifies a TX descriptor extension a socket may publish
// at activation.
type ExtensionKind int

const (
	// ExtensionFrameLayout carries per-frame segmentation metadata.
	ExtensionFrameLayout ExtensionKind = iota
	// ExtensionFrameChecksum carries checksum offload instructions.
	ExtensionFrameChecksum
)

// Layout maps extension kinds to their byte offset within a TX descriptor's
// extension area. Published once at Activate and immutable after.
type Layout struct {
	offsets map[ExtensionKind]int
}

// Offset returns the byte offset of kind within the extension area, and
// whether that extension is present at all.
func (l Layout) Offset(kind ExtensionKind) (int, bool) {
	off, ok := l.offsets[kind]
	return off, ok
}

func defaultLayout() Layout {
	return Layout{offsets: map[ExtensionKind]int{
		ExtensionFrameLayout:   0,
		ExtensionFrameChecksum: 8,
	}}
}

// ChecksumCapability is a bitmask describing what checksum offload a bound
// queue supports on transmit, richer than a bare bool per the original
// header's OFFLOAD_UDP_CHECKSUM_TX_CAPABILITIES surface.
type ChecksumCapability uint32

const (
	ChecksumNone ChecksumCapability = 0
	ChecksumTx   ChecksumCapability = 1 << 0
)

// ChecksumCapabilities returns the UDP checksum offload capability for this
// socket's bound queue.
func (s *Socket) ChecksumCapabilities() ChecksumCapability {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider == nil {
		return ChecksumNone
	}
	caps, err := s.provider.Capabilities(s.ifIndex, s.queueID)
	if err != nil || !caps.ChecksumTx {
		return ChecksumNone
	}
	return ChecksumTx
}
