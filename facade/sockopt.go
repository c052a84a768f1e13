// File: facade/sockopt.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wire-level GET_SOCKOPT/SET_SOCKOPT dispatch: maps the command header's
// Minor field (a core/socket.SockOpt selector) onto the Go-level accessors
// core/socket/sockopt.go and core/socket/options.go already expose, closing
// the gap between "the library method exists" and "the command surface can
// reach it".

package facade

import (
	"encoding/binary"

	"github.com/xdpfabric/afxdp/api"
	"github.com/xdpfabric/afxdp/core/socket"
)

func encodeSockOpt(sock *socket.Socket, opt socket.SockOpt) ([]byte, error) {
	switch opt {
	case socket.OptStatistics:
		return encodeStats(sock.Stats()), nil

	case socket.OptRingInfo:
		return encodeAllRingInfo(sock), nil

	case socket.OptRxHookID:
		rx, _ := sock.HookIDs()
		return encodeUint32(rx), nil
	case socket.OptTxHookID:
		_, tx := sock.HookIDs()
		return encodeUint32(tx), nil

	case socket.OptRxError:
		return encodeRingErrorCode(sock, socket.RingRX)
	case socket.OptRxFillError:
		return encodeRingErrorCode(sock, socket.RingFill)
	case socket.OptTxError:
		return encodeRingErrorCode(sock, socket.RingTX)
	case socket.OptTxCompletionError:
		return encodeRingErrorCode(sock, socket.RingComp)

	case socket.OptOffloadUDPChecksumTx:
		v := uint32(0)
		if sock.ChecksumTxRequested() {
			v = 1
		}
		return encodeUint32(v), nil
	case socket.OptOffloadUDPChecksumTxCapabilities:
		return encodeUint32(uint32(sock.ChecksumCapabilities())), nil

	case socket.OptRxProcessorAffinity:
		aff, err := sock.ProcessorAffinity(socket.RingRX)
		if err != nil {
			return nil, err
		}
		return encodeUint32(aff), nil
	case socket.OptTxProcessorAffinity:
		aff, err := sock.ProcessorAffinity(socket.RingTX)
		if err != nil {
			return nil, err
		}
		return encodeUint32(aff), nil

	case socket.OptRxRingSize, socket.OptTxRingSize, socket.OptRxFillRingSize, socket.OptTxCompletionRingSize:
		return encodeRingSize(sock, opt)

	case socket.OptPollMode:
		return encodeUint32(uint32(sock.PollMode())), nil

	case socket.OptShareUmem:
		return nil, api.NewError(api.ErrCodeNotSupported, "facade: SHARE_UMEM is set-only, query the owner's handle instead")

	default:
		return nil, api.NewError(api.ErrCodeNotSupported, "facade: unknown sockopt selector").WithContext("opt", uint32(opt))
	}
}

// applySockOpt implements the SET_SOCKOPT half. Every option it handles
// here is only meaningful pre-bind (core/socket.Configure enforces that by
// itself), except SHARE_UMEM, which this method resolves to the target
// socket handle before delegating to socket.WithShareUmem.
func (s *Service) applySockOpt(sock *socket.Socket, opt socket.SockOpt, value []byte) error {
	switch opt {
	case socket.OptRxHookID:
		if len(value) < 4 {
			return api.NewError(api.ErrCodeInvalidArgument, "facade: RX_HOOK_ID value too short")
		}
		return sock.Configure(socket.WithRxHookID(binary.LittleEndian.Uint32(value[0:4])))
	case socket.OptTxHookID:
		if len(value) < 4 {
			return api.NewError(api.ErrCodeInvalidArgument, "facade: TX_HOOK_ID value too short")
		}
		return sock.Configure(socket.WithTxHookID(binary.LittleEndian.Uint32(value[0:4])))

	case socket.OptOffloadUDPChecksumTx:
		if len(value) < 1 {
			return api.NewError(api.ErrCodeInvalidArgument, "facade: OFFLOAD_UDP_CHECKSUM_TX value too short")
		}
		return sock.Configure(socket.WithOffloadChecksumTx(value[0] != 0))

	case socket.OptRxRingSize:
		return configureRingSize(sock, value, socket.WithRxRingSize)
	case socket.OptTxRingSize:
		return configureRingSize(sock, value, socket.WithTxRingSize)
	case socket.OptRxFillRingSize:
		return configureRingSize(sock, value, socket.WithFillRingSize)
	case socket.OptTxCompletionRingSize:
		return configureRingSize(sock, value, socket.WithCompRingSize)

	case socket.OptPollMode:
		if len(value) < 4 {
			return api.NewError(api.ErrCodeInvalidArgument, "facade: POLL_MODE value too short")
		}
		return sock.Configure(socket.WithPollMode(socket.PollMode(binary.LittleEndian.Uint32(value[0:4]))))

	case socket.OptShareUmem:
		if len(value) < 4 {
			return api.NewError(api.ErrCodeInvalidArgument, "facade: SHARE_UMEM value too short")
		}
		owner, err := s.handle(binary.LittleEndian.Uint32(value[0:4]))
		if err != nil {
			return err
		}
		return sock.Configure(socket.WithShareUmem(owner.sock))

	default:
		return api.NewError(api.ErrCodeNotSupported, "facade: unknown or read-only sockopt selector").WithContext("opt", uint32(opt))
	}
}

func configureRingSize(sock *socket.Socket, value []byte, opt func(uint32) socket.Option) error {
	if len(value) < 4 {
		return api.NewError(api.ErrCodeInvalidArgument, "facade: ring size value too short")
	}
	return sock.Configure(opt(binary.LittleEndian.Uint32(value[0:4])))
}

func encodeRingErrorCode(sock *socket.Socket, kind socket.RingKind) ([]byte, error) {
	code, err := sock.RingErrorCode(kind)
	if err != nil {
		return nil, err
	}
	return encodeUint32(uint32(code)), nil
}

func encodeRingSize(sock *socket.Socket, opt socket.SockOpt) ([]byte, error) {
	kind := ringKindFor(opt)
	info, err := sock.RingInfo(kind)
	if err != nil {
		return nil, err
	}
	return encodeUint32(info.Size), nil
}

func ringKindFor(opt socket.SockOpt) socket.RingKind {
	switch opt {
	case socket.OptRxRingSize, socket.OptRxProcessorAffinity:
		return socket.RingRX
	case socket.OptTxRingSize, socket.OptTxProcessorAffinity:
		return socket.RingTX
	case socket.OptRxFillRingSize:
		return socket.RingFill
	case socket.OptTxCompletionRingSize:
		return socket.RingComp
	default:
		return socket.RingRX
	}
}

// encodeAllRingInfo lays out RING_INFO as four fixed 24-byte records in
// RX, TX, fill, completion order; a ring the socket never allocated (its
// direction wasn't in the BindFlags passed to Bind) encodes as all zeros
// rather than failing the whole call.
func encodeAllRingInfo(sock *socket.Socket) []byte {
	kinds := []socket.RingKind{socket.RingRX, socket.RingTX, socket.RingFill, socket.RingComp}
	buf := make([]byte, 24*len(kinds))
	for i, kind := range kinds {
		info, err := sock.RingInfo(kind)
		if err != nil {
			continue
		}
		off := i * 24
		binary.LittleEndian.PutUint32(buf[off+0:off+4], info.DescriptorOffset)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], info.ProducerIdxOffset)
		binary.LittleEndian.PutUint32(buf[off+8:off+12], info.ConsumerIdxOffset)
		binary.LittleEndian.PutUint32(buf[off+12:off+16], info.FlagsOffset)
		binary.LittleEndian.PutUint32(buf[off+16:off+20], info.Size)
		binary.LittleEndian.PutUint32(buf[off+20:off+24], info.ElementStride)
	}
	return buf
}
