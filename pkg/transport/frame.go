package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/chainmesh/streams/pkg/address"
)

// EncodeFrame serializes an addressed message for connection-oriented
// transports (tcp, quic) that multiplex many addressed sends over one
// long-lived stream: AppAddr || MsgId || uvarint length || payload.
func EncodeFrame(addr address.Address, payload []byte) []byte {
	buf := make([]byte, 0, address.Size*2+binary.MaxVarintLen64+len(payload))
	buf = append(buf, addr.App[:]...)
	buf = append(buf, addr.Msg[:]...)
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(payload)))
	buf = append(buf, lenBuf[:n]...)
	buf = append(buf, payload...)
	return buf
}

// DecodeFrame reads one frame written by EncodeFrame from r.
func DecodeFrame(r io.Reader) (address.Address, []byte, error) {
	var addr address.Address
	if _, err := io.ReadFull(r, addr.App[:]); err != nil {
		return address.Address{}, nil, err
	}
	if _, err := io.ReadFull(r, addr.Msg[:]); err != nil {
		return address.Address{}, nil, err
	}
	length, err := readUvarint(r)
	if err != nil {
		return address.Address{}, nil, fmt.Errorf("transport: read frame length: %w", err)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return address.Address{}, nil, fmt.Errorf("transport: read frame payload: %w", err)
	}
	return addr, payload, nil
}

func readUvarint(r io.Reader) (uint64, error) {
	var x uint64
	var s uint
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		if b[0] < 0x80 {
			if s >= 63 && b[0] > 1 {
				return 0, fmt.Errorf("transport: uvarint overflow")
			}
			return x | uint64(b[0])<<s, nil
		}
		x |= uint64(b[0]&0x7f) << s
		s += 7
	}
}
