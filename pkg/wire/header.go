// Package wire implements the HDF (header) and PCF (payload-carrying frame)
// framing of §4.2. Every message kind's wire image is HDF followed by a
// PCF<Content>; this package owns the shared framing fields, and
// pkg/message owns the per-kind content and DDML command sequence.
//
// This keeps the teacher's pkg/wire package name, but not its
// Marshal/Sign/Verify methods (pkg/wire/frame.go): each structure has
// Size/Wrap/Unwrap functions over the DDML contexts, and the layout is
// DDML's bit-packed byte stream rather than the teacher's CBOR envelope:
// the 22-bit frame number and the skip/absorb distinction need raw byte
// control that a generic CBOR struct tag can't express.
package wire

import (
	"github.com/chainmesh/streams/pkg/address"
	"github.com/chainmesh/streams/pkg/ddml"
	"github.com/chainmesh/streams/pkg/identity"
)

// ProtocolVersion is the current wire format version.
const ProtocolVersion uint8 = 1

// MessageType identifies which of the six message kinds a frame carries.
type MessageType uint8

const (
	TypeAnnouncement MessageType = iota
	TypeSubscription
	TypeUnsubscription
	TypeKeyload
	TypeSignedPacket
	TypeTaggedPacket
)

func (t MessageType) String() string {
	switch t {
	case TypeAnnouncement:
		return "announcement"
	case TypeSubscription:
		return "subscription"
	case TypeUnsubscription:
		return "unsubscription"
	case TypeKeyload:
		return "keyload"
	case TypeSignedPacket:
		return "signed_packet"
	case TypeTaggedPacket:
		return "tagged_packet"
	default:
		return "unknown"
	}
}

// FrameType is the payload-carrying frame's INIT/INTER/FINAL tag (§4.2).
// All single-frame messages in this core use FrameFinal.
type FrameType uint8

const (
	FrameInit FrameType = iota
	FrameInter
	FrameFinal
)

// Header is the fixed HDF preceding every message's PCF.
type Header struct {
	Version   uint8
	Type      MessageType
	Publisher identity.Identifier
	Sequence  uint64
	Linked    *address.MsgId // optional linked-message address
}

// NewHeader builds a Header for the given kind, publisher and sequence,
// optionally linked to a parent message.
func NewHeader(kind MessageType, publisher identity.Identifier, seq uint64, linked *address.MsgId) *Header {
	return &Header{Version: ProtocolVersion, Type: kind, Publisher: publisher, Sequence: seq, Linked: linked}
}

func encodeIdentifier(id identity.Identifier) []byte { return id.Bytes() }

func decodeIdentifier(b []byte) (identity.Identifier, error) { return identity.FromBytes(b) }

// SizeHeader accounts for h's wire length.
func SizeHeader(c *ddml.SizeCtx, h *Header) error {
	if err := c.Absorb([]byte{h.Version}); err != nil {
		return err
	}
	if err := c.Absorb([]byte{byte(h.Type)}); err != nil {
		return err
	}
	if err := c.Skip([]byte{0}); err != nil { // reserved frame-type bits byte
		return err
	}
	if err := c.AbsorbSized(encodeIdentifier(h.Publisher)); err != nil {
		return err
	}
	if err := c.SkipUvarint(h.Sequence); err != nil {
		return err
	}
	hasLink := byte(0)
	if h.Linked != nil {
		hasLink = 1
	}
	if err := c.Skip([]byte{hasLink}); err != nil {
		return err
	}
	if h.Linked != nil {
		if err := c.Skip(h.Linked[:]); err != nil {
			return err
		}
	}
	return nil
}

// WrapHeader serializes h.
func WrapHeader(c *ddml.WrapCtx, h *Header) error {
	if err := c.Absorb([]byte{h.Version}); err != nil {
		return err
	}
	if err := c.Absorb([]byte{byte(h.Type)}); err != nil {
		return err
	}
	if err := c.Skip([]byte{0}); err != nil {
		return err
	}
	if err := c.AbsorbSized(encodeIdentifier(h.Publisher)); err != nil {
		return err
	}
	if err := c.SkipUvarint(h.Sequence); err != nil {
		return err
	}
	hasLink := byte(0)
	if h.Linked != nil {
		hasLink = 1
	}
	if err := c.Skip([]byte{hasLink}); err != nil {
		return err
	}
	if h.Linked != nil {
		if err := c.Skip(h.Linked[:]); err != nil {
			return err
		}
	}
	return nil
}

// UnwrapHeader parses a Header, the "preparsed" message of §4.4 step 1.
func UnwrapHeader(c *ddml.UnwrapCtx) (*Header, error) {
	var vt [1]byte
	if err := c.Absorb(vt[:]); err != nil {
		return nil, err
	}
	var kt [1]byte
	if err := c.Absorb(kt[:]); err != nil {
		return nil, err
	}
	var reserved [1]byte
	if err := c.Skip(reserved[:]); err != nil {
		return nil, err
	}
	pubBytes, err := c.AbsorbSized()
	if err != nil {
		return nil, err
	}
	publisher, err := decodeIdentifier(pubBytes)
	if err != nil {
		return nil, err
	}
	seq, err := c.SkipUvarint()
	if err != nil {
		return nil, err
	}
	var hasLink [1]byte
	if err := c.Skip(hasLink[:]); err != nil {
		return nil, err
	}
	var linked *address.MsgId
	if hasLink[0] == 1 {
		var id address.MsgId
		if err := c.Skip(id[:]); err != nil {
			return nil, err
		}
		linked = &id
	}
	return &Header{
		Version:   vt[0],
		Type:      MessageType(kt[0]),
		Publisher: publisher,
		Sequence:  seq,
		Linked:    linked,
	}, nil
}
