package message

import (
	"github.com/chainmesh/streams/pkg/ddml"
	"github.com/chainmesh/streams/pkg/spongos"
	"github.com/chainmesh/streams/pkg/streamerr"
	"github.com/chainmesh/streams/pkg/wire"
)

// MACSize is the length in bytes of a tagged packet's terminating squeeze,
// mirroring the Spongos fingerprint width used elsewhere for checkpoints.
const MACSize = 32

// TaggedPacket carries a public (cleartext) payload and a masked
// (encrypted-under-the-linked-spongos) payload, authenticated by a sponge
// MAC rather than a signature, per §4.3 — the unsigned counterpart of
// SignedPacket for publishers without a signing identity of their own.
type TaggedPacket struct {
	Public []byte
	Masked []byte
}

// SizeTaggedPacket measures the exact wire length of a tagged packet.
func SizeTaggedPacket(header *wire.Header, frameNum uint32, p *TaggedPacket) (int, error) {
	c := ddml.NewSizeCtx()
	if err := wire.SizeHeader(c, header); err != nil {
		return 0, err
	}
	if err := wire.SizePCFHeader(c, wire.FrameFinal, frameNum); err != nil {
		return 0, err
	}
	if err := c.AbsorbSized(p.Public); err != nil {
		return 0, err
	}
	if err := c.MaskSized(p.Masked); err != nil {
		return 0, err
	}
	if err := c.Squeeze(MACSize); err != nil {
		return 0, err
	}
	return c.Size(), nil
}

// WrapTaggedPacket serializes a tagged packet, joined onto a clone of its
// linked parent message's spongos, terminated by a MAC squeeze instead of a
// signature.
func WrapTaggedPacket(size int, header *wire.Header, linkedSpongos *spongos.Spongos, p *TaggedPacket) ([]byte, error) {
	sp := spongos.Join(linkedSpongos)
	c := ddml.NewWrapCtx(size, sp)
	if err := wire.WrapHeader(c, header); err != nil {
		return nil, err
	}
	if err := wire.WrapPCFHeader(c, wire.FrameFinal, 0); err != nil {
		return nil, err
	}
	if err := c.AbsorbSized(p.Public); err != nil {
		return nil, err
	}
	if err := c.MaskSized(p.Masked); err != nil {
		return nil, err
	}
	if err := c.Commit(); err != nil {
		return nil, err
	}
	if _, err := c.Squeeze(MACSize); err != nil {
		return nil, err
	}
	return c.Finish(size)
}

// UnwrapTaggedPacket parses a tagged packet, joined onto linkedSpongos, and
// verifies its trailing MAC.
func UnwrapTaggedPacket(data []byte, linkedSpongos *spongos.Spongos) (*wire.Header, *TaggedPacket, error) {
	sp := spongos.Join(linkedSpongos)
	c := ddml.NewUnwrapCtx(data, sp)
	header, err := wire.UnwrapHeader(c)
	if err != nil {
		return nil, nil, err
	}
	if header.Type != wire.TypeTaggedPacket {
		return nil, nil, streamerr.New(streamerr.UnknownMessageType, "not a tagged packet")
	}
	if _, _, err := wire.UnwrapPCFHeader(c); err != nil {
		return nil, nil, err
	}
	public, err := c.AbsorbSized()
	if err != nil {
		return nil, nil, err
	}
	masked, err := c.MaskSized()
	if err != nil {
		return nil, nil, err
	}
	if err := c.Commit(); err != nil {
		return nil, nil, err
	}
	if _, err := c.Squeeze(MACSize); err != nil {
		return nil, nil, err
	}
	return header, &TaggedPacket{Public: public, Masked: masked}, nil
}
