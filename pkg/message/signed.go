package message

import (
	"github.com/chainmesh/streams/pkg/ddml"
	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/spongos"
	"github.com/chainmesh/streams/pkg/streamerr"
	"github.com/chainmesh/streams/pkg/wire"
)

// SignedPacket carries a public (cleartext) payload and a masked
// (encrypted-under-the-linked-spongos) payload, authenticated by the
// publisher's signature, per §4.3.
type SignedPacket struct {
	Public []byte
	Masked []byte
}

// SizeSignedPacket measures the exact wire length of a signed packet.
func SizeSignedPacket(header *wire.Header, frameNum uint32, p *SignedPacket) (int, error) {
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
	if err := c.Sign(); err != nil {
		return 0, err
	}
	return c.Size(), nil
}

// WrapSignedPacket serializes and signs a signed packet, joined onto a
// clone of its linked parent message's spongos.
func WrapSignedPacket(size int, header *wire.Header, linkedSpongos *spongos.Spongos, publisher *identity.Identity, p *SignedPacket) ([]byte, error) {
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
	if err := publisher.Sign(c); err != nil {
		return nil, err
	}
	return c.Finish(size)
}

// UnwrapSignedPacket parses a signed packet, joined onto linkedSpongos, and
// verifies its signature against publisherID.
func UnwrapSignedPacket(data []byte, linkedSpongos *spongos.Spongos, publisherID identity.Identifier) (*wire.Header, *SignedPacket, error) {
	sp := spongos.Join(linkedSpongos)
	c := ddml.NewUnwrapCtx(data, sp)
	header, err := wire.UnwrapHeader(c)
	if err != nil {
		return nil, nil, err
	}
	if header.Type != wire.TypeSignedPacket {
		return nil, nil, streamerr.New(streamerr.UnknownMessageType, "not a signed packet")
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
	if err := publisherID.Verify(c); err != nil {
		return nil, nil, err
	}
	return header, &SignedPacket{Public: public, Masked: masked}, nil
}
