// Package message implements the per-kind wrap/unwrap protocols of §4.3:
// announcement, subscription, unsubscription, keyload, signed packet and
// tagged packet. Each file pairs a Size/Wrap function with its mirrored
// Unwrap, sharing the same ordered DDML command sequence in both directions.
package message

import (
	"github.com/chainmesh/streams/pkg/ddml"
	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/spongos"
	"github.com/chainmesh/streams/pkg/streamerr"
	"github.com/chainmesh/streams/pkg/wire"
)

// Announcement is the content of the one message every stream begins with:
// the author's identifier and key-exchange public key, signed over the
// committed sponge state.
type Announcement struct {
	AuthorID identity.Identifier
	AuthorKE []byte // X25519 public key
}

func sizeAnnouncementBody(c *ddml.SizeCtx, a *Announcement) error {
	if err := c.AbsorbSized(a.AuthorID.Bytes()); err != nil {
		return err
	}
	if err := c.AbsorbSized(a.AuthorKE); err != nil {
		return err
	}
	return nil
}

// SizeAnnouncement measures the exact wire length of an announcement message.
func SizeAnnouncement(header *wire.Header, frameNum uint32, a *Announcement) (int, error) {
	c := ddml.NewSizeCtx()
	if err := wire.SizeHeader(c, header); err != nil {
		return 0, err
	}
	if err := wire.SizePCFHeader(c, wire.FrameFinal, frameNum); err != nil {
		return 0, err
	}
	if err := sizeAnnouncementBody(c, a); err != nil {
		return 0, err
	}
	if err := c.Sign(); err != nil {
		return 0, err
	}
	return c.Size(), nil
}

// WrapAnnouncement serializes and signs a fresh announcement message,
// starting a brand-new sponge (it has no linked parent). It returns the
// wire bytes and the resulting committed spongos, which the author stores
// under this stream's AppAddr relative address.
func WrapAnnouncement(size int, header *wire.Header, frameNum uint32, a *Announcement, author *identity.Identity) ([]byte, *spongos.Spongos, error) {
	sp := spongos.New()
	c := ddml.NewWrapCtx(size, sp)
	if err := wire.WrapHeader(c, header); err != nil {
		return nil, nil, err
	}
	if err := wire.WrapPCFHeader(c, wire.FrameFinal, frameNum); err != nil {
		return nil, nil, err
	}
	if err := c.AbsorbSized(a.AuthorID.Bytes()); err != nil {
		return nil, nil, err
	}
	if err := c.AbsorbSized(a.AuthorKE); err != nil {
		return nil, nil, err
	}
	if err := c.Commit(); err != nil {
		return nil, nil, err
	}
	if err := author.Sign(c); err != nil {
		return nil, nil, err
	}
	buf, err := c.Finish(size)
	if err != nil {
		return nil, nil, err
	}
	return buf, sp, nil
}

// UnwrapAnnouncement parses an announcement message out of data, verifying
// its signature against the embedded author identifier. It returns the
// parsed header, content, and resulting spongos.
func UnwrapAnnouncement(data []byte) (*wire.Header, *Announcement, *spongos.Spongos, error) {
	sp := spongos.New()
	c := ddml.NewUnwrapCtx(data, sp)
	header, err := wire.UnwrapHeader(c)
	if err != nil {
		return nil, nil, nil, err
	}
	if header.Type != wire.TypeAnnouncement {
		return nil, nil, nil, streamerr.New(streamerr.UnknownMessageType, "not an announcement")
	}
	if _, _, err := wire.UnwrapPCFHeader(c); err != nil {
		return nil, nil, nil, err
	}
	authorBytes, err := c.AbsorbSized()
	if err != nil {
		return nil, nil, nil, err
	}
	authorID, err := identity.FromBytes(authorBytes)
	if err != nil {
		return nil, nil, nil, err
	}
	ke, err := c.AbsorbSized()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := c.Commit(); err != nil {
		return nil, nil, nil, err
	}
	if err := authorID.Verify(c); err != nil {
		return nil, nil, nil, err
	}
	return header, &Announcement{AuthorID: authorID, AuthorKE: ke}, sp, nil
}
