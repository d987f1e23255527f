package message

import (
	"github.com/chainmesh/streams/pkg/address"
	"github.com/chainmesh/streams/pkg/ddml"
	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/spongos"
	"github.com/chainmesh/streams/pkg/streamerr"
	"github.com/chainmesh/streams/pkg/wire"
)

// Preparsed is the result of reading a message's HDF before its content is
// known to be well-formed, per §4.4 step 1: enough to pick the right parent
// spongos and dispatch to the matching kind-specific Unwrap function, but
// not yet authenticated.
type Preparsed struct {
	Header *wire.Header
	Data   []byte // the full wire image, for the kind-specific Unwrap pass
}

// Preparse reads data's HDF using a scratch spongos (the header fields are
// identical regardless of which spongos ultimately authenticates the
// message, so this pass commits to no cryptographic state). The caller uses
// Header.Type and Header.Linked to look up the correct parent spongos in
// spongos_store before calling the matching kind-specific Unwrap function
// against the same Data.
func Preparse(data []byte) (*Preparsed, error) {
	c := ddml.NewUnwrapCtx(data, spongos.New())
	header, err := wire.UnwrapHeader(c)
	if err != nil {
		return nil, err
	}
	switch header.Type {
	case wire.TypeAnnouncement, wire.TypeSubscription, wire.TypeUnsubscription,
		wire.TypeKeyload, wire.TypeSignedPacket, wire.TypeTaggedPacket:
	default:
		return nil, streamerr.New(streamerr.UnknownMessageType, "unrecognized message type")
	}
	return &Preparsed{Header: header, Data: data}, nil
}

// RequiresLink reports whether this message kind must be joined onto a
// linked parent spongos (every kind except Announcement, per §4.3).
func (p *Preparsed) RequiresLink() bool {
	return p.Header.Type != wire.TypeAnnouncement
}

// LinkedAddress returns the address of the parent message this one is
// joined to, if any.
func (p *Preparsed) LinkedAddress(app address.AppAddr) (address.Address, bool) {
	if p.Header.Linked == nil {
		return address.Address{}, false
	}
	return address.Address{App: app, Msg: *p.Header.Linked}, true
}

// Publisher is a convenience accessor for the preparsed header's claimed
// publisher, used to look up cursor_store/exchange_keys entries before the
// content is authenticated. Callers must not trust this value until the
// kind-specific Unwrap's signature or MAC check succeeds.
func (p *Preparsed) Publisher() identity.Identifier { return p.Header.Publisher }
