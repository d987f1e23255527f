package message

import (
	"github.com/chainmesh/streams/pkg/ddml"
	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/spongos"
	"github.com/chainmesh/streams/pkg/streamerr"
	"github.com/chainmesh/streams/pkg/wire"
)

// Unsubscription is the content of a subscriber's request to leave a
// stream: just their own identifier. Like Subscription, it is joined onto
// the stream's announcement spongos rather than any stored spongos of its
// own, since Subscription messages are never inserted into spongos_store
// (invariant 3) and so have no independently-addressable parent state for a
// later Unsubscription to link against.
type Unsubscription struct {
	SubscriberID identity.Identifier
}

// SizeUnsubscription measures the exact wire length of an unsubscription message.
func SizeUnsubscription(header *wire.Header, frameNum uint32, subscriberID identity.Identifier) (int, error) {
	c := ddml.NewSizeCtx()
	if err := wire.SizeHeader(c, header); err != nil {
		return 0, err
	}
	if err := wire.SizePCFHeader(c, wire.FrameFinal, frameNum); err != nil {
		return 0, err
	}
	if err := c.AbsorbSized(subscriberID.Bytes()); err != nil {
		return 0, err
	}
	if err := c.Sign(); err != nil {
		return 0, err
	}
	return c.Size(), nil
}

// WrapUnsubscription serializes and signs an unsubscription message, joined
// onto a clone of the stream's announcement spongos (linkedSpongos), per the
// same invariant Subscription itself follows.
func WrapUnsubscription(size int, header *wire.Header, linkedSpongos *spongos.Spongos, subscriber *identity.Identity) ([]byte, error) {
	sp := spongos.Join(linkedSpongos)
	c := ddml.NewWrapCtx(size, sp)
	if err := wire.WrapHeader(c, header); err != nil {
		return nil, err
	}
	if err := wire.WrapPCFHeader(c, wire.FrameFinal, 0); err != nil {
		return nil, err
	}
	if err := c.AbsorbSized(subscriber.ToIdentifier().Bytes()); err != nil {
		return nil, err
	}
	if err := c.Commit(); err != nil {
		return nil, err
	}
	if err := subscriber.Sign(c); err != nil {
		return nil, err
	}
	return c.Finish(size)
}

// UnwrapUnsubscription parses an unsubscription message. The caller uses the
// returned SubscriberID to remove that subscriber from cursor_store and
// exchange_keys, per §5's documented state transition.
func UnwrapUnsubscription(data []byte, linkedSpongos *spongos.Spongos) (*wire.Header, *Unsubscription, error) {
	sp := spongos.Join(linkedSpongos)
	c := ddml.NewUnwrapCtx(data, sp)
	header, err := wire.UnwrapHeader(c)
	if err != nil {
		return nil, nil, err
	}
	if header.Type != wire.TypeUnsubscription {
		return nil, nil, streamerr.New(streamerr.UnknownMessageType, "not an unsubscription")
	}
	if _, _, err := wire.UnwrapPCFHeader(c); err != nil {
		return nil, nil, err
	}
	subscriberBytes, err := c.AbsorbSized()
	if err != nil {
		return nil, nil, err
	}
	subscriberID, err := identity.FromBytes(subscriberBytes)
	if err != nil {
		return nil, nil, err
	}
	if err := c.Commit(); err != nil {
		return nil, nil, err
	}
	if err := subscriberID.Verify(c); err != nil {
		return nil, nil, err
	}
	return header, &Unsubscription{SubscriberID: subscriberID}, nil
}
