package message

import (
	"github.com/chainmesh/streams/pkg/ddml"
	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/spongos"
	"github.com/chainmesh/streams/pkg/streamerr"
	"github.com/chainmesh/streams/pkg/wire"
)

var subscriptionInfo = []byte("streams/subscription/v1")

// Subscription is the content of a subscriber's request to join a stream:
// the subscriber's identifier, their X25519 key-exchange public key, and a
// fresh unsubscribe key only the author can recover.
type Subscription struct {
	SubscriberID   identity.Identifier
	SubscriberKE   []byte // X25519 public key, plaintext
	UnsubscribeKey []byte // 32 bytes, recovered by the author via ECDH
}

// SizeSubscription measures the exact wire length of a subscription message.
func SizeSubscription(header *wire.Header, frameNum uint32, subscriberID identity.Identifier, keLen, unsubscribeKeyLen int) (int, error) {
	c := ddml.NewSizeCtx()
	if err := wire.SizeHeader(c, header); err != nil {
		return 0, err
	}
	if err := wire.SizePCFHeader(c, wire.FrameFinal, frameNum); err != nil {
		return 0, err
	}
	if err := c.AbsorbSized(make([]byte, keLen)); err != nil {
		return 0, err
	}
	if err := c.AbsorbSized(make([]byte, sealedSize(unsubscribeKeyLen))); err != nil {
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

// WrapSubscription serializes and signs a subscription message. The message
// is joined onto a clone of the stream's announcement spongos, per §4.3; the
// resulting spongos is intentionally discarded by the caller (subscription
// messages are never inserted into spongos_store, invariant 3).
func WrapSubscription(size int, header *wire.Header, announcementSpongos *spongos.Spongos, subscriber *identity.Identity, authorKE []byte, unsubscribeKey []byte) ([]byte, error) {
	sharedSecret, err := subscriber.KeyExchangeSecret(authorKE)
	if err != nil {
		return nil, err
	}
	sealed, err := sealForRecipient(sharedSecret, subscriptionInfo, unsubscribeKey)
	if err != nil {
		return nil, err
	}

	sp := spongos.Join(announcementSpongos)
	c := ddml.NewWrapCtx(size, sp)
	if err := wire.WrapHeader(c, header); err != nil {
		return nil, err
	}
	if err := wire.WrapPCFHeader(c, wire.FrameFinal, 0); err != nil {
		return nil, err
	}
	if err := c.AbsorbSized(subscriber.KeyExchangePublic()); err != nil {
		return nil, err
	}
	if err := c.AbsorbSized(sealed); err != nil {
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

// UnwrapSubscription parses a subscription message, using author's
// key-exchange secret and the embedded subscriber key-exchange public key to
// recover the sealed unsubscribe key.
func UnwrapSubscription(data []byte, announcementSpongos *spongos.Spongos, author *identity.Identity) (*wire.Header, *Subscription, error) {
	sp := spongos.Join(announcementSpongos)
	c := ddml.NewUnwrapCtx(data, sp)
	header, err := wire.UnwrapHeader(c)
	if err != nil {
		return nil, nil, err
	}
	if header.Type != wire.TypeSubscription {
		return nil, nil, streamerr.New(streamerr.UnknownMessageType, "not a subscription")
	}
	if _, _, err := wire.UnwrapPCFHeader(c); err != nil {
		return nil, nil, err
	}
	subscriberKE, err := c.AbsorbSized()
	if err != nil {
		return nil, nil, err
	}
	sealed, err := c.AbsorbSized()
	if err != nil {
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

	sharedSecret, err := author.KeyExchangeSecret(subscriberKE)
	if err != nil {
		return nil, nil, err
	}
	unsubscribeKey, err := openForRecipient(sharedSecret, subscriptionInfo, sealed)
	if err != nil {
		return nil, nil, streamerr.New(streamerr.BadSignature, "cannot recover unsubscribe key: "+err.Error())
	}

	return header, &Subscription{SubscriberID: subscriberID, SubscriberKE: subscriberKE, UnsubscribeKey: unsubscribeKey}, nil
}
