package user

import (
	"context"

	"github.com/chainmesh/streams/pkg/address"
	"github.com/chainmesh/streams/pkg/constants"
	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/message"
	"github.com/chainmesh/streams/pkg/spongos"
	"github.com/chainmesh/streams/pkg/streamerr"
	"github.com/chainmesh/streams/pkg/wire"
)

// Kind discriminates the outcome of HandleMessage.
type Kind int

const (
	KindAnnouncement Kind = iota
	KindSubscription
	KindUnsubscription
	KindKeyload
	KindSignedPacket
	KindTaggedPacket
	KindOrphan
)

func (k Kind) String() string {
	switch k {
	case KindAnnouncement:
		return "announcement"
	case KindSubscription:
		return "subscription"
	case KindUnsubscription:
		return "unsubscription"
	case KindKeyload:
		return "keyload"
	case KindSignedPacket:
		return "signed_packet"
	case KindTaggedPacket:
		return "tagged_packet"
	case KindOrphan:
		return "orphan"
	default:
		return "unknown"
	}
}

// Message is the uniform result of a successful HandleMessage call: exactly
// one of the typed fields is populated, selected by Kind. An Orphan result
// carries no content — the message's linked parent spongos wasn't found, so
// it could not be authenticated yet.
type Message struct {
	Kind      Kind
	Address   address.Address
	Publisher identity.Identifier

	Announcement   *message.Announcement
	Subscription   *message.Subscription
	Unsubscription *message.Unsubscription
	Keyload        *message.Keyload
	SignedPacket   *message.SignedPacket
	TaggedPacket   *message.TaggedPacket
}

// HandleMessage authenticates and applies a message received at addr, per
// §4.4's seven-step receive path:
//  1. Preparse the header.
//  2. Reject, with streamerr.StaleSequence, a sequence the publisher's
//     replay window has already seen or has moved past.
//  3. Bump cursor_store[publisher] ahead of the unwrap attempt (except for
//     Subscription, whose cursor is fixed at 0).
//  4. Locate the spongos this kind must be joined onto; if it cannot yet be
//     found, return an Orphan result rather than an error.
//  5. Dispatch to the kind-specific Unwrap.
//  6. On success, store a spongos under addr (except for Subscription): the
//     Announcement's unwrapped state, or for every other kind a fork of the
//     spongos it was joined onto (for a Keyload, with the distributed key
//     absorbed, and only when this user opens its own entry). The state
//     reached by unwrapping the message's own content is not stored.
//  7. Apply kind-specific side effects to local state.
func (u *User) HandleMessage(ctx context.Context, addr address.Address, raw []byte) (*Message, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	pre, err := message.Preparse(raw)
	if err != nil {
		return nil, err
	}
	publisher := pre.Publisher()

	if !u.acceptSequence(publisher, pre.Header.Sequence) {
		return nil, streamerr.New(streamerr.StaleSequence, "stale or duplicate sequence from publisher")
	}

	if pre.Header.Type != wire.TypeSubscription {
		u.setCursorLocked(publisher, pre.Header.Sequence)
	}

	switch pre.Header.Type {
	case wire.TypeAnnouncement:
		return u.handleAnnouncement(addr, raw)
	case wire.TypeSubscription:
		return u.handleSubscription(addr, raw)
	case wire.TypeUnsubscription:
		return u.handleUnsubscription(addr, raw)
	case wire.TypeKeyload:
		return u.handleKeyload(addr, raw)
	case wire.TypeSignedPacket:
		return u.handleSignedPacket(pre, addr, raw)
	case wire.TypeTaggedPacket:
		return u.handleTaggedPacket(pre, addr, raw)
	default:
		return nil, streamerr.New(streamerr.UnknownMessageType, "unrecognized message type")
	}
}

func (u *User) handleAnnouncement(addr address.Address, raw []byte) (*Message, error) {
	header, content, sp, err := message.UnwrapAnnouncement(raw)
	if err != nil {
		return nil, err
	}
	if u.streamAddress == nil {
		u.streamAddress = &addr
	}
	authorID := content.AuthorID
	u.authorIdentifier = &authorID
	u.storeSpongos(addr.Relative(), sp)
	// Track the author from InitMessageNum, where its own cursor starts after
	// the announcement, so the next sequence polled is its next message.
	u.setCursorLocked(header.Publisher, constants.InitMessageNum)
	u.setExchangeKeyLocked(content.AuthorID, content.AuthorKE)
	return &Message{Kind: KindAnnouncement, Address: addr, Publisher: header.Publisher, Announcement: content}, nil
}

func (u *User) handleSubscription(addr address.Address, raw []byte) (*Message, error) {
	self, err := u.requireIdentity()
	if err != nil {
		return nil, err
	}
	annSpongos, err := u.requireAnnouncementSpongos()
	if err != nil {
		return &Message{Kind: KindOrphan, Address: addr}, nil
	}
	header, content, err := message.UnwrapSubscription(raw, annSpongos, self)
	if err != nil {
		return nil, err
	}
	// Subscription messages are never inserted into spongos_store (invariant 3).
	u.setCursorLocked(header.Publisher, header.Sequence)
	u.setExchangeKeyLocked(content.SubscriberID, content.SubscriberKE)
	u.unsubscribeKeys[idKey(content.SubscriberID)] = content.UnsubscribeKey
	if _, already := u.subscribers[idKey(content.SubscriberID)]; !already {
		u.subscribers[idKey(content.SubscriberID)] = identity.Read[identity.Identifier](content.SubscriberID)
	}
	return &Message{Kind: KindSubscription, Address: addr, Publisher: header.Publisher, Subscription: content}, nil
}

func (u *User) handleUnsubscription(addr address.Address, raw []byte) (*Message, error) {
	annSpongos, err := u.requireAnnouncementSpongos()
	if err != nil {
		return &Message{Kind: KindOrphan, Address: addr}, nil
	}
	header, content, err := message.UnwrapUnsubscription(raw, annSpongos)
	if err != nil {
		return nil, err
	}
	u.storeSpongos(addr.Relative(), spongos.Join(annSpongos))
	u.removeSubscriberLocked(content.SubscriberID)
	return &Message{Kind: KindUnsubscription, Address: addr, Publisher: header.Publisher, Unsubscription: content}, nil
}

func (u *User) handleKeyload(addr address.Address, raw []byte) (*Message, error) {
	annSpongos, err := u.requireAnnouncementSpongos()
	if err != nil {
		return &Message{Kind: KindOrphan, Address: addr}, nil
	}
	if u.authorIdentifier == nil {
		return nil, streamerr.New(streamerr.NoStream, "stream author unknown")
	}
	header, content, err := message.UnwrapKeyload(raw, annSpongos, *u.authorIdentifier)
	if err != nil {
		return nil, err
	}
	u.setCursorLocked(header.Publisher, header.Sequence)
	for _, r := range content.Recipients {
		perm := identity.Permissioned[identity.Identifier]{Kind: r.Perm, Id: r.ID, Duration: r.Duration}
		u.subscribers[idKey(r.ID)] = perm
		if u.shouldStorePermissionCursor(perm) {
			u.setCursorLocked(r.ID, 0)
		}
	}
	// Only a recipient who can open its own sealed entry learns the
	// distributed key, and only that key forks a usable continuation
	// spongos: an onlooker who merely saw the Announcement must not be
	// able to decrypt packets linked to this keyload.
	if key, ok := u.recoverOwnKeyloadKey(content); ok {
		sp := spongos.Join(annSpongos)
		sp.Absorb(key)
		u.storeSpongos(addr.Relative(), sp)
	}
	return &Message{Kind: KindKeyload, Address: addr, Publisher: header.Publisher, Keyload: content}, nil
}

// recoverOwnKeyloadKey tries every identity this user can act as — its own
// signing identity and any pre-shared key it holds — against content's
// recipient list, returning the first distributed key it can open.
func (u *User) recoverOwnKeyloadKey(content *message.Keyload) ([]byte, bool) {
	if u.identity != nil && u.authorIdentifier != nil {
		selfID := u.identity.ToIdentifier()
		if authorKE, ok := u.exchangeKeyOf(*u.authorIdentifier); ok {
			if key, err := message.RecoverKeyloadKey(content, selfID, u.identity, authorKE, nil); err == nil {
				return key, true
			}
		}
	}
	for _, entry := range u.pskStore {
		pskID := identity.NewPskIdentifier(entry.id)
		if key, err := message.RecoverKeyloadKey(content, pskID, nil, nil, entry.psk); err == nil {
			return key, true
		}
	}
	return nil, false
}

func (u *User) handleSignedPacket(pre *message.Preparsed, addr address.Address, raw []byte) (*Message, error) {
	linked, ok := pre.LinkedAddress(addr.App)
	if !ok {
		return nil, streamerr.New(streamerr.UnknownLink, "signed packet carries no linked address")
	}
	sp, err := u.requireSpongos(linked.Msg)
	if err != nil {
		return &Message{Kind: KindOrphan, Address: addr}, nil
	}
	header, content, err := message.UnwrapSignedPacket(raw, sp, pre.Publisher())
	if err != nil {
		return nil, err
	}
	u.storeSpongos(addr.Relative(), spongos.Join(sp))
	u.setCursorLocked(header.Publisher, header.Sequence)
	return &Message{Kind: KindSignedPacket, Address: addr, Publisher: header.Publisher, SignedPacket: content}, nil
}

func (u *User) handleTaggedPacket(pre *message.Preparsed, addr address.Address, raw []byte) (*Message, error) {
	linked, ok := pre.LinkedAddress(addr.App)
	if !ok {
		return nil, streamerr.New(streamerr.UnknownLink, "tagged packet carries no linked address")
	}
	sp, err := u.requireSpongos(linked.Msg)
	if err != nil {
		return &Message{Kind: KindOrphan, Address: addr}, nil
	}
	header, content, err := message.UnwrapTaggedPacket(raw, sp)
	if err != nil {
		return nil, err
	}
	u.storeSpongos(addr.Relative(), spongos.Join(sp))
	u.setCursorLocked(header.Publisher, header.Sequence)
	return &Message{Kind: KindTaggedPacket, Address: addr, Publisher: header.Publisher, TaggedPacket: content}, nil
}
