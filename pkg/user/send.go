package user

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/chainmesh/streams/pkg/address"
	"github.com/chainmesh/streams/pkg/constants"
	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/message"
	"github.com/chainmesh/streams/pkg/spongos"
	"github.com/chainmesh/streams/pkg/streamerr"
	"github.com/chainmesh/streams/pkg/wire"
)

// SendResponse is returned by every send operation: the address the message
// was published at and its wire bytes, per §6's `SendResponse`.
type SendResponse struct {
	Address address.Address
	Bytes   []byte
}

// checkAddressFree implements send path step 6: confirm no existing message
// occupies addr before sending.
func (u *User) checkAddressFree(ctx context.Context, addr address.Address) error {
	if _, err := u.transport.RecvMessage(ctx, addr); err == nil {
		return streamerr.New(streamerr.AddressConflict, "address already occupied: "+addr.String())
	}
	return nil
}

// CreateStream authors a fresh Announcement at stream index idx, per §4.5.
func (u *User) CreateStream(ctx context.Context, idx uint64) (SendResponse, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	self, err := u.requireIdentity()
	if err != nil {
		return SendResponse{}, err
	}
	if u.streamAddress != nil {
		return SendResponse{}, streamerr.New(streamerr.NoStream, "user already owns a stream")
	}

	selfID := self.ToIdentifier()
	app := address.NewAppAddr(selfID, idx)
	seq := constants.AnnouncementMessageNum
	addr := address.NewAddress(app, selfID, seq)

	content := &message.Announcement{AuthorID: selfID, AuthorKE: self.KeyExchangePublic()}
	header := wire.NewHeader(wire.TypeAnnouncement, selfID, seq, nil)

	size, err := message.SizeAnnouncement(header, 0, content)
	if err != nil {
		return SendResponse{}, err
	}
	buf, sp, err := message.WrapAnnouncement(size, header, 0, content, self)
	if err != nil {
		return SendResponse{}, err
	}

	if err := u.checkAddressFree(ctx, addr); err != nil {
		return SendResponse{}, err
	}
	if err := u.transport.SendMessage(ctx, addr, buf); err != nil {
		return SendResponse{}, err
	}

	u.streamIdx = idx
	u.streamAddress = &addr
	authorID := selfID
	u.authorIdentifier = &authorID
	u.storeSpongos(addr.Relative(), sp)
	u.setCursorLocked(selfID, constants.InitMessageNum)
	u.setExchangeKeyLocked(selfID, self.KeyExchangePublic())

	return SendResponse{Address: addr, Bytes: buf}, nil
}

// Subscribe sends a Subscription message linked to the stream's
// announcement, per §4.3/§4.5.
func (u *User) Subscribe(ctx context.Context) (SendResponse, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	self, err := u.requireIdentity()
	if err != nil {
		return SendResponse{}, err
	}
	stream, err := u.requireStream()
	if err != nil {
		return SendResponse{}, err
	}
	if u.authorIdentifier == nil {
		return SendResponse{}, streamerr.New(streamerr.NoStream, "stream author unknown")
	}
	authorKE, ok := u.exchangeKeyOf(*u.authorIdentifier)
	if !ok {
		return SendResponse{}, streamerr.New(streamerr.NoIdentity, "author key-exchange key unknown")
	}
	annSpongos, err := u.requireAnnouncementSpongos()
	if err != nil {
		return SendResponse{}, err
	}

	selfID := self.ToIdentifier()
	if _, already := u.cursorStore[idKey(selfID)]; already && !selfID.Equal(*u.authorIdentifier) {
		return SendResponse{}, streamerr.New(streamerr.AlreadySubscribed, "already subscribed to this stream")
	}

	seq := constants.SubscriptionMessageNum
	addr := address.NewAddress(stream.App, selfID, seq)

	unsubscribeKey := make([]byte, constants.UnsubscribeKeySize)
	if _, err := io.ReadFull(rand.Reader, unsubscribeKey); err != nil {
		return SendResponse{}, fmt.Errorf("user: generate unsubscribe key: %w", err)
	}

	header := wire.NewHeader(wire.TypeSubscription, selfID, seq, nil)
	keLen := len(self.KeyExchangePublic())
	size, err := message.SizeSubscription(header, 0, selfID, keLen, constants.UnsubscribeKeySize)
	if err != nil {
		return SendResponse{}, err
	}
	buf, err := message.WrapSubscription(size, header, annSpongos, self, authorKE, unsubscribeKey)
	if err != nil {
		return SendResponse{}, err
	}

	if err := u.checkAddressFree(ctx, addr); err != nil {
		return SendResponse{}, err
	}
	if err := u.transport.SendMessage(ctx, addr, buf); err != nil {
		return SendResponse{}, err
	}

	// Subscription messages are never inserted into spongos_store (invariant 3).
	u.setCursorLocked(selfID, seq)
	u.setExchangeKeyLocked(selfID, self.KeyExchangePublic())
	u.unsubscribeKeys[idKey(selfID)] = unsubscribeKey

	return SendResponse{Address: addr, Bytes: buf}, nil
}

// Unsubscribe sends an Unsubscription message, joined onto the stream's
// announcement spongos like Subscription itself, per §4.3.
func (u *User) Unsubscribe(ctx context.Context) (SendResponse, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	self, err := u.requireIdentity()
	if err != nil {
		return SendResponse{}, err
	}
	stream, err := u.requireStream()
	if err != nil {
		return SendResponse{}, err
	}
	linked, err := u.requireAnnouncementSpongos()
	if err != nil {
		return SendResponse{}, err
	}

	selfID := self.ToIdentifier()
	newCursor := u.cursorOf(selfID) + 1
	addr := address.NewAddress(stream.App, selfID, newCursor)

	header := wire.NewHeader(wire.TypeUnsubscription, selfID, newCursor, nil)
	size, err := message.SizeUnsubscription(header, 0, selfID)
	if err != nil {
		return SendResponse{}, err
	}
	buf, err := message.WrapUnsubscription(size, header, linked, self)
	if err != nil {
		return SendResponse{}, err
	}

	if err := u.checkAddressFree(ctx, addr); err != nil {
		return SendResponse{}, err
	}
	if err := u.transport.SendMessage(ctx, addr, buf); err != nil {
		return SendResponse{}, err
	}

	u.storeSpongos(addr.Relative(), spongos.Join(linked))
	u.setCursorLocked(selfID, newCursor)

	return SendResponse{Address: addr, Bytes: buf}, nil
}

// SendKeyload distributes a fresh 32-byte key to subscribers and psks,
// joined onto the stream's announcement spongos, per §4.3/§4.5.
func (u *User) SendKeyload(ctx context.Context, subscribers []identity.Permissioned[identity.Identifier], psks []identity.Identifier) (SendResponse, []byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	self, err := u.requireIdentity()
	if err != nil {
		return SendResponse{}, nil, err
	}
	stream, err := u.requireStream()
	if err != nil {
		return SendResponse{}, nil, err
	}
	linked, err := u.requireAnnouncementSpongos()
	if err != nil {
		return SendResponse{}, nil, err
	}

	key := make([]byte, constants.KeyloadKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return SendResponse{}, nil, fmt.Errorf("user: generate keyload key: %w", err)
	}

	recipients := make([]message.KeyloadRecipient, 0, len(subscribers)+len(psks))
	for _, perm := range subscribers {
		id := perm.Identifier()
		ke, ok := u.exchangeKeyOf(id)
		if !ok {
			return SendResponse{}, nil, streamerr.New(streamerr.NoIdentity, "unknown exchange key for subscriber")
		}
		sealed, err := message.SealKeyForRecipient(self, id, ke, nil, key)
		if err != nil {
			return SendResponse{}, nil, err
		}
		recipients = append(recipients, message.KeyloadRecipient{ID: id, Perm: perm.Kind, Duration: perm.Duration, Sealed: sealed})
	}
	for _, pskID := range psks {
		entry, ok := u.pskStore[string(pskID.PskID())]
		if !ok {
			return SendResponse{}, nil, streamerr.New(streamerr.NoIdentity, "unknown psk")
		}
		sealed, err := message.SealKeyForRecipient(self, pskID, nil, entry.psk, key)
		if err != nil {
			return SendResponse{}, nil, err
		}
		recipients = append(recipients, message.KeyloadRecipient{ID: pskID, Perm: identity.PermRead, Sealed: sealed})
	}

	selfID := self.ToIdentifier()
	newCursor := u.cursorOf(selfID) + 1
	addr := address.NewAddress(stream.App, selfID, newCursor)

	header := wire.NewHeader(wire.TypeKeyload, selfID, newCursor, nil)
	size, err := message.SizeKeyload(header, 0, recipients)
	if err != nil {
		return SendResponse{}, nil, err
	}
	buf, err := message.WrapKeyload(size, header, linked, self, recipients)
	if err != nil {
		return SendResponse{}, nil, err
	}

	if err := u.checkAddressFree(ctx, addr); err != nil {
		return SendResponse{}, nil, err
	}
	if err := u.transport.SendMessage(ctx, addr, buf); err != nil {
		return SendResponse{}, nil, err
	}

	keyloadSpongos := spongos.Join(linked)
	keyloadSpongos.Absorb(key)
	u.storeSpongos(addr.Relative(), keyloadSpongos)
	u.setCursorLocked(selfID, newCursor)
	for _, perm := range subscribers {
		u.subscribers[idKey(perm.Identifier())] = perm
		if u.shouldStorePermissionCursor(perm) {
			u.setCursorLocked(perm.Identifier(), constants.AnnouncementMessageNum)
		}
	}

	return SendResponse{Address: addr, Bytes: buf}, key, nil
}

// SendKeyloadForAll distributes a fresh key to every tracked subscriber
// (read and read-write) and every known psk, a convenience per §6.
func (u *User) SendKeyloadForAll(ctx context.Context) (SendResponse, []byte, error) {
	return u.sendKeyloadFiltered(ctx, func(identity.Permissioned[identity.Identifier]) bool { return true })
}

// SendKeyloadForAllRW distributes a fresh key to every tracked subscriber
// that is not read-only (read-write and admin) and every known psk;
// read-only subscribers are left out.
func (u *User) SendKeyloadForAllRW(ctx context.Context) (SendResponse, []byte, error) {
	return u.sendKeyloadFiltered(ctx, func(p identity.Permissioned[identity.Identifier]) bool { return !p.IsReadOnly() })
}

func (u *User) sendKeyloadFiltered(ctx context.Context, keep func(identity.Permissioned[identity.Identifier]) bool) (SendResponse, []byte, error) {
	u.mu.Lock()
	subs := make([]identity.Permissioned[identity.Identifier], 0, len(u.subscribers))
	for _, perm := range u.subscribers {
		if keep(perm) {
			subs = append(subs, perm)
		}
	}
	psks := make([]identity.Identifier, 0, len(u.pskStore))
	for _, entry := range u.pskStore {
		psks = append(psks, identity.NewPskIdentifier(entry.id))
	}
	u.mu.Unlock()
	return u.SendKeyload(ctx, subs, psks)
}

// SendSignedPacket publishes a signed packet linked to linkTo.
func (u *User) SendSignedPacket(ctx context.Context, linkTo address.MsgId, public, masked []byte) (SendResponse, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	self, err := u.requireIdentity()
	if err != nil {
		return SendResponse{}, err
	}
	stream, err := u.requireStream()
	if err != nil {
		return SendResponse{}, err
	}
	linked, err := u.requireSpongos(linkTo)
	if err != nil {
		return SendResponse{}, err
	}

	selfID := self.ToIdentifier()
	newCursor := u.cursorOf(selfID) + 1
	addr := address.NewAddress(stream.App, selfID, newCursor)

	content := &message.SignedPacket{Public: public, Masked: masked}
	header := wire.NewHeader(wire.TypeSignedPacket, selfID, newCursor, &linkTo)
	size, err := message.SizeSignedPacket(header, 0, content)
	if err != nil {
		return SendResponse{}, err
	}
	buf, err := message.WrapSignedPacket(size, header, linked, self, content)
	if err != nil {
		return SendResponse{}, err
	}

	if err := u.checkAddressFree(ctx, addr); err != nil {
		return SendResponse{}, err
	}
	if err := u.transport.SendMessage(ctx, addr, buf); err != nil {
		return SendResponse{}, err
	}

	u.storeSpongos(addr.Relative(), spongos.Join(linked))
	u.setCursorLocked(selfID, newCursor)

	return SendResponse{Address: addr, Bytes: buf}, nil
}

// SendTaggedPacket publishes a tagged (unsigned) packet linked to linkTo.
func (u *User) SendTaggedPacket(ctx context.Context, linkTo address.MsgId, public, masked []byte) (SendResponse, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	self, err := u.requireIdentity()
	if err != nil {
		return SendResponse{}, err
	}
	stream, err := u.requireStream()
	if err != nil {
		return SendResponse{}, err
	}
	linked, err := u.requireSpongos(linkTo)
	if err != nil {
		return SendResponse{}, err
	}

	selfID := self.ToIdentifier()
	newCursor := u.cursorOf(selfID) + 1
	addr := address.NewAddress(stream.App, selfID, newCursor)

	content := &message.TaggedPacket{Public: public, Masked: masked}
	header := wire.NewHeader(wire.TypeTaggedPacket, selfID, newCursor, &linkTo)
	size, err := message.SizeTaggedPacket(header, 0, content)
	if err != nil {
		return SendResponse{}, err
	}
	buf, err := message.WrapTaggedPacket(size, header, linked, content)
	if err != nil {
		return SendResponse{}, err
	}

	if err := u.checkAddressFree(ctx, addr); err != nil {
		return SendResponse{}, err
	}
	if err := u.transport.SendMessage(ctx, addr, buf); err != nil {
		return SendResponse{}, err
	}

	u.storeSpongos(addr.Relative(), spongos.Join(linked))
	u.setCursorLocked(selfID, newCursor)

	return SendResponse{Address: addr, Bytes: buf}, nil
}
