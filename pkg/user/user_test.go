package user

import (
	"bytes"
	"context"
	"testing"

	"github.com/chainmesh/streams/pkg/address"
	"github.com/chainmesh/streams/pkg/constants"
	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/message"
	"github.com/chainmesh/streams/pkg/streamerr"
	"github.com/chainmesh/streams/pkg/transport/memory"
)

func newTestUser(t *testing.T, tr *memory.Transport, psk []byte) *User {
	t.Helper()
	id, err := identity.GenerateKeyPairIdentity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	opts := []Option{WithIdentity(id), WithTransport(tr)}
	if psk != nil {
		opts = append(opts, WithPSK(psk))
	}
	return New(opts...)
}

func TestCreateStreamThenSubscribeAndSync(t *testing.T) {
	ctx := context.Background()
	tr := memory.New()
	author := newTestUser(t, tr, nil)
	subscriber := newTestUser(t, tr, nil)

	if _, err := author.CreateStream(ctx, 0); err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	authorAddr, _ := author.StreamAddress()

	// the subscriber has no stream or cursor yet to discover the
	// announcement through FetchNextMessages, so it must learn the stream
	// address out of band, mirroring how a real client receives an
	// invitation link.
	raw, err := tr.RecvMessage(ctx, authorAddr)
	if err != nil {
		t.Fatalf("recv announcement: %v", err)
	}
	if _, err := subscriber.HandleMessage(ctx, authorAddr, raw); err != nil {
		t.Fatalf("subscriber handle announcement: %v", err)
	}

	if _, err := subscriber.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	n, err := author.Sync(ctx)
	if err != nil {
		t.Fatalf("author sync: %v", err)
	}
	if n != 1 {
		t.Fatalf("author synced %d messages, want 1 (the subscription)", n)
	}

	subID, err := subscriber.Identifier()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, p := range author.Subscribers() {
		if p.Identifier().Equal(subID) {
			found = true
		}
	}
	if !found {
		t.Error("author did not record the subscriber after sync")
	}
}

func TestKeyloadGrantsReadWriteAndSubscriberCanPublish(t *testing.T) {
	ctx := context.Background()
	tr := memory.New()
	author := newTestUser(t, tr, nil)
	subscriber := newTestUser(t, tr, nil)

	if _, err := author.CreateStream(ctx, 0); err != nil {
		t.Fatal(err)
	}
	authorAddr, _ := author.StreamAddress()
	raw, err := tr.RecvMessage(ctx, authorAddr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := subscriber.HandleMessage(ctx, authorAddr, raw); err != nil {
		t.Fatal(err)
	}
	if _, err := subscriber.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := author.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	if _, _, err := author.SendKeyloadForAllRW(ctx); err != nil {
		t.Fatalf("SendKeyloadForAllRW with a read-only subscriber should still succeed with zero recipients: %v", err)
	}

	subID, err := subscriber.Identifier()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := author.SendKeyload(ctx, []identity.Permissioned[identity.Identifier]{
		identity.ReadWrite[identity.Identifier](subID, 3600),
	}, nil); err != nil {
		t.Fatalf("SendKeyload: %v", err)
	}

	if _, err := subscriber.Sync(ctx); err != nil {
		t.Fatalf("subscriber sync: %v", err)
	}

	promoted := false
	for _, p := range subscriber.Subscribers() {
		if p.Identifier().Equal(subID) && !p.IsReadOnly() {
			promoted = true
		}
	}
	if !promoted {
		t.Error("subscriber's own permission was not promoted to ReadWrite after the keyload")
	}

	annMsgID := authorAddr.Relative()
	resp, err := subscriber.SendSignedPacket(ctx, annMsgID, []byte("hello"), []byte("secret"))
	if err != nil {
		t.Fatalf("SendSignedPacket: %v", err)
	}

	n, err := author.Sync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Fatal("author did not pick up the subscriber's signed packet")
	}
	gotRaw, err := tr.RecvMessage(ctx, resp.Address)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(gotRaw, resp.Bytes) {
		t.Error("stored message bytes do not match what was sent")
	}
}

func TestHandleMessageRejectsStaleSequence(t *testing.T) {
	ctx := context.Background()
	tr := memory.New()
	author := newTestUser(t, tr, nil)
	reader := newTestUser(t, tr, nil)

	if _, err := author.CreateStream(ctx, 0); err != nil {
		t.Fatal(err)
	}
	authorAddr, _ := author.StreamAddress()
	raw, err := tr.RecvMessage(ctx, authorAddr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reader.HandleMessage(ctx, authorAddr, raw); err != nil {
		t.Fatal(err)
	}

	_, err = reader.HandleMessage(ctx, authorAddr, raw)
	if err == nil {
		t.Fatal("expected replaying the same announcement to be rejected as stale")
	}
	if e, ok := err.(*streamerr.Error); !ok || e.Code != streamerr.StaleSequence {
		t.Errorf("got %v, want streamerr.StaleSequence", err)
	}
}

func TestHandleMessageReturnsOrphanForUnknownLink(t *testing.T) {
	ctx := context.Background()
	tr := memory.New()
	author := newTestUser(t, tr, nil)
	outsider := newTestUser(t, tr, nil)

	if _, err := author.CreateStream(ctx, 0); err != nil {
		t.Fatal(err)
	}
	annMsgID := func() address.MsgId {
		addr, _ := author.StreamAddress()
		return addr.Relative()
	}()
	resp, err := author.SendTaggedPacket(ctx, annMsgID, []byte("pub"), []byte("masked"))
	if err != nil {
		t.Fatal(err)
	}

	// outsider never saw the announcement, so it has no spongos to join the
	// tagged packet onto.
	msg, err := outsider.HandleMessage(ctx, resp.Address, resp.Bytes)
	if err != nil {
		t.Fatalf("orphaned message should not error: %v", err)
	}
	if msg.Kind != KindOrphan {
		t.Errorf("Kind = %v, want KindOrphan", msg.Kind)
	}
}

func TestUnsubscribeRemovesSubscriber(t *testing.T) {
	ctx := context.Background()
	tr := memory.New()
	author := newTestUser(t, tr, nil)
	subscriber := newTestUser(t, tr, nil)

	if _, err := author.CreateStream(ctx, 0); err != nil {
		t.Fatal(err)
	}
	authorAddr, _ := author.StreamAddress()
	raw, err := tr.RecvMessage(ctx, authorAddr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := subscriber.HandleMessage(ctx, authorAddr, raw); err != nil {
		t.Fatal(err)
	}
	if _, err := subscriber.Subscribe(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := author.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := subscriber.Unsubscribe(ctx); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if _, err := author.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	subID, err := subscriber.Identifier()
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range author.Subscribers() {
		if p.Identifier().Equal(subID) {
			t.Error("author still tracks a subscriber that unsubscribed")
		}
	}
}

func TestPSKRecipientCanRecoverKeyloadKey(t *testing.T) {
	ctx := context.Background()
	tr := memory.New()
	psk := []byte("a pre-shared secret for testing")
	author := newTestUser(t, tr, nil)
	reader := newTestUser(t, tr, psk)

	if _, err := author.CreateStream(ctx, 0); err != nil {
		t.Fatal(err)
	}
	pskIdentifier := author.AddPSK(psk)
	authorID, err := author.Identifier()
	if err != nil {
		t.Fatal(err)
	}

	keyloadResp, _, err := author.SendKeyload(ctx, nil, []identity.Identifier{pskIdentifier})
	if err != nil {
		t.Fatalf("SendKeyload: %v", err)
	}

	authorAddr, _ := author.StreamAddress()
	annRaw, err := tr.RecvMessage(ctx, authorAddr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reader.HandleMessage(ctx, authorAddr, annRaw); err != nil {
		t.Fatal(err)
	}

	keyloadRaw, err := tr.RecvMessage(ctx, keyloadResp.Address)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := reader.HandleMessage(ctx, keyloadResp.Address, keyloadRaw)
	if err != nil {
		t.Fatalf("reader handle keyload: %v", err)
	}
	if msg.Kind != KindKeyload {
		t.Fatalf("Kind = %v, want KindKeyload", msg.Kind)
	}
	if !msg.Publisher.Equal(authorID) {
		t.Error("keyload publisher did not match the author")
	}

	recovered, err := message.RecoverKeyloadKey(msg.Keyload, pskIdentifier, nil, nil, psk)
	if err != nil {
		t.Fatalf("RecoverKeyloadKey: %v", err)
	}
	if len(recovered) != constants.KeyloadKeySize {
		t.Errorf("recovered key length = %d, want %d", len(recovered), constants.KeyloadKeySize)
	}
}

// TestNonRecipientCannotDecryptPacketLinkedToKeyload exercises the property
// that a stream member who has seen the Announcement and the Keyload, but
// is not one of the Keyload's recipients, still cannot decrypt a packet
// linked to that keyload.
func TestNonRecipientCannotDecryptPacketLinkedToKeyload(t *testing.T) {
	ctx := context.Background()
	tr := memory.New()
	author := newTestUser(t, tr, nil)
	admitted := newTestUser(t, tr, nil)
	excluded := newTestUser(t, tr, nil)

	if _, err := author.CreateStream(ctx, 0); err != nil {
		t.Fatal(err)
	}
	authorAddr, _ := author.StreamAddress()
	annRaw, err := tr.RecvMessage(ctx, authorAddr)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admitted.HandleMessage(ctx, authorAddr, annRaw); err != nil {
		t.Fatal(err)
	}
	if _, err := excluded.HandleMessage(ctx, authorAddr, annRaw); err != nil {
		t.Fatal(err)
	}

	admittedSub, err := admitted.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := author.HandleMessage(ctx, admittedSub.Address, admittedSub.Bytes); err != nil {
		t.Fatal(err)
	}
	excludedSub, err := excluded.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := author.HandleMessage(ctx, excludedSub.Address, excludedSub.Bytes); err != nil {
		t.Fatal(err)
	}

	admittedID, err := admitted.Identifier()
	if err != nil {
		t.Fatal(err)
	}
	keyloadResp, _, err := author.SendKeyload(ctx, []identity.Permissioned[identity.Identifier]{
		identity.ReadWrite[identity.Identifier](admittedID, 3600),
	}, nil)
	if err != nil {
		t.Fatalf("SendKeyload: %v", err)
	}
	keyloadRaw, err := tr.RecvMessage(ctx, keyloadResp.Address)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admitted.HandleMessage(ctx, keyloadResp.Address, keyloadRaw); err != nil {
		t.Fatal(err)
	}
	if _, err := excluded.HandleMessage(ctx, keyloadResp.Address, keyloadRaw); err != nil {
		t.Fatal(err)
	}

	secret := []byte("only the admitted recipient should read this")
	packet, err := author.SendTaggedPacket(ctx, keyloadResp.Address.Relative(), []byte("public"), secret)
	if err != nil {
		t.Fatalf("SendTaggedPacket: %v", err)
	}

	admittedMsg, err := admitted.HandleMessage(ctx, packet.Address, packet.Bytes)
	if err != nil {
		t.Fatalf("admitted recipient should be able to decrypt the tagged packet: %v", err)
	}
	if admittedMsg.Kind != KindTaggedPacket {
		t.Fatalf("admitted recipient: Kind = %v, want KindTaggedPacket", admittedMsg.Kind)
	}
	if !bytes.Equal(admittedMsg.TaggedPacket.Masked, secret) {
		t.Error("admitted recipient recovered the wrong masked payload")
	}

	excludedMsg, err := excluded.HandleMessage(ctx, packet.Address, packet.Bytes)
	if err != nil {
		t.Fatalf("a non-recipient should not error, just fail to continue: %v", err)
	}
	if excludedMsg.Kind != KindOrphan {
		t.Errorf("excluded subscriber: Kind = %v, want KindOrphan (it never learned the keyload key)", excludedMsg.Kind)
	}
}

// TestAuthorCursorSeedsAtInitMessageNum pins the literal post-announcement
// cursor value: the author's own cursor starts at InitMessageNum (1),
// decoupled from the announcement's own header sequence
// (AnnouncementMessageNum, 0), so its first self-authored message after the
// announcement lands at sequence 2.
func TestAuthorCursorSeedsAtInitMessageNum(t *testing.T) {
	ctx := context.Background()
	tr := memory.New()
	author := newTestUser(t, tr, nil)

	ann, err := author.CreateStream(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	authorID, err := author.Identifier()
	if err != nil {
		t.Fatal(err)
	}
	if got := author.cursorOf(authorID); got != constants.InitMessageNum {
		t.Fatalf("cursorOf(self) after CreateStream = %d, want %d", got, constants.InitMessageNum)
	}
	wantAnnAddr := address.NewAddress(ann.Address.App, authorID, constants.AnnouncementMessageNum)
	if ann.Address != wantAnnAddr {
		t.Fatalf("announcement address was not built from sequence %d", constants.AnnouncementMessageNum)
	}

	keyloadResp, _, err := author.SendKeyload(ctx, nil, nil)
	if err != nil {
		t.Fatalf("SendKeyload: %v", err)
	}
	wantKeyloadAddr := address.NewAddress(ann.Address.App, authorID, 2)
	if keyloadResp.Address != wantKeyloadAddr {
		t.Fatalf("first self-authored message after the announcement was not built from sequence 2")
	}
	if got := author.cursorOf(authorID); got != 2 {
		t.Fatalf("cursorOf(self) after the first post-announcement send = %d, want 2", got)
	}
}
