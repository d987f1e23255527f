package message

import (
	"testing"

	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/spongos"
	"github.com/chainmesh/streams/pkg/wire"
)

func TestUnsubscriptionWrapUnwrapRoundTrip(t *testing.T) {
	subscriber, err := identity.GenerateKeyPairIdentity()
	if err != nil {
		t.Fatal(err)
	}
	announcementSpongos := spongos.New()
	announcementSpongos.Absorb([]byte("announcement root"))

	header := wire.NewHeader(wire.TypeUnsubscription, subscriber.ToIdentifier(), 0, nil)
	size, err := SizeUnsubscription(header, 0, subscriber.ToIdentifier())
	if err != nil {
		t.Fatal(err)
	}
	buf, err := WrapUnsubscription(size, header, announcementSpongos, subscriber)
	if err != nil {
		t.Fatal(err)
	}

	gotHeader, gotUnsub, err := UnwrapUnsubscription(buf, announcementSpongos)
	if err != nil {
		t.Fatal(err)
	}
	if gotHeader.Type != wire.TypeUnsubscription {
		t.Error("wrong header type")
	}
	if !gotUnsub.SubscriberID.Equal(subscriber.ToIdentifier()) {
		t.Error("subscriber identifier did not round-trip")
	}
}

func TestUnsubscriptionNotAttributedToImpostor(t *testing.T) {
	subscriber, err := identity.GenerateKeyPairIdentity()
	if err != nil {
		t.Fatal(err)
	}
	impostor, err := identity.GenerateKeyPairIdentity()
	if err != nil {
		t.Fatal(err)
	}
	announcementSpongos := spongos.New()
	announcementSpongos.Absorb([]byte("announcement root"))

	header := wire.NewHeader(wire.TypeUnsubscription, subscriber.ToIdentifier(), 0, nil)
	size, err := SizeUnsubscription(header, 0, subscriber.ToIdentifier())
	if err != nil {
		t.Fatal(err)
	}
	buf, err := WrapUnsubscription(size, header, announcementSpongos, subscriber)
	if err != nil {
		t.Fatal(err)
	}

	_, gotUnsub, err := UnwrapUnsubscription(buf, announcementSpongos)
	if err != nil {
		t.Fatal(err)
	}
	if gotUnsub.SubscriberID.Equal(impostor.ToIdentifier()) {
		t.Error("unsubscription falsely attributed to an impostor")
	}
}
