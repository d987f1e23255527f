package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/chainmesh/streams/pkg/address"
	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/streamerr"
)

func testAddress() address.Address {
	author := identity.NewKeyPairIdentifier(make([]byte, 32))
	return address.NewAddress(address.NewAppAddr(author, 0), author, 1)
}

func TestSendThenRecvRoundTrip(t *testing.T) {
	tr := New()
	addr := testAddress()
	want := []byte("hello stream")

	if err := tr.SendMessage(context.Background(), addr, want); err != nil {
		t.Fatal(err)
	}
	got, err := tr.RecvMessage(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Errorf("RecvMessage = %q, want %q", got, want)
	}
}

func TestSendToOccupiedAddressFails(t *testing.T) {
	tr := New()
	addr := testAddress()
	if err := tr.SendMessage(context.Background(), addr, []byte("first")); err != nil {
		t.Fatal(err)
	}
	err := tr.SendMessage(context.Background(), addr, []byte("second"))
	if err == nil {
		t.Fatal("expected an error sending to an already-occupied address")
	}
	if !errors.Is(err, streamerr.New(streamerr.AddressConflict, "")) {
		t.Errorf("got %v, want streamerr.AddressConflict", err)
	}
}

func TestRecvUnknownAddressFails(t *testing.T) {
	tr := New()
	_, err := tr.RecvMessage(context.Background(), testAddress())
	if err == nil {
		t.Fatal("expected an error receiving from an unknown address")
	}
	if !errors.Is(err, streamerr.New(streamerr.UnknownLink, "")) {
		t.Errorf("got %v, want streamerr.UnknownLink", err)
	}
}

func TestRecvReturnsACopyNotTheStoredSlice(t *testing.T) {
	tr := New()
	addr := testAddress()
	original := []byte("do not mutate me")
	if err := tr.SendMessage(context.Background(), addr, original); err != nil {
		t.Fatal(err)
	}
	got, err := tr.RecvMessage(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	got[0] = 'X'

	again, err := tr.RecvMessage(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	if again[0] == 'X' {
		t.Error("mutating a received slice corrupted the transport's stored copy")
	}
}
