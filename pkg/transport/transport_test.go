package transport

import (
	"bytes"
	"context"
	"testing"

	"github.com/chainmesh/streams/pkg/address"
	"github.com/chainmesh/streams/pkg/identity"
)

func testAddress() address.Address {
	pub := identity.NewKeyPairIdentifier(make([]byte, 32))
	return address.NewAddress(address.NewAppAddr(pub, 0), pub, 1)
}

// stubTransport is a minimal Transport used only to exercise Registry.
type stubTransport struct{ name string }

func (s *stubTransport) SendMessage(context.Context, address.Address, []byte) error { return nil }
func (s *stubTransport) RecvMessage(context.Context, address.Address) ([]byte, error) {
	return nil, nil
}
func (s *stubTransport) Name() string { return s.name }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	tcp := &stubTransport{name: "tcp"}
	mem := &stubTransport{name: "memory"}
	r.Register(tcp.Name(), tcp)
	r.Register(mem.Name(), mem)

	got, ok := r.Get("tcp")
	if !ok || got != tcp {
		t.Errorf("Get(tcp) = %v, %v; want %v, true", got, ok, tcp)
	}

	if _, ok := r.Get("quic"); ok {
		t.Error("Get(quic) should not be found in an empty-of-quic registry")
	}

	names := r.List()
	if len(names) != 2 {
		t.Errorf("List() returned %d names, want 2", len(names))
	}
}

func TestErrAddressOccupiedAndUnknownProduceDistinctMessages(t *testing.T) {
	addr := testAddress()
	occupied := ErrAddressOccupied(addr)
	unknown := ErrAddressUnknown(addr)
	if occupied.Error() == unknown.Error() {
		t.Error("ErrAddressOccupied and ErrAddressUnknown produced identical messages")
	}
}

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	addr := testAddress()
	payload := []byte("a framed payload")
	encoded := EncodeFrame(addr, payload)

	gotAddr, gotPayload, err := DecodeFrame(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if gotAddr != addr {
		t.Errorf("DecodeFrame address = %v, want %v", gotAddr, addr)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Errorf("DecodeFrame payload = %q, want %q", gotPayload, payload)
	}
}

func TestEncodeDecodeFrameMultipleInSequence(t *testing.T) {
	addr1 := testAddress()
	addr2 := testAddress()
	var buf bytes.Buffer
	buf.Write(EncodeFrame(addr1, []byte("first")))
	buf.Write(EncodeFrame(addr2, []byte("second")))

	gotAddr1, gotPayload1, err := DecodeFrame(&buf)
	if err != nil {
		t.Fatalf("DecodeFrame first: %v", err)
	}
	if gotAddr1 != addr1 || string(gotPayload1) != "first" {
		t.Errorf("first frame decoded as %v %q", gotAddr1, gotPayload1)
	}

	gotAddr2, gotPayload2, err := DecodeFrame(&buf)
	if err != nil {
		t.Fatalf("DecodeFrame second: %v", err)
	}
	if gotAddr2 != addr2 || string(gotPayload2) != "second" {
		t.Errorf("second frame decoded as %v %q", gotAddr2, gotPayload2)
	}
}

func TestDecodeFrameOnEmptyReaderFails(t *testing.T) {
	if _, _, err := DecodeFrame(bytes.NewReader(nil)); err == nil {
		t.Error("expected DecodeFrame on an empty reader to fail")
	}
}
