package wire

import (
	"bytes"
	"testing"

	"github.com/chainmesh/streams/pkg/address"
	"github.com/chainmesh/streams/pkg/ddml"
	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/spongos"
)

func TestHeaderSizeWrapUnwrapRoundTrip(t *testing.T) {
	linked := address.MsgId{1, 2, 3}
	publisher := identity.NewKeyPairIdentifier(make([]byte, 32))
	header := NewHeader(TypeSignedPacket, publisher, 42, &linked)

	size := ddml.NewSizeCtx()
	if err := SizeHeader(size, header); err != nil {
		t.Fatal(err)
	}

	wrap := ddml.NewWrapCtx(size.Size(), spongos.New())
	if err := WrapHeader(wrap, header); err != nil {
		t.Fatal(err)
	}
	buf, err := wrap.Finish(size.Size())
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	unwrap := ddml.NewUnwrapCtx(buf, spongos.New())
	got, err := UnwrapHeader(unwrap)
	if err != nil {
		t.Fatal(err)
	}

	if got.Version != header.Version || got.Type != header.Type || got.Sequence != header.Sequence {
		t.Fatalf("unwrapped header = %+v, want %+v", got, header)
	}
	if !got.Publisher.Equal(header.Publisher) {
		t.Error("publisher did not round-trip")
	}
	if got.Linked == nil || !bytes.Equal(got.Linked[:], linked[:]) {
		t.Error("linked address did not round-trip")
	}
}

func TestHeaderWithoutLink(t *testing.T) {
	publisher := identity.NewKeyPairIdentifier(make([]byte, 32))
	header := NewHeader(TypeAnnouncement, publisher, 0, nil)

	size := ddml.NewSizeCtx()
	if err := SizeHeader(size, header); err != nil {
		t.Fatal(err)
	}
	wrap := ddml.NewWrapCtx(size.Size(), spongos.New())
	if err := WrapHeader(wrap, header); err != nil {
		t.Fatal(err)
	}
	buf, err := wrap.Finish(size.Size())
	if err != nil {
		t.Fatal(err)
	}

	unwrap := ddml.NewUnwrapCtx(buf, spongos.New())
	got, err := UnwrapHeader(unwrap)
	if err != nil {
		t.Fatal(err)
	}
	if got.Linked != nil {
		t.Error("expected no linked address")
	}
}

func TestPCFFrameNumberBounds(t *testing.T) {
	if _, err := NewPCFFrameNumber(MaxFrameNumber); err != nil {
		t.Errorf("max frame number rejected: %v", err)
	}
	if _, err := NewPCFFrameNumber(MaxFrameNumber + 1); err == nil {
		t.Error("over-limit frame number accepted")
	}
}

func TestPCFHeaderRoundTrip(t *testing.T) {
	size := ddml.NewSizeCtx()
	if err := SizePCFHeader(size, FrameFinal, 12345); err != nil {
		t.Fatal(err)
	}
	wrap := ddml.NewWrapCtx(size.Size(), spongos.New())
	if err := WrapPCFHeader(wrap, FrameFinal, 12345); err != nil {
		t.Fatal(err)
	}
	buf, err := wrap.Finish(size.Size())
	if err != nil {
		t.Fatal(err)
	}
	unwrap := ddml.NewUnwrapCtx(buf, spongos.New())
	ft, n, err := UnwrapPCFHeader(unwrap)
	if err != nil {
		t.Fatal(err)
	}
	if ft != FrameFinal || n != 12345 {
		t.Errorf("got (%v, %d), want (%v, %d)", ft, n, FrameFinal, 12345)
	}
}
