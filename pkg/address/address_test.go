package address

import (
	"testing"

	"github.com/chainmesh/streams/pkg/identity"
)

func TestNewAppAddrIsDeterministic(t *testing.T) {
	author := identity.NewKeyPairIdentifier(make([]byte, 32))
	a := NewAppAddr(author, 7)
	b := NewAppAddr(author, 7)
	if a != b {
		t.Error("NewAppAddr is not deterministic for identical inputs")
	}
}

func TestNewAppAddrDiffersByStreamIndex(t *testing.T) {
	author := identity.NewKeyPairIdentifier(make([]byte, 32))
	a := NewAppAddr(author, 1)
	b := NewAppAddr(author, 2)
	if a == b {
		t.Error("different stream indices produced the same AppAddr")
	}
}

func TestNewMsgIdDiffersBySequence(t *testing.T) {
	author := identity.NewKeyPairIdentifier(make([]byte, 32))
	app := NewAppAddr(author, 0)
	m1 := NewMsgId(app, author, 1)
	m2 := NewMsgId(app, author, 2)
	if m1 == m2 {
		t.Error("different sequence numbers produced the same MsgId")
	}
}

func TestNewMsgIdDiffersByPublisher(t *testing.T) {
	author := identity.NewKeyPairIdentifier(make([]byte, 32))
	other := identity.NewKeyPairIdentifier(append(make([]byte, 31), 1))
	app := NewAppAddr(author, 0)
	m1 := NewMsgId(app, author, 0)
	m2 := NewMsgId(app, other, 0)
	if m1 == m2 {
		t.Error("different publishers produced the same MsgId")
	}
}

func TestAddressRelative(t *testing.T) {
	author := identity.NewKeyPairIdentifier(make([]byte, 32))
	addr := NewAddress(NewAppAddr(author, 0), author, 3)
	if addr.Relative() != addr.Msg {
		t.Error("Relative() did not return the Msg component")
	}
}
