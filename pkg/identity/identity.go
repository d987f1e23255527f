// Package identity implements the Identifier/Identity/Permissioned
// abstractions of §3 and §4.4: the public identity handle a participant is
// known by, the private counterpart carrying signing and key-exchange
// secrets, and the read/write/admin tag attached to a subscriber.
//
// Key generation follows the same Ed25519 + X25519 pairing the teacher
// codebase's own identity package uses (pkg/identity/identity.go), but
// X25519 keypair generation and Diffie-Hellman now go through
// github.com/flynn/noise's DH25519 function, the exact dependency and call
// pattern the teacher's Noise IK handshake (pkg/security/noiseik) already
// uses for its own X25519 keys.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/flynn/noise"
	"golang.org/x/text/unicode/norm"
	"lukechampine.com/blake3"

	"github.com/chainmesh/streams/pkg/ddml"
	"github.com/chainmesh/streams/pkg/streamerr"
)

// Kind tags the oneof variant of an Identifier/Identity, per spec.md's Open
// Question resolution: DID-ness is an explicit tag, never inferred from the
// presence of DID-shaped bytes.
type Kind uint8

const (
	KindKeyPair Kind = iota
	KindDID
	KindPsk
)

func (k Kind) String() string {
	switch k {
	case KindKeyPair:
		return "keypair"
	case KindDID:
		return "did"
	case KindPsk:
		return "psk"
	default:
		return "unknown"
	}
}

// PskIDSize is the length in bytes of a derived pre-shared-key identifier.
const PskIDSize = 16

// Identifier is the public identity handle of a participant: a tagged union
// over an Ed25519 public key, a pre-shared-key id, or a DID method/id pair.
type Identifier struct {
	kind      Kind
	pub       ed25519.PublicKey
	pskID     []byte
	didMethod string
	didID     string
}

// NewKeyPairIdentifier wraps an Ed25519 public key as an Identifier.
func NewKeyPairIdentifier(pub ed25519.PublicKey) Identifier {
	cp := make(ed25519.PublicKey, len(pub))
	copy(cp, pub)
	return Identifier{kind: KindKeyPair, pub: cp}
}

// NewPskIdentifier wraps a pre-derived PSK id as an Identifier.
func NewPskIdentifier(pskID []byte) Identifier {
	cp := make([]byte, len(pskID))
	copy(cp, pskID)
	return Identifier{kind: KindPsk, pskID: cp}
}

// NewDIDIdentifier wraps a DID method/id pair as an Identifier, normalizing
// both to Unicode NFC so two textually-equivalent DIDs compare equal.
func NewDIDIdentifier(method, id string) Identifier {
	return Identifier{kind: KindDID, didMethod: norm.NFC.String(method), didID: norm.NFC.String(id)}
}

// DerivePskID derives the deterministic identifier for a raw PSK value, as a
// 16-byte BLAKE3 fingerprint (mirroring the teacher's content-hashing
// convention in pkg/content/cid.go, truncated to an identifier-sized id).
func DerivePskID(psk []byte) []byte {
	sum := blake3.Sum256(psk)
	return sum[:PskIDSize]
}

func (id Identifier) Kind() Kind { return id.kind }

// PublicKey returns the Ed25519 public key for a KindKeyPair identifier.
func (id Identifier) PublicKey() ed25519.PublicKey { return id.pub }

// PskID returns the PSK id bytes for a KindPsk identifier.
func (id Identifier) PskID() []byte { return id.pskID }

// DID returns the method and id for a KindDID identifier.
func (id Identifier) DID() (method, value string) { return id.didMethod, id.didID }

// Bytes returns a canonical, deterministic byte encoding: tag byte followed
// by kind-specific content. Used for map keys, ordering, and hashing.
func (id Identifier) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(id.kind))
	switch id.kind {
	case KindKeyPair:
		buf.Write(id.pub)
	case KindPsk:
		buf.Write(id.pskID)
	case KindDID:
		buf.WriteString(id.didMethod)
		buf.WriteByte(0)
		buf.WriteString(id.didID)
	}
	return buf.Bytes()
}

// String renders a short human-readable form.
func (id Identifier) String() string {
	switch id.kind {
	case KindKeyPair:
		return fmt.Sprintf("ed25519:%x", id.pub)
	case KindPsk:
		return fmt.Sprintf("psk:%x", id.pskID)
	case KindDID:
		return fmt.Sprintf("did:%s:%s", id.didMethod, id.didID)
	default:
		return "identifier:invalid"
	}
}

// MarshalBinary implements encoding.BinaryMarshaler so an Identifier can be
// used as a cbor field value directly (e.g. in pkg/user's backup snapshot).
func (id Identifier) MarshalBinary() ([]byte, error) { return id.Bytes(), nil }

// UnmarshalBinary implements encoding.BinaryUnmarshaler, mirroring MarshalBinary.
func (id *Identifier) UnmarshalBinary(b []byte) error {
	parsed, err := FromBytes(b)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// FromBytes parses the canonical encoding produced by Identifier.Bytes.
func FromBytes(b []byte) (Identifier, error) {
	if len(b) == 0 {
		return Identifier{}, streamerr.New(streamerr.BadIdentifier, "empty identifier")
	}
	kind := Kind(b[0])
	rest := b[1:]
	switch kind {
	case KindKeyPair:
		return NewKeyPairIdentifier(rest), nil
	case KindPsk:
		return NewPskIdentifier(rest), nil
	case KindDID:
		for i, c := range rest {
			if c == 0 {
				return NewDIDIdentifier(string(rest[:i]), string(rest[i+1:])), nil
			}
		}
		return Identifier{}, streamerr.New(streamerr.BadIdentifier, "malformed did identifier")
	default:
		return Identifier{}, streamerr.New(streamerr.BadOneof, "unknown identifier kind")
	}
}

// Equal reports whether two Identifiers denote the same participant handle.
func (id Identifier) Equal(other Identifier) bool {
	return bytes.Equal(id.Bytes(), other.Bytes())
}

// Less orders Identifiers deterministically by tag then content, the order
// backup/restore's canonical map serialization relies on.
func (id Identifier) Less(other Identifier) bool {
	return bytes.Compare(id.Bytes(), other.Bytes()) < 0
}

// Identity is the private-side counterpart of an Identifier: a key-pair, a
// pre-shared key, or a DID, carrying whatever secret material its kind
// needs to sign and/or key-exchange.
type Identity struct {
	kind Kind

	signPriv ed25519.PrivateKey
	signPub  ed25519.PublicKey

	kePriv noise.DHKey // X25519 keypair for Diffie-Hellman key exchange

	psk   []byte
	pskID []byte

	didMethod string
	didID     string
}

// GenerateKeyPairIdentity creates a fresh Ed25519 signing key and X25519
// key-exchange key, the latter generated through noise.DH25519 exactly as
// the teacher's handshake code generates its own ephemeral X25519 keys.
func GenerateKeyPairIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate ed25519 key: %w", err)
	}
	ke, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate x25519 key: %w", err)
	}
	return &Identity{kind: KindKeyPair, signPriv: priv, signPub: pub, kePriv: ke}, nil
}

// NewPskIdentity wraps a raw pre-shared key as an Identity. The key is held
// as exactly 32 bytes: shorter values are zero-padded and longer values are
// truncated.
func NewPskIdentity(psk []byte) *Identity {
	padded := make([]byte, 32)
	copy(padded, psk)
	return &Identity{kind: KindPsk, psk: padded, pskID: DerivePskID(padded)}
}

// NewDIDIdentity wraps a DID method/id pair. A DID identity carries no
// signing or key-exchange secret of its own: its capability set is the
// empty one, per §9's "Psk does not satisfy sign/verify" design note
// generalized to DID as well.
func NewDIDIdentity(method, id string) *Identity {
	return &Identity{kind: KindDID, didMethod: norm.NFC.String(method), didID: norm.NFC.String(id)}
}

func (id *Identity) Kind() Kind { return id.kind }

// ToIdentifier projects the public handle out of this Identity.
func (id *Identity) ToIdentifier() Identifier {
	switch id.kind {
	case KindKeyPair:
		return NewKeyPairIdentifier(id.signPub)
	case KindPsk:
		return NewPskIdentifier(id.pskID)
	case KindDID:
		return NewDIDIdentifier(id.didMethod, id.didID)
	default:
		return Identifier{}
	}
}

// KeyExchangePublic returns the X25519 public key for a KindKeyPair identity.
func (id *Identity) KeyExchangePublic() []byte { return id.kePriv.Public }

// PSK returns the raw pre-shared key material for a KindPsk identity.
func (id *Identity) PSK() []byte { return id.psk }

// KeyExchangeSecret performs an X25519 Diffie-Hellman exchange with a peer's
// public key, using the same DH25519 primitive the teacher's Noise cipher
// suite selects.
func (id *Identity) KeyExchangeSecret(peerPublic []byte) ([]byte, error) {
	if id.kind != KindKeyPair {
		return nil, streamerr.New(streamerr.BadIdentifier, "identity has no key-exchange capability")
	}
	return noise.DH25519.DH(id.kePriv.Private, peerPublic), nil
}

// Sign signs the digest derived from ctx's current sponge state. Only
// key-pair identities can sign; PSK and DID identities fail distinctly
// rather than silently degrading, per §9's capability-set design note.
func (id *Identity) Sign(ctx *ddml.WrapCtx) error {
	if id.kind != KindKeyPair {
		return streamerr.New(streamerr.BadIdentifier, "identity cannot sign: "+id.kind.String())
	}
	return ctx.Sign(id.signPriv)
}

// Verify checks the trailing signature in ctx against identifier's public
// key. Only key-pair identifiers carry a verifiable signature.
func (id Identifier) Verify(ctx *ddml.UnwrapCtx) error {
	if id.kind != KindKeyPair {
		return streamerr.New(streamerr.BadIdentifier, "identifier cannot verify: "+id.kind.String())
	}
	return ctx.Verify(id.pub)
}

// MarshalSecret exports the private key material an Identity carries, for
// pkg/backup's encrypted state snapshot. A KindKeyPair identity exports its
// Ed25519 seed plus the X25519 key-exchange pair; KindPsk exports the raw
// key; KindDID exports its method/id pair (no secret of its own).
func (id *Identity) MarshalSecret() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(id.kind))
	switch id.kind {
	case KindKeyPair:
		buf.Write(id.signPriv.Seed())
		buf.Write(id.kePriv.Private)
		buf.Write(id.kePriv.Public)
	case KindPsk:
		buf.Write(id.psk)
	case KindDID:
		buf.WriteString(id.didMethod)
		buf.WriteByte(0)
		buf.WriteString(id.didID)
	}
	return buf.Bytes(), nil
}

// UnmarshalSecret reverses MarshalSecret, reconstructing a usable Identity.
func UnmarshalSecret(b []byte) (*Identity, error) {
	if len(b) == 0 {
		return nil, streamerr.New(streamerr.BadIdentifier, "empty identity secret")
	}
	kind := Kind(b[0])
	rest := b[1:]
	switch kind {
	case KindKeyPair:
		if len(rest) != ed25519.SeedSize+32+32 {
			return nil, streamerr.New(streamerr.BadIdentifier, "malformed keypair identity secret")
		}
		seed := rest[:ed25519.SeedSize]
		kePriv := append([]byte{}, rest[ed25519.SeedSize:ed25519.SeedSize+32]...)
		kePub := append([]byte{}, rest[ed25519.SeedSize+32:]...)
		priv := ed25519.NewKeyFromSeed(seed)
		pub := priv.Public().(ed25519.PublicKey)
		return &Identity{kind: KindKeyPair, signPriv: priv, signPub: pub, kePriv: noise.DHKey{Private: kePriv, Public: kePub}}, nil
	case KindPsk:
		psk := append([]byte{}, rest...)
		return &Identity{kind: KindPsk, psk: psk, pskID: DerivePskID(psk)}, nil
	case KindDID:
		for i, c := range rest {
			if c == 0 {
				return NewDIDIdentity(string(rest[:i]), string(rest[i+1:])), nil
			}
		}
		return nil, streamerr.New(streamerr.BadIdentifier, "malformed did identity secret")
	default:
		return nil, streamerr.New(streamerr.BadOneof, "unknown identity kind")
	}
}

// MarshalBinary implements encoding.BinaryMarshaler over the private key
// material, so an *Identity can sit directly in a cbor-encoded backup.
func (id *Identity) MarshalBinary() ([]byte, error) { return id.MarshalSecret() }

// UnmarshalBinary implements encoding.BinaryUnmarshaler, mirroring MarshalBinary.
func (id *Identity) UnmarshalBinary(b []byte) error {
	parsed, err := UnmarshalSecret(b)
	if err != nil {
		return err
	}
	*id = *parsed
	return nil
}

// PermKind is the access level attached to a subscriber.
type PermKind uint8

const (
	PermRead PermKind = iota
	PermReadWrite
	PermAdmin
)

// Permissioned tags an identifier with a Read/ReadWrite/Admin capability,
// per §3's Permissioned<Id>. ReadWrite carries a validity duration.
type Permissioned[Id any] struct {
	Kind     PermKind
	Id       Id
	Duration int64 // nanoseconds; only meaningful for PermReadWrite
}

// Read tags id as read-only.
func Read[Id any](id Id) Permissioned[Id] { return Permissioned[Id]{Kind: PermRead, Id: id} }

// ReadWrite tags id as read-write for the given duration (nanoseconds).
func ReadWrite[Id any](id Id, duration int64) Permissioned[Id] {
	return Permissioned[Id]{Kind: PermReadWrite, Id: id, Duration: duration}
}

// Admin tags id as an administrator.
func Admin[Id any](id Id) Permissioned[Id] { return Permissioned[Id]{Kind: PermAdmin, Id: id} }

// Identifier returns the tagged identifier.
func (p Permissioned[Id]) Identifier() Id { return p.Id }

// IsReadOnly reports true only for Read permissions.
func (p Permissioned[Id]) IsReadOnly() bool { return p.Kind == PermRead }
