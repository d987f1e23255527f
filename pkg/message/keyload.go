package message

import (
	"github.com/chainmesh/streams/pkg/ddml"
	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/spongos"
	"github.com/chainmesh/streams/pkg/streamerr"
	"github.com/chainmesh/streams/pkg/wire"
)

var keyloadInfo = []byte("streams/keyload/v1")

// KeyloadRecipient is one entry in a keyload's recipient list: an
// identifier, the permission granted to it, and the distributed key sealed
// for that identifier alone. Key-pair recipients are sealed under an
// X25519 ECDH-derived key; PSK recipients are sealed under a key derived
// from the PSK itself, since no key exchange is possible with a symmetric
// secret. Permission travels on the wire so a receiver can reconstruct the
// same Read/ReadWrite/Admin tag the author assigned, per §3's
// Permissioned<Id>.
type KeyloadRecipient struct {
	ID       identity.Identifier
	Perm     identity.PermKind
	Duration int64 // nanoseconds; only meaningful when Perm is PermReadWrite
	Sealed   []byte
}

// Keyload is the content of a message that distributes a fresh encryption
// key to a chosen set of recipients, per §4.3.
type Keyload struct {
	Recipients []KeyloadRecipient
}

// SealKeyForRecipient seals key under the per-recipient AEAD key: ECDH for
// key-pair recipients (authorKE's secret against the recipient's known
// key-exchange public key, learned from that recipient's prior
// subscription), or the raw PSK for psk recipients. Exported so pkg/user can
// build a keyload's recipient list before calling WrapKeyload.
func SealKeyForRecipient(author *identity.Identity, recipient identity.Identifier, recipientKE []byte, psk []byte, key []byte) ([]byte, error) {
	info := append(append([]byte{}, keyloadInfo...), recipient.Bytes()...)
	switch recipient.Kind() {
	case identity.KindPsk:
		return sealForRecipient(psk, info, key)
	default:
		sharedSecret, err := author.KeyExchangeSecret(recipientKE)
		if err != nil {
			return nil, err
		}
		return sealForRecipient(sharedSecret, info, key)
	}
}

// openKeyAsRecipient reverses SealKeyForRecipient from a reader's side: self
// is the reader's own Identity (for key-pair recipients, using authorKE to
// recompute the shared secret) or nil with a non-nil psk (for psk
// recipients).
func openKeyAsRecipient(recipientID identity.Identifier, self *identity.Identity, authorKE []byte, psk []byte, sealed []byte) ([]byte, error) {
	info := append(append([]byte{}, keyloadInfo...), recipientID.Bytes()...)
	if recipientID.Kind() == identity.KindPsk {
		return openForRecipient(psk, info, sealed)
	}
	sharedSecret, err := self.KeyExchangeSecret(authorKE)
	if err != nil {
		return nil, err
	}
	return openForRecipient(sharedSecret, info, sealed)
}

func sizeKeyloadBody(c *ddml.SizeCtx, recipients []KeyloadRecipient) error {
	if err := c.AbsorbUvarint(uint64(len(recipients))); err != nil {
		return err
	}
	for _, r := range recipients {
		if err := c.AbsorbSized(r.ID.Bytes()); err != nil {
			return err
		}
		if err := c.AbsorbUvarint(uint64(r.Perm)); err != nil {
			return err
		}
		if err := c.AbsorbUvarint(uint64(r.Duration)); err != nil {
			return err
		}
		if err := c.AbsorbSized(r.Sealed); err != nil {
			return err
		}
	}
	return nil
}

// SizeKeyload measures the exact wire length of a keyload message.
func SizeKeyload(header *wire.Header, frameNum uint32, recipients []KeyloadRecipient) (int, error) {
	c := ddml.NewSizeCtx()
	if err := wire.SizeHeader(c, header); err != nil {
		return 0, err
	}
	if err := wire.SizePCFHeader(c, wire.FrameFinal, frameNum); err != nil {
		return 0, err
	}
	if err := sizeKeyloadBody(c, recipients); err != nil {
		return 0, err
	}
	if err := c.Sign(); err != nil {
		return 0, err
	}
	return c.Size(), nil
}

// WrapKeyload serializes and signs a keyload message, joined onto a clone of
// the stream's announcement spongos.
func WrapKeyload(size int, header *wire.Header, announcementSpongos *spongos.Spongos, author *identity.Identity, recipients []KeyloadRecipient) ([]byte, error) {
	sp := spongos.Join(announcementSpongos)
	c := ddml.NewWrapCtx(size, sp)
	if err := wire.WrapHeader(c, header); err != nil {
		return nil, err
	}
	if err := wire.WrapPCFHeader(c, wire.FrameFinal, 0); err != nil {
		return nil, err
	}
	if err := c.AbsorbUvarint(uint64(len(recipients))); err != nil {
		return nil, err
	}
	for _, r := range recipients {
		if err := c.AbsorbSized(r.ID.Bytes()); err != nil {
			return nil, err
		}
		if err := c.AbsorbUvarint(uint64(r.Perm)); err != nil {
			return nil, err
		}
		if err := c.AbsorbUvarint(uint64(r.Duration)); err != nil {
			return nil, err
		}
		if err := c.AbsorbSized(r.Sealed); err != nil {
			return nil, err
		}
	}
	if err := c.Commit(); err != nil {
		return nil, err
	}
	if err := author.Sign(c); err != nil {
		return nil, err
	}
	return c.Finish(size)
}

// UnwrapKeyload parses a keyload message, verifying its signature against
// authorID. It does not decrypt any recipient entry; callers recover the
// distributed key separately via RecoverKeyloadKey once they know which
// recipient entry (if any) is theirs.
func UnwrapKeyload(data []byte, announcementSpongos *spongos.Spongos, authorID identity.Identifier) (*wire.Header, *Keyload, error) {
	sp := spongos.Join(announcementSpongos)
	c := ddml.NewUnwrapCtx(data, sp)
	header, err := wire.UnwrapHeader(c)
	if err != nil {
		return nil, nil, err
	}
	if header.Type != wire.TypeKeyload {
		return nil, nil, streamerr.New(streamerr.UnknownMessageType, "not a keyload")
	}
	if _, _, err := wire.UnwrapPCFHeader(c); err != nil {
		return nil, nil, err
	}
	count, err := c.AbsorbUvarint()
	if err != nil {
		return nil, nil, err
	}
	recipients := make([]KeyloadRecipient, 0, count)
	for i := uint64(0); i < count; i++ {
		idBytes, err := c.AbsorbSized()
		if err != nil {
			return nil, nil, err
		}
		id, err := identity.FromBytes(idBytes)
		if err != nil {
			return nil, nil, err
		}
		permVal, err := c.AbsorbUvarint()
		if err != nil {
			return nil, nil, err
		}
		durationVal, err := c.AbsorbUvarint()
		if err != nil {
			return nil, nil, err
		}
		sealed, err := c.AbsorbSized()
		if err != nil {
			return nil, nil, err
		}
		recipients = append(recipients, KeyloadRecipient{
			ID:       id,
			Perm:     identity.PermKind(permVal),
			Duration: int64(durationVal),
			Sealed:   sealed,
		})
	}
	if err := c.Commit(); err != nil {
		return nil, nil, err
	}
	if err := authorID.Verify(c); err != nil {
		return nil, nil, err
	}
	return header, &Keyload{Recipients: recipients}, nil
}

// RecoverKeyloadKey finds self's entry in kl (matched by identifier) and
// recovers the distributed key, per §4.3's "receiver tries its own path"
// rule. self may be a key-pair identity (with authorKE used to recompute
// the shared secret) or nil alongside a non-nil psk for PSK-based
// recipients.
func RecoverKeyloadKey(kl *Keyload, recipientID identity.Identifier, self *identity.Identity, authorKE []byte, psk []byte) ([]byte, error) {
	for _, r := range kl.Recipients {
		if r.ID.Equal(recipientID) {
			return openKeyAsRecipient(recipientID, self, authorKE, psk, r.Sealed)
		}
	}
	return nil, streamerr.New(streamerr.NoIdentity, "not a keyload recipient")
}
