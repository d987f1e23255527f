// Package backup implements encrypted save/restore of a User's state, per
// §4.6: a password-derived key is absorbed as external keying material into
// a fresh sponge, the canonical-CBOR-encoded state is masked under that
// sponge's keystream, and the whole thing is terminated by a committed MAC
// squeeze — so a wrong password decrypts to garbage and fails the trailing
// MAC check rather than silently restoring a corrupted user.
package backup

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/chainmesh/streams/pkg/codec/cborcanon"
	"github.com/chainmesh/streams/pkg/ddml"
	"github.com/chainmesh/streams/pkg/spongos"
	"github.com/chainmesh/streams/pkg/transport"
	"github.com/chainmesh/streams/pkg/user"
)

const (
	keySize = 32
	macSize = 32
)

var backupInfo = []byte("streams/backup/v1")

// deriveKey stretches password into a fixed-size sponge seed via
// HKDF-SHA256, the same derivation shape pkg/message/seal.go uses for
// per-recipient AEAD keys, generalized from a shared secret to a password.
func deriveKey(password []byte) ([]byte, error) {
	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, password, nil, backupInfo)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("backup: derive key: %w", err)
	}
	return key, nil
}

// Backup encrypts u's current state under password.
func Backup(u *user.User, password []byte) ([]byte, error) {
	snapshot, err := u.Snapshot()
	if err != nil {
		return nil, err
	}
	plain, err := cborcanon.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("backup: encode state: %w", err)
	}
	key, err := deriveKey(password)
	if err != nil {
		return nil, err
	}

	sp := spongos.New()
	sp.Absorb(key) // external key: mixed into the state, never emitted

	size := ddml.NewSizeCtx()
	if err := size.MaskSized(plain); err != nil {
		return nil, err
	}
	if err := size.Squeeze(macSize); err != nil {
		return nil, err
	}

	wrap := ddml.NewWrapCtx(size.Size(), sp)
	if err := wrap.MaskSized(plain); err != nil {
		return nil, err
	}
	if err := wrap.Commit(); err != nil {
		return nil, err
	}
	if _, err := wrap.Squeeze(macSize); err != nil {
		return nil, err
	}
	return wrap.Finish(size.Size())
}

// Restore decrypts data under password and rebuilds a User bound to t. A
// wrong password is reported as an authentication failure rather than
// returned as a (corrupted) User.
func Restore(data []byte, password []byte, t transport.Transport) (*user.User, error) {
	key, err := deriveKey(password)
	if err != nil {
		return nil, err
	}

	sp := spongos.New()
	sp.Absorb(key)

	unwrap := ddml.NewUnwrapCtx(data, sp)
	plain, err := unwrap.MaskSized()
	if err != nil {
		return nil, fmt.Errorf("backup: truncated or corrupt data: %w", err)
	}
	if err := unwrap.Commit(); err != nil {
		return nil, err
	}
	if _, err := unwrap.Squeeze(macSize); err != nil {
		return nil, fmt.Errorf("backup: wrong password or corrupted backup: %w", err)
	}

	var snapshot user.State
	if err := cborcanon.Unmarshal(plain, &snapshot); err != nil {
		return nil, fmt.Errorf("backup: decode state: %w", err)
	}
	return user.Restore(&snapshot, t)
}
