// Package spongos implements the sponge-construction cryptographic state that
// underlies every message kind's wrap/unwrap protocol. The running state is
// realized on top of lukechampine.com/blake3, the same hashing library the
// rest of this module's ancestry uses for content fingerprinting: its
// incremental Hasher gives us absorb (Write), fork-without-disturbing-the-
// parent (Clone), and an extendable-output squeeze (XOF) for free.
package spongos

import (
	"io"

	"lukechampine.com/blake3"
)

const outputSize = 32

var (
	commitTag = []byte{0x63, 0x6f, 0x6d, 0x6d, 0x69, 0x74} // "commit"
	joinTag   = []byte{0x6a, 0x6f, 0x69, 0x6e}             // "join"
)

// Spongos is an opaque, cloneable running sponge state.
type Spongos struct {
	h *blake3.Hasher
}

// New returns a freshly initialized Spongos with empty absorbed history.
func New() *Spongos {
	return &Spongos{h: blake3.New(outputSize, nil)}
}

// Clone returns an independent copy of s. Mutating the clone never affects s.
func (s *Spongos) Clone() *Spongos {
	return &Spongos{h: s.h.Clone()}
}

// Absorb mixes data into the running state.
func (s *Spongos) Absorb(data []byte) {
	s.h.Write(data)
}

// Commit finalizes the current sub-state by absorbing a fixed
// domain-separation tag, so that operations before and after a commit are
// cryptographically distinguishable sub-states.
func (s *Spongos) Commit() {
	s.h.Write(commitTag)
}

// Fingerprint derives n pseudorandom bytes from the current state without
// mutating it. Used to derive the digest that Sign/Verify operate over.
func (s *Spongos) Fingerprint(n int) []byte {
	clone := s.h.Clone()
	out := make([]byte, n)
	xof := clone.XOF()
	if _, err := io.ReadFull(xof, out); err != nil {
		panic("spongos: XOF read failed: " + err.Error())
	}
	return out
}

// Squeeze derives n pseudorandom bytes (e.g. for a MAC checkpoint) and
// ratchets the state forward by absorbing the derived bytes, so a squeeze
// can never be replayed to reproduce the same output from the same state.
func (s *Spongos) Squeeze(n int) []byte {
	out := s.Fingerprint(n)
	s.Absorb(out)
	return out
}

// Mask encrypts plaintext against a keystream derived from the current
// state, then absorbs the ciphertext (not the plaintext) so that unwrap,
// which must read the same ciphertext to decrypt, ends up in the same
// resulting state as wrap.
func (s *Spongos) Mask(plaintext []byte) []byte {
	ciphertext := xor(plaintext, s.Fingerprint(len(plaintext)))
	s.Absorb(ciphertext)
	return ciphertext
}

// Unmask decrypts ciphertext against a keystream derived from the current
// state and absorbs the ciphertext, mirroring Mask.
func (s *Spongos) Unmask(ciphertext []byte) []byte {
	plaintext := xor(ciphertext, s.Fingerprint(len(ciphertext)))
	s.Absorb(ciphertext)
	return plaintext
}

// Join forks a child state from parent without mutating parent, absorbing a
// domain-separation tag so joined continuations are distinguishable from a
// bare clone. This is the substrate for every "linked message" operation.
func Join(parent *Spongos) *Spongos {
	child := parent.Clone()
	child.Absorb(joinTag)
	return child
}

// State returns a 32-byte snapshot digest of the current state, suitable for
// bit-for-bit equality comparisons between two Spongos values (e.g. "the
// spongos state after wrap equals the spongos state after unwrap").
func (s *Spongos) State() []byte {
	return s.Fingerprint(outputSize)
}

// MarshalBinary exports the full running state (not just its output
// digest), so a Spongos can be suspended and later resumed exactly where it
// left off — the capability pkg/backup's state snapshot relies on.
// blake3.Hasher supports this directly, the same resumable-hash facility
// the teacher's large-file content hashing could checkpoint against.
func (s *Spongos) MarshalBinary() ([]byte, error) {
	return s.h.MarshalBinary()
}

// UnmarshalSpongos reconstructs a Spongos from bytes produced by MarshalBinary.
func UnmarshalSpongos(data []byte) (*Spongos, error) {
	h := blake3.New(outputSize, nil)
	if err := h.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &Spongos{h: h}, nil
}

// Equal reports whether s and other hold bit-for-bit identical state.
func (s *Spongos) Equal(other *Spongos) bool {
	a, b := s.State(), other.State()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func xor(data, keystream []byte) []byte {
	out := make([]byte, len(data))
	for i := range data {
		out[i] = data[i] ^ keystream[i]
	}
	return out
}
