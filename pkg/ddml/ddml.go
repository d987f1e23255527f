// Package ddml implements the declarative command vocabulary ("DDML") used
// to describe a message's wire image consistently across sizing (SizeOf),
// serialization (Wrap) and parsing (Unwrap). Every message kind in
// pkg/message is described as an ordered sequence of calls against one of
// the three context types defined here; all three expose the same command
// names (Absorb, Mask, Skip, Squeeze, Commit, Join, Sign/Verify) so the
// three passes over a message stay structurally parallel, per the core
// framing design.
package ddml

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/chainmesh/streams/pkg/spongos"
)

// ErrSizeMismatch is raised when Wrap did not fill its allocated buffer
// exactly, which the core treats as a programming error (abort).
var ErrSizeMismatch = fmt.Errorf("ddml: sizeof/wrap length mismatch")

// ErrShortBuffer is returned by Unwrap when the input is exhausted before a
// command finishes reading its expected bytes.
var ErrShortBuffer = fmt.Errorf("ddml: unexpected end of input")

// ErrBadMAC is returned by Unwrap's Squeeze when the derived checkpoint does
// not match the bytes read from the wire.
var ErrBadMAC = fmt.Errorf("ddml: squeeze checkpoint mismatch")

// ErrBadSignature is returned by Unwrap's Verify on signature failure.
var ErrBadSignature = fmt.Errorf("ddml: signature verification failed")

// FrameNumberMask limits the payload-frame-number to 22 bits, per §4.2.
const FrameNumberMask = (1 << 22) - 1

// ErrFrameNumberOutOfRange is returned when a frame number uses bit 22 or above.
var ErrFrameNumberOutOfRange = fmt.Errorf("ddml: payload frame number out of range")

// --- SizeOf context -------------------------------------------------------

// SizeCtx measures the exact byte length a Wrap of the same command
// sequence will produce, performing no I/O.
type SizeCtx struct {
	size int
}

// NewSizeCtx returns a fresh SizeOf context.
func NewSizeCtx() *SizeCtx { return &SizeCtx{} }

// Size returns the accumulated byte length.
func (c *SizeCtx) Size() int { return c.size }

func (c *SizeCtx) Absorb(b []byte) error { c.size += len(b); return nil }
func (c *SizeCtx) Mask(b []byte) error   { c.size += len(b); return nil }
func (c *SizeCtx) Skip(b []byte) error   { c.size += len(b); return nil }

func (c *SizeCtx) AbsorbSized(b []byte) error {
	c.size += uvarintSize(uint64(len(b))) + len(b)
	return nil
}

func (c *SizeCtx) MaskSized(b []byte) error {
	c.size += uvarintSize(uint64(len(b))) + len(b)
	return nil
}

func (c *SizeCtx) SkipUvarint(v uint64) error {
	c.size += uvarintSize(v)
	return nil
}

func (c *SizeCtx) AbsorbUvarint(v uint64) error {
	c.size += uvarintSize(v)
	return nil
}

// SkipFrameNumber accounts for the fixed 3-byte big-endian encoding used by
// the payload-carrying frame's 22-bit frame number.
func (c *SizeCtx) SkipFrameNumber(n uint32) error {
	if n > FrameNumberMask {
		return ErrFrameNumberOutOfRange
	}
	c.size += 3
	return nil
}

func (c *SizeCtx) Squeeze(n int) error { c.size += n; return nil }
func (c *SizeCtx) Commit() error       { return nil }
func (c *SizeCtx) Join(*spongos.Spongos) error { return nil }

// Sign accounts for an Ed25519 signature's fixed size without signing anything.
func (c *SizeCtx) Sign() error {
	c.size += ed25519.SignatureSize
	return nil
}

// --- Wrap context -----------------------------------------------------

// WrapCtx serializes a message into an output buffer while threading a
// Spongos through every absorb/mask/squeeze/commit/join/sign.
type WrapCtx struct {
	buf []byte
	sp  *spongos.Spongos
}

// NewWrapCtx allocates a wrap context with exactly `size` bytes of capacity
// (as measured by a prior SizeCtx pass) over the given sponge.
func NewWrapCtx(size int, sp *spongos.Spongos) *WrapCtx {
	return &WrapCtx{buf: make([]byte, 0, size), sp: sp}
}

// Bytes returns the accumulated wire image. The caller must verify its
// length equals the SizeCtx measurement before using it (ErrSizeMismatch).
func (c *WrapCtx) Bytes() []byte { return c.buf }

// Finish asserts the buffer was filled exactly as sized, per §4.1's "Wrap
// MUST fill the allocated buffer exactly" rule.
func (c *WrapCtx) Finish(expected int) ([]byte, error) {
	if len(c.buf) != expected {
		return nil, ErrSizeMismatch
	}
	return c.buf, nil
}

func (c *WrapCtx) Absorb(b []byte) error {
	c.sp.Absorb(b)
	c.buf = append(c.buf, b...)
	return nil
}

func (c *WrapCtx) Mask(b []byte) error {
	c.buf = append(c.buf, c.sp.Mask(b)...)
	return nil
}

func (c *WrapCtx) Skip(b []byte) error {
	c.buf = append(c.buf, b...)
	return nil
}

func (c *WrapCtx) AbsorbSized(b []byte) error {
	c.buf = appendUvarint(c.buf, uint64(len(b)))
	return c.Absorb(b)
}

func (c *WrapCtx) MaskSized(b []byte) error {
	c.buf = appendUvarint(c.buf, uint64(len(b)))
	return c.Mask(b)
}

func (c *WrapCtx) SkipUvarint(v uint64) error {
	c.buf = appendUvarint(c.buf, v)
	return nil
}

func (c *WrapCtx) AbsorbUvarint(v uint64) error {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return c.Absorb(tmp[:n])
}

// SkipFrameNumber emits n as 3 big-endian bytes without absorbing it, per §4.2.
func (c *WrapCtx) SkipFrameNumber(n uint32) error {
	if n > FrameNumberMask {
		return ErrFrameNumberOutOfRange
	}
	c.buf = append(c.buf, byte(n>>16), byte(n>>8), byte(n))
	return nil
}

func (c *WrapCtx) Squeeze(n int) ([]byte, error) {
	out := c.sp.Squeeze(n)
	c.buf = append(c.buf, out...)
	return out, nil
}

func (c *WrapCtx) Commit() error {
	c.sp.Commit()
	return nil
}

func (c *WrapCtx) Join(parent *spongos.Spongos) error {
	c.sp = spongos.Join(parent)
	return nil
}

func (c *WrapCtx) Spongos() *spongos.Spongos { return c.sp }

// Sign derives a digest from the current (post-commit) sponge state and
// signs it with priv, appending the signature to the wire image.
func (c *WrapCtx) Sign(priv ed25519.PrivateKey) error {
	digest := c.sp.Fingerprint(64)
	sig := ed25519.Sign(priv, digest)
	c.buf = append(c.buf, sig...)
	return nil
}

// --- Unwrap context ---------------------------------------------------

// UnwrapCtx parses a message out of an input buffer while threading a
// Spongos through the mirrored absorb/mask/squeeze/commit/join/verify calls.
type UnwrapCtx struct {
	in []byte
	sp *spongos.Spongos
}

// NewUnwrapCtx wraps raw input bytes for parsing against the given sponge.
func NewUnwrapCtx(in []byte, sp *spongos.Spongos) *UnwrapCtx {
	return &UnwrapCtx{in: in, sp: sp}
}

// Remaining reports how many unconsumed bytes are left in the input.
func (c *UnwrapCtx) Remaining() int { return len(c.in) }

func (c *UnwrapCtx) take(n int) ([]byte, error) {
	if len(c.in) < n {
		return nil, ErrShortBuffer
	}
	out := c.in[:n]
	c.in = c.in[n:]
	return out, nil
}

// Absorb reads len(b) bytes from the input into b and absorbs them.
func (c *UnwrapCtx) Absorb(b []byte) error {
	got, err := c.take(len(b))
	if err != nil {
		return err
	}
	copy(b, got)
	c.sp.Absorb(got)
	return nil
}

// Mask reads len(b) ciphertext bytes, decrypts into b, and absorbs the ciphertext.
func (c *UnwrapCtx) Mask(b []byte) error {
	ct, err := c.take(len(b))
	if err != nil {
		return err
	}
	copy(b, c.sp.Unmask(ct))
	return nil
}

// Skip reads len(b) bytes from the input into b without absorbing them.
func (c *UnwrapCtx) Skip(b []byte) error {
	got, err := c.take(len(b))
	if err != nil {
		return err
	}
	copy(b, got)
	return nil
}

func (c *UnwrapCtx) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(c.in)
	if n <= 0 {
		return 0, ErrShortBuffer
	}
	c.in = c.in[n:]
	return v, nil
}

// AbsorbSized reads a uvarint length prefix followed by that many absorbed bytes.
func (c *UnwrapCtx) AbsorbSized() ([]byte, error) {
	n, err := c.readUvarint()
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if err := c.Absorb(b); err != nil {
		return nil, err
	}
	return b, nil
}

// MaskSized reads a uvarint length prefix followed by that many masked bytes.
func (c *UnwrapCtx) MaskSized() ([]byte, error) {
	n, err := c.readUvarint()
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if err := c.Mask(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *UnwrapCtx) SkipUvarint() (uint64, error) { return c.readUvarint() }
func (c *UnwrapCtx) AbsorbUvarint() (uint64, error) {
	v, n := binary.Uvarint(c.in)
	if n <= 0 {
		return 0, ErrShortBuffer
	}
	got := c.in[:n]
	c.in = c.in[n:]
	c.sp.Absorb(got)
	return v, nil
}

// SkipFrameNumber reads the fixed 3-byte big-endian frame number, per §4.2.
func (c *UnwrapCtx) SkipFrameNumber() (uint32, error) {
	b, err := c.take(3)
	if err != nil {
		return 0, err
	}
	n := uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	if n > FrameNumberMask {
		return 0, ErrFrameNumberOutOfRange
	}
	return n, nil
}

// Squeeze reads n bytes from the input and verifies they equal the
// checkpoint derived from the current state.
func (c *UnwrapCtx) Squeeze(n int) ([]byte, error) {
	got, err := c.take(n)
	if err != nil {
		return nil, err
	}
	want := c.sp.Squeeze(n)
	if !constantTimeEqual(got, want) {
		return nil, ErrBadMAC
	}
	return got, nil
}

func (c *UnwrapCtx) Commit() error {
	c.sp.Commit()
	return nil
}

func (c *UnwrapCtx) Join(parent *spongos.Spongos) error {
	c.sp = spongos.Join(parent)
	return nil
}

func (c *UnwrapCtx) Spongos() *spongos.Spongos { return c.sp }

// Verify reads a trailing Ed25519 signature from the input and checks it
// against the digest derived from the current (post-commit) sponge state.
func (c *UnwrapCtx) Verify(pub ed25519.PublicKey) error {
	sig, err := c.take(ed25519.SignatureSize)
	if err != nil {
		return err
	}
	digest := c.sp.Fingerprint(64)
	if !ed25519.Verify(pub, digest, sig) {
		return ErrBadSignature
	}
	return nil
}

func uvarintSize(v uint64) int {
	var tmp [binary.MaxVarintLen64]byte
	return binary.PutUvarint(tmp[:], v)
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
