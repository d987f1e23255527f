package wire

import "github.com/chainmesh/streams/pkg/ddml"

// MaxFrameNumber is the largest legal 22-bit payload-frame-number.
const MaxFrameNumber = ddml.FrameNumberMask

// NewPCFFrameNumber validates n against the 22-bit bound at construction
// time, per §4.2: "values with bits >21 rejected".
func NewPCFFrameNumber(n uint32) (uint32, error) {
	if n > MaxFrameNumber {
		return 0, ddml.ErrFrameNumberOutOfRange
	}
	return n, nil
}

// SizePCFHeader accounts for the PCF's frame-type byte and 3-byte frame number.
func SizePCFHeader(c *ddml.SizeCtx, frameType FrameType, frameNum uint32) error {
	if err := c.Absorb([]byte{byte(frameType)}); err != nil {
		return err
	}
	return c.SkipFrameNumber(frameNum)
}

// WrapPCFHeader serializes the PCF's frame-type byte and 3-byte frame number.
func WrapPCFHeader(c *ddml.WrapCtx, frameType FrameType, frameNum uint32) error {
	if err := c.Absorb([]byte{byte(frameType)}); err != nil {
		return err
	}
	return c.SkipFrameNumber(frameNum)
}

// UnwrapPCFHeader parses the PCF's frame-type byte and 3-byte frame number.
func UnwrapPCFHeader(c *ddml.UnwrapCtx) (FrameType, uint32, error) {
	var ft [1]byte
	if err := c.Absorb(ft[:]); err != nil {
		return 0, 0, err
	}
	n, err := c.SkipFrameNumber()
	if err != nil {
		return 0, 0, err
	}
	return FrameType(ft[0]), n, nil
}
