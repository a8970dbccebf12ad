package dif

import (
	"fmt"

	"example.com/difgate/internal/crc"
)

// guardAlgorithm is the format-selected guard checksum, chosen once at
// context initialization. The running value is widened to 64 bits so the
// three formats share one signature.
type guardAlgorithm interface {
	update(guard uint64, p []byte) uint64
}

type guard16 struct{}

func (guard16) update(g uint64, p []byte) uint64 { return uint64(crc.T10DIF(uint16(g), p)) }

type guard32 struct{}

func (guard32) update(g uint64, p []byte) uint64 { return uint64(crc.CRC32C(uint32(g), p)) }

type guard64 struct{}

func (guard64) update(g uint64, p []byte) uint64 { return crc.CRC64NVMe(g, p) }

// ContextParams carries the caller-supplied protection configuration.
// The zero value of PIFormat selects the CRC16 format, so existing
// callers are unaffected when new formats are added.
type ContextParams struct {
	// BlockSize is the total bytes per block, including interleaved
	// metadata when MetadataInterleave is set.
	BlockSize uint32
	// MetadataSize is the bytes of metadata per block.
	MetadataSize uint32
	// MetadataInterleave places the metadata inside each block; when
	// false the metadata lives in a separate buffer (DIX).
	MetadataInterleave bool
	// PIFirst places the protection fields in the first bytes of the
	// metadata slot; otherwise they occupy the last bytes.
	PIFirst bool

	Type     Type
	PIFormat PIFormat
	Flags    Flags

	// InitRefTag anchors the reference tag sequence; for type 1 it is
	// the starting block address.
	InitRefTag uint64
	AppTag     uint16
	AppTagMask uint16

	// DataOffset is the byte offset of this payload within the whole
	// data stream. The reference tag advances relative to the stream,
	// not the buffer.
	DataOffset uint32
	// GuardSeed seeds the guard computation of every block.
	GuardSeed uint64
}

// Context holds the immutable protection configuration plus the small
// amount of session state (stream cursor, interim guard, remap target)
// carried between calls. Callers must serialize access; the engine
// performs no locking.
type Context struct {
	blockSize     uint32
	mdSize        uint32
	mdInterleave  bool
	difType       Type
	piFormat      PIFormat
	flags         Flags
	piSize        uint32
	guardInterval uint32

	initRefTag         uint64
	remappedInitRefTag uint64
	appTag             uint16
	appTagMask         uint16

	dataOffset   uint32
	refTagOffset uint32

	guardSeed uint64
	// lastGuard carries the interim guard of a partial block between
	// streaming calls; it equals guardSeed whenever the previous call
	// ended on a block boundary.
	lastGuard uint64

	guard guardAlgorithm
}

// PIFormatSize returns the protection-field footprint in bytes for the
// given format.
func PIFormatSize(f PIFormat) uint32 {
	switch f {
	case PIFormat16:
		return 8
	case PIFormat32, PIFormat64:
		return 16
	}
	return 0
}

// NewContext validates the parameter combination and derives the field
// layout. It fails without producing a context when the block and
// metadata sizes cannot hold the requested format.
func NewContext(p ContextParams) (*Context, error) {
	piSize := PIFormatSize(p.PIFormat)
	if piSize == 0 {
		return nil, fmt.Errorf("unknown PI format %d", p.PIFormat)
	}
	if p.Type > Type3 {
		return nil, fmt.Errorf("unknown DIF type %d", p.Type)
	}
	if p.MetadataSize < piSize {
		return nil, fmt.Errorf("metadata size %d cannot hold %d-byte protection fields",
			p.MetadataSize, piSize)
	}
	if p.MetadataInterleave && p.BlockSize <= p.MetadataSize {
		return nil, fmt.Errorf("block size %d must exceed interleaved metadata size %d",
			p.BlockSize, p.MetadataSize)
	}
	if p.BlockSize == 0 {
		return nil, fmt.Errorf("block size must be non-zero")
	}

	ctx := &Context{
		blockSize:    p.BlockSize,
		mdSize:       p.MetadataSize,
		mdInterleave: p.MetadataInterleave,
		difType:      p.Type,
		piFormat:     p.PIFormat,
		flags:        p.Flags,
		piSize:       piSize,
		initRefTag:   p.InitRefTag,
		appTag:       p.AppTag,
		appTagMask:   p.AppTagMask,
		guardSeed:    p.GuardSeed,
		lastGuard:    p.GuardSeed,
	}
	ctx.guardInterval = guardInterval(p.BlockSize, p.MetadataSize, p.PIFirst, p.MetadataInterleave, piSize)
	switch p.PIFormat {
	case PIFormat16:
		ctx.guard = guard16{}
	case PIFormat32:
		ctx.guard = guard32{}
	case PIFormat64:
		ctx.guard = guard64{}
	}
	ctx.SetDataOffset(p.DataOffset)
	return ctx, nil
}

// guardInterval returns the byte count covered by the guard within one
// block, which is also the offset of the protection fields. When the PI
// occupies the last bytes of the metadata slot the guard additionally
// covers the metadata bytes preceding it.
func guardInterval(blockSize, mdSize uint32, piFirst, interleave bool, piSize uint32) uint32 {
	if piFirst {
		if interleave {
			return blockSize - mdSize
		}
		return 0
	}
	if interleave {
		return blockSize - piSize
	}
	return mdSize - piSize
}

// dataBlockSize is the data-only stride of one block.
func (c *Context) dataBlockSize() uint32 {
	if c.mdInterleave {
		return c.blockSize - c.mdSize
	}
	return c.blockSize
}

// BlockSize returns the configured physical block size.
func (c *Context) BlockSize() uint32 { return c.blockSize }

// MetadataSize returns the configured per-block metadata size.
func (c *Context) MetadataSize() uint32 { return c.mdSize }

// Interleaved reports whether metadata is interleaved with block data.
func (c *Context) Interleaved() bool { return c.mdInterleave }

// DataBlockSize returns the data-only bytes per block.
func (c *Context) DataBlockSize() uint32 { return c.dataBlockSize() }

// SetDataOffset repositions the logical stream cursor. The reference
// tag offset is re-derived; tags themselves are untouched.
func (c *Context) SetDataOffset(dataOffset uint32) {
	c.dataOffset = dataOffset
	c.refTagOffset = dataOffset / c.dataBlockSize()
}

// SetRemappedInitRefTag records the reference tag the remap operations
// rewrite blocks to.
func (c *Context) SetRemappedInitRefTag(refTag uint64) {
	c.remappedInitRefTag = refTag
}

// refTag returns the reference tag expected at the given block offset
// within the current payload. Types 1 and 2 advance per block; type 3
// stays at the initial tag.
func (c *Context) refTag(offsetBlocks uint32) uint64 {
	if c.difType == Type3 {
		return c.initRefTag
	}
	return c.initRefTag + uint64(c.refTagOffset) + uint64(offsetBlocks)
}

// remappedRefTag is refTag anchored at the remap target instead of the
// initial reference tag.
func (c *Context) remappedRefTag(offsetBlocks uint32) uint64 {
	if c.difType == Type3 {
		return c.remappedInitRefTag
	}
	return c.remappedInitRefTag + uint64(c.refTagOffset) + uint64(offsetBlocks)
}

// GetLengthWithMD converts a data-only length into the corresponding
// extended-payload length under this context's layout.
func (c *Context) GetLengthWithMD(dataLen uint32) uint32 {
	if !c.mdInterleave {
		return dataLen
	}
	return sizeWithMD(dataLen, c.dataBlockSize(), c.blockSize)
}

// GetRangeWithMD converts a data-only (offset, length) range into the
// corresponding extended-payload (offset, length) range.
func (c *Context) GetRangeWithMD(dataOffset, dataLen uint32) (bufOffset, bufLen uint32) {
	if !c.mdInterleave {
		return dataOffset, dataLen
	}
	dbs := c.dataBlockSize()
	unalign := dataOffset % dbs
	bufOffset = sizeWithMD(dataOffset, dbs, c.blockSize)
	bufLen = sizeWithMD(unalign+dataLen, dbs, c.blockSize) - unalign
	return bufOffset, bufLen
}

func sizeWithMD(size, dataBlockSize, blockSize uint32) uint32 {
	return size/dataBlockSize*blockSize + size%dataBlockSize
}
