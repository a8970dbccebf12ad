package dif

import (
	"fmt"
	"math/rand"
	"strings"
)

// InjectFlags select the fields a fault is injected into. When several
// flags are set, one bit is flipped per field, and the returned block
// offset refers to the last injection applied.
type InjectFlags uint32

const (
	InjectRefTag InjectFlags = 1 << iota
	InjectAppTag
	InjectGuard
	InjectData
)

// InjectAnyBlock makes the injector pick a random block.
const InjectAnyBlock = -1

func (f InjectFlags) String() string {
	names := []struct {
		flag InjectFlags
		name string
	}{
		{InjectRefTag, "reftag"},
		{InjectAppTag, "apptag"},
		{InjectGuard, "guard"},
		{InjectData, "data"},
	}
	var out string
	for _, n := range names {
		if f&n.flag == 0 {
			continue
		}
		if out != "" {
			out += "+"
		}
		out += n.name
	}
	if out == "" {
		return "none"
	}
	return out
}

// ParseInjectFlags parses a comma or plus separated list of field names
// (reftag, apptag, guard, data) into injection flags.
func ParseInjectFlags(s string) (InjectFlags, error) {
	var flags InjectFlags
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '+' }) {
		switch strings.ToLower(strings.TrimSpace(tok)) {
		case "reftag":
			flags |= InjectRefTag
		case "apptag":
			flags |= InjectAppTag
		case "guard":
			flags |= InjectGuard
		case "data":
			flags |= InjectData
		case "":
		default:
			return 0, fmt.Errorf("unknown injection field %q", tok)
		}
	}
	if flags == 0 {
		return 0, fmt.Errorf("no injection field in %q", s)
	}
	return flags, nil
}

func pickBlock(block int, numBlocks uint32) uint32 {
	if block == InjectAnyBlock {
		return uint32(rand.Intn(int(numBlocks)))
	}
	return uint32(block)
}

// flipBit flips one random bit of a random byte in b.
func flipBit(b []byte) {
	b[rand.Intn(len(b))] ^= 1 << uint(rand.Intn(8))
}

// InjectError flips one bit of the requested protection field (or of
// the block data) in the extended payload, for conformance and negative
// testing. block selects the target block, or InjectAnyBlock for a
// random one. It returns the block offset of the last injection.
func (c *Context) InjectError(iovs [][]byte, numBlocks uint32, flags InjectFlags, block int) (uint32, error) {
	if !c.mdInterleave {
		return 0, ErrNotInterleaved
	}
	if numBlocks == 0 {
		return 0, fmt.Errorf("no blocks to inject into")
	}
	if block != InjectAnyBlock && (block < 0 || uint32(block) >= numBlocks) {
		return 0, fmt.Errorf("inject block %d out of range (%d blocks)", block, numBlocks)
	}
	s := newSGL(iovs)
	if !s.has(uint64(numBlocks) * uint64(c.blockSize)) {
		return 0, ErrPayloadSize
	}

	apply := func(fieldStart, width uint32) uint32 {
		blk := pickBlock(block, numBlocks)
		off := blk*c.blockSize + fieldStart + uint32(rand.Intn(int(width)))
		s.xorByte(off, 1<<uint(rand.Intn(8)))
		return blk
	}

	var (
		injected uint32
		applied  bool
	)
	if flags&InjectRefTag != 0 {
		off, width := refTagRange(c.piFormat)
		injected = apply(c.guardInterval+off, width)
		applied = true
	}
	if flags&InjectAppTag != 0 {
		injected = apply(c.guardInterval+appTagOffset(c.piFormat), 2)
		applied = true
	}
	if flags&InjectGuard != 0 {
		injected = apply(c.guardInterval, guardWidth(c.piFormat))
		applied = true
	}
	if flags&InjectData != 0 {
		injected = apply(0, c.dataBlockSize())
		applied = true
	}
	if !applied {
		return 0, fmt.Errorf("no injection flag set")
	}
	return injected, nil
}

// DIXInjectError is InjectError for a payload with separate metadata:
// data faults land in the data scatter-gather list, protection-field
// faults in the metadata buffer.
func (c *Context) DIXInjectError(iovs [][]byte, mdIov []byte, numBlocks uint32, flags InjectFlags, block int) (uint32, error) {
	if c.mdInterleave {
		return 0, ErrInterleaved
	}
	if numBlocks == 0 {
		return 0, fmt.Errorf("no blocks to inject into")
	}
	if block != InjectAnyBlock && (block < 0 || uint32(block) >= numBlocks) {
		return 0, fmt.Errorf("inject block %d out of range (%d blocks)", block, numBlocks)
	}
	s := newSGL(iovs)
	if !s.has(uint64(numBlocks) * uint64(c.blockSize)) {
		return 0, ErrPayloadSize
	}
	if flags&(InjectRefTag|InjectAppTag|InjectGuard) != 0 &&
		uint64(len(mdIov)) < uint64(numBlocks)*uint64(c.mdSize) {
		return 0, fmt.Errorf("metadata buffer too small for injection: %w", ErrPayloadSize)
	}

	applyMD := func(fieldStart, width uint32) uint32 {
		blk := pickBlock(block, numBlocks)
		off := blk*c.mdSize + c.guardInterval + fieldStart
		flipBit(mdIov[off : off+width])
		return blk
	}

	var (
		injected uint32
		applied  bool
	)
	if flags&InjectRefTag != 0 {
		off, width := refTagRange(c.piFormat)
		injected = applyMD(off, width)
		applied = true
	}
	if flags&InjectAppTag != 0 {
		injected = applyMD(appTagOffset(c.piFormat), 2)
		applied = true
	}
	if flags&InjectGuard != 0 {
		injected = applyMD(0, guardWidth(c.piFormat))
		applied = true
	}
	if flags&InjectData != 0 {
		blk := pickBlock(block, numBlocks)
		off := blk*c.blockSize + uint32(rand.Intn(int(c.blockSize)))
		s.xorByte(off, 1<<uint(rand.Intn(8)))
		injected = blk
		applied = true
	}
	if !applied {
		return 0, fmt.Errorf("no injection flag set")
	}
	return injected, nil
}
