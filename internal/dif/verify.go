package dif

import "example.com/difgate/internal/crc"

// verifyPI checks the enabled protection fields of one block against
// the computed guard and the expected tags. Only the intersection of
// the check flags and the fields the DIF type defines as meaningful is
// compared.
func (c *Context) verifyPI(pi []byte, guard uint64, offsetBlocks uint32) error {
	if c.difType == TypeDisable {
		// The disabled type defines no field as meaningful, whatever the
		// check flags say.
		return nil
	}
	if c.piIgnored(pi) {
		return nil
	}

	if c.flags&FlagGuardCheck != 0 {
		stored := getGuard(pi, c.piFormat)
		if stored != guard {
			return &Error{Type: ErrTypeGuard, Expected: guard, Actual: stored, Offset: offsetBlocks}
		}
	}

	if c.flags&FlagAppTagCheck != 0 {
		stored := getAppTag(pi, c.piFormat)
		if stored&c.appTagMask != c.appTag&c.appTagMask {
			return &Error{
				Type:     ErrTypeAppTag,
				Expected: uint64(c.appTag & c.appTagMask),
				Actual:   uint64(stored & c.appTagMask),
				Offset:   offsetBlocks,
			}
		}
	}

	if c.flags&FlagRefTagCheck != 0 {
		switch c.difType {
		case Type1, Type2:
			if c.difType == Type2 && c.refTagSentinel() {
				break
			}
			stored := getRefTag(pi, c.piFormat)
			if stored == refTagMask(c.piFormat) {
				// Stored all-ones disables the reference tag check.
				break
			}
			expected := c.refTag(offsetBlocks)
			if !refTagMatch(stored, expected, c.piFormat) {
				return &Error{
					Type:     ErrTypeRefTag,
					Expected: expected & refTagMask(c.piFormat),
					Actual:   stored,
					Offset:   offsetBlocks,
				}
			}
		case Type3:
			// The reference tag carries no block address for type 3.
		}
	}
	return nil
}

// Verify checks the enabled protection fields of every block in the
// extended payload described by iovs, stopping at the first mismatch.
func (c *Context) Verify(iovs [][]byte, numBlocks uint32) error {
	if !c.mdInterleave {
		return ErrNotInterleaved
	}
	s := newSGL(iovs)
	if !s.has(uint64(numBlocks) * uint64(c.blockSize)) {
		return ErrPayloadSize
	}

	var piBuf [16]byte
	pi := piBuf[:c.piSize]
	for i := uint32(0); i < numBlocks; i++ {
		guard := c.guardSeed
		if c.flags&FlagGuardCheck != 0 {
			guard = c.updateGuardSGL(guard, &s, c.guardInterval)
		} else {
			s.advance(c.guardInterval)
		}
		peek := s
		peek.copyOut(pi)
		if err := c.verifyPI(pi, guard, i); err != nil {
			return err
		}
		s.advance(c.blockSize - c.guardInterval)
	}
	return nil
}

// updateCRC32CSGL folds the next n bytes at the cursor into the running
// CRC-32C and advances the cursor. n is 64-bit so whole-payload byte
// counts cannot wrap.
func updateCRC32CSGL(v uint32, s *sgl, n uint64) uint32 {
	left := n
	for left > 0 {
		b := s.head()
		if b == nil {
			break
		}
		take := uint64(len(b))
		if take > left {
			take = left
		}
		v = crc.CRC32C(v, b[:take])
		s.off += int(take)
		left -= take
	}
	return v
}

// UpdateCRC32C folds the data bytes of the payload into the running
// CRC-32C, excluding all metadata, and returns the updated value. The
// checksum is independent of the guard tag; callers accumulate it
// across buffers by passing the previous return value back in.
func (c *Context) UpdateCRC32C(iovs [][]byte, numBlocks uint32, crc32c uint32) (uint32, error) {
	s := newSGL(iovs)
	if !s.has(uint64(numBlocks) * uint64(c.blockSize)) {
		return crc32c, ErrPayloadSize
	}
	if !c.mdInterleave {
		crc32c = updateCRC32CSGL(crc32c, &s, uint64(numBlocks)*uint64(c.blockSize))
		return crc32c, nil
	}
	dbs := c.dataBlockSize()
	for i := uint32(0); i < numBlocks; i++ {
		crc32c = updateCRC32CSGL(crc32c, &s, uint64(dbs))
		s.advance(c.mdSize)
	}
	return crc32c, nil
}
