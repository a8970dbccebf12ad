package dif

// Separate-metadata (DIX) variants: block data stays in its own
// scatter-gather list while the per-block metadata slots live in one
// contiguous buffer. The guard covers the block data followed by the
// metadata bytes preceding the protection fields.

// DIXGenerate computes and writes the protection fields of every block
// into the separate metadata buffer.
func (c *Context) DIXGenerate(iovs [][]byte, mdIov []byte, numBlocks uint32) error {
	if c.mdInterleave {
		return ErrInterleaved
	}
	s := newSGL(iovs)
	if !s.has(uint64(numBlocks) * uint64(c.blockSize)) {
		return ErrPayloadSize
	}
	if uint64(len(mdIov)) < uint64(numBlocks)*uint64(c.mdSize) {
		return ErrPayloadSize
	}

	for i := uint32(0); i < numBlocks; i++ {
		slot := mdIov[uint64(i)*uint64(c.mdSize) : uint64(i+1)*uint64(c.mdSize)]
		guard := c.guardSeed
		if c.flags&FlagGuardCheck != 0 {
			guard = c.updateGuardSGL(guard, &s, c.blockSize)
			guard = c.guard.update(guard, slot[:c.guardInterval])
		} else {
			s.advance(c.blockSize)
		}
		c.setPI(slot[c.guardInterval:c.guardInterval+c.piSize], guard, i)
	}
	return nil
}

// DIXVerify checks the protection fields of every block against the
// block data and the separate metadata buffer, stopping at the first
// mismatch.
func (c *Context) DIXVerify(iovs [][]byte, mdIov []byte, numBlocks uint32) error {
	if c.mdInterleave {
		return ErrInterleaved
	}
	s := newSGL(iovs)
	if !s.has(uint64(numBlocks) * uint64(c.blockSize)) {
		return ErrPayloadSize
	}
	if uint64(len(mdIov)) < uint64(numBlocks)*uint64(c.mdSize) {
		return ErrPayloadSize
	}

	for i := uint32(0); i < numBlocks; i++ {
		slot := mdIov[uint64(i)*uint64(c.mdSize) : uint64(i+1)*uint64(c.mdSize)]
		guard := c.guardSeed
		if c.flags&FlagGuardCheck != 0 {
			guard = c.updateGuardSGL(guard, &s, c.blockSize)
			guard = c.guard.update(guard, slot[:c.guardInterval])
		} else {
			s.advance(c.blockSize)
		}
		if err := c.verifyPI(slot[c.guardInterval:c.guardInterval+c.piSize], guard, i); err != nil {
			return err
		}
	}
	return nil
}
