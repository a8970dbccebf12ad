package dif

// updateGuardSGL folds the next n bytes at the cursor into the running
// guard and advances the cursor.
func (c *Context) updateGuardSGL(guard uint64, s *sgl, n uint32) uint64 {
	left := n
	for left > 0 {
		b := s.head()
		if b == nil {
			break
		}
		take := uint32(len(b))
		if take > left {
			take = left
		}
		guard = c.guard.update(guard, b[:take])
		s.off += int(take)
		left -= take
	}
	return guard
}

// refTagSentinel reports whether the context's initial reference tag is
// the all-ones ignore value, either as the 32-bit constant or at the
// format's full stored width.
func (c *Context) refTagSentinel() bool {
	return c.initRefTag == RefTagIgnore || c.initRefTag == refTagMask(c.piFormat)
}

// setPI writes the enabled protection fields into pi for the block at
// offsetBlocks. Disabled fields and surrounding storage bytes are left
// untouched.
func (c *Context) setPI(pi []byte, guard uint64, offsetBlocks uint32) {
	if c.difType == TypeDisable {
		return
	}
	if c.flags&FlagGuardCheck != 0 {
		setGuard(pi, c.piFormat, guard)
	}
	if c.flags&FlagAppTagCheck != 0 {
		setAppTag(pi, c.piFormat, c.appTag)
	}
	if c.flags&FlagRefTagCheck != 0 {
		if c.refTagSentinel() {
			// The sentinel is stored as all-ones at the format's width so
			// that verification recognizes and skips the field.
			setRefTag(pi, c.piFormat, refTagMask(c.piFormat))
		} else {
			setRefTag(pi, c.piFormat, c.refTag(offsetBlocks))
		}
	}
}

// Generate computes and writes the enabled protection fields of every
// block in the extended payload described by iovs.
func (c *Context) Generate(iovs [][]byte, numBlocks uint32) error {
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
		c.setPI(pi, guard, i)
		s.copyIn(pi)
		s.advance(c.blockSize - c.guardInterval - c.piSize)
	}
	return nil
}
