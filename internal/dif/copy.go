package dif

// copyAndGuard copies n bytes from src to dst, optionally folding the
// copied bytes into the running guard, and advances both cursors.
func (c *Context) copyAndGuard(guard uint64, dst, src *sgl, n uint32, withGuard bool) uint64 {
	left := n
	for left > 0 {
		d := dst.head()
		b := src.head()
		if d == nil || b == nil {
			break
		}
		take := left
		if uint32(len(d)) < take {
			take = uint32(len(d))
		}
		if uint32(len(b)) < take {
			take = uint32(len(b))
		}
		copy(d[:take], b[:take])
		if withGuard {
			guard = c.guard.update(guard, d[:take])
		}
		dst.off += int(take)
		src.off += int(take)
		left -= take
	}
	return guard
}

// practExtended reports whether the PRACT insert/strip simulation is
// active with metadata larger than the protection fields. In that mode
// the metadata-free payload still carries the non-protection metadata
// bytes, so its stride is the block size minus the PI footprint.
func (c *Context) practExtended() bool {
	return c.flags&FlagNVMePRACT != 0 && c.mdSize > c.piSize
}

// lbaStride is the per-block byte count of the metadata-free payload in
// the copy operations.
func (c *Context) lbaStride() uint32 {
	if c.practExtended() {
		return c.blockSize - c.piSize
	}
	return c.dataBlockSize()
}

// GenerateCopy copies block data from the metadata-free payload in iovs
// into the extended payload in bounceIovs, computing and inserting the
// protection fields of every block. With PRACT simulation active and
// metadata larger than the PI footprint, the surrounding metadata bytes
// are copied from the source as well; only the protection fields proper
// are inserted.
func (c *Context) GenerateCopy(iovs, bounceIovs [][]byte, numBlocks uint32) error {
	if !c.mdInterleave {
		return ErrNotInterleaved
	}
	src := newSGL(iovs)
	dst := newSGL(bounceIovs)
	if !src.has(uint64(numBlocks) * uint64(c.lbaStride())) {
		return ErrPayloadSize
	}
	if !dst.has(uint64(numBlocks) * uint64(c.blockSize)) {
		return ErrPayloadSize
	}

	dbs := c.dataBlockSize()
	withGuard := c.flags&FlagGuardCheck != 0
	var piBuf [16]byte
	pi := piBuf[:c.piSize]

	for i := uint32(0); i < numBlocks; i++ {
		guard := c.guardSeed
		if c.practExtended() {
			// Data plus the metadata bytes preceding the PI come from the
			// source; the guard covers exactly that prefix.
			guard = c.copyAndGuard(guard, &dst, &src, c.guardInterval, withGuard)
			peek := dst
			peek.copyOut(pi)
			c.setPI(pi, guard, i)
			dst.copyIn(pi)
			c.copyAndGuard(0, &dst, &src, c.blockSize-c.guardInterval-c.piSize, false)
			continue
		}
		guard = c.copyAndGuard(guard, &dst, &src, dbs, withGuard)
		if withGuard && c.guardInterval > dbs {
			guard = c.updateGuardSGL(guard, &dst, c.guardInterval-dbs)
		} else {
			dst.advance(c.guardInterval - dbs)
		}
		peek := dst
		peek.copyOut(pi)
		c.setPI(pi, guard, i)
		dst.copyIn(pi)
		dst.advance(c.blockSize - c.guardInterval - c.piSize)
	}
	return nil
}

// VerifyCopy verifies the protection fields of the extended payload in
// bounceIovs while copying its block data out to the metadata-free
// payload in iovs. Copying stops at the first mismatching block.
func (c *Context) VerifyCopy(iovs, bounceIovs [][]byte, numBlocks uint32) error {
	if !c.mdInterleave {
		return ErrNotInterleaved
	}
	dst := newSGL(iovs)
	src := newSGL(bounceIovs)
	if !dst.has(uint64(numBlocks) * uint64(c.lbaStride())) {
		return ErrPayloadSize
	}
	if !src.has(uint64(numBlocks) * uint64(c.blockSize)) {
		return ErrPayloadSize
	}

	dbs := c.dataBlockSize()
	withGuard := c.flags&FlagGuardCheck != 0
	var piBuf [16]byte
	pi := piBuf[:c.piSize]

	for i := uint32(0); i < numBlocks; i++ {
		guard := c.guardSeed
		if c.practExtended() {
			guard = c.copyAndGuard(guard, &dst, &src, c.guardInterval, withGuard)
			peek := src
			peek.copyOut(pi)
			if err := c.verifyPI(pi, guard, i); err != nil {
				return err
			}
			src.advance(c.piSize)
			c.copyAndGuard(0, &dst, &src, c.blockSize-c.guardInterval-c.piSize, false)
			continue
		}
		guard = c.copyAndGuard(guard, &dst, &src, dbs, withGuard)
		if withGuard && c.guardInterval > dbs {
			guard = c.updateGuardSGL(guard, &src, c.guardInterval-dbs)
		} else {
			src.advance(c.guardInterval - dbs)
		}
		peek := src
		peek.copyOut(pi)
		if err := c.verifyPI(pi, guard, i); err != nil {
			return err
		}
		src.advance(c.blockSize - c.guardInterval)
	}
	return nil
}
