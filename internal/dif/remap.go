package dif

// RemapRefTag rewrites the reference tag of every block in the extended
// payload to the value recorded via SetRemappedInitRefTag, advancing it
// per block for types 1 and 2. With checkRefTag set, each existing tag
// is verified against the context's expected value before being
// rewritten, failing with the usual error record on mismatch. Blocks
// whose stored tags carry the ignore sentinels are left untouched.
func (c *Context) RemapRefTag(iovs [][]byte, numBlocks uint32, checkRefTag bool) error {
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
		s.advance(c.guardInterval)
		peek := s
		peek.copyOut(pi)
		if c.piIgnored(pi) {
			s.advance(c.blockSize - c.guardInterval)
			continue
		}
		if err := c.remapPI(pi, i, checkRefTag); err != nil {
			return err
		}
		s.copyIn(pi)
		s.advance(c.blockSize - c.guardInterval - c.piSize)
	}
	return nil
}

// DIXRemapRefTag is RemapRefTag for a separate, contiguous metadata
// buffer.
func (c *Context) DIXRemapRefTag(mdIov []byte, numBlocks uint32, checkRefTag bool) error {
	if c.mdInterleave {
		return ErrInterleaved
	}
	if uint64(len(mdIov)) < uint64(numBlocks)*uint64(c.mdSize) {
		return ErrPayloadSize
	}
	for i := uint32(0); i < numBlocks; i++ {
		slot := mdIov[uint64(i)*uint64(c.mdSize):]
		pi := slot[c.guardInterval : c.guardInterval+c.piSize]
		if c.piIgnored(pi) {
			continue
		}
		if err := c.remapPI(pi, i, checkRefTag); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) remapPI(pi []byte, offsetBlocks uint32, checkRefTag bool) error {
	if c.difType == TypeDisable {
		return nil
	}
	if checkRefTag && !refTagIgnored(pi, c.piFormat) {
		stored := getRefTag(pi, c.piFormat)
		expected := c.refTag(offsetBlocks)
		if !refTagMatch(stored, expected, c.piFormat) {
			return &Error{
				Type:     ErrTypeRefTag,
				Expected: expected & refTagMask(c.piFormat),
				Actual:   stored,
				Offset:   offsetBlocks,
			}
		}
	}
	setRefTag(pi, c.piFormat, c.remappedRefTag(offsetBlocks))
	return nil
}
