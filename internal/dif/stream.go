package dif

// Streaming operations accept (dataOffset, dataLen) ranges expressed in
// data-only bytes within the current data segment. The extended payload
// in iovs is assumed to start at the segment's beginning. Ranges need
// not align to block boundaries; the interim guard of a trailing
// partial block is carried in the context between calls.

// streamRequired returns the extended-payload length needed to process
// data bytes up to end, including the metadata of a block completed
// exactly at end.
func (c *Context) streamRequired(end uint32) uint64 {
	return uint64(sizeWithMD(end, c.dataBlockSize(), c.blockSize))
}

// GenerateStream computes and inserts protection fields for every block
// completed within the given data range, and saves the interim guard of
// a trailing partial block for the next call.
func (c *Context) GenerateStream(iovs [][]byte, dataOffset, dataLen uint32) error {
	if !c.mdInterleave {
		return ErrNotInterleaved
	}
	dbs := c.dataBlockSize()
	offsetInBlock := dataOffset % dbs
	blockIdx := dataOffset / dbs

	s := newSGL(iovs)
	if !s.has(c.streamRequired(dataOffset + dataLen)) {
		return ErrPayloadSize
	}
	s.advance(blockIdx*c.blockSize + offsetInBlock)

	withGuard := c.flags&FlagGuardCheck != 0
	var guard uint64
	if withGuard {
		guard = c.lastGuard
	}
	var piBuf [16]byte
	pi := piBuf[:c.piSize]

	for dataLen > 0 {
		n := dbs - offsetInBlock
		if n > dataLen {
			n = dataLen
		}
		if withGuard {
			guard = c.updateGuardSGL(guard, &s, n)
		} else {
			s.advance(n)
		}
		offsetInBlock += n
		dataLen -= n

		if offsetInBlock == dbs {
			if withGuard && c.guardInterval > dbs {
				guard = c.updateGuardSGL(guard, &s, c.guardInterval-dbs)
			} else {
				s.advance(c.guardInterval - dbs)
			}
			peek := s
			peek.copyOut(pi)
			c.setPI(pi, guard, blockIdx)
			s.copyIn(pi)
			s.advance(c.blockSize - c.guardInterval - c.piSize)
			guard = c.guardSeed
			offsetInBlock = 0
			blockIdx++
		}
	}
	if withGuard {
		c.lastGuard = guard
	}
	return nil
}

// VerifyStream checks the protection fields of every block completed
// within the given data range. The interim guard state is persisted
// only when all completed blocks verified clean, so a failed call can
// be retried after the payload is re-read.
func (c *Context) VerifyStream(iovs [][]byte, dataOffset, dataLen uint32) error {
	if !c.mdInterleave {
		return ErrNotInterleaved
	}
	dbs := c.dataBlockSize()
	offsetInBlock := dataOffset % dbs
	blockIdx := dataOffset / dbs

	s := newSGL(iovs)
	if !s.has(c.streamRequired(dataOffset + dataLen)) {
		return ErrPayloadSize
	}
	s.advance(blockIdx*c.blockSize + offsetInBlock)

	withGuard := c.flags&FlagGuardCheck != 0
	var guard uint64
	if withGuard {
		guard = c.lastGuard
	}
	var piBuf [16]byte
	pi := piBuf[:c.piSize]

	for dataLen > 0 {
		n := dbs - offsetInBlock
		if n > dataLen {
			n = dataLen
		}
		if withGuard {
			guard = c.updateGuardSGL(guard, &s, n)
		} else {
			s.advance(n)
		}
		offsetInBlock += n
		dataLen -= n

		if offsetInBlock == dbs {
			if withGuard && c.guardInterval > dbs {
				guard = c.updateGuardSGL(guard, &s, c.guardInterval-dbs)
			} else {
				s.advance(c.guardInterval - dbs)
			}
			peek := s
			peek.copyOut(pi)
			if err := c.verifyPI(pi, guard, blockIdx); err != nil {
				return err
			}
			s.advance(c.blockSize - c.guardInterval)
			guard = c.guardSeed
			offsetInBlock = 0
			blockIdx++
		}
	}
	if withGuard {
		c.lastGuard = guard
	}
	return nil
}

// UpdateCRC32CStream folds the data bytes of the given range into the
// running CRC-32C, skipping the interleaved metadata, and returns the
// updated value. It carries no cross-call state in the context.
func (c *Context) UpdateCRC32CStream(iovs [][]byte, dataOffset, dataLen uint32, crc32c uint32) (uint32, error) {
	if !c.mdInterleave {
		return crc32c, ErrNotInterleaved
	}
	dbs := c.dataBlockSize()
	offsetInBlock := dataOffset % dbs

	s := newSGL(iovs)
	required := c.streamRequired(dataOffset + dataLen)
	if (dataOffset+dataLen)%dbs == 0 && dataLen > 0 {
		// The trailing metadata is not read when the range ends exactly
		// on a block boundary.
		required -= uint64(c.mdSize)
	}
	if !s.has(required) {
		return crc32c, ErrPayloadSize
	}
	s.advance(dataOffset/dbs*c.blockSize + offsetInBlock)

	for dataLen > 0 {
		n := dbs - offsetInBlock
		if n > dataLen {
			n = dataLen
		}
		crc32c = updateCRC32CSGL(crc32c, &s, uint64(n))
		offsetInBlock += n
		dataLen -= n
		if offsetInBlock == dbs {
			s.advance(c.mdSize)
			offsetInBlock = 0
		}
	}
	return crc32c, nil
}

// MDInterleaveIovs builds, from the raw extended-payload buffer in
// bufIovs, a scatter-gather view of the data regions for the range
// (dataOffset, dataLen), leaving a metadata-sized gap at each block
// boundary. A transport that deals only in flat byte streams can read
// or write through the returned view and land data directly at the
// correct block+metadata stride. The returned count is the number of
// data bytes actually mapped, which falls short of dataLen when the
// buffer ends before the range does.
func (c *Context) MDInterleaveIovs(bufIovs [][]byte, dataOffset, dataLen uint32) ([][]byte, uint32, error) {
	if !c.mdInterleave {
		return nil, 0, ErrNotInterleaved
	}
	dbs := c.dataBlockSize()
	offsetInBlock := dataOffset % dbs

	s := newSGL(bufIovs)
	start := uint64(dataOffset/dbs)*uint64(c.blockSize) + uint64(offsetInBlock)
	if !s.has(start) {
		return nil, 0, ErrPayloadSize
	}
	s.advance(uint32(start))

	var (
		out    [][]byte
		mapped uint32
	)
	for dataLen > 0 {
		if offsetInBlock == dbs {
			if !s.has(uint64(c.mdSize)) {
				break
			}
			s.advance(c.mdSize)
			offsetInBlock = 0
		}
		b := s.head()
		if b == nil {
			break
		}
		n := dbs - offsetInBlock
		if n > dataLen {
			n = dataLen
		}
		if uint32(len(b)) < n {
			n = uint32(len(b))
		}
		out = append(out, b[:n])
		s.advance(n)
		offsetInBlock += n
		mapped += n
		dataLen -= n
	}
	return out, mapped, nil
}
