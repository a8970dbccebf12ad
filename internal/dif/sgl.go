package dif

// sgl is a cursor over a scatter-gather list: a segment index plus a
// byte offset within that segment. It is a small value type; taking a
// copy snapshots the position.
type sgl struct {
	iovs [][]byte
	idx  int
	off  int
}

func newSGL(iovs [][]byte) sgl {
	return sgl{iovs: iovs}
}

// remaining returns the total bytes from the cursor to the end of the
// list.
func (s *sgl) remaining() uint64 {
	var n uint64
	for i := s.idx; i < len(s.iovs); i++ {
		n += uint64(len(s.iovs[i]))
	}
	n -= uint64(s.off)
	return n
}

// has reports whether at least n bytes remain.
func (s *sgl) has(n uint64) bool {
	return s.remaining() >= n
}

// head returns the unread bytes of the current segment, skipping empty
// segments. It returns nil at the end of the list.
func (s *sgl) head() []byte {
	for s.idx < len(s.iovs) {
		b := s.iovs[s.idx][s.off:]
		if len(b) > 0 {
			return b
		}
		s.idx++
		s.off = 0
	}
	return nil
}

// advance moves the cursor n bytes forward. The caller must have
// checked the length beforehand.
func (s *sgl) advance(n uint32) {
	left := int(n)
	for left > 0 {
		b := s.head()
		if b == nil {
			return
		}
		step := left
		if step > len(b) {
			step = len(b)
		}
		s.off += step
		left -= step
	}
}

// copyOut reads len(dst) bytes at the cursor into dst and advances.
func (s *sgl) copyOut(dst []byte) {
	for len(dst) > 0 {
		b := s.head()
		if b == nil {
			return
		}
		n := copy(dst, b)
		s.off += n
		dst = dst[n:]
	}
}

// copyIn writes src at the cursor and advances.
func (s *sgl) copyIn(src []byte) {
	for len(src) > 0 {
		b := s.head()
		if b == nil {
			return
		}
		n := copy(b, src)
		s.off += n
		src = src[n:]
	}
}

// xorByte flips the given bits of the byte at offset n from the cursor
// without moving the cursor.
func (s *sgl) xorByte(n uint32, bits byte) {
	tmp := *s
	tmp.advance(n)
	b := tmp.head()
	if b != nil {
		b[0] ^= bits
	}
}
