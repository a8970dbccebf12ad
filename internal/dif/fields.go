package dif

import "encoding/binary"

// Protection field layout within the metadata slot, by format:
//
//	PIFormat16: guard u16 @0, apptag u16 @2, reftag u32 @4
//	PIFormat32: guard u32 @0, apptag u16 @4, storage u16 @6, reftag u64 @8
//	PIFormat64: guard u64 @0, apptag u16 @8, reftag u48 @10 (split u16+u32)
//
// All fields are big-endian on the wire.

func guardWidth(f PIFormat) uint32 {
	switch f {
	case PIFormat16:
		return 2
	case PIFormat32:
		return 4
	}
	return 8
}

// appTagOffset is the byte offset of the application tag; the tag is
// always two bytes and directly follows the guard.
func appTagOffset(f PIFormat) uint32 { return guardWidth(f) }

func refTagRange(f PIFormat) (offset, width uint32) {
	switch f {
	case PIFormat16:
		return 4, 4
	case PIFormat32:
		return 8, 8
	}
	return 10, 6
}

// refTagMask is the significant-bit mask of the stored reference tag.
func refTagMask(f PIFormat) uint64 {
	switch f {
	case PIFormat16:
		return 0xFFFFFFFF
	case PIFormat32:
		return ^uint64(0)
	}
	return 0xFFFFFFFFFFFF
}

func setGuard(pi []byte, f PIFormat, guard uint64) {
	switch f {
	case PIFormat16:
		binary.BigEndian.PutUint16(pi[0:2], uint16(guard))
	case PIFormat32:
		binary.BigEndian.PutUint32(pi[0:4], uint32(guard))
	default:
		binary.BigEndian.PutUint64(pi[0:8], guard)
	}
}

func getGuard(pi []byte, f PIFormat) uint64 {
	switch f {
	case PIFormat16:
		return uint64(binary.BigEndian.Uint16(pi[0:2]))
	case PIFormat32:
		return uint64(binary.BigEndian.Uint32(pi[0:4]))
	default:
		return binary.BigEndian.Uint64(pi[0:8])
	}
}

func setAppTag(pi []byte, f PIFormat, tag uint16) {
	off := appTagOffset(f)
	binary.BigEndian.PutUint16(pi[off:off+2], tag)
}

func getAppTag(pi []byte, f PIFormat) uint16 {
	off := appTagOffset(f)
	return binary.BigEndian.Uint16(pi[off : off+2])
}

func setRefTag(pi []byte, f PIFormat, tag uint64) {
	switch f {
	case PIFormat16:
		binary.BigEndian.PutUint32(pi[4:8], uint32(tag))
	case PIFormat32:
		binary.BigEndian.PutUint64(pi[8:16], tag)
	default:
		binary.BigEndian.PutUint16(pi[10:12], uint16(tag>>32))
		binary.BigEndian.PutUint32(pi[12:16], uint32(tag))
	}
}

func getRefTag(pi []byte, f PIFormat) uint64 {
	switch f {
	case PIFormat16:
		return uint64(binary.BigEndian.Uint32(pi[4:8]))
	case PIFormat32:
		return binary.BigEndian.Uint64(pi[8:16])
	default:
		return uint64(binary.BigEndian.Uint16(pi[10:12]))<<32 |
			uint64(binary.BigEndian.Uint32(pi[12:16]))
	}
}

// refTagMatch compares a stored reference tag against the expected
// value truncated to the format's width.
func refTagMatch(stored, expected uint64, f PIFormat) bool {
	return stored == expected&refTagMask(f)
}

// refTagIgnored reports whether the stored reference tag carries the
// all-ones ignore sentinel.
func refTagIgnored(pi []byte, f PIFormat) bool {
	return getRefTag(pi, f) == refTagMask(f)
}

// piIgnored reports whether the stored protection fields disable all
// checks for this block: for types 1 and 2 an all-ones application tag,
// for type 3 an all-ones application tag together with an all-ones
// reference tag.
func (c *Context) piIgnored(pi []byte) bool {
	switch c.difType {
	case Type1, Type2:
		return getAppTag(pi, c.piFormat) == AppTagIgnore
	case Type3:
		return getAppTag(pi, c.piFormat) == AppTagIgnore && refTagIgnored(pi, c.piFormat)
	}
	return false
}
