// Package dif generates, verifies, streams, remaps and fault-injects
// per-block protection information (guard checksum, application tag,
// reference tag) attached to fixed-size storage blocks.
//
// Payloads are described as scatter-gather lists ([][]byte) interpreted
// as one logically contiguous region. Metadata either interleaves with
// the block data (DIF, extended payload) or lives in a separate buffer
// (DIX). All operations are synchronous, CPU-bound and lock-free; a
// Context must not be shared between concurrent writers.
package dif

import (
	"errors"
	"fmt"
)

// Type selects the DIF protection type, governing which fields are
// meaningful and how the reference tag advances across blocks.
type Type uint8

const (
	TypeDisable Type = 0
	Type1       Type = 1
	Type2       Type = 2
	Type3       Type = 3
)

// PIFormat selects the protection-information format, which fixes the
// guard algorithm and the field widths within the metadata slot.
type PIFormat uint8

const (
	// PIFormat16 is the 8-byte field set with a CRC16-T10DIF guard.
	PIFormat16 PIFormat = 0
	// PIFormat32 is the 16-byte field set with a CRC-32C guard.
	PIFormat32 PIFormat = 1
	// PIFormat64 is the 16-byte field set with a CRC-64/NVME guard.
	PIFormat64 PIFormat = 2
)

// Flags enable the individual protection checks and the NVMe PRACT
// insert/strip simulation. The bit positions match the on-wire DIF
// control layout used by NVMe command dwords.
type Flags uint32

const (
	FlagRefTagCheck Flags = 1 << 26
	FlagAppTagCheck Flags = 1 << 27
	FlagGuardCheck  Flags = 1 << 28
	FlagNVMePRACT   Flags = 1 << 29
)

// Sentinel tag values. A context created with these values causes the
// corresponding stored field to be written as all-ones, and verification
// of an all-ones field is skipped.
const (
	RefTagIgnore uint64 = 0xFFFFFFFF
	AppTagIgnore uint16 = 0xFFFF
)

// ErrorType identifies the protection field a verify mismatch was found
// in.
type ErrorType uint8

const (
	ErrTypeRefTag ErrorType = iota + 1
	ErrTypeAppTag
	ErrTypeGuard
	ErrTypeData
)

func (t ErrorType) String() string {
	switch t {
	case ErrTypeRefTag:
		return "reference tag"
	case ErrTypeAppTag:
		return "application tag"
	case ErrTypeGuard:
		return "guard"
	case ErrTypeData:
		return "data"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Error reports the first protection mismatch observed during a verify
// operation. Expected and Actual are widened to 64 bits regardless of
// the field width; Offset is the zero-based block offset at which the
// mismatch occurred.
type Error struct {
	Type     ErrorType
	Expected uint64
	Actual   uint64
	Offset   uint32
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s mismatch at block %d: expected=%#x actual=%#x",
		e.Type, e.Offset, e.Expected, e.Actual)
}

var (
	// ErrPayloadSize reports a scatter-gather list whose total length is
	// smaller than the payload the operation was asked to walk.
	ErrPayloadSize = errors.New("scatter-gather list shorter than payload")

	// ErrNotInterleaved reports an extended-payload operation invoked on
	// a context configured for separate metadata.
	ErrNotInterleaved = errors.New("context is not configured for interleaved metadata")

	// ErrInterleaved reports a separate-metadata operation invoked on a
	// context configured for interleaved metadata.
	ErrInterleaved = errors.New("context is configured for interleaved metadata")
)
