// Package crc implements the guard checksum algorithms used by the DIF
// protection-information formats, plus the CRC-32C accumulator used for
// upper-layer payload checksums.
//
// All functions take the running value as their first argument and
// return the updated value, so a checksum over concatenated buffers can
// be computed piecewise: T10DIF(T10DIF(seed, a), b) == T10DIF(seed, a||b).
package crc

import (
	"hash/crc32"
	"hash/crc64"
)

// t10difPoly is the CRC16 polynomial defined by the T10 DIF standard.
const t10difPoly = 0x8BB7

// crc64NVMePoly is the CRC-64/NVME polynomial in the reversed bit order
// expected by hash/crc64.
const crc64NVMePoly = 0x9a6c9329ac4bc9b5

var (
	t10difTable   = makeT10DIFTable()
	crc32cTable   = crc32.MakeTable(crc32.Castagnoli)
	crc64NVMeTab  = crc64.MakeTable(crc64NVMePoly)
)

func makeT10DIFTable() *[256]uint16 {
	var t [256]uint16
	for i := range t {
		v := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if v&0x8000 != 0 {
				v = v<<1 ^ t10difPoly
			} else {
				v <<= 1
			}
		}
		t[i] = v
	}
	return &t
}

// T10DIF updates the CRC16-T10DIF value with p. The standard uses a
// zero seed, no reflection and no final XOR.
func T10DIF(v uint16, p []byte) uint16 {
	for _, b := range p {
		v = v<<8 ^ t10difTable[byte(v>>8)^b]
	}
	return v
}

// CRC32C updates the CRC-32C (Castagnoli) value with p. A zero initial
// value yields the standard checksum.
func CRC32C(v uint32, p []byte) uint32 {
	return crc32.Update(v, crc32cTable, p)
}

// CRC64NVMe updates the CRC-64/NVME value with p. A zero initial value
// yields the standard checksum.
func CRC64NVMe(v uint64, p []byte) uint64 {
	return crc64.Update(v, crc64NVMeTab, p)
}
