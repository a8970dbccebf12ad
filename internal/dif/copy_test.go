package dif

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateVerifyCopyRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		format PIFormat
		mdSize uint32
		flags  Flags
	}{
		{name: "format16", format: PIFormat16, mdSize: 8, flags: checkAll},
		{name: "format32 md32", format: PIFormat32, mdSize: 32, flags: checkAll},
		{name: "format64", format: PIFormat64, mdSize: 16, flags: checkAll},
		{name: "pract md16", format: PIFormat16, mdSize: 16, flags: checkAll | FlagNVMePRACT},
		{name: "pract md equals pi", format: PIFormat16, mdSize: 8, flags: checkAll | FlagNVMePRACT},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			const numBlocks = 3
			params := ContextParams{
				BlockSize:          512 + tc.mdSize,
				MetadataSize:       tc.mdSize,
				MetadataInterleave: true,
				Type:               Type1,
				PIFormat:           tc.format,
				Flags:              tc.flags,
				InitRefTag:         5,
				AppTag:             0x3141,
				AppTagMask:         0xFFFF,
			}
			gen := newTestContext(t, params)

			stride := int(gen.lbaStride())
			src := make([]byte, numBlocks*stride)
			fillPattern(src, 61)
			bounce := make([]byte, numBlocks*int(params.BlockSize))

			if err := gen.GenerateCopy(split(src, stride-3), split(bounce, 200), numBlocks); err != nil {
				t.Fatalf("GenerateCopy: %v", err)
			}

			dst := make([]byte, len(src))
			ver := newTestContext(t, params)
			if err := ver.VerifyCopy(split(dst, 100), split(bounce, 600), numBlocks); err != nil {
				t.Fatalf("VerifyCopy: %v", err)
			}
			if !bytes.Equal(dst, src) {
				t.Fatal("copied-out payload differs from the original")
			}
		})
	}
}

func TestGenerateCopyMatchesInPlaceGenerate(t *testing.T) {
	// The bounce buffer written by GenerateCopy must verify under the
	// plain in-place path as well.
	const numBlocks = 2
	params := ContextParams{
		BlockSize:          4104,
		MetadataSize:       8,
		MetadataInterleave: true,
		Type:               Type2,
		PIFormat:           PIFormat16,
		Flags:              checkAll,
		InitRefTag:         9,
		AppTag:             0x0E0E,
		AppTagMask:         0xFFFF,
	}
	src := make([]byte, numBlocks*4096)
	fillPattern(src, 19)
	bounce := make([]byte, numBlocks*4104)
	if err := newTestContext(t, params).GenerateCopy([][]byte{src}, [][]byte{bounce}, numBlocks); err != nil {
		t.Fatalf("GenerateCopy: %v", err)
	}
	if err := newTestContext(t, params).Verify([][]byte{bounce}, numBlocks); err != nil {
		t.Fatalf("Verify bounce: %v", err)
	}
	for i := 0; i < numBlocks; i++ {
		if !bytes.Equal(bounce[i*4104:i*4104+4096], src[i*4096:(i+1)*4096]) {
			t.Fatalf("block %d data region differs from source", i)
		}
	}
}

func TestVerifyCopyDetectsCorruption(t *testing.T) {
	const numBlocks = 4
	params := ContextParams{
		BlockSize:          520,
		MetadataSize:       8,
		MetadataInterleave: true,
		Type:               Type1,
		PIFormat:           PIFormat16,
		Flags:              checkAll,
		AppTag:             0x0807,
		AppTagMask:         0xFFFF,
	}
	src := make([]byte, numBlocks*512)
	fillPattern(src, 29)
	bounce := make([]byte, numBlocks*520)
	if err := newTestContext(t, params).GenerateCopy([][]byte{src}, [][]byte{bounce}, numBlocks); err != nil {
		t.Fatalf("GenerateCopy: %v", err)
	}
	bounce[520+3] ^= 0x10 // data of block 1

	dst := make([]byte, len(src))
	err := newTestContext(t, params).VerifyCopy([][]byte{dst}, [][]byte{bounce}, numBlocks)
	var difErr *Error
	if !errors.As(err, &difErr) {
		t.Fatalf("VerifyCopy = %v, want *Error", err)
	}
	if difErr.Type != ErrTypeGuard || difErr.Offset != 1 {
		t.Fatalf("error = %v, want guard error at block 1", difErr)
	}
	// Block 0 precedes the mismatch and must have been copied out.
	if !bytes.Equal(dst[:512], src[:512]) {
		t.Fatal("block 0 was not copied out before the mismatch")
	}
}

func TestGenerateCopyShortBuffers(t *testing.T) {
	params := ContextParams{
		BlockSize:          520,
		MetadataSize:       8,
		MetadataInterleave: true,
		Type:               Type1,
		PIFormat:           PIFormat16,
		Flags:              checkAll,
		AppTagMask:         0xFFFF,
	}
	ctx := newTestContext(t, params)
	src := make([]byte, 512)
	bounce := make([]byte, 520)
	if err := ctx.GenerateCopy([][]byte{src[:511]}, [][]byte{bounce}, 1); !errors.Is(err, ErrPayloadSize) {
		t.Fatalf("short source = %v, want ErrPayloadSize", err)
	}
	if err := ctx.GenerateCopy([][]byte{src}, [][]byte{bounce[:519]}, 1); !errors.Is(err, ErrPayloadSize) {
		t.Fatalf("short bounce = %v, want ErrPayloadSize", err)
	}
}

func TestPRACTCopyCarriesExtraMetadata(t *testing.T) {
	// With 16-byte metadata and an 8-byte PI, the metadata-free payload
	// carries 8 extra bytes per block that must survive the round trip.
	const numBlocks = 2
	params := ContextParams{
		BlockSize:          528,
		MetadataSize:       16,
		MetadataInterleave: true,
		Type:               Type1,
		PIFormat:           PIFormat16,
		Flags:              checkAll | FlagNVMePRACT,
		AppTag:             0x7777,
		AppTagMask:         0xFFFF,
	}
	gen := newTestContext(t, params)
	if got := gen.lbaStride(); got != 520 {
		t.Fatalf("lbaStride = %d, want 520", got)
	}
	src := make([]byte, numBlocks*520)
	fillPattern(src, 47)
	bounce := make([]byte, numBlocks*528)
	if err := gen.GenerateCopy([][]byte{src}, [][]byte{bounce}, numBlocks); err != nil {
		t.Fatalf("GenerateCopy: %v", err)
	}
	// Guard covers data plus the 8 leading metadata bytes; the extended
	// payload must verify in place.
	if err := newTestContext(t, params).Verify([][]byte{bounce}, numBlocks); err != nil {
		t.Fatalf("Verify bounce: %v", err)
	}
	dst := make([]byte, len(src))
	if err := newTestContext(t, params).VerifyCopy([][]byte{dst}, [][]byte{bounce}, numBlocks); err != nil {
		t.Fatalf("VerifyCopy: %v", err)
	}
	if !bytes.Equal(dst, src) {
		t.Fatal("extra metadata bytes did not survive the round trip")
	}
}
