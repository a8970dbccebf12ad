package dif

import (
	"errors"
	"testing"
)

func dixParams(format PIFormat, mdSize uint32) ContextParams {
	return ContextParams{
		BlockSize:    512,
		MetadataSize: mdSize,
		Type:         Type1,
		PIFormat:     format,
		Flags:        checkAll,
		InitRefTag:   3,
		AppTag:       0x4443,
		AppTagMask:   0xFFFF,
	}
}

func TestDIXGenerateVerifyRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		format PIFormat
		mdSize uint32
		first  bool
	}{
		{name: "format16", format: PIFormat16, mdSize: 8},
		{name: "format16 md16", format: PIFormat16, mdSize: 16},
		{name: "format16 md16 pi first", format: PIFormat16, mdSize: 16, first: true},
		{name: "format32", format: PIFormat32, mdSize: 16},
		{name: "format64 md32", format: PIFormat64, mdSize: 32},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			const numBlocks = 3
			params := dixParams(tc.format, tc.mdSize)
			params.PIFirst = tc.first
			buf := make([]byte, numBlocks*512)
			md := make([]byte, numBlocks*int(tc.mdSize))
			fillPattern(buf, 89)
			fillPattern(md, 97)

			if err := newTestContext(t, params).DIXGenerate(split(buf, 700), md, numBlocks); err != nil {
				t.Fatalf("DIXGenerate: %v", err)
			}
			if err := newTestContext(t, params).DIXVerify(split(buf, 511, 1), md, numBlocks); err != nil {
				t.Fatalf("DIXVerify: %v", err)
			}
		})
	}
}

func TestDIXVerifyDetectsInjectedFaults(t *testing.T) {
	tests := []struct {
		name  string
		flags InjectFlags
		kind  ErrorType
	}{
		{name: "ref tag", flags: InjectRefTag, kind: ErrTypeRefTag},
		{name: "app tag", flags: InjectAppTag, kind: ErrTypeAppTag},
		{name: "guard", flags: InjectGuard, kind: ErrTypeGuard},
		{name: "data corrupts guard", flags: InjectData, kind: ErrTypeGuard},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			const numBlocks = 6
			params := dixParams(PIFormat16, 8)
			buf := make([]byte, numBlocks*512)
			md := make([]byte, numBlocks*8)
			fillPattern(buf, 101)

			if err := newTestContext(t, params).DIXGenerate([][]byte{buf}, md, numBlocks); err != nil {
				t.Fatalf("DIXGenerate: %v", err)
			}
			injected, err := newTestContext(t, params).DIXInjectError([][]byte{buf}, md, numBlocks, tc.flags, InjectAnyBlock)
			if err != nil {
				t.Fatalf("DIXInjectError: %v", err)
			}
			verr := newTestContext(t, params).DIXVerify([][]byte{buf}, md, numBlocks)
			var difErr *Error
			if !errors.As(verr, &difErr) {
				t.Fatalf("DIXVerify after injection = %v, want *Error", verr)
			}
			if difErr.Type != tc.kind || difErr.Offset != injected {
				t.Fatalf("error = %v, want %v at block %d", difErr, tc.kind, injected)
			}
		})
	}
}

func TestDIXGuardCoversMetadataPrefix(t *testing.T) {
	// With PI in the last bytes of a 16-byte slot, the guard covers the
	// 8 metadata bytes preceding it, so corrupting them must trip the
	// guard check.
	const numBlocks = 2
	params := dixParams(PIFormat16, 16)
	buf := make([]byte, numBlocks*512)
	md := make([]byte, numBlocks*16)
	fillPattern(buf, 103)
	fillPattern(md, 107)
	if err := newTestContext(t, params).DIXGenerate([][]byte{buf}, md, numBlocks); err != nil {
		t.Fatalf("DIXGenerate: %v", err)
	}
	md[16+2] ^= 0x04 // non-PI metadata of block 1

	err := newTestContext(t, params).DIXVerify([][]byte{buf}, md, numBlocks)
	var difErr *Error
	if !errors.As(err, &difErr) {
		t.Fatalf("DIXVerify = %v, want *Error", err)
	}
	if difErr.Type != ErrTypeGuard || difErr.Offset != 1 {
		t.Fatalf("error = %v, want guard error at block 1", difErr)
	}
}

func TestDIXInterleaveMismatch(t *testing.T) {
	interleaved := newTestContext(t, ContextParams{
		BlockSize:          520,
		MetadataSize:       8,
		MetadataInterleave: true,
		Type:               Type1,
		PIFormat:           PIFormat16,
		Flags:              checkAll,
		AppTagMask:         0xFFFF,
	})
	buf := make([]byte, 520)
	md := make([]byte, 8)
	if err := interleaved.DIXGenerate([][]byte{buf[:512]}, md, 1); !errors.Is(err, ErrInterleaved) {
		t.Fatalf("DIXGenerate on interleaved context = %v, want ErrInterleaved", err)
	}

	separate := newTestContext(t, dixParams(PIFormat16, 8))
	if err := separate.Generate([][]byte{buf}, 1); !errors.Is(err, ErrNotInterleaved) {
		t.Fatalf("Generate on separate-metadata context = %v, want ErrNotInterleaved", err)
	}
}
