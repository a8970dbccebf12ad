package dif

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"
)

const checkAll = FlagRefTagCheck | FlagAppTagCheck | FlagGuardCheck

// fillPattern writes a deterministic byte pattern so corruption is
// never masked by repeated content.
func fillPattern(buf []byte, seed byte) {
	for i := range buf {
		buf[i] = seed + byte(i*7)
	}
}

// split slices buf into segments of the given sizes; whatever remains
// becomes the final segment.
func split(buf []byte, sizes ...int) [][]byte {
	var iovs [][]byte
	for _, n := range sizes {
		if n > len(buf) {
			n = len(buf)
		}
		iovs = append(iovs, buf[:n])
		buf = buf[n:]
	}
	if len(buf) > 0 {
		iovs = append(iovs, buf)
	}
	return iovs
}

func newTestContext(t *testing.T, p ContextParams) *Context {
	t.Helper()
	ctx, err := NewContext(p)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return ctx
}

func TestGenerateVerifyRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		format PIFormat
		typ    Type
		mdSize uint32
		first  bool
	}{
		{name: "type1 format16", format: PIFormat16, typ: Type1, mdSize: 8},
		{name: "type1 format16 md16", format: PIFormat16, typ: Type1, mdSize: 16},
		{name: "type1 format16 md16 pi first", format: PIFormat16, typ: Type1, mdSize: 16, first: true},
		{name: "type2 format32", format: PIFormat32, typ: Type2, mdSize: 16},
		{name: "type3 format64", format: PIFormat64, typ: Type3, mdSize: 16},
		{name: "type1 format64 md32", format: PIFormat64, typ: Type1, mdSize: 32},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			const numBlocks = 4
			blockSize := 512 + tc.mdSize
			params := ContextParams{
				BlockSize:          blockSize,
				MetadataSize:       tc.mdSize,
				MetadataInterleave: true,
				PIFirst:            tc.first,
				Type:               tc.typ,
				PIFormat:           tc.format,
				Flags:              checkAll,
				InitRefTag:         100,
				AppTag:             0x1234,
				AppTagMask:         0xFFFF,
			}
			buf := make([]byte, numBlocks*int(blockSize))
			fillPattern(buf, 3)

			gen := newTestContext(t, params)
			if err := gen.Generate(split(buf, 100, 700), numBlocks); err != nil {
				t.Fatalf("Generate: %v", err)
			}
			ver := newTestContext(t, params)
			if err := ver.Verify(split(buf, 513, 513), numBlocks); err != nil {
				t.Fatalf("Verify: %v", err)
			}
		})
	}
}

func TestKnownBlockLayout(t *testing.T) {
	// block_size=4104, md=8 interleaved, type 1, CRC16 format, all
	// checks, reftag 0, apptag 0xABCD fully masked, 4096 zero data
	// bytes.
	params := ContextParams{
		BlockSize:          4104,
		MetadataSize:       8,
		MetadataInterleave: true,
		Type:               Type1,
		PIFormat:           PIFormat16,
		Flags:              checkAll,
		InitRefTag:         0,
		AppTag:             0xABCD,
		AppTagMask:         0xFFFF,
	}
	buf := make([]byte, 4104)
	ctx := newTestContext(t, params)
	if err := ctx.Generate([][]byte{buf}, 1); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := binary.BigEndian.Uint16(buf[4098:4100]); got != 0xABCD {
		t.Fatalf("app tag field = 0x%04X, want 0xABCD", got)
	}
	if got := binary.BigEndian.Uint32(buf[4100:4104]); got != 0 {
		t.Fatalf("ref tag field = %d, want 0", got)
	}
	guard := binary.BigEndian.Uint16(buf[4096:4098])
	if err := newTestContext(t, params).Verify([][]byte{buf}, 1); err != nil {
		t.Fatalf("Verify clean block: %v", err)
	}

	buf[4096+1] ^= 0x01
	err := newTestContext(t, params).Verify([][]byte{buf}, 1)
	var difErr *Error
	if !errors.As(err, &difErr) {
		t.Fatalf("Verify after guard flip = %v, want *Error", err)
	}
	if difErr.Type != ErrTypeGuard || difErr.Offset != 0 {
		t.Fatalf("error = %v, want guard error at block 0", difErr)
	}
	if difErr.Expected != uint64(guard) {
		t.Fatalf("expected guard = 0x%X, want 0x%X", difErr.Expected, guard)
	}
}

func TestVerifyDetectsInjectedFaults(t *testing.T) {
	tests := []struct {
		name   string
		flags  InjectFlags
		kind   ErrorType
		format PIFormat
	}{
		{name: "ref tag", flags: InjectRefTag, kind: ErrTypeRefTag, format: PIFormat16},
		{name: "app tag", flags: InjectAppTag, kind: ErrTypeAppTag, format: PIFormat16},
		{name: "guard", flags: InjectGuard, kind: ErrTypeGuard, format: PIFormat16},
		{name: "data corrupts guard", flags: InjectData, kind: ErrTypeGuard, format: PIFormat16},
		{name: "ref tag format32", flags: InjectRefTag, kind: ErrTypeRefTag, format: PIFormat32},
		{name: "guard format64", flags: InjectGuard, kind: ErrTypeGuard, format: PIFormat64},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			const numBlocks = 8
			mdSize := PIFormatSize(tc.format)
			params := ContextParams{
				BlockSize:          512 + mdSize,
				MetadataSize:       mdSize,
				MetadataInterleave: true,
				Type:               Type1,
				PIFormat:           tc.format,
				Flags:              checkAll,
				InitRefTag:         7,
				AppTag:             0x0102,
				AppTagMask:         0xFFFF,
			}
			buf := make([]byte, numBlocks*int(512+mdSize))
			fillPattern(buf, 9)
			iovs := [][]byte{buf}
			if err := newTestContext(t, params).Generate(iovs, numBlocks); err != nil {
				t.Fatalf("Generate: %v", err)
			}
			injected, err := newTestContext(t, params).InjectError(iovs, numBlocks, tc.flags, InjectAnyBlock)
			if err != nil {
				t.Fatalf("InjectError: %v", err)
			}
			verr := newTestContext(t, params).Verify(iovs, numBlocks)
			var difErr *Error
			if !errors.As(verr, &difErr) {
				t.Fatalf("Verify after injection = %v, want *Error", verr)
			}
			if difErr.Type != tc.kind {
				t.Fatalf("error type = %v, want %v", difErr.Type, tc.kind)
			}
			if difErr.Offset != injected {
				t.Fatalf("error offset = %d, want injected block %d", difErr.Offset, injected)
			}
		})
	}
}

func TestInjectPinnedBlock(t *testing.T) {
	const numBlocks = 4
	params := ContextParams{
		BlockSize:          520,
		MetadataSize:       8,
		MetadataInterleave: true,
		Type:               Type1,
		PIFormat:           PIFormat16,
		Flags:              checkAll,
		AppTagMask:         0xFFFF,
	}
	buf := make([]byte, numBlocks*520)
	fillPattern(buf, 1)
	iovs := [][]byte{buf}
	if err := newTestContext(t, params).Generate(iovs, numBlocks); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	injected, err := newTestContext(t, params).InjectError(iovs, numBlocks, InjectGuard, 2)
	if err != nil {
		t.Fatalf("InjectError: %v", err)
	}
	if injected != 2 {
		t.Fatalf("injected block = %d, want 2", injected)
	}
	var difErr *Error
	if verr := newTestContext(t, params).Verify(iovs, numBlocks); !errors.As(verr, &difErr) || difErr.Offset != 2 {
		t.Fatalf("Verify = %v, want guard error at block 2", verr)
	}
}

func TestAppTagMaskingFullyCleared(t *testing.T) {
	params := ContextParams{
		BlockSize:          520,
		MetadataSize:       8,
		MetadataInterleave: true,
		Type:               Type1,
		PIFormat:           PIFormat16,
		Flags:              checkAll,
		AppTag:             0x5A5A,
		AppTagMask:         0x0000,
	}
	buf := make([]byte, 520)
	fillPattern(buf, 5)
	if err := newTestContext(t, params).Generate([][]byte{buf}, 1); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// Corrupt the stored application tag outright; the cleared mask
	// must still accept it.
	binary.BigEndian.PutUint16(buf[514:516], 0x1234)
	if err := newTestContext(t, params).Verify([][]byte{buf}, 1); err != nil {
		t.Fatalf("Verify with cleared mask: %v", err)
	}
}

func TestDisabledTypeSkipsAllChecks(t *testing.T) {
	params := ContextParams{
		BlockSize:          520,
		MetadataSize:       8,
		MetadataInterleave: true,
		Type:               TypeDisable,
		PIFormat:           PIFormat16,
		Flags:              checkAll,
		InitRefTag:         100,
		AppTag:             0x1234,
		AppTagMask:         0xFFFF,
	}
	buf := make([]byte, 2*520)
	fillPattern(buf, 9)
	want := make([]byte, len(buf))
	copy(want, buf)

	// An unprotected payload verifies clean even with every check flag
	// raised: the disabled type defines no meaningful field.
	if err := newTestContext(t, params).Verify([][]byte{buf}, 2); err != nil {
		t.Fatalf("Verify with disabled type: %v", err)
	}

	// Generate and remap leave the payload bit-identical.
	if err := newTestContext(t, params).Generate([][]byte{buf}, 2); err != nil {
		t.Fatalf("Generate with disabled type: %v", err)
	}
	if !bytes.Equal(buf, want) {
		t.Fatal("Generate with disabled type modified the payload")
	}
	ctx := newTestContext(t, params)
	ctx.SetRemappedInitRefTag(9000)
	if err := ctx.RemapRefTag([][]byte{buf}, 2, true); err != nil {
		t.Fatalf("RemapRefTag with disabled type: %v", err)
	}
	if !bytes.Equal(buf, want) {
		t.Fatal("RemapRefTag with disabled type modified the payload")
	}
}

func TestRefTagIgnoreSentinelType2(t *testing.T) {
	params := ContextParams{
		BlockSize:          520,
		MetadataSize:       8,
		MetadataInterleave: true,
		Type:               Type2,
		PIFormat:           PIFormat16,
		Flags:              checkAll,
		InitRefTag:         RefTagIgnore,
		AppTag:             0x0001,
		AppTagMask:         0xFFFF,
	}
	buf := make([]byte, 2 * 520)
	fillPattern(buf, 11)
	if err := newTestContext(t, params).Generate([][]byte{buf}, 2); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := binary.BigEndian.Uint32(buf[516:520]); got != 0xFFFFFFFF {
		t.Fatalf("stored ref tag = 0x%08X, want all-ones sentinel", got)
	}
	// Overwrite the stored reference tag with garbage; the sentinel
	// context must still never report a reference tag mismatch.
	binary.BigEndian.PutUint32(buf[516:520], 0xDEADBEEF)
	if err := newTestContext(t, params).Verify([][]byte{buf}, 2); err != nil {
		t.Fatalf("Verify with sentinel ref tag: %v", err)
	}
}

func TestStoredAppTagIgnoreSkipsBlock(t *testing.T) {
	params := ContextParams{
		BlockSize:          520,
		MetadataSize:       8,
		MetadataInterleave: true,
		Type:               Type1,
		PIFormat:           PIFormat16,
		Flags:              checkAll,
		AppTag:             0x0001,
		AppTagMask:         0xFFFF,
	}
	buf := make([]byte, 520)
	fillPattern(buf, 21)
	if err := newTestContext(t, params).Generate([][]byte{buf}, 1); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// An all-ones stored application tag disables every check for the
	// block, even with corrupted guard and reference tag.
	binary.BigEndian.PutUint16(buf[512:514], 0xBAAD)
	binary.BigEndian.PutUint16(buf[514:516], 0xFFFF)
	binary.BigEndian.PutUint32(buf[516:520], 0xBAADF00D)
	if err := newTestContext(t, params).Verify([][]byte{buf}, 1); err != nil {
		t.Fatalf("Verify with ignored block: %v", err)
	}
}

func TestVerifyScatterGatherEquivalence(t *testing.T) {
	const numBlocks = 5
	params := ContextParams{
		BlockSize:          4104,
		MetadataSize:       8,
		MetadataInterleave: true,
		Type:               Type1,
		PIFormat:           PIFormat16,
		Flags:              checkAll,
		InitRefTag:         42,
		AppTag:             0xABCD,
		AppTagMask:         0xFFFF,
	}
	contiguous := make([]byte, numBlocks*4104)
	fillPattern(contiguous, 17)
	if err := newTestContext(t, params).Generate([][]byte{contiguous}, numBlocks); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	fragmented := make([]byte, len(contiguous))
	copy(fragmented, contiguous)
	splits := [][]int{
		{1},
		{4095, 1, 1, 1},
		{4104, 4104},
		{13, 1000, 5000},
	}
	for _, sizes := range splits {
		if err := newTestContext(t, params).Verify(split(fragmented, sizes...), numBlocks); err != nil {
			t.Fatalf("Verify split %v: %v", sizes, err)
		}
	}
	// Generation over fragments must produce identical bytes.
	regen := make([]byte, len(contiguous))
	copy(regen, contiguous)
	if err := newTestContext(t, params).Generate(split(regen, 7, 4103, 900), numBlocks); err != nil {
		t.Fatalf("Generate fragmented: %v", err)
	}
	if !bytes.Equal(regen, contiguous) {
		t.Fatal("fragmented generate produced different bytes")
	}
}

func TestVerifyShortPayload(t *testing.T) {
	params := ContextParams{
		BlockSize:          520,
		MetadataSize:       8,
		MetadataInterleave: true,
		Type:               Type1,
		PIFormat:           PIFormat16,
		Flags:              checkAll,
		AppTagMask:         0xFFFF,
	}
	buf := make([]byte, 519)
	err := newTestContext(t, params).Verify([][]byte{buf}, 1)
	if !errors.Is(err, ErrPayloadSize) {
		t.Fatalf("Verify short payload = %v, want ErrPayloadSize", err)
	}
}

func TestUpdateCRC32CSkipsMetadata(t *testing.T) {
	const numBlocks = 3
	params := ContextParams{
		BlockSize:          520,
		MetadataSize:       8,
		MetadataInterleave: true,
		Type:               Type1,
		PIFormat:           PIFormat16,
		Flags:              checkAll,
		AppTagMask:         0xFFFF,
	}
	buf := make([]byte, numBlocks*520)
	fillPattern(buf, 31)
	ctx := newTestContext(t, params)
	before, err := ctx.UpdateCRC32C([][]byte{buf}, numBlocks, 0)
	if err != nil {
		t.Fatalf("UpdateCRC32C: %v", err)
	}
	// Scribbling over metadata must not move the payload checksum.
	for i := 0; i < numBlocks; i++ {
		fillPattern(buf[i*520+512:(i+1)*520], 0xEE)
	}
	after, err := ctx.UpdateCRC32C([][]byte{buf}, numBlocks, 0)
	if err != nil {
		t.Fatalf("UpdateCRC32C: %v", err)
	}
	if before != after {
		t.Fatalf("payload checksum changed with metadata: 0x%08X != 0x%08X", before, after)
	}
	// Accumulation across calls must equal one call over everything.
	c1, err := ctx.UpdateCRC32C([][]byte{buf[:520]}, 1, 0)
	if err != nil {
		t.Fatalf("UpdateCRC32C first block: %v", err)
	}
	c2, err := ctx.UpdateCRC32C([][]byte{buf[520:]}, numBlocks-1, c1)
	if err != nil {
		t.Fatalf("UpdateCRC32C rest: %v", err)
	}
	if c2 != after {
		t.Fatalf("accumulated checksum 0x%08X, want 0x%08X", c2, after)
	}
}

func TestRandomRoundTrips(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	formats := []PIFormat{PIFormat16, PIFormat32, PIFormat64}
	types := []Type{Type1, Type2, Type3}
	for trial := 0; trial < 25; trial++ {
		format := formats[rng.Intn(len(formats))]
		mdSize := PIFormatSize(format) * uint32(1+rng.Intn(2))
		blockSize := uint32(256*(1+rng.Intn(4))) + mdSize
		numBlocks := uint32(1 + rng.Intn(6))
		params := ContextParams{
			BlockSize:          blockSize,
			MetadataSize:       mdSize,
			MetadataInterleave: true,
			PIFirst:            rng.Intn(2) == 0,
			Type:               types[rng.Intn(len(types))],
			PIFormat:           format,
			Flags:              checkAll,
			InitRefTag:         uint64(rng.Intn(1 << 20)),
			AppTag:             uint16(rng.Intn(0xFFFF)),
			AppTagMask:         0xFFFF,
			GuardSeed:          uint64(rng.Intn(1 << 16)),
		}
		buf := make([]byte, int(numBlocks*blockSize))
		rng.Read(buf)
		if err := newTestContext(t, params).Generate([][]byte{buf}, numBlocks); err != nil {
			t.Fatalf("trial %d: Generate: %v", trial, err)
		}
		if err := newTestContext(t, params).Verify([][]byte{buf}, numBlocks); err != nil {
			t.Fatalf("trial %d (%+v): Verify: %v", trial, params, err)
		}
	}
}
