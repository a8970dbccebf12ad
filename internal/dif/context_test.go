package dif

import "testing"

func TestNewContextRejectsBadParams(t *testing.T) {
	tests := []struct {
		name   string
		params ContextParams
	}{
		{
			name: "metadata smaller than PI",
			params: ContextParams{
				BlockSize: 4100, MetadataSize: 4, MetadataInterleave: true,
				Type: Type1, PIFormat: PIFormat16,
			},
		},
		{
			name: "metadata cannot hold 16-byte PI",
			params: ContextParams{
				BlockSize: 4104, MetadataSize: 8, MetadataInterleave: true,
				Type: Type1, PIFormat: PIFormat64,
			},
		},
		{
			name: "block not larger than interleaved metadata",
			params: ContextParams{
				BlockSize: 8, MetadataSize: 8, MetadataInterleave: true,
				Type: Type1, PIFormat: PIFormat16,
			},
		},
		{
			name: "zero block size",
			params: ContextParams{
				BlockSize: 0, MetadataSize: 8,
				Type: Type1, PIFormat: PIFormat16,
			},
		},
		{
			name: "unknown type",
			params: ContextParams{
				BlockSize: 520, MetadataSize: 8, MetadataInterleave: true,
				Type: Type3 + 1, PIFormat: PIFormat16,
			},
		},
		{
			name: "unknown format",
			params: ContextParams{
				BlockSize: 520, MetadataSize: 8, MetadataInterleave: true,
				Type: Type1, PIFormat: PIFormat64 + 1,
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewContext(tc.params); err == nil {
				t.Fatalf("NewContext(%+v) succeeded, want error", tc.params)
			}
		})
	}
}

func TestPIFormatSize(t *testing.T) {
	if got := PIFormatSize(PIFormat16); got != 8 {
		t.Fatalf("PIFormatSize(PIFormat16) = %d, want 8", got)
	}
	if got := PIFormatSize(PIFormat32); got != 16 {
		t.Fatalf("PIFormatSize(PIFormat32) = %d, want 16", got)
	}
	if got := PIFormatSize(PIFormat64); got != 16 {
		t.Fatalf("PIFormatSize(PIFormat64) = %d, want 16", got)
	}
}

func TestGuardInterval(t *testing.T) {
	tests := []struct {
		name   string
		params ContextParams
		want   uint32
	}{
		{
			name: "interleaved PI last",
			params: ContextParams{
				BlockSize: 4104, MetadataSize: 8, MetadataInterleave: true,
				Type: Type1, PIFormat: PIFormat16,
			},
			want: 4096,
		},
		{
			name: "interleaved PI last extra metadata",
			params: ContextParams{
				BlockSize: 4160, MetadataSize: 64, MetadataInterleave: true,
				Type: Type1, PIFormat: PIFormat16,
			},
			want: 4152,
		},
		{
			name: "interleaved PI first",
			params: ContextParams{
				BlockSize: 4160, MetadataSize: 64, MetadataInterleave: true, PIFirst: true,
				Type: Type1, PIFormat: PIFormat16,
			},
			want: 4096,
		},
		{
			name: "separate PI last",
			params: ContextParams{
				BlockSize: 4096, MetadataSize: 64,
				Type: Type1, PIFormat: PIFormat16,
			},
			want: 56,
		},
		{
			name: "separate PI first",
			params: ContextParams{
				BlockSize: 4096, MetadataSize: 64, PIFirst: true,
				Type: Type1, PIFormat: PIFormat16,
			},
			want: 0,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := newTestContext(t, tc.params)
			if ctx.guardInterval != tc.want {
				t.Fatalf("guardInterval = %d, want %d", ctx.guardInterval, tc.want)
			}
		})
	}
}

func TestGetLengthWithMD(t *testing.T) {
	ctx := newTestContext(t, ContextParams{
		BlockSize: 4104, MetadataSize: 8, MetadataInterleave: true,
		Type: Type1, PIFormat: PIFormat16,
	})
	tests := []struct {
		dataLen uint32
		want    uint32
	}{
		{dataLen: 0, want: 0},
		{dataLen: 4096, want: 4104},
		{dataLen: 4097, want: 4105},
		{dataLen: 8192, want: 8208},
		{dataLen: 100, want: 100},
	}
	for _, tc := range tests {
		if got := ctx.GetLengthWithMD(tc.dataLen); got != tc.want {
			t.Fatalf("GetLengthWithMD(%d) = %d, want %d", tc.dataLen, got, tc.want)
		}
	}

	separate := newTestContext(t, ContextParams{
		BlockSize: 512, MetadataSize: 8,
		Type: Type1, PIFormat: PIFormat16,
	})
	if got := separate.GetLengthWithMD(4096); got != 4096 {
		t.Fatalf("separate GetLengthWithMD(4096) = %d, want 4096", got)
	}
}

func TestGetRangeWithMD(t *testing.T) {
	ctx := newTestContext(t, ContextParams{
		BlockSize: 4104, MetadataSize: 8, MetadataInterleave: true,
		Type: Type1, PIFormat: PIFormat16,
	})
	tests := []struct {
		dataOffset, dataLen uint32
		wantOffset, wantLen uint32
	}{
		{dataOffset: 0, dataLen: 4096, wantOffset: 0, wantLen: 4104},
		{dataOffset: 4096, dataLen: 4096, wantOffset: 4104, wantLen: 4104},
		{dataOffset: 100, dataLen: 3996, wantOffset: 100, wantLen: 4004},
		{dataOffset: 100, dataLen: 4096, wantOffset: 100, wantLen: 4104},
		{dataOffset: 0, dataLen: 10, wantOffset: 0, wantLen: 10},
	}
	for _, tc := range tests {
		gotOffset, gotLen := ctx.GetRangeWithMD(tc.dataOffset, tc.dataLen)
		if gotOffset != tc.wantOffset || gotLen != tc.wantLen {
			t.Fatalf("GetRangeWithMD(%d, %d) = (%d, %d), want (%d, %d)",
				tc.dataOffset, tc.dataLen, gotOffset, gotLen, tc.wantOffset, tc.wantLen)
		}
	}
}

func TestSetDataOffsetRefTagAnchor(t *testing.T) {
	ctx := newTestContext(t, ContextParams{
		BlockSize: 520, MetadataSize: 8, MetadataInterleave: true,
		Type: Type1, PIFormat: PIFormat16, InitRefTag: 100,
	})
	if got := ctx.refTag(0); got != 100 {
		t.Fatalf("refTag(0) = %d, want 100", got)
	}
	ctx.SetDataOffset(3 * 512)
	if got := ctx.refTag(0); got != 103 {
		t.Fatalf("refTag(0) after SetDataOffset = %d, want 103", got)
	}
	if got := ctx.refTag(2); got != 105 {
		t.Fatalf("refTag(2) after SetDataOffset = %d, want 105", got)
	}
}
