package report

import (
	"os"
	"path/filepath"
	"testing"

	"example.com/difgate/internal/dif"
)

func sampleFindings() []Finding {
	return []Finding{
		FindingFromError("payload.bin", &dif.Error{Type: dif.ErrTypeGuard, Expected: 0x1D0F, Actual: 0x2A3B, Offset: 2}),
		FindingFromError("payload.bin", &dif.Error{Type: dif.ErrTypeRefTag, Expected: 105, Actual: 900, Offset: 5}),
		FindingFromError("payload.bin", &dif.Error{Type: dif.ErrTypeAppTag, Expected: 0x1234, Actual: 0xFFFF, Offset: 7}),
	}
}

func TestFindingFromError(t *testing.T) {
	f := FindingFromError("payload.bin", &dif.Error{Type: dif.ErrTypeGuard, Expected: 0x1D0F, Actual: 0x2A3B, Offset: 2})
	if f.Block != 2 || f.Kind != "guard" {
		t.Fatalf("finding = %+v", f)
	}
	if f.Expected != "0x1D0F" || f.Actual != "0x2A3B" {
		t.Fatalf("tags not hex formatted: %+v", f)
	}
	if f.Message == "" || f.Ts.IsZero() {
		t.Fatalf("finding incomplete: %+v", f)
	}
}

func TestBuildSummarizesFindings(t *testing.T) {
	rep := Build("payload.bin", "disk-520", 520, 8, 16, 16, sampleFindings())
	if rep.Summary.Total != 3 {
		t.Fatalf("total = %d, want 3", rep.Summary.Total)
	}
	if rep.Summary.Guard != 1 || rep.Summary.RefTag != 1 || rep.Summary.AppTag != 1 {
		t.Fatalf("summary = %+v", rep.Summary)
	}
	if rep.Summary.Pass {
		t.Fatal("report with findings marked as pass")
	}
	if rep.BlockSize != 520 || rep.TotalBlocks != 16 {
		t.Fatalf("layout = %+v", rep)
	}
}

func TestBuildPassRequiresFullCoverage(t *testing.T) {
	clean := Build("payload.bin", "disk-520", 520, 8, 16, 16, nil)
	if !clean.Summary.Pass {
		t.Fatal("clean full run did not pass")
	}
	partial := Build("payload.bin", "disk-520", 520, 8, 16, 12, nil)
	if partial.Summary.Pass {
		t.Fatal("partial run must not pass")
	}
}

func TestSaveLoadJSONRoundTrip(t *testing.T) {
	rep := Build("payload.bin", "disk-520", 520, 8, 16, 16, sampleFindings())
	out := filepath.Join(t.TempDir(), "verification_report.json")
	if err := SaveJSON(rep, out); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}
	got, err := LoadJSON(out)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if got.Summary != rep.Summary {
		t.Fatalf("summary roundtrip: %+v != %+v", got.Summary, rep.Summary)
	}
	if len(got.Findings) != len(rep.Findings) {
		t.Fatalf("findings roundtrip: %d != %d", len(got.Findings), len(rep.Findings))
	}
}

func TestSavePDF(t *testing.T) {
	rep := Build("payload.bin", "disk-520", 520, 8, 16, 16, sampleFindings())
	out := filepath.Join(t.TempDir(), "verification_report.pdf")
	if err := SavePDF(rep, out); err != nil {
		t.Fatalf("SavePDF: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read pdf: %v", err)
	}
	if len(data) < 4 || string(data[:4]) != "%PDF" {
		t.Fatalf("output is not a PDF (%d bytes)", len(data))
	}
}

func TestDigestToQR(t *testing.T) {
	png, err := DigestToQR("9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08", 256)
	if err != nil {
		t.Fatalf("DigestToQR: %v", err)
	}
	if len(png) < 8 || png[0] != 0x89 || string(png[1:4]) != "PNG" {
		t.Fatalf("output is not a PNG (%d bytes)", len(png))
	}
}
