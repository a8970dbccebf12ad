package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"example.com/difgate/internal/common"
	"example.com/difgate/internal/dif"
	"example.com/difgate/internal/manifest"
	"example.com/difgate/internal/payload"
	"example.com/difgate/internal/profile"
	"example.com/difgate/internal/report"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	switch cmd {
	case "generate":
		generateCmd(os.Args[2:])
	case "verify":
		verifyCmd(os.Args[2:])
	case "inject":
		injectCmd(os.Args[2:])
	case "undo":
		undoCmd(os.Args[2:])
	case "remap":
		remapCmd(os.Args[2:])
	case "report":
		reportCmd(os.Args[2:])
	case "manifest":
		manifestCmd(os.Args[2:])
	case "profiles":
		profilesCmd(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`difctl %s (built %s) <command> [options]

Commands:
  generate  --in <payload> --profile <id> [--profiles <profiles.yaml>] [--chunk-blocks <n>] [--metrics] [--progress]
  verify    --in <payload> --profile <id> [--profiles <profiles.yaml>] --out <report.json> [--pdf <report.pdf>] [--findings <findings.ndjson>] [--qr <digest.png>] [--max-findings <n>] [--concurrency <n>] [--crc] [--metrics] [--progress]
  inject    --in <payload> --profile <id> --field <guard|apptag|reftag|data> [--block <n>] [--audit <audit.jsonl>]
  undo      --in <payload> --audit <audit.jsonl> --out <restored>
  remap     --in <payload> --profile <id> --new-ref-tag <n> [--check]
  report    --report <report.json> --pdf <report.pdf> [--qr <digest.png>]
  manifest  --inputs <comma-separated> --out <manifest.json> [--verify]
  profiles  [--profiles <profiles.yaml>]
`, version, buildDate)
}

func loadProfile(path, id string) (profile.Profile, *dif.Context) {
	store, err := profile.EnsureLoaded(path)
	if err != nil {
		fmt.Println("load profiles:", err)
		os.Exit(1)
	}
	p, ok := store.Get(id)
	if !ok {
		fmt.Printf("unknown profile %q in %s\n", id, path)
		os.Exit(1)
	}
	ctx, err := p.NewContext()
	if err != nil {
		fmt.Println("profile:", err)
		os.Exit(1)
	}
	return p, ctx
}

func setupMetrics(in string, metricsFlag, progressFlag bool) (*common.Metrics, func()) {
	if !metricsFlag && !progressFlag {
		return nil, func() {}
	}
	m := common.NewMetrics()
	if info, err := os.Stat(in); err == nil {
		m.SetTotalBytes(info.Size())
	}
	m.Start()
	stop := func() { m.Stop() }
	if progressFlag {
		stopProgress := common.StartProgressPrinter(os.Stderr, m, 500*time.Millisecond)
		stop = func() {
			stopProgress()
			m.Stop()
		}
	}
	return m, stop
}

func printMetrics(m *common.Metrics) {
	snap := m.Snapshot()
	throughputBps := snap.ThroughputBytesPerSecond()
	mbPerSec := throughputBps / 1_000_000
	fmt.Printf("Metrics: duration=%s blocks=%d mismatches=%d processed=%s throughput=%.2f MB/s\n",
		snap.Duration.Round(10*time.Millisecond),
		snap.Blocks,
		snap.Mismatches,
		common.FormatBytes(snap.Bytes),
		mbPerSec,
	)
}

func generateCmd(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	in := fs.String("in", "", "payload file")
	profilesPath := fs.String("profiles", "profiles/profiles.yaml", "profiles yaml")
	profileID := fs.String("profile", "", "profile id")
	chunkBlocks := fs.Uint("chunk-blocks", 0, "blocks per chunk (0 for default)")
	metricsFlag := fs.Bool("metrics", false, "print throughput metrics")
	progressFlag := fs.Bool("progress", false, "display progress updates")
	fs.Parse(args)

	if *in == "" || *profileID == "" {
		fmt.Println("required: --in, --profile")
		os.Exit(1)
	}

	_, ctx := loadProfile(*profilesPath, *profileID)
	m, stop := setupMetrics(*in, *metricsFlag, *progressFlag)
	blocks, err := payload.GenerateFile(ctx, *in, uint32(*chunkBlocks), m)
	stop()
	if err != nil {
		fmt.Println("generate:", err)
		os.Exit(1)
	}
	fmt.Printf("Generated protection for %d block(s) in %s\n", blocks, *in)
	if m != nil && *metricsFlag {
		printMetrics(m)
	}
}

func verifyCmd(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	in := fs.String("in", "", "payload file")
	profilesPath := fs.String("profiles", "profiles/profiles.yaml", "profiles yaml")
	profileID := fs.String("profile", "", "profile id")
	out := fs.String("out", "verification_report.json", "report output (json)")
	pdfPath := fs.String("pdf", "", "report output (pdf)")
	findingsPath := fs.String("findings", "", "findings output (ndjson)")
	qrPath := fs.String("qr", "", "report digest QR output (png)")
	maxFindings := fs.Int("max-findings", 0, "stop after this many findings (0 for all)")
	chunkBlocks := fs.Uint("chunk-blocks", 0, "blocks per chunk (0 for default)")
	concurrency := fs.Int("concurrency", runtime.NumCPU(), "verify worker count")
	crcFlag := fs.Bool("crc", false, "include a CRC-32C of the data bytes in the report")
	metricsFlag := fs.Bool("metrics", false, "print throughput metrics")
	progressFlag := fs.Bool("progress", false, "display progress updates")
	fs.Parse(args)

	if *in == "" || *profileID == "" {
		fmt.Println("required: --in, --profile")
		os.Exit(1)
	}

	p, ctx := loadProfile(*profilesPath, *profileID)
	stat, err := os.Stat(*in)
	if err != nil {
		fmt.Println("stat input:", err)
		os.Exit(1)
	}
	totalBlocks, err := payload.BlockCount(stat.Size(), ctx.BlockSize())
	if err != nil {
		fmt.Println("input size:", err)
		os.Exit(1)
	}

	m, stop := setupMetrics(*in, *metricsFlag, *progressFlag)
	errs, verified, err := payload.VerifyFileFindingsParallel(p.NewContext, *in, uint32(*chunkBlocks), *concurrency, m, *maxFindings)
	stop()
	if err != nil {
		fmt.Println("verify:", err)
		os.Exit(1)
	}

	findings := make([]report.Finding, 0, len(errs))
	for _, e := range errs {
		findings = append(findings, report.FindingFromError(*in, e))
	}
	rep := report.Build(*in, p.ID, ctx.BlockSize(), ctx.MetadataSize(), totalBlocks, verified, findings)
	if *crcFlag {
		crc32c, err := payload.FileCRC32C(ctx, *in, uint32(*chunkBlocks))
		if err != nil {
			fmt.Println("crc:", err)
			os.Exit(1)
		}
		rep.PayloadCRC32C = fmt.Sprintf("0x%08X", crc32c)
	}

	if err := report.SaveJSON(rep, *out); err != nil {
		fmt.Println("write report:", err)
		os.Exit(1)
	}
	if *findingsPath != "" {
		if err := writeFindingsFile(*findingsPath, findings); err != nil {
			fmt.Println("write findings:", err)
			os.Exit(1)
		}
	}
	if *pdfPath != "" {
		if err := report.SavePDF(rep, *pdfPath); err != nil {
			fmt.Println("write pdf:", err)
			os.Exit(1)
		}
	}
	if *qrPath != "" {
		if err := writeReportQR(*out, *qrPath); err != nil {
			fmt.Println("write qr:", err)
			os.Exit(1)
		}
	}

	fmt.Printf("PASS=%v, blocks=%d, verified=%d, findings=%d\n", rep.Summary.Pass, totalBlocks, verified, rep.Summary.Total)
	if m != nil && *metricsFlag {
		printMetrics(m)
	}
	if !rep.Summary.Pass {
		os.Exit(3)
	}
}

func writeFindingsFile(path string, findings []report.Finding) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, finding := range findings {
		if err := enc.Encode(finding); err != nil {
			return err
		}
	}
	return f.Sync()
}

func writeReportQR(reportPath, qrPath string) error {
	digest, _, err := common.Sha256OfFile(reportPath)
	if err != nil {
		return err
	}
	png, err := report.DigestToQR(digest, 256)
	if err != nil {
		return err
	}
	return os.WriteFile(qrPath, png, 0644)
}

func injectCmd(args []string) {
	fs := flag.NewFlagSet("inject", flag.ExitOnError)
	in := fs.String("in", "", "payload file")
	profilesPath := fs.String("profiles", "profiles/profiles.yaml", "profiles yaml")
	profileID := fs.String("profile", "", "profile id")
	field := fs.String("field", "", "field to corrupt: guard, apptag, reftag, data")
	block := fs.Int("block", dif.InjectAnyBlock, "target block (-1 for random)")
	auditPath := fs.String("audit", "", "audit log output (jsonl)")
	fs.Parse(args)

	if *in == "" || *profileID == "" || *field == "" {
		fmt.Println("required: --in, --profile, --field")
		os.Exit(1)
	}
	flags, err := dif.ParseInjectFlags(*field)
	if err != nil {
		fmt.Println("field:", err)
		os.Exit(1)
	}

	auditLogPath := *auditPath
	if auditLogPath == "" {
		auditLogPath = *in + ".audit.jsonl"
	}
	plog := common.NewPatchLog(auditLogPath)

	_, ctx := loadProfile(*profilesPath, *profileID)
	res, err := payload.InjectFile(ctx, *in, flags, *block, plog)
	if err != nil {
		fmt.Println("inject:", err)
		os.Exit(1)
	}
	fmt.Printf("Corrupted %s of block %d at offset %d (%s -> %s)\n", flags, res.Block, res.Offset, res.BeforeHex, res.AfterHex)
	fmt.Printf("Audit log: %s\n", plog.Path())
}

func undoCmd(args []string) {
	fs := flag.NewFlagSet("undo", flag.ExitOnError)
	in := fs.String("in", "", "corrupted payload file")
	audit := fs.String("audit", "", "audit log (jsonl)")
	out := fs.String("out", "", "restored output file")
	fs.Parse(args)

	if *in == "" || *audit == "" || *out == "" {
		fmt.Println("required: --in, --audit, --out")
		os.Exit(1)
	}

	entries, err := common.ReadPatchLog(*audit)
	if err != nil {
		fmt.Println("read audit:", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Println("audit log is empty")
		os.Exit(1)
	}

	if err := copyFile(*in, *out); err != nil {
		fmt.Println("copy input:", err)
		os.Exit(1)
	}

	f, err := os.OpenFile(*out, os.O_RDWR, 0)
	if err != nil {
		fmt.Println("open output:", err)
		os.Exit(1)
	}
	defer f.Close()

	mismatches := 0
	applied := 0
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		before, err := entry.BeforeBytes()
		if err != nil {
			fmt.Printf("skip entry %d: decode beforeHex failed: %v\n", i, err)
			continue
		}
		after, err := entry.AfterBytes()
		if err != nil {
			fmt.Printf("skip entry %d: decode afterHex failed: %v\n", i, err)
			continue
		}
		if entry.Offset < 0 {
			fmt.Printf("skip entry %d: invalid offset %d\n", i, entry.Offset)
			continue
		}
		mismatch := false
		if len(after) != len(before) {
			mismatch = true
		}
		if len(after) > 0 {
			buf := make([]byte, len(after))
			if _, err := f.ReadAt(buf, entry.Offset); err != nil || !bytes.Equal(buf, after) {
				mismatch = true
			}
		}
		if len(before) > 0 {
			if _, err := f.WriteAt(before, entry.Offset); err != nil {
				fmt.Println("write patch:", err)
				os.Exit(1)
			}
		}
		if mismatch {
			mismatches++
		}
		applied++
	}

	if err := f.Sync(); err != nil {
		fmt.Println("sync output:", err)
		os.Exit(1)
	}

	restoredHash, _, err := common.Sha256OfFile(*out)
	if err != nil {
		fmt.Println("hash restored:", err)
		os.Exit(1)
	}

	fmt.Printf("Reverted %d injection(s) to %s\n", applied, *out)
	fmt.Printf("Restored SHA256: %s\n", restoredHash)
	if mismatches > 0 {
		fmt.Printf("Warning: %d entr(ies) did not match expected corrupted bytes; original bytes reapplied regardless.\n", mismatches)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	dir := filepath.Dir(dst)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func remapCmd(args []string) {
	fs := flag.NewFlagSet("remap", flag.ExitOnError)
	in := fs.String("in", "", "payload file")
	profilesPath := fs.String("profiles", "profiles/profiles.yaml", "profiles yaml")
	profileID := fs.String("profile", "", "profile id")
	newRefTag := fs.Uint64("new-ref-tag", 0, "new initial reference tag")
	check := fs.Bool("check", false, "verify existing reference tags before rewriting")
	chunkBlocks := fs.Uint("chunk-blocks", 0, "blocks per chunk (0 for default)")
	fs.Parse(args)

	if *in == "" || *profileID == "" {
		fmt.Println("required: --in, --profile")
		os.Exit(1)
	}

	_, ctx := loadProfile(*profilesPath, *profileID)
	blocks, err := payload.RemapFile(ctx, *in, *newRefTag, *check, uint32(*chunkBlocks))
	if err != nil {
		fmt.Println("remap:", err)
		os.Exit(1)
	}
	fmt.Printf("Remapped reference tags of %d block(s) to base %d\n", blocks, *newRefTag)
}

func reportCmd(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	reportPath := fs.String("report", "", "verification report json")
	pdfPath := fs.String("pdf", "", "output report PDF")
	qrPath := fs.String("qr", "", "output report digest QR (png)")
	fs.Parse(args)

	if *reportPath == "" {
		fmt.Println("required: --report")
		os.Exit(1)
	}
	rep, err := report.LoadJSON(*reportPath)
	if err != nil {
		fmt.Println("load report:", err)
		os.Exit(1)
	}
	if *pdfPath != "" {
		if err := report.SavePDF(rep, *pdfPath); err != nil {
			fmt.Println("write pdf:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote PDF:", *pdfPath)
	}
	if *qrPath != "" {
		if err := writeReportQR(*reportPath, *qrPath); err != nil {
			fmt.Println("write qr:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote QR:", *qrPath)
	}
	fmt.Printf("PASS=%v, findings=%d\n", rep.Summary.Pass, rep.Summary.Total)
}

func manifestCmd(args []string) {
	fs := flag.NewFlagSet("manifest", flag.ExitOnError)
	inputs := fs.String("inputs", "", "comma-separated paths")
	out := fs.String("out", "manifest.json", "output json")
	verifyFlag := fs.Bool("verify", false, "verify an existing manifest instead of building one")
	fs.Parse(args)

	if *verifyFlag {
		m, err := manifest.Load(*out)
		if err != nil {
			fmt.Println("manifest load:", err)
			os.Exit(1)
		}
		stale, err := manifest.VerifyItems(m)
		if err != nil {
			fmt.Println("manifest verify:", err)
			os.Exit(1)
		}
		if len(stale) == 0 {
			fmt.Printf("OK: %d item(s) match\n", len(m.Items))
			return
		}
		for _, p := range stale {
			fmt.Println("stale:", p)
		}
		os.Exit(3)
	}

	if *inputs == "" {
		fmt.Println("required: --inputs")
		os.Exit(1)
	}
	var paths []string
	for _, p := range strings.Split(*inputs, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		fmt.Println("no input paths specified")
		os.Exit(1)
	}

	m, err := manifest.Build(paths)
	if err != nil {
		fmt.Println("manifest build:", err)
		os.Exit(1)
	}
	if err := manifest.Save(m, *out); err != nil {
		fmt.Println("manifest save:", err)
		os.Exit(1)
	}
	fmt.Println("Wrote", *out)
}

func profilesCmd(args []string) {
	fs := flag.NewFlagSet("profiles", flag.ExitOnError)
	profilesPath := fs.String("profiles", "profiles/profiles.yaml", "profiles yaml")
	fs.Parse(args)

	store, err := profile.EnsureLoaded(*profilesPath)
	if err != nil {
		fmt.Println("load profiles:", err)
		os.Exit(1)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tBLOCK\tMD\tTYPE\tFORMAT\tPRACT")
	for _, p := range store.List() {
		format := p.Format
		if format == "" {
			format = "crc16"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%v\n", p.ID, p.Name, p.BlockSize, p.MetadataSize, p.Type, format, p.Pract)
	}
	w.Flush()
}
