package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"example.com/difgate/internal/common"
	"example.com/difgate/internal/dif"
	"example.com/difgate/internal/manifest"
	"example.com/difgate/internal/payload"
	"example.com/difgate/internal/profile"
	"example.com/difgate/internal/report"
)

// Server coordinates HTTP handlers and manages temporary artifacts
// produced by verification requests.
type Server struct {
	artifacts   *ArtifactStore
	workDir     string
	uploadsDir  string
	profiles    *profile.Store
	patchLog    *common.PatchLog
	concurrency int
	chunkBlocks uint32
}

// Artifact represents a file generated or stored by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

// ArtifactStore keeps track of generated artifacts for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

// NewServer constructs a Server rooted at a temporary workspace
// directory.
func NewServer(opts Options) (*Server, error) {
	profiles, err := loadProfiles(opts)
	if err != nil {
		return nil, err
	}
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "difd-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	s := &Server{
		artifacts:   &ArtifactStore{entries: make(map[string]Artifact)},
		workDir:     workDir,
		uploadsDir:  uploadsDir,
		profiles:    profiles,
		patchLog:    common.NewPatchLog(filepath.Join(workDir, "injections.jsonl")),
		concurrency: concurrency,
		chunkBlocks: opts.ChunkBlocks,
	}
	return s, nil
}

// Close removes any temporary state associated with the server.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (s *Server) addArtifact(path, displayName, contentType, kind string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	id := randomID()
	art := Artifact{
		ID:          id,
		Path:        path,
		Name:        displayName,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
	}
	if art.Name == "" {
		art.Name = filepath.Base(path)
	}
	if art.ContentType == "" {
		art.ContentType = guessContentType(art.Name)
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[id] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.artifacts.mu.RLock()
	art, ok := s.artifacts.entries[id]
	s.artifacts.mu.RUnlock()
	return art, ok
}

// resolvePath accepts either an artifact id from a previous upload or a
// path on the daemon's filesystem.
func (s *Server) resolvePath(token string) (string, error) {
	if token == "" {
		return "", errors.New("empty input path")
	}
	if art, ok := s.getArtifact(token); ok {
		return art.Path, nil
	}
	abs := token
	if !filepath.IsAbs(token) {
		abs = filepath.Clean(token)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	return abs, nil
}

func (s *Server) lookupProfile(id string) (profile.Profile, *dif.Context, error) {
	p, ok := s.profiles.Get(strings.TrimSpace(id))
	if !ok {
		return profile.Profile{}, nil, fmt.Errorf("unknown profile %q", id)
	}
	ctx, err := p.NewContext()
	if err != nil {
		return profile.Profile{}, nil, err
	}
	return p, ctx, nil
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stream := r.URL.Query().Get("stream") == "true"
	var req struct {
		Input       string `json:"input"`
		Profile     string `json:"profile"`
		MaxFindings int    `json:"maxFindings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input required", http.StatusBadRequest)
		return
	}
	inputPath, err := s.resolvePath(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	prof, ctx, err := s.lookupProfile(req.Profile)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var writer *NDJSONWriter
	if stream {
		writer = NewNDJSONWriter(w)
		w.Header().Set("Content-Type", "application/x-ndjson")
	}

	mismatches, verified, err := payload.VerifyFileFindingsParallel(prof.NewContext, inputPath, s.chunkBlocks, s.concurrency, nil, req.MaxFindings)
	if err != nil {
		s.fail(w, writer, http.StatusBadRequest, fmt.Sprintf("verify: %v", err))
		return
	}
	findings := make([]report.Finding, 0, len(mismatches))
	for _, m := range mismatches {
		f := report.FindingFromError(filepath.Base(inputPath), m)
		findings = append(findings, f)
		if writer != nil {
			_ = writer.WriteFinding(f)
		}
	}
	totalBlocks := verified
	if fi, err := os.Stat(inputPath); err == nil {
		if n, err := payload.BlockCount(fi.Size(), ctx.BlockSize()); err == nil {
			totalBlocks = n
		}
	}
	rep := report.Build(filepath.Base(inputPath), prof.ID, ctx.BlockSize(), ctx.MetadataSize(), totalBlocks, verified, findings)

	arts, err := s.saveReportArtifacts(rep, findings)
	if err != nil {
		s.fail(w, writer, http.StatusInternalServerError, err.Error())
		return
	}
	if stream {
		_ = writer.WriteObject(struct {
			Type      string                    `json:"type"`
			Report    report.VerificationReport `json:"report"`
			Artifacts []ArtifactRef             `json:"artifacts"`
		}{Type: "report", Report: rep, Artifacts: arts})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Report    report.VerificationReport `json:"report"`
		Artifacts []ArtifactRef             `json:"artifacts"`
	}{Report: rep, Artifacts: arts})
}

// saveReportArtifacts writes the findings NDJSON, the report JSON, the
// rendered PDF and its QR stamp, registering each for download.
func (s *Server) saveReportArtifacts(rep report.VerificationReport, findings []report.Finding) ([]ArtifactRef, error) {
	findingsPath, err := s.tempPath("findings-*.ndjson")
	if err != nil {
		return nil, fmt.Errorf("findings temp: %w", err)
	}
	if err := writeFindingsNDJSON(findingsPath, findings); err != nil {
		return nil, fmt.Errorf("write findings: %w", err)
	}
	repPath, err := s.tempPath("report-*.json")
	if err != nil {
		return nil, fmt.Errorf("report temp: %w", err)
	}
	if err := report.SaveJSON(rep, repPath); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	pdfPath, err := s.tempPath("report-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("report pdf temp: %w", err)
	}
	if err := report.SavePDF(rep, pdfPath); err != nil {
		return nil, fmt.Errorf("write report pdf: %w", err)
	}

	var refs []ArtifactRef
	for _, reg := range []struct {
		path, name, contentType, kind string
	}{
		{findingsPath, "findings.ndjson", "application/x-ndjson", "findings"},
		{repPath, "verification_report.json", "application/json", "report"},
		{pdfPath, "verification_report.pdf", "application/pdf", "report"},
	} {
		art, err := s.addArtifact(reg.path, reg.name, reg.contentType, reg.kind)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", reg.name, err)
		}
		refs = append(refs, toRef(art))
	}

	digest, _, err := common.Sha256OfFile(repPath)
	if err != nil {
		return nil, fmt.Errorf("report digest: %w", err)
	}
	png, err := report.DigestToQR(digest, 256)
	if err != nil {
		return nil, fmt.Errorf("report qr: %w", err)
	}
	qrPath, err := s.tempPath("report-*.png")
	if err != nil {
		return nil, fmt.Errorf("qr temp: %w", err)
	}
	if err := os.WriteFile(qrPath, png, 0o644); err != nil {
		return nil, fmt.Errorf("write qr: %w", err)
	}
	qrArt, err := s.addArtifact(qrPath, "report_digest.png", "image/png", "report")
	if err != nil {
		return nil, fmt.Errorf("register qr: %w", err)
	}
	return append(refs, toRef(qrArt)), nil
}

func writeFindingsNDJSON(path string, findings []report.Finding) error {
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

func (s *Server) fail(w http.ResponseWriter, writer *NDJSONWriter, status int, msg string) {
	if writer != nil {
		_ = writer.WriteObject(map[string]any{"type": "error", "error": msg})
		return
	}
	http.Error(w, msg, status)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Input   string `json:"input"`
		Profile string `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input required", http.StatusBadRequest)
		return
	}
	inputPath, err := s.resolvePath(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	_, ctx, err := s.lookupProfile(req.Profile)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	blocks, err := payload.GenerateFile(ctx, inputPath, s.chunkBlocks, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("generate: %v", err), http.StatusBadRequest)
		return
	}
	art, err := s.addArtifact(inputPath, filepath.Base(inputPath), "application/octet-stream", "payload")
	if err != nil {
		http.Error(w, fmt.Sprintf("register payload: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Blocks   uint32      `json:"blocks"`
		Artifact ArtifactRef `json:"artifact"`
	}{Blocks: blocks, Artifact: toRef(art)})
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Input   string `json:"input"`
		Profile string `json:"profile"`
		Field   string `json:"field"`
		Block   *int   `json:"block"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input required", http.StatusBadRequest)
		return
	}
	inputPath, err := s.resolvePath(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	_, ctx, err := s.lookupProfile(req.Profile)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flags, err := dif.ParseInjectFlags(req.Field)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	block := dif.InjectAnyBlock
	if req.Block != nil {
		block = *req.Block
	}
	res, err := payload.InjectFile(ctx, inputPath, flags, block, s.patchLog)
	if err != nil {
		http.Error(w, fmt.Sprintf("inject: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Block     uint32 `json:"block"`
		Offset    int64  `json:"offset"`
		BeforeHex string `json:"beforeHex"`
		AfterHex  string `json:"afterHex"`
	}{Block: res.Block, Offset: res.Offset, BeforeHex: res.BeforeHex, AfterHex: res.AfterHex})
}

func (s *Server) handleRemap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Input     string `json:"input"`
		Profile   string `json:"profile"`
		NewRefTag uint64 `json:"newRefTag"`
		CheckTags bool   `json:"checkTags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input required", http.StatusBadRequest)
		return
	}
	inputPath, err := s.resolvePath(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	_, ctx, err := s.lookupProfile(req.Profile)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	blocks, err := payload.RemapFile(ctx, inputPath, req.NewRefTag, req.CheckTags, s.chunkBlocks)
	if err != nil {
		http.Error(w, fmt.Sprintf("remap: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Blocks uint32 `json:"blocks"`
	}{Blocks: blocks})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Inputs []string `json:"inputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "inputs required", http.StatusBadRequest)
		return
	}
	paths := make([]string, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		p, err := s.resolvePath(in)
		if err != nil {
			http.Error(w, fmt.Sprintf("input resolve %s: %v", in, err), http.StatusBadRequest)
			return
		}
		paths = append(paths, p)
	}
	m, err := manifest.Build(paths)
	if err != nil {
		http.Error(w, fmt.Sprintf("build manifest: %v", err), http.StatusInternalServerError)
		return
	}
	outPath, err := s.tempPath("manifest-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("manifest temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := manifest.Save(m, outPath); err != nil {
		http.Error(w, fmt.Sprintf("write manifest: %v", err), http.StatusInternalServerError)
		return
	}
	art, err := s.addArtifact(outPath, "manifest.json", "application/json", "manifest")
	if err != nil {
		http.Error(w, fmt.Sprintf("register manifest: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Manifest manifest.Manifest `json:"manifest"`
		Artifact ArtifactRef       `json:"artifact"`
	}{Manifest: m, Artifact: toRef(art)})
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Profiles []profile.Profile `json:"profiles"`
	}{Profiles: s.profiles.List()})
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "artifact id required", http.StatusBadRequest)
		return
	}
	art, ok := s.getArtifact(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	if _, err := io.Copy(w, f); err != nil {
		common.Logf("artifact %s download: %v", id, err)
	}
}

func (s *Server) handleArtifactList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Artifacts []ArtifactRef `json:"artifacts"`
	}{Artifacts: s.listArtifacts()})
}

func (s *Server) listArtifacts() []ArtifactRef {
	s.artifacts.mu.RLock()
	defer s.artifacts.mu.RUnlock()
	out := make([]ArtifactRef, 0, len(s.artifacts.entries))
	for _, art := range s.artifacts.entries {
		out = append(out, toRef(art))
	}
	return out
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func guessContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".ndjson", ".jsonl":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}

func randomID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(buf)
}
