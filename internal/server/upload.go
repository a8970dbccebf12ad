package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// maxUploadBytes caps one multipart request. A 520-byte-block payload
// of four million blocks fits, which is far past what a verify round
// trip over HTTP is good for anyway.
const maxUploadBytes = 2 << 30

// handleUpload accepts multipart payload and profile uploads, saving
// each file under the daemon's uploads directory and registering it as
// an artifact the verify and generate endpoints can reference by id.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), http.StatusBadRequest)
		return
	}
	if r.MultipartForm == nil {
		http.Error(w, "no files provided", http.StatusBadRequest)
		return
	}
	var refs []ArtifactRef
	for _, files := range r.MultipartForm.File {
		for _, fh := range files {
			ref, err := s.savePayloadUpload(fh)
			if err != nil {
				http.Error(w, fmt.Sprintf("save upload %s: %v", fh.Filename, err), http.StatusBadRequest)
				return
			}
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}
	resp := struct {
		Files []ArtifactRef `json:"files"`
	}{Files: refs}
	writeJSON(w, http.StatusOK, resp)
}

// savePayloadUpload spools one uploaded file into the uploads
// directory. Block-size validation happens later, against the profile
// a request names, so an upload only has to be non-empty here.
func (s *Server) savePayloadUpload(fh *multipart.FileHeader) (ArtifactRef, error) {
	if fh == nil {
		return ArtifactRef{}, fmt.Errorf("nil file header")
	}
	if fh.Size == 0 {
		return ArtifactRef{}, fmt.Errorf("empty upload")
	}
	src, err := fh.Open()
	if err != nil {
		return ArtifactRef{}, err
	}
	defer src.Close()
	ext := filepath.Ext(fh.Filename)
	pattern := "payload-*"
	if ext != "" {
		pattern = fmt.Sprintf("payload-*%s", ext)
	}
	dest, err := os.CreateTemp(s.uploadsDir, pattern)
	if err != nil {
		return ArtifactRef{}, err
	}
	if _, err := io.Copy(dest, src); err != nil {
		dest.Close()
		os.Remove(dest.Name())
		return ArtifactRef{}, err
	}
	dest.Close()
	art, err := s.addArtifact(dest.Name(), fh.Filename, guessContentType(fh.Filename), "upload")
	if err != nil {
		return ArtifactRef{}, err
	}
	return toRef(art), nil
}
