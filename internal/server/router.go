package server

import "net/http"

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) (http.Handler, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/verify", s.handleVerify)
	mux.HandleFunc("/generate", s.handleGenerate)
	mux.HandleFunc("/inject", s.handleInject)
	mux.HandleFunc("/remap", s.handleRemap)
	mux.HandleFunc("/manifest", s.handleManifest)
	mux.HandleFunc("/profiles", s.handleProfiles)
	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/artifacts", s.handleArtifactList)
	mux.HandleFunc("/artifacts/", s.handleArtifactDownload)
	return mux, nil
}
