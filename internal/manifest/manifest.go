// Package manifest records the artifacts of a verification run (payload
// images, reports, audit logs) with their sizes and digests, so a
// delivered bundle can be re-checked end to end.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"example.com/difgate/internal/common"
)

type Item struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Type   string `json:"type"`
}

type Manifest struct {
	CreatedAt time.Time `json:"createdAt"`
	ShaAlgo   string    `json:"shaAlgo"`
	Items     []Item    `json:"items"`
}

func Build(paths []string) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256"}
	for _, p := range paths {
		hex, sz, err := common.Sha256OfFile(p)
		if err != nil {
			return m, err
		}
		typ := "other"
		switch {
		case hasExt(p, ".bin", ".img", ".blk"):
			typ = "payload"
		case hasExt(p, ".ndjson", ".jsonl"):
			typ = "findings"
		case hasExt(p, ".json"):
			typ = "json"
		case hasExt(p, ".pdf"):
			typ = "pdf"
		}
		m.Items = append(m.Items, Item{Path: p, Size: sz, Sha256: hex, Type: typ})
	}
	return m, nil
}

func hasExt(path string, exts ...string) bool {
	for _, e := range exts {
		if len(path) >= len(e) && path[len(path)-len(e):] == e {
			return true
		}
	}
	return false
}

func Save(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func Load(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// VerifyItems re-hashes every item and returns the paths whose content
// no longer matches the manifest.
func VerifyItems(m Manifest) ([]string, error) {
	var stale []string
	for _, item := range m.Items {
		hex, sz, err := common.Sha256OfFile(item.Path)
		if err != nil {
			return stale, err
		}
		if hex != item.Sha256 || sz != item.Size {
			stale = append(stale, item.Path)
		}
	}
	return stale, nil
}
