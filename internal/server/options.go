package server

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"example.com/difgate/internal/profile"
)

// Options configures server creation.
type Options struct {
	StorageDir string
	// ProfilePath points at the yaml file defining the protection
	// profiles the daemon serves. Ignored when Profiles is set.
	ProfilePath string
	Profiles    *profile.Store
	Concurrency int
	// ChunkBlocks bounds the number of blocks held in memory per
	// request; zero selects the payload package default.
	ChunkBlocks uint32
}

func loadProfiles(opts Options) (*profile.Store, error) {
	if opts.Profiles != nil {
		return opts.Profiles, nil
	}
	path := strings.TrimSpace(opts.ProfilePath)
	if path == "" {
		path = filepath.Join("profiles", "profiles.yaml")
	}
	store, err := profile.EnsureLoaded(path)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	if store.Len() == 0 {
		return nil, errors.New("no profiles configured")
	}
	return store, nil
}
