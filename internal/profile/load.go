package profile

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type yamlFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// Load reads a yaml profile file and returns the validated store.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	if len(file.Profiles) == 0 {
		return nil, errors.New("no profiles defined")
	}
	return newStore(file.Profiles)
}

// EnsureLoaded stats the path before loading so callers get a clear
// error for a missing or misconfigured profile file.
func EnsureLoaded(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("empty profile path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("profile path %s is a directory", path)
	}
	return Load(path)
}
