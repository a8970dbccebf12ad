// Package profile maps named protection configurations, loaded from
// yaml, onto engine contexts. A profile captures everything verify and
// generate need besides the payload itself, so the daemon and the CLI
// can refer to a configuration by id.
package profile

import (
	"fmt"
	"sort"
	"strings"

	"example.com/difgate/internal/dif"
)

type Checks struct {
	Guard  bool `yaml:"guard"`
	AppTag bool `yaml:"appTag"`
	RefTag bool `yaml:"refTag"`
}

type Profile struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	BlockSize    uint32 `yaml:"blockSize"`
	MetadataSize uint32 `yaml:"metadataSize"`
	Interleave   bool   `yaml:"interleave"`
	PIFirst      bool   `yaml:"piFirst"`

	// Type is the DIF type, 1 to 3, or 0 to disable protection.
	Type int `yaml:"type"`
	// Format selects the guard algorithm: crc16, crc32 or crc64.
	Format string `yaml:"format"`

	Checks Checks `yaml:"checks"`
	Pract  bool   `yaml:"pract"`

	InitRefTag uint64 `yaml:"initRefTag"`
	AppTag     uint16 `yaml:"appTag"`
	AppTagMask uint16 `yaml:"appTagMask"`
	GuardSeed  uint64 `yaml:"guardSeed"`
}

func parseFormat(s string) (dif.PIFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "crc16":
		return dif.PIFormat16, nil
	case "crc32":
		return dif.PIFormat32, nil
	case "crc64":
		return dif.PIFormat64, nil
	}
	return 0, fmt.Errorf("unknown guard format %q", s)
}

func parseType(n int) (dif.Type, error) {
	switch n {
	case 0:
		return dif.TypeDisable, nil
	case 1:
		return dif.Type1, nil
	case 2:
		return dif.Type2, nil
	case 3:
		return dif.Type3, nil
	}
	return 0, fmt.Errorf("unknown DIF type %d", n)
}

func (c Checks) flags() dif.Flags {
	var f dif.Flags
	if c.Guard {
		f |= dif.FlagGuardCheck
	}
	if c.AppTag {
		f |= dif.FlagAppTagCheck
	}
	if c.RefTag {
		f |= dif.FlagRefTagCheck
	}
	return f
}

// ContextParams translates the profile into engine parameters. The
// returned parameters describe the whole payload starting at stream
// offset zero; callers reposition via SetDataOffset.
func (p Profile) ContextParams() (dif.ContextParams, error) {
	format, err := parseFormat(p.Format)
	if err != nil {
		return dif.ContextParams{}, fmt.Errorf("profile %s: %w", p.ID, err)
	}
	typ, err := parseType(p.Type)
	if err != nil {
		return dif.ContextParams{}, fmt.Errorf("profile %s: %w", p.ID, err)
	}
	flags := p.Checks.flags()
	if p.Pract {
		flags |= dif.FlagNVMePRACT
	}
	return dif.ContextParams{
		BlockSize:          p.BlockSize,
		MetadataSize:       p.MetadataSize,
		MetadataInterleave: p.Interleave,
		PIFirst:            p.PIFirst,
		Type:               typ,
		PIFormat:           format,
		Flags:              flags,
		InitRefTag:         p.InitRefTag,
		AppTag:             p.AppTag,
		AppTagMask:         p.AppTagMask,
		GuardSeed:          p.GuardSeed,
	}, nil
}

// NewContext builds a fresh engine context from the profile.
func (p Profile) NewContext() (*dif.Context, error) {
	params, err := p.ContextParams()
	if err != nil {
		return nil, err
	}
	ctx, err := dif.NewContext(params)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.ID, err)
	}
	return ctx, nil
}

// Store holds the loaded profiles keyed by id.
type Store struct {
	byID map[string]Profile
}

func newStore(profiles []Profile) (*Store, error) {
	s := &Store{byID: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("profile %q has no id", p.Name)
		}
		if _, dup := s.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate profile id %s", p.ID)
		}
		// Fail fast on configurations the engine would refuse anyway.
		if _, err := p.NewContext(); err != nil {
			return nil, err
		}
		s.byID[p.ID] = p
	}
	return s, nil
}

// Get returns the profile with the given id.
func (s *Store) Get(id string) (Profile, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// List returns all profiles sorted by id.
func (s *Store) List() []Profile {
	out := make([]Profile, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of loaded profiles.
func (s *Store) Len() int { return len(s.byID) }
