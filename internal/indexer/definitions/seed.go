package definitions

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/slipstream/indexarr/internal/indexer"
	"github.com/slipstream/indexarr/internal/indexer/types"
)

// SeedFile is the YAML document read by LoadSeedFile.
//
//	profiles:
//	  - name: Standard
//	    enableRss: true
//	indexers:
//	  - name: BakaBT
//	    implementation: bakabt
//	    enabled: true
//	    profiles: [Standard]
//	    settings:
//	      username: me
//	      password: secret
type SeedFile struct {
	Profiles []SeedProfile `yaml:"profiles"`
	Indexers []SeedIndexer `yaml:"indexers"`
}

// SeedProfile declares an application profile.
type SeedProfile struct {
	Name                    string  `yaml:"name"`
	EnableRss               bool    `yaml:"enableRss"`
	EnableAutomaticSearch   bool    `yaml:"enableAutomaticSearch"`
	EnableInteractiveSearch bool    `yaml:"enableInteractiveSearch"`
	ApplicationIDs          []int64 `yaml:"applicationIds"`
}

// SeedIndexer declares an indexer. Profiles refer to SeedProfile names or
// to profiles that already exist.
type SeedIndexer struct {
	Name           string         `yaml:"name"`
	Implementation string         `yaml:"implementation"`
	Enabled        *bool          `yaml:"enabled"`
	Priority       int            `yaml:"priority"`
	Profiles       []string       `yaml:"profiles"`
	Settings       map[string]any `yaml:"settings"`
}

// LoadSeedFile reads and checks a seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a seed document.
func ParseSeed(data []byte) (*SeedFile, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	seen := make(map[string]bool, len(f.Indexers))
	for i, ix := range f.Indexers {
		if ix.Name == "" || ix.Implementation == "" {
			return nil, fmt.Errorf("indexer %d: name and implementation are required", i)
		}
		if seen[ix.Name] {
			return nil, fmt.Errorf("indexer %q declared twice", ix.Name)
		}
		seen[ix.Name] = true
	}
	for i, p := range f.Profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("profile %d: name is required", i)
		}
	}
	return &f, nil
}

// SeedResult counts what Apply changed.
type SeedResult struct {
	ProfilesCreated int
	IndexersCreated int
	IndexersSkipped int
}

// Apply creates the profiles and indexers of f that do not exist yet,
// matched by name. Existing entries are left untouched.
func Apply(ctx context.Context, svc *indexer.Service, f *SeedFile, logger zerolog.Logger) (*SeedResult, error) {
	res := &SeedResult{}

	profiles, err := svc.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	profileIDs := make(map[string]int64, len(profiles))
	for _, p := range profiles {
		profileIDs[p.Name] = p.ID
	}
	for _, sp := range f.Profiles {
		if _, ok := profileIDs[sp.Name]; ok {
			continue
		}
		saved, err := svc.SaveProfile(ctx, &types.AppProfile{
			Name:                    sp.Name,
			EnableRss:               sp.EnableRss,
			EnableAutomaticSearch:   sp.EnableAutomaticSearch,
			EnableInteractiveSearch: sp.EnableInteractiveSearch,
			ApplicationIDs:          sp.ApplicationIDs,
		})
		if err != nil {
			return res, fmt.Errorf("profile %q: %w", sp.Name, err)
		}
		profileIDs[saved.Name] = saved.ID
		res.ProfilesCreated++
	}

	existing, err := svc.List(ctx)
	if err != nil {
		return res, err
	}
	names := make(map[string]bool, len(existing))
	for _, def := range existing {
		names[def.Name] = true
	}

	for _, si := range f.Indexers {
		if names[si.Name] {
			res.IndexersSkipped++
			continue
		}

		input := &indexer.CreateIndexerInput{
			Name:           si.Name,
			Implementation: si.Implementation,
			Priority:       si.Priority,
			Enabled:        si.Enabled == nil || *si.Enabled,
		}
		if len(si.Settings) > 0 {
			raw, err := json.Marshal(si.Settings)
			if err != nil {
				return res, fmt.Errorf("indexer %q: settings: %w", si.Name, err)
			}
			input.Settings = raw
		}
		for _, name := range si.Profiles {
			id, ok := profileIDs[name]
			if !ok {
				return res, fmt.Errorf("indexer %q: unknown profile %q", si.Name, name)
			}
			input.AppProfileIDs = append(input.AppProfileIDs, id)
		}

		def, err := svc.Create(ctx, input)
		if err != nil {
			return res, fmt.Errorf("indexer %q: %w", si.Name, err)
		}
		logger.Info().Int64("id", def.ID).Str("name", def.Name).Msg("Seeded indexer")
		res.IndexersCreated++
	}
	return res, nil
}
