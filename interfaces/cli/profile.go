package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"flowbuilder/infrastructure/config"

	"github.com/BurntSushi/toml"
)

// ProfileFileName is looked up in the home directory
const ProfileFileName = ".flowctl.toml"

// Profile points flowctl at one document store
type Profile struct {
	Backend string `toml:"backend"`

	SupabaseURL   string `toml:"supabase_url"`
	SupabaseKey   string `toml:"supabase_key"`
	SupabaseTable string `toml:"supabase_table"`

	RedisURL    string `toml:"redis_url"`
	RedisPrefix string `toml:"redis_prefix"`

	DynamoDBTable    string `toml:"dynamodb_table"`
	DynamoDBRegion   string `toml:"dynamodb_region"`
	DynamoDBEndpoint string `toml:"dynamodb_endpoint"`
}

// Profiles is the content of the profile file:
//
//	default = "staging"
//
//	[profiles.staging]
//	backend = "supabase"
//	supabase_url = "https://abc.supabase.co"
//	supabase_key = "..."
type Profiles struct {
	Default  string             `toml:"default"`
	Profiles map[string]Profile `toml:"profiles"`
}

// DefaultProfilePath returns ~/.flowctl.toml
func DefaultProfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ProfileFileName
	}
	return filepath.Join(home, ProfileFileName)
}

// LoadProfiles reads path. A missing file yields no profiles.
func LoadProfiles(path string) (*Profiles, error) {
	p := &Profiles{Profiles: map[string]Profile{}}
	if _, err := toml.DecodeFile(path, p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if p.Profiles == nil {
		p.Profiles = map[string]Profile{}
	}
	return p, nil
}

// Names lists the profiles in sorted order
func (p *Profiles) Names() []string {
	names := make([]string, 0, len(p.Profiles))
	for name := range p.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the named profile, or the default one when name is empty
func (p *Profiles) Resolve(name string) (Profile, error) {
	if name == "" {
		name = p.Default
	}
	if name == "" {
		if len(p.Profiles) == 1 {
			for _, only := range p.Profiles {
				return only, nil
			}
		}
		return Profile{}, fmt.Errorf("no profile selected; pass --profile or set default in %s", ProfileFileName)
	}
	profile, ok := p.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("profile %q not found", name)
	}
	return profile, nil
}

// Config turns the profile into a validated server configuration so the
// CLI builds its store exactly the way the server does
func (p Profile) Config() (*config.Config, error) {
	cfg := config.Default()
	cfg.Store.Backend = p.Backend

	cfg.Store.Supabase.URL = p.SupabaseURL
	cfg.Store.Supabase.Key = p.SupabaseKey
	if p.SupabaseTable != "" {
		cfg.Store.Supabase.Table = p.SupabaseTable
	}

	cfg.Store.Redis.URL = p.RedisURL
	if p.RedisPrefix != "" {
		cfg.Store.Redis.Prefix = p.RedisPrefix
	}

	cfg.Store.DynamoDB.Table = p.DynamoDBTable
	if p.DynamoDBRegion != "" {
		cfg.Store.DynamoDB.Region = p.DynamoDBRegion
	}
	cfg.Store.DynamoDB.Endpoint = p.DynamoDBEndpoint

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store.Backend == config.BackendMemory {
		return nil, errors.New("the memory backend lives inside one flowd process and cannot be reached from flowctl")
	}
	return cfg, nil
}
