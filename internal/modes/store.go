package modes

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store loads per-mode configs from <dir>/<mode>.yaml and caches them. When a
// file for a mode does not exist, the built-in defaults are used. Read-only at
// decision time; Reload drops the cache between sessions or tuning runs.
type Store struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]ModeConfig
}

// NewStore creates a mode config store rooted at dir. Empty dir means defaults
// only.
func NewStore(dir string) *Store {
	return &Store{
		dir:   dir,
		cache: make(map[string]ModeConfig),
	}
}

// Get returns the config for a mode.
func (s *Store) Get(mode string) (ModeConfig, error) {
	s.mu.RLock()
	if cfg, ok := s.cache[mode]; ok {
		s.mu.RUnlock()
		return cfg, nil
	}
	s.mu.RUnlock()

	cfg, err := s.load(mode)
	if err != nil {
		return ModeConfig{}, err
	}

	s.mu.Lock()
	s.cache[mode] = cfg
	s.mu.Unlock()
	return cfg, nil
}

// Reload drops all cached configs so the next Get re-reads from disk.
func (s *Store) Reload() {
	s.mu.Lock()
	s.cache = make(map[string]ModeConfig)
	s.mu.Unlock()
}

func (s *Store) load(mode string) (ModeConfig, error) {
	cfg := Default(mode)

	if s.dir != "" {
		path := filepath.Join(s.dir, mode+".yaml")
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return ModeConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
			}
			if cfg.Name == "" {
				cfg.Name = mode
			}
		case os.IsNotExist(err):
			// defaults stand in
		default:
			return ModeConfig{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return ModeConfig{}, err
	}
	return cfg, nil
}

// Save writes a mode config to <dir>/<mode>.yaml. Used by the tuning artifact
// handoff, never by the decision path.
func (s *Store) Save(cfg ModeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if s.dir == "" {
		return fmt.Errorf("mode store has no directory configured")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal mode config: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create mode dir: %w", err)
	}
	path := filepath.Join(s.dir, cfg.Name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	s.mu.Lock()
	delete(s.cache, cfg.Name)
	s.mu.Unlock()
	return nil
}
