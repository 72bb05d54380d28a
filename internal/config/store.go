package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

// Store holds the live policy snapshot and keeps it in sync with the file on
// disk. Readers get a lock-free immutable snapshot; writers are serialized
// and every mutation is persisted before it becomes visible.
type Store struct {
	path string
	mu   sync.Mutex // serializes Mutate/Reload
	cur  atomic.Pointer[Config]
}

// Open loads the policy from path. When the file does not exist the given
// defaults are persisted and used; any other read, parse, or validation
// failure is returned.
func Open(path string, defaults *Config) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg := new(Config)
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		normalize(cfg)
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		s.cur.Store(cfg)
	case os.IsNotExist(err):
		logrus.WithField("path", path).Warn("Config file not found, writing defaults")
		cfg := defaults.Clone()
		normalize(cfg)
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		if err := s.persist(cfg); err != nil {
			return nil, err
		}
		s.cur.Store(cfg)
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return s, nil
}

// Path returns the location of the policy file.
func (s *Store) Path() string { return s.path }

// Snapshot returns the current policy. The returned value is shared and must
// not be modified; use Mutate for changes.
func (s *Store) Snapshot() *Config { return s.cur.Load() }

// Mutate applies f to a copy of the policy, validates the result, persists it
// atomically, and only then swaps the in-memory snapshot. On any failure the
// prior snapshot stays authoritative and the file is untouched.
func (s *Store) Mutate(f func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur.Load().Clone()
	if err := f(next); err != nil {
		return err
	}
	normalize(next)
	if err := Validate(next); err != nil {
		return err
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.cur.Store(next)
	return nil
}

// Reload re-reads the policy file, for use when it was edited externally.
// A file that fails to parse or validate leaves the current snapshot alone.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", s.path, err)
	}
	cfg := new(Config)
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", s.path, err)
	}
	normalize(cfg)
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("config %s: %w", s.path, err)
	}
	s.cur.Store(cfg)
	return nil
}

// persist writes the policy with a write-to-temp-and-rename so the file on
// disk is always a complete document.
func (s *Store) persist(cfg *Config) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod config: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace config %s: %w", s.path, err)
	}
	return nil
}
