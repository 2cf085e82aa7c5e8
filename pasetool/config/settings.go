package config

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrSettingsClosed is returned once the settings store has been closed.
var ErrSettingsClosed = errors.New("settings closed")

// Settings exposes the runtime-adjustable part of Config.
// Reads are lock free; writes are persisted to path when it is set.
type Settings struct {
	mu     sync.Mutex
	cfg    *Config
	path   string
	mark   atomic.Bool
	closed atomic.Bool
}

// NewSettings wraps cfg. An empty path keeps changes in memory only.
func NewSettings(cfg *Config, path string) *Settings {
	s := &Settings{cfg: cfg, path: path}
	s.mark.Store(cfg.MarkRequests)
	return s
}

// MarkRequests reports whether substituted requests should be annotated.
func (s *Settings) MarkRequests() (bool, error) {
	if s.closed.Load() {
		return false, ErrSettingsClosed
	}
	return s.mark.Load(), nil
}

// SetMarkRequests changes the marking preference, persisting it first.
// On a write failure the previous value stays in effect.
func (s *Settings) SetMarkRequests(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrSettingsClosed
	}
	prev := s.cfg.MarkRequests
	s.cfg.MarkRequests = v
	if s.path != "" {
		if err := s.cfg.Save(s.path); err != nil {
			s.cfg.MarkRequests = prev
			return fmt.Errorf("save config: %w", err)
		}
	}
	s.mark.Store(v)
	return nil
}

// Close makes further reads fail.
func (s *Settings) Close() {
	s.closed.Store(true)
}
