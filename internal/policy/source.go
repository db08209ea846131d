// Package policy loads the capture policy from a YAML file and keeps it fresh
// while the file is edited.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/MikeSquared-Agency/scribe/internal/capture"
)

// ErrPolicyUnavailable is returned when no valid policy can be read. Capture
// never falls back to a default policy.
var ErrPolicyUnavailable = errors.New("capture policy unavailable")

const maxPolicyFileSize = 64 * 1024

// Source provides the current capture policy.
type Source interface {
	Policy(ctx context.Context) (capture.Policy, error)
}

// Static always returns the same policy.
type Static capture.Policy

func (s Static) Policy(context.Context) (capture.Policy, error) {
	return capture.Policy(s), nil
}

// FileSource reads the policy from a YAML file. While Watch runs, the parsed
// policy is cached and refreshed on file events; otherwise every call reads
// the file.
type FileSource struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	watching bool
	current  capture.Policy
	loadErr  error
	onChange []func(capture.Policy)
}

// NewFileSource creates a source for path.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{path: path, logger: logger}
}

// Path returns the policy file path.
func (s *FileSource) Path() string { return s.path }

// OnChange registers fn to run after every successful reload.
func (s *FileSource) OnChange(fn func(capture.Policy)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Policy returns the current policy or an error wrapping ErrPolicyUnavailable.
func (s *FileSource) Policy(ctx context.Context) (capture.Policy, error) {
	if err := ctx.Err(); err != nil {
		return capture.Policy{}, err
	}
	s.mu.RLock()
	if s.watching {
		pol, err := s.current, s.loadErr
		s.mu.RUnlock()
		return pol, err
	}
	s.mu.RUnlock()
	return Load(s.path)
}

// Load reads and validates a policy file.
func Load(path string) (capture.Policy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return capture.Policy{}, fmt.Errorf("%w: read %s: %v", ErrPolicyUnavailable, path, err)
	}
	if len(content) > maxPolicyFileSize {
		return capture.Policy{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrPolicyUnavailable, path, maxPolicyFileSize)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return capture.Policy{}, fmt.Errorf("%w: parse %s: %v", ErrPolicyUnavailable, path, err)
	}
	if !k.Exists("mode") {
		return capture.Policy{}, fmt.Errorf("%w: %s has no mode", ErrPolicyUnavailable, path)
	}

	var pol capture.Policy
	if err := k.Unmarshal("", &pol); err != nil {
		return capture.Policy{}, fmt.Errorf("%w: decode %s: %v", ErrPolicyUnavailable, path, err)
	}
	if pol.Smart.MinTurns < 0 {
		return capture.Policy{}, fmt.Errorf("%w: smart.min_turns must be >= 0, got %d", ErrPolicyUnavailable, pol.Smart.MinTurns)
	}
	if pol.Smart.BlacklistKeywords == nil {
		pol.Smart.BlacklistKeywords = []string{}
	}
	return pol, nil
}

// Save writes pol to path as YAML.
func Save(path string, pol capture.Policy) error {
	k := koanf.New(".")
	keywords := pol.Smart.BlacklistKeywords
	if keywords == nil {
		keywords = []string{}
	}
	for key, val := range map[string]any{
		"mode":                     string(pol.Mode),
		"smart.min_turns":          pol.Smart.MinTurns,
		"smart.blacklist_keywords": keywords,
	} {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	out, err := k.Marshal(yaml.Parser())
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create policy dir: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	return nil
}

// WriteDefault seeds path with capture.DefaultPolicy unless the file exists.
// It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat policy: %w", err)
	}
	if err := Save(path, capture.DefaultPolicy()); err != nil {
		return false, err
	}
	return true, nil
}

// Watch loads the policy and reloads it on every change to the file until ctx
// is done. The parent directory is watched so editors that replace the file
// by rename are handled.
func (s *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch policy dir: %w", err)
	}

	s.reload()
	s.mu.Lock()
	s.watching = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.watching = false
		s.mu.Unlock()
	}()

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				s.reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("policy watcher error", "error", err)
		}
	}
}

func (s *FileSource) reload() {
	pol, err := Load(s.path)

	s.mu.Lock()
	s.current, s.loadErr = pol, err
	listeners := append([]func(capture.Policy){}, s.onChange...)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("capture policy unavailable", "path", s.path, "error", err)
		return
	}
	s.logger.Info("capture policy loaded",
		"path", s.path,
		"mode", string(pol.Mode),
		"min_turns", pol.Smart.MinTurns,
		"blacklist_keywords", len(pol.Smart.BlacklistKeywords),
	)
	for _, fn := range listeners {
		fn(pol)
	}
}
