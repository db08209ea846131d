package backfill

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultStatePath is where import progress is kept unless overridden.
const DefaultStatePath = "~/.scribe/import-state.json"

// ImportState tracks progress for resumable import runs.
type ImportState struct {
	StartedAt          time.Time `json:"started_at"`
	LastProcessedAt    time.Time `json:"last_processed_at"`
	FilesProcessed     []string  `json:"files_processed"`
	FilesRemaining     int       `json:"files_remaining"`
	PagesCaptured      int       `json:"pages_captured"`
	ConversationsSaved int       `json:"conversations_saved"`
	MessagesSaved      int       `json:"messages_saved"`
	Held               int       `json:"held"`
	Errors             []string  `json:"errors"`

	path string // not serialized
}

// LoadState loads the import state from path, or starts a new one.
func LoadState(path string) (*ImportState, error) {
	if path == "" {
		path = DefaultStatePath
	}
	p := expandHome(path)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &ImportState{
				StartedAt: time.Now().UTC(),
				path:      p,
			}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s ImportState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = p
	return &s, nil
}

// Path is the resolved state file location.
func (s *ImportState) Path() string { return s.path }

// Save persists the state to disk.
func (s *ImportState) Save() error {
	s.LastProcessedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0o644)
}

// IsProcessed returns true if the given file has already been imported.
func (s *ImportState) IsProcessed(path string) bool {
	for _, f := range s.FilesProcessed {
		if f == path {
			return true
		}
	}
	return false
}

// MarkProcessed records a file as imported.
func (s *ImportState) MarkProcessed(path string) {
	s.FilesProcessed = append(s.FilesProcessed, path)
}

// AddError records a processing error.
func (s *ImportState) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
