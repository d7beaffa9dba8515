package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"lexy/pkg/llm"
)

var filenameSafe = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

// FileStore keeps one JSON file per session under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("history_%s.json", filenameSafe.ReplaceAllString(sessionID, "_")))
}

func (s *FileStore) Load(_ context.Context, sessionID string) ([]llm.Message, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", sessionID, err)
	}

	var msgs []llm.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", sessionID, err)
	}
	return msgs, nil
}

// Save writes through a temporary file so a crash never leaves a torn history.
func (s *FileStore) Save(_ context.Context, sessionID string, messages []llm.Message) error {
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history %s: %w", sessionID, err)
	}

	target := s.path(sessionID)
	tmp, err := os.CreateTemp(s.dir, ".history-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (s *FileStore) Close() error {
	return nil
}
