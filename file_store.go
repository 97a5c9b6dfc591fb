package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore persists each run as a JSON file in a directory.
type FileStore[T any] struct {
	basePath string
	mu       sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore[T any](basePath string) (*FileStore[T], error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore[T]{
		basePath: basePath,
	}, nil
}

// Create writes the state only if no file exists for the ID yet.
func (f *FileStore[T]) Create(_ context.Context, sagaID string, state State[T]) error {
	filename, err := f.filename(sagaID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrRunExists
		}
		return fmt.Errorf("failed to create state file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(filename)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return file.Close()
}

// Save writes the state to a temporary file and renames it into place, so
// a crash never leaves a truncated state file behind.
func (f *FileStore[T]) Save(_ context.Context, sagaID string, state State[T]) error {
	filename, err := f.filename(sagaID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

func (f *FileStore[T]) Load(_ context.Context, sagaID string) (*State[T], error) {
	filename, err := f.filename(sagaID)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.read(filename)
}

func (f *FileStore[T]) read(filename string) (*State[T], error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state State[T]
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state %s: %w", filepath.Base(filename), err)
	}

	return &state, nil
}

func (f *FileStore[T]) Delete(_ context.Context, sagaID string) error {
	filename, err := f.filename(sagaID)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(filename); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}

	return nil
}

func (f *FileStore[T]) List(_ context.Context) ([]State[T], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	states := make([]State[T], 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		state, err := f.read(filepath.Join(f.basePath, e.Name()))
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}

	sortStates(states)
	return states, nil
}

// filename returns the path of a run's state file. IDs that could escape
// the base directory are rejected.
func (f *FileStore[T]) filename(sagaID string) (string, error) {
	if sagaID == "" || strings.ContainsAny(sagaID, `/\`) || sagaID == "." || sagaID == ".." {
		return "", fmt.Errorf("invalid saga id %q", sagaID)
	}
	return filepath.Join(f.basePath, sagaID+".json"), nil
}
