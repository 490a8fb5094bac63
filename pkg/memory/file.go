package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
)

const (
	DefaultPath = "data/problem_memory.json"

	fileMode        = 0o600
	dirMode         = 0o700
	tempFilePattern = ".problem_memory-*.json.tmp"
)

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

// lockForPath returns the mutex shared by every FileLog opened on path
func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}
	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

// FileLog stores the log as a JSON array in a local file
type FileLog struct {
	path string
	mu   *sync.RWMutex
}

var _ Log = (*FileLog)(nil)

// NewFileLog opens the log at path. The file is created on first append.
func NewFileLog(path string) (*FileLog, error) {
	if path == "" {
		path = DefaultPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve memory path", goerr.V("path", path))
	}
	abs = filepath.Clean(abs)

	return &FileLog{path: abs, mu: lockForPath(abs)}, nil
}

// Path returns the resolved file path
func (l *FileLog) Path() string {
	return l.path
}

func (l *FileLog) Append(ctx context.Context, entry model.MemoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.read()
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	return l.write(entries)
}

func (l *FileLog) List(ctx context.Context) ([]model.MemoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.read()
}

func (l *FileLog) read() ([]model.MemoryEntry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []model.MemoryEntry{}, nil
		}
		return nil, goerr.Wrap(err, "failed to read memory file", goerr.V("path", l.path))
	}

	entries, err := decode(data)
	if err != nil {
		return nil, goerr.Wrap(err, "corrupted memory file", goerr.V("path", l.path))
	}
	return entries, nil
}

func (l *FileLog) write(entries []model.MemoryEntry) error {
	if err := os.MkdirAll(filepath.Dir(l.path), dirMode); err != nil {
		return goerr.Wrap(err, "failed to create memory directory", goerr.V("path", l.path))
	}

	data, err := encode(entries)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), tempFilePattern)
	if err != nil {
		return goerr.Wrap(err, "failed to create temp memory file")
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to write temp memory file", goerr.V("tmp", tmpName))
	}
	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to chmod temp memory file", goerr.V("tmp", tmpName))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close temp memory file", goerr.V("tmp", tmpName))
	}

	if err := os.Rename(tmpName, l.path); err != nil {
		return goerr.Wrap(err, "failed to replace memory file", goerr.V("path", l.path))
	}
	cleanup = false

	return nil
}
