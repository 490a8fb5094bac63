package memory_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mathmentor/pkg/adapter"
	"github.com/m-mizutani/mathmentor/pkg/memory"
	"github.com/m-mizutani/mathmentor/pkg/model"
)

func TestFileLogMissingFile(t *testing.T) {
	log, err := memory.NewFileLog(filepath.Join(t.TempDir(), "nested", "memory.json"))
	gt.NoError(t, err)

	entries, err := log.List(context.Background())
	gt.NoError(t, err)
	gt.A(t, entries).Length(0)
}

func TestFileLogEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	gt.NoError(t, os.WriteFile(path, nil, 0o600))

	log, err := memory.NewFileLog(path)
	gt.NoError(t, err)
	entries, err := log.List(context.Background())
	gt.NoError(t, err)
	gt.A(t, entries).Length(0)
}

func TestFileLogAppendKeepsOrder(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.json")
	log, err := memory.NewFileLog(path)
	gt.NoError(t, err)

	gt.NoError(t, log.Append(ctx, model.MemoryEntry{Problem: "1+1", Solution: "2", Verified: true}))
	gt.NoError(t, log.Append(ctx, model.MemoryEntry{Problem: "2+2", Solution: "4", Verified: true}))

	entries, err := log.List(ctx)
	gt.NoError(t, err)
	gt.A(t, entries).Length(2)
	gt.Equal(t, entries[0].Problem, "1+1")
	gt.Equal(t, entries[1].Solution, "4")

	raw, err := os.ReadFile(path)
	gt.NoError(t, err)
	var onDisk []map[string]any
	gt.NoError(t, json.Unmarshal(raw, &onDisk))
	gt.A(t, onDisk).Length(2)
	gt.Map(t, onDisk[0]).HasKey("problem")
	gt.Map(t, onDisk[0]).HasKey("solution")
	gt.Map(t, onDisk[0]).HasKey("verified")
}

func TestFileLogConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.json")

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// separate handles on the same path share one lock
			log, err := memory.NewFileLog(path)
			if err != nil {
				t.Error(err)
				return
			}
			if err := log.Append(ctx, model.MemoryEntry{Problem: fmt.Sprintf("p%d", i), Verified: true}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	log, err := memory.NewFileLog(path)
	gt.NoError(t, err)
	entries, err := log.List(ctx)
	gt.NoError(t, err)
	gt.A(t, entries).Length(n)

	seen := map[string]bool{}
	for _, e := range entries {
		seen[e.Problem] = true
	}
	gt.Equal(t, len(seen), n)
}

func TestFileLogCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	gt.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	log, err := memory.NewFileLog(path)
	gt.NoError(t, err)
	_, err = log.List(context.Background())
	gt.Error(t, err)
}

// objectStore is an in-memory adapter.Storage with generation preconditions
type objectStore struct {
	mu         sync.Mutex
	data       map[string][]byte
	generation map[string]int64

	// beforeWrite runs once before the first Write, to simulate another writer
	beforeWrite func()
	writes      int
}

func newObjectStore() *objectStore {
	return &objectStore{data: map[string][]byte{}, generation: map[string]int64{}}
}

func (s *objectStore) Read(ctx context.Context, key string) ([]byte, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[key]
	if !ok {
		return nil, 0, goerr.Wrap(adapter.ErrObjectNotFound, "not found", goerr.V("key", key))
	}
	return data, s.generation[key], nil
}

func (s *objectStore) Write(ctx context.Context, key string, data []byte, generation int64) error {
	if hook := s.beforeWrite; hook != nil {
		s.beforeWrite = nil
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.generation[key] != generation {
		return goerr.Wrap(adapter.ErrPreconditionFailed, "generation mismatch")
	}
	s.data[key] = data
	s.generation[key]++
	return nil
}

func TestGCSLogAppendAndList(t *testing.T) {
	ctx := context.Background()
	log := memory.NewGCSLog(newObjectStore(), "")

	entries, err := log.List(ctx)
	gt.NoError(t, err)
	gt.A(t, entries).Length(0)

	gt.NoError(t, log.Append(ctx, model.MemoryEntry{Problem: "a", Solution: "1", Verified: true}))
	gt.NoError(t, log.Append(ctx, model.MemoryEntry{Problem: "b", Solution: "2", Verified: true}))

	entries, err = log.List(ctx)
	gt.NoError(t, err)
	gt.A(t, entries).Length(2)
	gt.Equal(t, entries[1].Problem, "b")
}

func TestGCSLogRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	store := newObjectStore()
	log := memory.NewGCSLog(store, "memory.json")
	other := memory.NewGCSLog(store, "memory.json")

	store.beforeWrite = func() {
		gt.NoError(t, other.Append(ctx, model.MemoryEntry{Problem: "other"}))
	}

	gt.NoError(t, log.Append(ctx, model.MemoryEntry{Problem: "mine"}))

	entries, err := log.List(ctx)
	gt.NoError(t, err)
	gt.A(t, entries).Length(2)
	gt.Equal(t, entries[0].Problem, "other")
	gt.Equal(t, entries[1].Problem, "mine")
	gt.Equal(t, store.writes, 3)
}
