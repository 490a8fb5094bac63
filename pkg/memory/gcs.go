package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/adapter"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/m-mizutani/mathmentor/pkg/utils/logging"
)

const (
	DefaultObject = "problem_memory.json"

	maxAppendAttempts = 5
)

// GCSLog stores the log as a JSON array in a Cloud Storage object. Appends from
// other processes are detected by the object generation and retried.
type GCSLog struct {
	storage adapter.Storage
	object  string
	mu      sync.Mutex
}

var _ Log = (*GCSLog)(nil)

func NewGCSLog(storage adapter.Storage, object string) *GCSLog {
	if object == "" {
		object = DefaultObject
	}
	return &GCSLog{storage: storage, object: object}
}

func (l *GCSLog) Append(ctx context.Context, entry model.MemoryEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for attempt := 1; ; attempt++ {
		entries, generation, err := l.read(ctx)
		if err != nil {
			return err
		}

		data, err := encode(append(entries, entry))
		if err != nil {
			return err
		}

		err = l.storage.Write(ctx, l.object, data, generation)
		if err == nil {
			return nil
		}
		if !errors.Is(err, adapter.ErrPreconditionFailed) || attempt >= maxAppendAttempts {
			return goerr.Wrap(err, "failed to append memory entry",
				goerr.V("object", l.object), goerr.V("attempt", attempt))
		}

		logging.From(ctx).Debug("memory object changed concurrently, retrying",
			"object", l.object, "attempt", attempt)
	}
}

func (l *GCSLog) List(ctx context.Context) ([]model.MemoryEntry, error) {
	entries, _, err := l.read(ctx)
	return entries, err
}

func (l *GCSLog) read(ctx context.Context) ([]model.MemoryEntry, int64, error) {
	data, generation, err := l.storage.Read(ctx, l.object)
	if err != nil {
		if errors.Is(err, adapter.ErrObjectNotFound) {
			return []model.MemoryEntry{}, 0, nil
		}
		return nil, 0, goerr.Wrap(err, "failed to read memory object", goerr.V("object", l.object))
	}

	entries, err := decode(data)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "corrupted memory object", goerr.V("object", l.object))
	}
	return entries, generation, nil
}
