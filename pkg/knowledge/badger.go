package knowledge

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/m-mizutani/mathmentor/pkg/utils/logging"
)

var chunkPrefix = []byte("chunk/")

// BadgerIndex is a directory backed index. Search is an exact cosine scan,
// which is fine for the corpus sizes a single tutor instance ingests.
type BadgerIndex struct {
	db *badger.DB
}

type BadgerOption func(*badger.Options)

// WithInMemory keeps the index in memory only; the directory is ignored
func WithInMemory() BadgerOption {
	return func(o *badger.Options) {
		*o = o.WithDir("").WithValueDir("").WithInMemory(true)
	}
}

// WithLogger routes badger's own logging through slog
func WithLogger(logger *slog.Logger) BadgerOption {
	return func(o *badger.Options) {
		*o = o.WithLogger(logging.NewBadgerLogger(logger))
	}
}

// NewBadgerIndex opens (or creates) an index in dir
func NewBadgerIndex(dir string, opts ...BadgerOption) (*BadgerIndex, error) {
	options := badger.DefaultOptions(dir).WithLogger(logging.NewBadgerLogger(logging.Default()))
	for _, opt := range opts {
		opt(&options)
	}

	db, err := badger.Open(options)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open badger index", goerr.V("dir", dir))
	}
	return &BadgerIndex{db: db}, nil
}

func chunkKey(id model.ChunkID) []byte {
	return append(append([]byte{}, chunkPrefix...), []byte(id)...)
}

func (x *BadgerIndex) Upsert(ctx context.Context, chunks []model.Chunk) error {
	err := x.db.Update(func(txn *badger.Txn) error {
		for _, c := range chunks {
			raw, err := json.Marshal(c)
			if err != nil {
				return goerr.Wrap(err, "failed to marshal chunk", goerr.V("id", c.ID))
			}
			if err := txn.Set(chunkKey(c.ID), raw); err != nil {
				return goerr.Wrap(err, "failed to stage chunk", goerr.V("id", c.ID))
			}
		}
		return nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to write chunks", goerr.V("count", len(chunks)))
	}
	return nil
}

func (x *BadgerIndex) Search(ctx context.Context, vector []float32, k int) ([]model.ScoredChunk, error) {
	var hits []model.ScoredChunk

	err := x.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(chunkPrefix); it.ValidForPrefix(chunkPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var c model.Chunk
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				return goerr.Wrap(err, "failed to decode chunk", goerr.V("key", string(it.Item().Key())))
			}

			hits = append(hits, model.ScoredChunk{Chunk: c, Score: cosine(vector, c.Embedding)})
		}
		return nil
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to scan badger index")
	}

	return topK(hits, k), nil
}

func (x *BadgerIndex) Empty(ctx context.Context) (bool, error) {
	n, err := x.Count(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Count returns the number of indexed chunks
func (x *BadgerIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := x.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = chunkPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count chunks")
	}
	return n, nil
}

func (x *BadgerIndex) Close() error {
	if err := x.db.Close(); err != nil {
		return goerr.Wrap(err, "failed to close badger index")
	}
	return nil
}
