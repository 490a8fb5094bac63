package knowledge

import (
	"context"
	_ "embed"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/metrics"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/m-mizutani/mathmentor/pkg/utils/logging"
	"github.com/patrickmn/go-cache"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultBatchSize    = 5
	DefaultK            = 5
)

// Embedder produces embedding vectors; adapter.LLM satisfies it
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Store ingests documents into an Index and answers nearest neighbor queries
type Store struct {
	index    Index
	embedder Embedder

	splitter  textsplitter.RecursiveCharacter
	batchSize int
	limiter   *rate.Limiter
	cache     *cache.Cache
	metrics   *metrics.Metrics

	seedMu sync.Mutex
	seeded bool
}

type Option func(*Store)

// WithBatchSize sets how many chunks are embedded and upserted together
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithChunking overrides the chunk size and overlap
func WithChunking(size, overlap int) Option {
	return func(s *Store) {
		s.splitter = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		)
	}
}

// WithBatchRate limits embedding batches per second during ingestion
func WithBatchRate(perSecond float64) Option {
	return func(s *Store) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New creates a store over index
func New(index Index, embedder Embedder, opts ...Option) *Store {
	s := &Store{
		index:    index,
		embedder: embedder,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(DefaultChunkSize),
			textsplitter.WithChunkOverlap(DefaultChunkOverlap),
		),
		batchSize: DefaultBatchSize,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		cache:     cache.New(10*time.Minute, 20*time.Minute),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest splits documents into overlapping chunks tagged with the file base
// name, embeds them and upserts them in batches.
func (s *Store) Ingest(ctx context.Context, docs []model.Document) (string, error) {
	if err := s.EnsureSeeded(ctx); err != nil {
		return "", err
	}

	n, err := s.ingest(ctx, docs)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully ingested %d documents (%d chunks).", len(docs), n), nil
}

func (s *Store) ingest(ctx context.Context, docs []model.Document) (int, error) {
	var chunks []model.Chunk
	for _, doc := range docs {
		parts, err := s.splitter.SplitText(doc.Content)
		if err != nil {
			return 0, goerr.Wrap(model.ErrRetrieval.Wrap(err), "failed to split document",
				goerr.V("name", doc.Name))
		}

		source := filepath.Base(doc.Name)
		for _, part := range parts {
			chunks = append(chunks, model.Chunk{
				ID:       model.NewChunkID(),
				SourceID: source,
				Content:  part,
			})
		}
	}

	logger := logging.From(ctx)
	for start := 0; start < len(chunks); start += s.batchSize {
		end := min(start+s.batchSize, len(chunks))
		batch := chunks[start:end]

		if err := s.limiter.Wait(ctx); err != nil {
			return 0, goerr.Wrap(err, "ingestion cancelled", goerr.V("done", start))
		}

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, goerr.Wrap(model.ErrRetrieval.Wrap(err), "failed to embed chunks",
				goerr.V("batch_start", start))
		}
		if len(vectors) != len(batch) {
			return 0, goerr.Wrap(model.ErrRetrieval, "unexpected embedding count",
				goerr.V("batch_start", start), goerr.V("want", len(batch)), goerr.V("got", len(vectors)))
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}

		if err := s.index.Upsert(ctx, batch); err != nil {
			return 0, goerr.Wrap(model.ErrRetrieval.Wrap(err), "failed to upsert chunks",
				goerr.V("batch_start", start))
		}

		logger.Debug("upserted chunk batch", "start", start, "size", len(batch), "total", len(chunks))
		s.metrics.Ingested(len(batch))
	}

	return len(chunks), nil
}

type seedEntry struct {
	Source  string `yaml:"source"`
	Content string `yaml:"content"`
}

// EnsureSeeded loads the built-in formula set when the index is empty, so that
// retrieval never comes back empty on a cold start.
func (s *Store) EnsureSeeded(ctx context.Context) error {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()

	if s.seeded {
		return nil
	}

	empty, err := s.index.Empty(ctx)
	if err != nil {
		return goerr.Wrap(model.ErrRetrieval.Wrap(err), "failed to inspect index")
	}

	if empty {
		var entries []seedEntry
		if err := yaml.Unmarshal(seedYAML, &entries); err != nil {
			return goerr.Wrap(err, "failed to parse seed corpus")
		}

		docs := make([]model.Document, len(entries))
		for i, e := range entries {
			docs[i] = model.Document{Name: e.Source, Content: e.Content}
		}

		n, err := s.ingest(ctx, docs)
		if err != nil {
			return goerr.Wrap(err, "failed to seed knowledge index")
		}
		logging.From(ctx).Info("seeded empty knowledge index", "documents", len(docs), "chunks", n)
	}

	s.seeded = true
	return nil
}

// Query returns the k chunks most similar to text
func (s *Store) Query(ctx context.Context, text string, k int) ([]model.Chunk, error) {
	if k <= 0 {
		k = DefaultK
	}

	if err := s.EnsureSeeded(ctx); err != nil {
		return nil, err
	}

	vector, err := s.embedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(ctx, vector, k)
	if err != nil {
		return nil, goerr.Wrap(model.ErrRetrieval.Wrap(err), "failed to search index",
			goerr.V("k", k))
	}

	chunks := make([]model.Chunk, len(hits))
	for i, h := range hits {
		chunks[i] = h.Chunk
		chunks[i].Embedding = nil
	}
	return chunks, nil
}

func (s *Store) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.cache.Get(text); ok {
		s.metrics.Retrieval(true)
		return v.([]float32), nil
	}
	s.metrics.Retrieval(false)

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, goerr.Wrap(model.ErrRetrieval.Wrap(err), "failed to embed query")
	}
	if len(vectors) != 1 {
		return nil, goerr.Wrap(model.ErrRetrieval, "unexpected embedding count", goerr.V("count", len(vectors)))
	}

	s.cache.SetDefault(text, vectors[0])
	return vectors[0], nil
}

// Close releases the index
func (s *Store) Close() error {
	return s.index.Close()
}
