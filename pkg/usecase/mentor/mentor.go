// Package mentor is the application layer of the tutor: it takes input through
// human confirmation, runs the agent graph and records accepted results.
package mentor

import (
	"context"
	"time"

	"github.com/m-mizutani/mathmentor/pkg/adapter"
	"github.com/m-mizutani/mathmentor/pkg/graph"
	"github.com/m-mizutani/mathmentor/pkg/input"
	"github.com/m-mizutani/mathmentor/pkg/memory"
	"github.com/m-mizutani/mathmentor/pkg/metrics"
	"github.com/m-mizutani/mathmentor/pkg/model"
)

// Knowledge is the part of the knowledge store the use case needs
type Knowledge interface {
	Ingest(ctx context.Context, docs []model.Document) (string, error)
	Query(ctx context.Context, text string, k int) ([]model.Chunk, error)
}

// AuditSink receives a record of every finished run
type AuditSink interface {
	Insert(ctx context.Context, records ...*model.AuditRecord) error
}

// UseCase provides the tutor operations shared by the CLI and the MCP server
type UseCase struct {
	normalizer *input.Normalizer
	runner     *graph.Runner
	knowledge  Knowledge
	memory     memory.Log

	audit   AuditSink
	learn   bool
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*UseCase)

// WithAudit sends run records to sink, typically adapter.BigQuery
func WithAudit(sink AuditSink) Option {
	return func(u *UseCase) {
		u.audit = sink
	}
}

var _ AuditSink = (adapter.BigQuery)(nil)

// WithLearning makes Commit also ingest accepted solutions into the knowledge store
func WithLearning(enabled bool) Option {
	return func(u *UseCase) {
		u.learn = enabled
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(u *UseCase) {
		u.metrics = m
	}
}

// WithClock replaces time.Now for audit timestamps
func WithClock(now func() time.Time) Option {
	return func(u *UseCase) {
		u.now = now
	}
}

// New creates a use case
func New(
	normalizer *input.Normalizer,
	runner *graph.Runner,
	knowledge Knowledge,
	log memory.Log,
	opts ...Option,
) *UseCase {
	u := &UseCase{
		normalizer: normalizer,
		runner:     runner,
		knowledge:  knowledge,
		memory:     log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}
