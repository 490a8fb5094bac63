package mentor

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
)

// Ingest adds documents to the knowledge store
func (u *UseCase) Ingest(ctx context.Context, docs []model.Document) (string, error) {
	if len(docs) == 0 {
		return "", goerr.New("no documents to ingest")
	}
	return u.knowledge.Ingest(ctx, docs)
}

// Query returns the k chunks nearest to text
func (u *UseCase) Query(ctx context.Context, text string, k int) ([]model.Chunk, error) {
	if text == "" {
		return nil, goerr.New("query text is empty")
	}
	return u.knowledge.Query(ctx, text, k)
}
