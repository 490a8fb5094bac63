package knowledge

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreIndex stores chunks in a Firestore collection and relies on a
// Firestore vector index over the embedding field for nearest neighbor search.
type FirestoreIndex struct {
	client     *firestore.Client
	collection string
}

type firestoreChunk struct {
	SourceID  string             `firestore:"source_id"`
	Content   string             `firestore:"content"`
	Embedding firestore.Vector32 `firestore:"embedding"`
	CreatedAt time.Time          `firestore:"created_at"`
	Distance  float64            `firestore:"distance,omitempty"`
}

// NewFirestoreIndex connects to the given database. collection defaults to "knowledge_chunks".
func NewFirestoreIndex(ctx context.Context, projectID, databaseID, collection string) (*FirestoreIndex, error) {
	if collection == "" {
		collection = "knowledge_chunks"
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	return &FirestoreIndex{client: client, collection: collection}, nil
}

func (x *FirestoreIndex) Upsert(ctx context.Context, chunks []model.Chunk) error {
	bw := x.client.BulkWriter(ctx)

	jobs := make([]*firestore.BulkWriterJob, 0, len(chunks))
	now := time.Now()
	for _, c := range chunks {
		doc := x.client.Collection(x.collection).Doc(string(c.ID))
		job, err := bw.Set(doc, &firestoreChunk{
			SourceID:  c.SourceID,
			Content:   c.Content,
			Embedding: firestore.Vector32(c.Embedding),
			CreatedAt: now,
		})
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue chunk", goerr.V("id", c.ID))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to write chunk", goerr.V("id", chunks[i].ID))
		}
	}
	return nil
}

func (x *FirestoreIndex) Search(ctx context.Context, vector []float32, k int) ([]model.ScoredChunk, error) {
	q := x.client.Collection(x.collection).FindNearest("embedding",
		firestore.Vector32(vector), k, firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: "distance"})

	iter := q.Documents(ctx)
	defer iter.Stop()

	var hits []model.ScoredChunk
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			if status.Code(err) == codes.FailedPrecondition {
				return nil, goerr.Wrap(err, "vector index is missing; create a Firestore vector index on the embedding field",
					goerr.V("collection", x.collection), goerr.V("dimension", len(vector)))
			}
			return nil, goerr.Wrap(err, "failed to run vector search", goerr.V("collection", x.collection))
		}

		var fc firestoreChunk
		if err := snap.DataTo(&fc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode chunk", goerr.V("id", snap.Ref.ID))
		}

		hits = append(hits, model.ScoredChunk{
			Chunk: model.Chunk{
				ID:        model.ChunkID(snap.Ref.ID),
				SourceID:  fc.SourceID,
				Content:   fc.Content,
				Embedding: fc.Embedding,
			},
			// cosine distance is 1 - similarity
			Score: 1 - fc.Distance,
		})
	}
	return hits, nil
}

func (x *FirestoreIndex) Empty(ctx context.Context) (bool, error) {
	iter := x.client.Collection(x.collection).Limit(1).Documents(ctx)
	defer iter.Stop()

	_, err := iter.Next()
	if err == iterator.Done {
		return true, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "failed to check collection", goerr.V("collection", x.collection))
	}
	return false, nil
}

func (x *FirestoreIndex) Close() error {
	if err := x.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close firestore client")
	}
	return nil
}
