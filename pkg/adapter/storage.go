package adapter

import (
	"context"
	"errors"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/googleapi"
)

var (
	// ErrObjectNotFound is returned by Read when the object does not exist
	ErrObjectNotFound = goerr.New("object not found")

	// ErrPreconditionFailed is returned by Write when the object changed since it was read
	ErrPreconditionFailed = goerr.New("object generation precondition failed")
)

// Storage is the interface for whole-object reads and conditional writes
type Storage interface {
	// Read returns the object body and its generation
	Read(ctx context.Context, key string) ([]byte, int64, error)
	// Write replaces the object only if its generation still equals generation.
	// generation 0 means the object must not exist yet.
	Write(ctx context.Context, key string, data []byte, generation int64) error
}

// storageClient implements Storage interface using Cloud Storage
type storageClient struct {
	bucketName string
	client     *storage.Client
}

// NewStorage creates a new Cloud Storage client
func NewStorage(ctx context.Context, bucketName string) (Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &storageClient{
		bucketName: bucketName,
		client:     client,
	}, nil
}

func (s *storageClient) Read(ctx context.Context, key string) ([]byte, int64, error) {
	obj := s.client.Bucket(s.bucketName).Object(key)
	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, 0, goerr.Wrap(ErrObjectNotFound, "object does not exist", goerr.V("key", key))
		}
		return nil, 0, goerr.Wrap(err, "failed to read from storage", goerr.V("key", key))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to read object body", goerr.V("key", key))
	}

	return data, reader.Attrs.Generation, nil
}

func (s *storageClient) Write(ctx context.Context, key string, data []byte, generation int64) error {
	cond := storage.Conditions{GenerationMatch: generation}
	if generation == 0 {
		cond = storage.Conditions{DoesNotExist: true}
	}

	obj := s.client.Bucket(s.bucketName).Object(key).If(cond)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return goerr.Wrap(err, "failed to write object", goerr.V("key", key))
	}

	if err := writer.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return goerr.Wrap(ErrPreconditionFailed, "object was modified concurrently",
				goerr.V("key", key), goerr.V("generation", generation))
		}
		return goerr.Wrap(err, "failed to close object writer", goerr.V("key", key))
	}

	return nil
}
