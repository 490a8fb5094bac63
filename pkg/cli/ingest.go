package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const maxParallelReads = 8

func ingestCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "ingest",
		Usage:     "Add documents to the knowledge store",
		ArgsUsage: "<file>...",
		Flags:     allFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)

			paths := c.Args().Slice()
			if len(paths) == 0 {
				return goerr.New("at least one file is required")
			}

			docs, err := readDocuments(ctx, paths)
			if err != nil {
				return err
			}

			uc, closer, err := cfg.newUseCase(ctx, nil)
			if err != nil {
				return err
			}
			defer closer()

			summary, err := uc.Ingest(ctx, docs)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.Root().Writer, summary)
			return nil
		},
	}
}

// readDocuments loads the files concurrently, keeping argument order
func readDocuments(ctx context.Context, paths []string) ([]model.Document, error) {
	docs := make([]model.Document, len(paths))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxParallelReads)
	for i, path := range paths {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Clean(path))
			if err != nil {
				return goerr.Wrap(err, "failed to read document", goerr.V("path", path))
			}
			docs[i] = model.Document{Name: path, Content: string(data)}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}
