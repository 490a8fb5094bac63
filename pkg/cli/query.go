package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func queryCommand() *cli.Command {
	var (
		cfg config
		k   int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "k",
			Usage:       "Number of chunks to return",
			Value:       3,
			Sources:     cli.EnvVars("MATHMENTOR_QUERY_K"),
			Destination: &k,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:      "query",
		Usage:     "Show the knowledge chunks nearest to a text",
		ArgsUsage: "<text>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)

			text := strings.Join(c.Args().Slice(), " ")
			if text == "" {
				return goerr.New("query text is required")
			}

			uc, closer, err := cfg.newUseCase(ctx, nil)
			if err != nil {
				return err
			}
			defer closer()

			chunks, err := uc.Query(ctx, text, int(k))
			if err != nil {
				return err
			}

			w := c.Root().Writer
			for i, chunk := range chunks {
				fmt.Fprintf(w, "[%d] %s\n%s\n\n", i+1, chunk.SourceID, chunk.Content)
			}
			return nil
		},
	}
}
