package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

func memoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect committed solutions",
		Commands: []*cli.Command{
			memoryListCommand(),
		},
	}
}

func memoryListCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, memoryFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List committed solutions in order",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)

			log, err := cfg.newMemory(ctx)
			if err != nil {
				return err
			}

			entries, err := log.List(ctx)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if len(entries) == 0 {
				fmt.Fprintln(w, "No committed solutions.")
				return nil
			}

			for i, e := range entries {
				mark := "✅"
				if !e.Verified {
					mark = "⚠️"
				}
				fmt.Fprintf(w, "%d. %s %s\n   %s\n", i+1, mark, e.Problem, e.Solution)
			}
			return nil
		},
	}
}
