package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func runsCommand() *cli.Command {
	var (
		cfg   config
		limit int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of runs to show",
			Value:       10,
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, auditFlags(&cfg)...)

	return &cli.Command{
		Name:  "runs",
		Usage: "Show recent runs from the BigQuery audit table",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)

			if cfg.auditProject == "" {
				return goerr.New("audit-project is required")
			}
			bq, err := cfg.newAudit(ctx)
			if err != nil {
				return err
			}

			records, err := bq.Recent(ctx, int(limit))
			if err != nil {
				return err
			}

			w := c.Root().Writer
			for _, r := range records {
				status := "unverified"
				if r.IsCorrect {
					status = "verified"
				}
				if r.Committed {
					status += ", committed"
				}
				fmt.Fprintf(w, "%s  %s  [%s] %s (%s)\n",
					r.CreatedAt.Format("2006-01-02 15:04:05"), r.RunID, r.Category, r.ProblemText, status)
			}
			return nil
		},
	}
}
