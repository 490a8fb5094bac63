package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

// Version is reported by the MCP server and --version
var Version = "dev"

type Error struct {
	Code    int
	Message string
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "mathmentor",
		Usage:   "Math tutoring agent with verified, explained solutions",
		Version: Version,
		Commands: []*cli.Command{
			solveCommand(),
			ingestCommand(),
			queryCommand(),
			memoryCommand(),
			runsCommand(),
			serveCommand(),
		},
	}
}

func Run(ctx context.Context, argv []string) *Error {
	if err := newRootCommand().Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
