package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/input"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/m-mizutani/mathmentor/pkg/usecase/mentor"
	"github.com/urfave/cli/v3"
)

func solveCommand() *cli.Command {
	var (
		cfg    config
		text   string
		image  string
		audio  string
		yes    bool
		commit bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "text",
			Aliases:     []string{"t"},
			Usage:       "Problem text (positional arguments are used if omitted)",
			Destination: &text,
		},
		&cli.StringFlag{
			Name:        "image",
			Usage:       "Path to a photo or scan of the problem (png, jpeg, gif)",
			Destination: &image,
		},
		&cli.StringFlag{
			Name:        "audio",
			Usage:       "Path to a recording of the problem",
			Destination: &audio,
		},
		&cli.BoolFlag{
			Name:        "yes",
			Aliases:     []string{"y"},
			Usage:       "Accept the transcribed input without editing",
			Destination: &yes,
		},
		&cli.BoolFlag{
			Name:        "commit",
			Usage:       "Save the solution to memory without asking",
			Destination: &commit,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:      "solve",
		Usage:     "Solve, verify and explain a math problem",
		ArgsUsage: "[problem text]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)
			w := c.Root().Writer

			if text == "" {
				text = strings.Join(c.Args().Slice(), " ")
			}
			kind, name, data, err := readProblem(text, image, audio)
			if err != nil {
				return err
			}

			uc, closer, err := cfg.newUseCase(ctx, nil)
			if err != nil {
				return err
			}
			defer closer()

			candidate, err := uc.Normalize(ctx, kind, name, data)
			if err != nil {
				return err
			}

			var rl *readline.Instance
			if !yes {
				rl, err = readline.NewEx(&readline.Config{
					Prompt:          "problem> ",
					Stdout:          w,
					InterruptPrompt: "^C",
					EOFPrompt:       "exit",
				})
				if err != nil {
					return goerr.Wrap(err, "failed to initialize readline")
				}
				defer rl.Close()
			}

			edited, err := review(w, rl, candidate)
			if err != nil {
				return err
			}

			in, err := uc.Confirm(candidate, edited, kind)
			if err != nil {
				return err
			}

			state := runWithProgress(ctx, uc, in)
			fmt.Fprintf(w, "\n%s\n", mentor.Report(state))

			if state.FinalAnswer == nil {
				return nil
			}

			accepted := commit
			if !accepted && rl != nil {
				accepted, err = askAccurate(rl)
				if err != nil {
					return err
				}
			}
			if !accepted {
				return nil
			}

			if _, err := uc.Commit(ctx, state); err != nil {
				return err
			}
			fmt.Fprintln(w, "Saved to memory.")
			return nil
		},
	}
}

// readProblem loads the raw problem from exactly one of the sources
func readProblem(text, image, audio string) (model.InputKind, string, []byte, error) {
	given := 0
	for _, v := range []string{text, image, audio} {
		if v != "" {
			given++
		}
	}
	if given != 1 {
		return "", "", nil, goerr.New("give exactly one of problem text, --image or --audio")
	}

	switch {
	case image != "":
		data, err := os.ReadFile(filepath.Clean(image))
		if err != nil {
			return "", "", nil, goerr.Wrap(err, "failed to read image", goerr.V("path", image))
		}
		return model.InputImage, filepath.Base(image), data, nil

	case audio != "":
		data, err := os.ReadFile(filepath.Clean(audio))
		if err != nil {
			return "", "", nil, goerr.Wrap(err, "failed to read audio", goerr.V("path", audio))
		}
		return model.InputAudio, filepath.Base(audio), data, nil

	default:
		return model.InputText, "", []byte(text), nil
	}
}

// review shows the candidate and lets the user edit it on one line. It
// returns an empty string when no prompt is available.
func review(w io.Writer, rl *readline.Instance, candidate string) (string, error) {
	fmt.Fprintf(w, "Input:\n\n%s\n\n", candidate)
	if rl == nil {
		return "", nil
	}

	fmt.Fprintln(w, "Edit the problem if needed and press Enter.")
	line, err := rl.ReadlineWithDefault(strings.Join(strings.Fields(input.StripBanner(candidate)), " "))
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return "", goerr.Wrap(model.ErrParseAmbiguity, "input was not confirmed")
		}
		return "", goerr.Wrap(err, "failed to read input")
	}
	return line, nil
}

func askAccurate(rl *readline.Instance) (bool, error) {
	rl.SetPrompt("Is this solution accurate? [y/N] ")
	line, err := rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, goerr.Wrap(err, "failed to read answer")
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// runWithProgress streams the run and shows the stage in progress on stderr
func runWithProgress(ctx context.Context, uc *mentor.UseCase, in model.ConfirmedInput) *model.SessionState {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + string(model.StageParser)
	s.Start()
	defer s.Stop()

	state, seq := uc.Stream(ctx, in)
	for stage := range seq {
		s.Lock()
		s.Suffix = " " + string(stage) + " done"
		s.Unlock()
	}
	return state
}
