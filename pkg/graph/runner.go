package graph

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/metrics"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/m-mizutani/mathmentor/pkg/utils/logging"
)

// StageFunc runs one stage. It reads the state and returns only the fields it
// produces; it must not mutate s. Failures are reported inside the delta.
type StageFunc func(ctx context.Context, s *model.SessionState) model.Delta

// Stages maps each stage of a table to its implementation
type Stages map[model.Stage]StageFunc

const (
	DefaultStageTimeout = 2 * time.Minute

	// maxSteps stops tables that loop
	maxSteps = 32
)

// Outcome labels how a run ended
const (
	OutcomeClarification = "clarification"
	OutcomeRejected      = "rejected"
	OutcomeCompleted     = "completed"
	OutcomeAborted       = "aborted"
)

// Runner executes stages strictly in sequence following a Table
type Runner struct {
	table        Table
	stages       Stages
	entry        model.Stage
	stageTimeout time.Duration
	metrics      *metrics.Metrics
}

type Option func(*Runner)

func WithTable(t Table) Option {
	return func(r *Runner) {
		r.table = t
	}
}

func WithStageTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.stageTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// New creates a runner. Every stage named by the table needs an implementation.
func New(stages Stages, opts ...Option) (*Runner, error) {
	r := &Runner{
		table:        DefaultTable(),
		stages:       stages,
		entry:        model.StageParser,
		stageTimeout: DefaultStageTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, s := range r.table.Stages() {
		if r.stages[s] == nil {
			return nil, goerr.New("stage has no implementation", goerr.V("stage", s))
		}
	}
	return r, nil
}

// Run returns the stages of a run as they finish, with the delta each produced.
// Nothing executes until the sequence is iterated, and every iteration starts
// a fresh session state. Breaking out of the loop stops the run before the
// next stage.
func (r *Runner) Run(ctx context.Context, in model.ConfirmedInput) iter.Seq2[model.Stage, model.Delta] {
	return func(yield func(model.Stage, model.Delta) bool) {
		for stage, delta := range r.Steps(ctx, model.NewSessionState(in)) {
			if !yield(stage, delta) {
				return
			}
		}
	}
}

// Execute runs to completion and returns the final state
func (r *Runner) Execute(ctx context.Context, in model.ConfirmedInput) (*model.SessionState, error) {
	if in.IsZero() {
		return nil, goerr.Wrap(model.ErrParseAmbiguity, "input was not confirmed")
	}

	state := model.NewSessionState(in)
	for range r.Steps(ctx, state) {
	}
	return state, nil
}

// Steps drives the graph over state, applying each delta to state before it is
// yielded. Callers that need the final state use this instead of Run.
func (r *Runner) Steps(ctx context.Context, state *model.SessionState) iter.Seq2[model.Stage, model.Delta] {
	return func(yield func(model.Stage, model.Delta) bool) {
		logger := logging.From(ctx).With("run_id", state.RunID)
		ctx := logging.With(ctx, logger)

		if state.RawInput == "" {
			d := model.Tracef("graph: input was not confirmed")
			state.Apply(d)
			r.metrics.Run(OutcomeAborted)
			yield(model.StageEnd, d)
			return
		}

		current := r.entry
		for step := 0; current != model.StageEnd; step++ {
			if step >= maxSteps {
				r.abort(ctx, state, yield, fmt.Sprintf("graph: exceeded %d steps", maxSteps))
				return
			}
			if err := ctx.Err(); err != nil {
				r.abort(ctx, state, yield, "graph: "+err.Error())
				return
			}

			delta := r.invoke(ctx, current, state)

			if foreign := checkOwnership(current, delta); len(foreign) > 0 {
				logger.Error("stage set fields it does not own", "stage", current, "fields", foreign)
				r.abort(ctx, state, yield, fmt.Sprintf("graph: %s set fields it does not own: %v", current, foreign))
				return
			}

			state.Apply(delta)
			if !yield(current, delta) {
				return
			}

			next, err := r.table.Next(current, state)
			if err != nil {
				r.abort(ctx, state, yield, "graph: "+err.Error())
				return
			}
			logger.Debug("transition", "from", current, "to", next)
			current = next
		}

		r.metrics.Run(outcomeOf(state))
	}
}

func (r *Runner) invoke(ctx context.Context, stage model.Stage, state *model.SessionState) model.Delta {
	ctx, cancel := context.WithTimeout(ctx, r.stageTimeout)
	defer cancel()

	started := time.Now()
	delta := r.stages[stage](ctx, state.Clone())
	elapsed := time.Since(started)

	r.metrics.ObserveStage(string(stage), elapsed)
	logging.From(ctx).Info("stage finished", "stage", stage, "duration", elapsed, "fields", delta.Fields())
	return delta
}

func (r *Runner) abort(ctx context.Context, state *model.SessionState, yield func(model.Stage, model.Delta) bool, line string) {
	logging.From(ctx).Warn("run aborted", "reason", line)
	d := model.Tracef(line)
	state.Apply(d)
	r.metrics.Run(OutcomeAborted)
	yield(model.StageEnd, d)
}

func outcomeOf(s *model.SessionState) string {
	switch {
	case s.NeedsClarification() || s.ParsedProblem == nil:
		return OutcomeClarification
	case s.Completed():
		return OutcomeCompleted
	case s.IsCorrect != nil:
		return OutcomeRejected
	default:
		return OutcomeAborted
	}
}
