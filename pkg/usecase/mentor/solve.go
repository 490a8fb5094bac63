package mentor

import (
	"context"
	"iter"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/input"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/m-mizutani/mathmentor/pkg/utils/logging"
)

// Normalize produces provisional text that must be shown to a human before Confirm
func (u *UseCase) Normalize(ctx context.Context, kind model.InputKind, name string, data []byte) (string, error) {
	return u.normalizer.NormalizeFile(ctx, kind, name, data)
}

// Confirm accepts the reviewed text; see input.Confirm
func (u *UseCase) Confirm(candidate, edited string, kind model.InputKind) (model.ConfirmedInput, error) {
	return input.Confirm(candidate, edited, kind)
}

// Stream starts a run over in. The returned state is filled in as the
// sequence is consumed, and the run is audited once it ends. The sequence
// may be ranged over only once.
func (u *UseCase) Stream(ctx context.Context, in model.ConfirmedInput) (*model.SessionState, iter.Seq2[model.Stage, model.Delta]) {
	state := model.NewSessionState(in)

	seq := func(yield func(model.Stage, model.Delta) bool) {
		defer u.record(ctx, state, false)

		for stage, delta := range u.runner.Steps(ctx, state) {
			if !yield(stage, delta) {
				return
			}
		}
	}
	return state, seq
}

// Solve runs to the end and returns the final state
func (u *UseCase) Solve(ctx context.Context, in model.ConfirmedInput) (*model.SessionState, error) {
	if in.IsZero() {
		return nil, goerr.Wrap(model.ErrParseAmbiguity, "input was not confirmed")
	}

	state, seq := u.Stream(ctx, in)
	for range seq {
	}
	return state, nil
}

// record writes an audit record. Audit failures never fail the caller.
func (u *UseCase) record(ctx context.Context, state *model.SessionState, committed bool) {
	if u.audit == nil {
		return
	}
	rec := model.NewAuditRecord(state, committed, u.now())
	if err := u.audit.Insert(ctx, rec); err != nil {
		logging.From(ctx).Warn("failed to write audit record", "run_id", state.RunID, "error", err)
	}
}
