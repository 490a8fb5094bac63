package mentor

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/m-mizutani/mathmentor/pkg/utils/logging"
)

// LearnedSource is the source id of solutions ingested by the learning loop
const LearnedSource = "problem_memory"

// Commit stores a run the user confirmed as accurate. The entry is recorded
// as verified even if the verifier rejected the answer. Only runs that
// produced a final answer can be committed.
func (u *UseCase) Commit(ctx context.Context, state *model.SessionState) (*model.MemoryEntry, error) {
	if state == nil || state.FinalAnswer == nil {
		return nil, goerr.New("run has no final answer to commit")
	}

	entry := model.NewMemoryEntry(state)
	err := u.memory.Append(ctx, entry)
	u.metrics.MemoryAppend(err)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to commit solution", goerr.V("run_id", state.RunID))
	}
	logging.From(ctx).Info("solution committed", "run_id", state.RunID, "verified", entry.Verified)

	if u.learn {
		doc := model.Document{
			Name:    LearnedSource,
			Content: "Problem: " + entry.Problem + "\nSolution: " + entry.Solution,
		}
		if _, err := u.knowledge.Ingest(ctx, []model.Document{doc}); err != nil {
			logging.From(ctx).Warn("failed to learn committed solution", "run_id", state.RunID, "error", err)
		}
	}

	u.record(ctx, state, true)
	return &entry, nil
}

// ListMemory returns every committed entry in order
func (u *UseCase) ListMemory(ctx context.Context) ([]model.MemoryEntry, error) {
	entries, err := u.memory.List(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memory")
	}
	return entries, nil
}
