package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/basegraph-labs/orchestrator/internal/domain"
)

// CheckpointStore persists WorkflowCheckpoint values to
// workflow/reports/<workflowId>/<checkpointId>.json, mirroring the
// Planner Core's best-effort JSON durability layer but surfacing write
// failures (checkpoint correctness is not optional the way plan-output
// persistence is — SPEC_FULL.md §4.2/§6).
type CheckpointStore struct {
	baseDir string
}

func NewCheckpointStore(baseDir string) *CheckpointStore {
	return &CheckpointStore{baseDir: baseDir}
}

func (s *CheckpointStore) Save(ctx context.Context, cp domain.WorkflowCheckpoint) error {
	dir := filepath.Join(s.baseDir, cp.WorkflowID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.NewError(domain.ErrCheckpointWriteError, "create checkpoint directory", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return domain.NewError(domain.ErrCheckpointWriteError, "marshal checkpoint", err)
	}

	path := filepath.Join(dir, cp.CheckpointID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return domain.NewError(domain.ErrCheckpointWriteError, "write checkpoint", err)
	}
	return nil
}

func (s *CheckpointStore) Load(ctx context.Context, workflowID, checkpointID string) (domain.WorkflowCheckpoint, error) {
	path := filepath.Join(s.baseDir, workflowID, checkpointID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.WorkflowCheckpoint{}, domain.NewError(domain.ErrNotFound, "checkpoint not found", err)
		}
		return domain.WorkflowCheckpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp domain.WorkflowCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return domain.WorkflowCheckpoint{}, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// Latest returns the lexicographically last checkpoint id for workflowID,
// which is also the most recent since checkpoint ids are snowflake ids
// (time-ordered). Callers that do not know a specific checkpoint id can use
// it to find one to pass to Resume.
func (s *CheckpointStore) Latest(workflowID string) (string, error) {
	dir := filepath.Join(s.baseDir, workflowID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", domain.NewError(domain.ErrNotFound, "no checkpoints for workflow "+workflowID, err)
		}
		return "", fmt.Errorf("list checkpoints: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		ids = append(ids, e.Name()[:len(e.Name())-len(".json")])
	}
	if len(ids) == 0 {
		return "", domain.NewError(domain.ErrNotFound, "no checkpoints for workflow "+workflowID, nil)
	}
	sort.Strings(ids)
	return ids[len(ids)-1], nil
}
