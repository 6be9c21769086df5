package engine

import (
	"encoding/json"
	"fmt"

	"github.com/zulandar/jobscout/internal/models"
	"github.com/zulandar/jobscout/internal/worker"
)

// checkpointVersion is the format of Suspended as stored.
const checkpointVersion = 1

// Suspended is a run parked in AWAITING_APPROVAL: the worker's task, with
// every completed gated step recorded, and the call awaiting a decision.
type Suspended struct {
	RunID   string        `json:"run_id"`
	Worker  string        `json:"worker"`
	Granted bool          `json:"granted"`
	Action  worker.Action `json:"action"`
	Task    *worker.Task  `json:"task"`
}

func encodeCheckpoint(threadID, sessionID string, s *Suspended) (*models.Checkpoint, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("engine: encode checkpoint: %w", err)
	}
	return &models.Checkpoint{
		ThreadID:  threadID,
		SessionID: sessionID,
		RunID:     s.RunID,
		Version:   checkpointVersion,
		Data:      string(data),
	}, nil
}

func decodeCheckpoint(cp *models.Checkpoint) (*Suspended, error) {
	if cp.Version != checkpointVersion {
		return nil, fmt.Errorf("%w: thread %s: unknown version %d", ErrCheckpointCorrupt, cp.ThreadID, cp.Version)
	}
	var s Suspended
	if err := json.Unmarshal([]byte(cp.Data), &s); err != nil {
		return nil, fmt.Errorf("%w: thread %s: %v", ErrCheckpointCorrupt, cp.ThreadID, err)
	}
	if s.Task == nil || s.Worker == "" || s.Task.Worker != s.Worker {
		return nil, fmt.Errorf("%w: thread %s: missing task", ErrCheckpointCorrupt, cp.ThreadID)
	}
	return &s, nil
}
