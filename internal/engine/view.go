package engine

import (
	"encoding/json"
	"time"

	"github.com/zulandar/jobscout/internal/models"
)

// TurnView is a turn as returned to clients.
type TurnView struct {
	Sequence  int             `json:"sequence"`
	Role      string          `json:"role"`
	Kind      string          `json:"kind"`
	Content   string          `json:"content"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// PendingView describes an approval awaiting a decision.
type PendingView struct {
	Message     string    `json:"message"`
	RequestedAt time.Time `json:"requested_at"`
}

// SessionView is a session's full history.
type SessionView struct {
	SessionID  string       `json:"session_id"`
	OwnerID    *string      `json:"owner_id,omitempty"`
	NeedsReset bool         `json:"needs_reset"`
	Turns      []TurnView   `json:"turns"`
	Pending    *PendingView `json:"pending_approval,omitempty"`
}

func viewTurn(t *models.Turn) TurnView {
	v := TurnView{
		Sequence:  t.Sequence,
		Role:      t.Role,
		Kind:      t.Kind,
		Content:   t.Content,
		CreatedAt: t.CreatedAt,
	}
	if t.Payload != "" && json.Valid([]byte(t.Payload)) {
		v.Payload = json.RawMessage(t.Payload)
	}
	return v
}

func viewTurns(turns []models.Turn) []TurnView {
	out := make([]TurnView, 0, len(turns))
	for i := range turns {
		out = append(out, viewTurn(&turns[i]))
	}
	return out
}
