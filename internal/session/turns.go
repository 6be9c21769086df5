package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/jobscout/internal/models"
	"gorm.io/gorm"
)

// NewTurn describes a turn to append.
type NewTurn struct {
	Role    string
	Kind    string // defaults to models.KindText
	Content string
	Payload any // marshalled to JSON; nil stores an empty payload
}

// AppendTurn records a turn at the next sequence number and bumps the
// session's updated_at. Returns ErrMaxTurns for a user turn that would
// leave no room for its reply. Assistant turns are never refused, so a
// run that hits the limit can still record how it ended.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, nt NewTurn) (*models.Turn, error) {
	payload, err := marshalPayload(nt.Payload)
	if err != nil {
		return nil, fmt.Errorf("session: append turn: %w", err)
	}
	kind := nt.Kind
	if kind == "" {
		kind = models.KindText
	}

	var turn *models.Turn
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := nextSequence(tx, sessionID)
		if err != nil {
			return err
		}
		if nt.Role == models.RoleUser && seq >= s.maxTurns {
			return fmt.Errorf("%w (%d) for session %s", ErrMaxTurns, s.maxTurns, sessionID)
		}
		turn = &models.Turn{
			SessionID: sessionID,
			Sequence:  seq,
			Role:      nt.Role,
			Kind:      kind,
			Content:   nt.Content,
			Payload:   payload,
		}
		if err := tx.Create(turn).Error; err != nil {
			return fmt.Errorf("create turn: %w", err)
		}
		return tx.Model(&models.ChatSession{}).Where("id = ?", sessionID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		if errors.Is(err, ErrMaxTurns) {
			return nil, err
		}
		return nil, fmt.Errorf("session: append turn %s: %w", sessionID, err)
	}
	return turn, nil
}

// History returns all turns of a session in sequence order.
func (s *Store) History(ctx context.Context, sessionID string) ([]models.Turn, error) {
	var turns []models.Turn
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("sequence ASC").Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("session: history %s: %w", sessionID, err)
	}
	return turns, nil
}

// Recent returns the last n turns of a session in sequence order.
func (s *Store) Recent(ctx context.Context, sessionID string, n int) ([]models.Turn, error) {
	var turns []models.Turn
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("sequence DESC").Limit(n).Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("session: recent %s: %w", sessionID, err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// LastOfKind returns the most recent turn whose kind is one of kinds.
func (s *Store) LastOfKind(ctx context.Context, sessionID string, kinds ...string) (*models.Turn, error) {
	var turn models.Turn
	err := s.db.WithContext(ctx).Where("session_id = ? AND kind IN ?", sessionID, kinds).
		Order("sequence DESC").First(&turn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no %v turn in %s", ErrNotFound, kinds, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("session: last turn %s: %w", sessionID, err)
	}
	return &turn, nil
}

// ResolveApprovalTurn rewrites the most recent approval_request turn in
// place as a plain text turn. This is the only in-place turn mutation.
func (s *Store) ResolveApprovalTurn(ctx context.Context, sessionID, content string) error {
	turn, err := s.LastOfKind(ctx, sessionID, models.KindApprovalRequest)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(&models.Turn{}).Where("id = ?", turn.ID).
		Updates(map[string]interface{}{"kind": models.KindText, "content": content}).Error; err != nil {
		return fmt.Errorf("session: resolve approval turn %s: %w", sessionID, err)
	}
	return nil
}

// TurnCount returns the number of turns in a session.
func (s *Store) TurnCount(ctx context.Context, sessionID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Turn{}).
		Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("session: turn count %s: %w", sessionID, err)
	}
	return int(count), nil
}

// nextSequence returns the next sequence number for a session.
func nextSequence(tx *gorm.DB, sessionID string) (int, error) {
	var maxSeq int
	if err := tx.Model(&models.Turn{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&maxSeq).Error; err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return maxSeq + 1, nil
}

func marshalPayload(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return string(raw), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}
