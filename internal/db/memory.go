package db

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wuwenbin0122/roomchat/internal/models"
)

// Memory keeps turns in process. It is the default backend and the one the
// tests run against.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string][]models.Turn
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string][]models.Turn),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Append(ctx context.Context, sessionID string, role models.Role, content string) (models.Turn, error) {
	if err := validateAppend(sessionID, role); err != nil {
		return models.Turn{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Turn{}, persistenceError("append", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	createdAt := m.now()
	turns := m.sessions[sessionID]
	// keep createdAt non-decreasing even if the wall clock steps back
	if n := len(turns); n > 0 && createdAt.Before(*turns[n-1].CreatedAt) {
		createdAt = *turns[n-1].CreatedAt
	}

	turn := models.Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: &createdAt,
		State:     models.StateConfirmed,
	}
	m.sessions[sessionID] = append(turns, turn)

	return turn, nil
}

func (m *Memory) ListTurns(ctx context.Context, sessionID string) ([]models.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistenceError("list turns", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.sessions[sessionID]
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Close(ctx context.Context) error {
	return nil
}
