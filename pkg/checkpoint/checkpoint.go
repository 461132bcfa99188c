// Package checkpoint persists the synchronization resume points of a user.
package checkpoint

import (
	"context"
	"sync"
)

// Checkpoints are the last successfully applied message and event ids.
type Checkpoints struct {
	LastMessageID int64 `json:"last_message_id"`
	LastEventID   int64 `json:"last_event_id"`
}

// Advance returns the field-wise maximum of c and o. Checkpoints never move
// backwards.
func (c Checkpoints) Advance(o Checkpoints) Checkpoints {
	return Checkpoints{
		LastMessageID: max(c.LastMessageID, o.LastMessageID),
		LastEventID:   max(c.LastEventID, o.LastEventID),
	}
}

// Store loads and saves checkpoints per user. A user with nothing saved
// loads as zero checkpoints and no error.
type Store interface {
	Load(ctx context.Context, userID string) (Checkpoints, error)
	Save(ctx context.Context, userID string, cp Checkpoints) error
}

// Memory keeps checkpoints for the life of the process.
type Memory struct {
	mu   sync.Mutex
	data map[string]Checkpoints
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]Checkpoints)}
}

func (m *Memory) Load(_ context.Context, userID string) (Checkpoints, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[userID], nil
}

func (m *Memory) Save(_ context.Context, userID string, cp Checkpoints) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[userID] = m.data[userID].Advance(cp)
	return nil
}
