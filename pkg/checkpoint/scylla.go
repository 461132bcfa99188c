package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/mahaj/chatcore/pkg/db"
)

const checkpointTable = `CREATE TABLE IF NOT EXISTS sync_checkpoints (
	user_id text,
	last_message_id bigint,
	last_event_id bigint,
	PRIMARY KEY (user_id)
)`

// Scylla stores checkpoints in the sync_checkpoints table.
type Scylla struct {
	session *db.Session
}

func NewScylla(session *db.Session) *Scylla {
	return &Scylla{session: session}
}

// EnsureSchema creates the checkpoint table if it does not exist.
func (s *Scylla) EnsureSchema(ctx context.Context) error {
	return s.session.Query(checkpointTable).WithContext(ctx).Exec()
}

func (s *Scylla) Load(ctx context.Context, userID string) (Checkpoints, error) {
	var cp Checkpoints
	err := s.session.Query(`SELECT last_message_id, last_event_id FROM sync_checkpoints WHERE user_id = ?`, userID).
		WithContext(ctx).Scan(&cp.LastMessageID, &cp.LastEventID)
	if errors.Is(err, gocql.ErrNotFound) {
		return Checkpoints{}, nil
	}
	if err != nil {
		return Checkpoints{}, fmt.Errorf("load checkpoint for %s: %w", userID, err)
	}
	return cp, nil
}

// Save merges cp with the stored row before writing, so a stale writer
// cannot move a checkpoint backwards on its own.
func (s *Scylla) Save(ctx context.Context, userID string, cp Checkpoints) error {
	current, err := s.Load(ctx, userID)
	if err != nil {
		return err
	}
	next := current.Advance(cp)
	if next == current {
		return nil
	}
	err = s.session.Query(`INSERT INTO sync_checkpoints (user_id, last_message_id, last_event_id) VALUES (?, ?, ?)`,
		userID, next.LastMessageID, next.LastEventID).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", userID, err)
	}
	return nil
}
