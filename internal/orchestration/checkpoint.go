package orchestration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tripplanner/agentcore/internal/database"
)

// Checkpoint is a serialized snapshot of one thread's state bag plus its
// current graph position, keyed by an opaque thread ID.
type Checkpoint struct {
	ThreadID    string
	State       *TripState
	CurrentNode string
	UpdatedAt   time.Time
}

// Checkpointer is the persistence abstraction for graph state bags. Two
// backends: in-memory (development) and Postgres (production), matching
// §6's CHECKPOINTER_TYPE switch.
type Checkpointer interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, threadID string) (*Checkpoint, error)
	Delete(ctx context.Context, threadID string) error
}

// MemoryCheckpointer stores checkpoints in a process-local map, grounded
// on the teacher's langgraph.MemoryStateManager locking discipline
// (clone in, clone out, never hold the lock across a blocking call).
type MemoryCheckpointer struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
}

// NewMemoryCheckpointer creates an empty in-memory checkpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{checkpoints: make(map[string]Checkpoint)}
}

func (m *MemoryCheckpointer) Save(ctx context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp.State = cp.State.Clone()
	m.checkpoints[cp.ThreadID] = cp
	return nil
}

func (m *MemoryCheckpointer) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
	}
	cloned := cp
	cloned.State = cp.State.Clone()
	return &cloned, nil
}

func (m *MemoryCheckpointer) Delete(ctx context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, threadID)
	return nil
}

// PostgresCheckpointer persists checkpoints to a `checkpoints` table as a
// JSON blob, following the teacher's internal/database.Pool wrapper
// around database/sql and the lib/pq driver.
type PostgresCheckpointer struct {
	pool *database.Pool
}

// NewPostgresCheckpointer wraps an already-opened pool. Callers are
// expected to have run the `checkpoints` table migration
// (thread_id text primary key, state jsonb, current_node text,
// updated_at timestamptz) ahead of time.
func NewPostgresCheckpointer(pool *database.Pool) *PostgresCheckpointer {
	return &PostgresCheckpointer{pool: pool}
}

func (p *PostgresCheckpointer) Save(ctx context.Context, cp Checkpoint) error {
	payload, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("orchestration: marshal checkpoint state: %w", err)
	}
	query := `
		INSERT INTO checkpoints (thread_id, state, current_node, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (thread_id) DO UPDATE
		SET state = EXCLUDED.state, current_node = EXCLUDED.current_node, updated_at = EXCLUDED.updated_at`
	_, err = p.pool.ExecContext(ctx, query, cp.ThreadID, payload, cp.CurrentNode, time.Now())
	if err != nil {
		return fmt.Errorf("orchestration: save checkpoint: %w", err)
	}
	return nil
}

func (p *PostgresCheckpointer) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	query := `SELECT state, current_node, updated_at FROM checkpoints WHERE thread_id = $1`
	var payload []byte
	cp := Checkpoint{ThreadID: threadID}
	err := p.pool.QueryRowContext(ctx, query, threadID).Scan(&payload, &cp.CurrentNode, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: thread %s", ErrNotFound, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("orchestration: load checkpoint: %w", err)
	}
	var state TripState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("orchestration: unmarshal checkpoint state: %w", err)
	}
	cp.State = &state
	return &cp, nil
}

func (p *PostgresCheckpointer) Delete(ctx context.Context, threadID string) error {
	_, err := p.pool.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("orchestration: delete checkpoint: %w", err)
	}
	return nil
}

// CleanupOldCheckpoints removes checkpoints older than daysToKeep. Rows
// strictly older than the retention window are deleted; newer rows are
// left untouched.
func (p *PostgresCheckpointer) CleanupOldCheckpoints(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		daysToKeep = 7
	}
	cutoff := time.Now().AddDate(0, 0, -daysToKeep)
	res, err := p.pool.ExecContext(ctx, `DELETE FROM checkpoints WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("orchestration: cleanup checkpoints: %w", err)
	}
	return res.RowsAffected()
}
