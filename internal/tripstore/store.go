// Package tripstore persists finalized itineraries so the chat tool
// surface (get_trip_details, confirm_and_generate_trip,
// confirm_itinerary_modification) can read and rewrite them outside of a
// live orchestration run.
package tripstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tripplanner/agentcore/internal/database"
	"github.com/tripplanner/agentcore/internal/orchestration"
)

// Store defines the data operations a finalized trip needs, mirroring
// the repository interfaces' Create/GetByID/Update shape.
type Store interface {
	Save(ctx context.Context, tripID string, trip *orchestration.FinalItinerary) error
	GetByID(ctx context.Context, tripID string) (*orchestration.FinalItinerary, error)
	Delete(ctx context.Context, tripID string) error
}

// MemoryStore is the development-default Store: a mutex-guarded map, the
// same locking discipline the checkpoint and cache packages use.
type MemoryStore struct {
	mu    sync.RWMutex
	trips map[string]*orchestration.FinalItinerary
}

// NewMemoryStore creates an empty in-memory trip store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trips: make(map[string]*orchestration.FinalItinerary)}
}

func (s *MemoryStore) Save(ctx context.Context, tripID string, trip *orchestration.FinalItinerary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *trip
	s.trips[tripID] = &cp
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, tripID string) (*orchestration.FinalItinerary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trip, ok := s.trips[tripID]
	if !ok {
		return nil, fmt.Errorf("tripstore: trip %s: %w", tripID, orchestration.ErrNotFound)
	}
	cp := *trip
	return &cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, tripID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.trips, tripID)
	return nil
}

// PostgresStore persists finalized trips to a `trips` table as a JSON
// blob, mirroring orchestration.PostgresCheckpointer's shape over the
// same database.Pool wrapper.
type PostgresStore struct {
	pool *database.Pool
}

// NewPostgresStore wraps an already-opened pool. Callers are expected to
// have run the `trips` table migration (trip_id text primary key, trip
// jsonb, updated_at timestamptz) ahead of time.
func NewPostgresStore(pool *database.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Save(ctx context.Context, tripID string, trip *orchestration.FinalItinerary) error {
	payload, err := json.Marshal(trip)
	if err != nil {
		return fmt.Errorf("tripstore: marshal trip: %w", err)
	}
	query := `
		INSERT INTO trips (trip_id, trip, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (trip_id) DO UPDATE
		SET trip = EXCLUDED.trip, updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.ExecContext(ctx, query, tripID, payload); err != nil {
		return fmt.Errorf("tripstore: save trip %s: %w", tripID, err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, tripID string) (*orchestration.FinalItinerary, error) {
	query := `SELECT trip FROM trips WHERE trip_id = $1`
	var payload []byte
	err := s.pool.QueryRowContext(ctx, query, tripID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tripstore: trip %s: %w", tripID, orchestration.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("tripstore: get trip %s: %w", tripID, err)
	}
	var trip orchestration.FinalItinerary
	if err := json.Unmarshal(payload, &trip); err != nil {
		return nil, fmt.Errorf("tripstore: unmarshal trip %s: %w", tripID, err)
	}
	return &trip, nil
}

func (s *PostgresStore) Delete(ctx context.Context, tripID string) error {
	if _, err := s.pool.ExecContext(ctx, `DELETE FROM trips WHERE trip_id = $1`, tripID); err != nil {
		return fmt.Errorf("tripstore: delete trip %s: %w", tripID, err)
	}
	return nil
}
