// Package state persists the values the bot must remember across
// restarts, such as the equity peak that backs the drawdown halt.
package state

import (
	"context"
	"time"

	"github.com/psreek-ai/coinbase-trader/internal/risk"
)

// Store is the key-value surface the manager writes through.
type Store interface {
	SaveState(ctx context.Context, key string, value any) error
	LoadState(ctx context.Context, key string, out any) (bool, error)
}

const snapshotKey = "bot"

// Snapshot is everything restored on startup.
type Snapshot struct {
	Risk          risk.State `json:"risk"`
	InitialEquity float64    `json:"initial_equity"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Manager loads and saves the bot snapshot.
type Manager struct {
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Load returns the stored snapshot. The second result is false on a
// first run, when nothing has been saved yet.
func (m *Manager) Load(ctx context.Context) (Snapshot, bool, error) {
	var s Snapshot
	found, err := m.store.LoadState(ctx, snapshotKey, &s)
	if err != nil {
		return Snapshot{}, false, err
	}
	return s, found, nil
}

// Save persists the snapshot, stamping the update time.
func (m *Manager) Save(ctx context.Context, s Snapshot) error {
	s.UpdatedAt = time.Now().UTC()
	return m.store.SaveState(ctx, snapshotKey, s)
}
