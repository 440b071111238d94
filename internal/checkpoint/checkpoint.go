// Package checkpoint defines the Checkpointer collaborator contract
// consumed by Service.Initialize and the Checkpoint RPC: this package names
// the interface plus a minimal file-based reference implementation.
package checkpoint

import (
	"errors"

	"github.com/cartridge/reverb/internal/chunkstore"
	"github.com/cartridge/reverb/internal/table"
)

// ErrNotFound is returned by LoadLatest/LoadFallbackCheckpoint when no
// checkpoint is available to load; Service.Initialize treats it as "start
// empty" rather than a fatal error.
var ErrNotFound = errors.New("checkpoint: not found")

// Checkpointer snapshots and restores the chunk store and table set.
type Checkpointer interface {
	// LoadLatest restores the most recent checkpoint found in the
	// checkpointer's root location into store and tables. Returns
	// ErrNotFound if none exists.
	LoadLatest(store *chunkstore.Store, tables map[string]table.Table) error

	// LoadFallbackCheckpoint restores a checkpoint from a
	// checkpointer-specific fallback location, used only when LoadLatest
	// returned ErrNotFound. Returns ErrNotFound if none exists either.
	LoadFallbackCheckpoint(store *chunkstore.Store, tables map[string]table.Table) error

	// Save snapshots tables, keeping at most the `keep` most recent
	// checkpoints, and returns the path the new checkpoint was written to.
	Save(tables map[string]table.Table, keep int) (string, error)

	DebugString() string
}
