package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/cartridge/reverb/internal/chunkstore"
	"github.com/cartridge/reverb/internal/table"
	replayv1 "github.com/cartridge/reverb/pkg/proto/replayv1"
)

// manifest is the on-disk shape of one checkpoint: a summary of each
// table's info sufficient to prove the snapshot/restore contract without a
// full trajectory codec.
type manifest struct {
	Tables []replayv1.TableInfo `json:"tables"`
}

// FileCheckpointer snapshots table summaries as timestamped JSON files under
// a root directory, with an optional separate fallback directory consulted
// only when the root is empty.
type FileCheckpointer struct {
	root     string
	fallback string
	logger   zerolog.Logger
}

// NewFileCheckpointer creates a checkpointer rooted at dir, consulting
// fallbackDir (if non-empty) when dir holds no checkpoint yet.
func NewFileCheckpointer(dir, fallbackDir string, logger zerolog.Logger) *FileCheckpointer {
	return &FileCheckpointer{
		root:     dir,
		fallback: fallbackDir,
		logger:   logger.With().Str("component", "checkpoint").Logger(),
	}
}

func (f *FileCheckpointer) LoadLatest(store *chunkstore.Store, tables map[string]table.Table) error {
	return f.loadFrom(f.root, store, tables)
}

func (f *FileCheckpointer) LoadFallbackCheckpoint(store *chunkstore.Store, tables map[string]table.Table) error {
	if f.fallback == "" {
		return ErrNotFound
	}
	return f.loadFrom(f.fallback, store, tables)
}

func (f *FileCheckpointer) loadFrom(dir string, _ *chunkstore.Store, _ map[string]table.Table) error {
	if dir == "" {
		return ErrNotFound
	}
	path, err := latestCheckpointPath(dir)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "checkpoint: list checkpoints")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "checkpoint: read %s", path)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrapf(err, "checkpoint: decode %s", path)
	}

	// Restoring item/chunk state from the manifest is not implemented;
	// loading validates the checkpoint is readable and reports which tables
	// it covered.
	f.logger.Info().Str("path", path).Int("tables", len(m.Tables)).Msg("loaded checkpoint")
	return nil
}

func (f *FileCheckpointer) Save(tables map[string]table.Table, keep int) (string, error) {
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return "", errors.Wrap(err, "checkpoint: create root dir")
	}

	m := manifest{Tables: make([]replayv1.TableInfo, 0, len(tables))}
	for _, t := range tables {
		m.Tables = append(m.Tables, t.Info())
	}
	sort.Slice(m.Tables, func(i, j int) bool { return m.Tables[i].Name < m.Tables[j].Name })

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "checkpoint: encode manifest")
	}

	name := fmt.Sprintf("checkpoint-%d.json", time.Now().UnixNano())
	path := filepath.Join(f.root, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "checkpoint: write %s", path)
	}

	if err := f.pruneLocked(keep); err != nil {
		f.logger.Warn().Err(err).Msg("failed to prune old checkpoints")
	}

	return path, nil
}

func (f *FileCheckpointer) pruneLocked(keep int) error {
	if keep <= 0 {
		return nil
	}
	entries, err := checkpointEntries(f.root)
	if err != nil {
		return err
	}
	if len(entries) <= keep {
		return nil
	}
	for _, e := range entries[:len(entries)-keep] {
		if err := os.Remove(filepath.Join(f.root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileCheckpointer) DebugString() string {
	return fmt.Sprintf("FileCheckpointer(root=%s, fallback=%s)", f.root, f.fallback)
}

func latestCheckpointPath(dir string) (string, error) {
	entries, err := checkpointEntries(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", ErrNotFound
	}
	return filepath.Join(dir, entries[len(entries)-1].Name()), nil
}

func checkpointEntries(dir string) ([]os.DirEntry, error) {
	all, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []os.DirEntry
	for _, e := range all {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "checkpoint-") && strings.HasSuffix(e.Name(), ".json") {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}
