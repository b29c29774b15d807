package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"

	"github.com/vk/distforge/internal/ctxlog"
	"github.com/vk/distforge/internal/recipe"
)

// Record is one built package in the artifact store: its identity, the
// manifest of files its package stage installed, and the regenerate marker
// used for staleness tracking. Records are persisted as one TOML file per
// recipe name; a rebuild with a newer (version, revision) supersedes the
// previous record.
type Record struct {
	Name     string `toml:"name"`
	Version  string `toml:"version"`
	Revision int    `toml:"revision"`

	// BuildID is the run that produced this record.
	BuildID string    `toml:"build_id"`
	BuiltAt time.Time `toml:"built_at"`

	// Packaged marks that the package stage completed and Files is the real
	// manifest. Source-stage runs write records with Packaged false.
	Packaged bool `toml:"packaged"`

	// Regenerated marks that the regenerate stage already ran for this
	// (name, version, revision), so source-stage runs can skip it.
	Regenerated bool `toml:"regenerated"`

	// Files is the manifest of paths the package stage installed, relative
	// to the recipe's dest_dir.
	Files []string `toml:"files"`
}

// Matches reports whether the record covers the given recipe identity.
func (rec *Record) Matches(r *recipe.Recipe) bool {
	return rec.Name == r.Name && rec.Version == r.Version && rec.Revision == r.Revision
}

// Store is the persistent artifact store. The backing directory is guarded
// by a file lock so two orchestrator processes can never interleave writes.
type Store struct {
	dir  string
	lock *flock.Flock

	mu      sync.Mutex
	records map[string]*Record
}

// Open loads the artifact store at dir, creating it on first use. It takes
// an exclusive lock on the store; a second concurrent orchestrator run
// fails fast instead of corrupting records.
func Open(ctx context.Context, dir string) (*Store, error) {
	logger := ctxlog.FromContext(ctx)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
	}

	lock := flock.New(filepath.Join(dir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring store lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("artifact store %s is locked by another process", dir)
	}

	s := &Store{dir: dir, lock: lock, records: make(map[string]*Record)}
	if err := s.loadRecords(); err != nil {
		lock.Unlock()
		return nil, err
	}

	logger.Debug("Artifact store opened.", "dir", dir, "records", len(s.records))
	return s, nil
}

func (s *Store) loadRecords() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading store directory %s: %w", s.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		var rec Record
		path := filepath.Join(s.dir, entry.Name())
		if _, err := toml.DecodeFile(path, &rec); err != nil {
			return fmt.Errorf("decoding store record %s: %w", path, err)
		}
		s.records[rec.Name] = &rec
	}
	return nil
}

// Close releases the store lock.
func (s *Store) Close() error {
	return s.lock.Unlock()
}

// Latest returns the most recent record for a recipe name, if any.
func (s *Store) Latest(name string) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[name]
	return rec, ok
}

// UpToDate reports whether the store already holds the recipe at its
// current (version, revision), meaning the sequencer can skip it entirely.
func (s *Store) UpToDate(r *recipe.Recipe) bool {
	rec, ok := s.Latest(r.Name)
	return ok && rec.Matches(r) && rec.Packaged
}

// NeedsRegenerate reports whether a source-stage run still has work to do
// for this recipe: no record exists at this identity or the record predates
// a successful regenerate. Full builds do not consult it; their staging
// areas are rebuilt from pristine sources, so regenerate always reruns.
func (s *Store) NeedsRegenerate(r *recipe.Recipe) bool {
	rec, ok := s.Latest(r.Name)
	return !ok || !rec.Matches(r) || !rec.Regenerated
}

// Record persists a record, atomically replacing any previous one for the
// same name. The write goes through a temp file and rename so an interrupt
// can never leave a partially written record behind.
func (s *Store) Record(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, rec.Name+"-*.partial")
	if err != nil {
		return fmt.Errorf("creating temp record for %s: %w", rec.Name, err)
	}
	if err := toml.NewEncoder(tmp).Encode(rec); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encoding record for %s: %w", rec.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	final := filepath.Join(s.dir, rec.Name+".toml")
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("committing record for %s: %w", rec.Name, err)
	}

	s.records[rec.Name] = rec
	return nil
}
