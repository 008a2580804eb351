// Package registrystore implements the persisted workspace/installation
// registries of §6: JSON files under .max/, one entry per file, with an
// optional fsnotify watch on a registry's top-level directory that
// reports entries being added or removed there.
// Grounded on the teacher's internal/inject append-queue file layout
// (one file per logical unit under a well-known directory) and its
// reliance on fsnotify for watch semantics, generalized into a typed,
// generic on-disk registry both WorkspaceMax and GlobalMax instantiate.
package registrystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// InstallationEntry is one <registryDir>/<slug>/installation.json (§6),
// where registryDir is the owning workspace's installation registry.
type InstallationEntry struct {
	Connector    string          `json:"connector"`
	Name         string          `json:"name"`
	ID           string          `json:"id"`
	DeployerKind string          `json:"deployerKind"`
	Config       map[string]any  `json:"config"`
	Spec         json.RawMessage `json:"spec,omitempty"`
	ConnectedAt  string          `json:"connectedAt"`
}

// WorkspaceEntry is one workspace registry file (§6): {id, name,
// connectedAt, config, spec}.
type WorkspaceEntry struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	DeployerKind string          `json:"deployerKind"`
	ConnectedAt  string          `json:"connectedAt"`
	Config       map[string]any  `json:"config"`
	Spec         json.RawMessage `json:"spec,omitempty"`
}

// entryID is implemented by any registry entry so Registry[T] can index
// by the assigned id without reflection.
type entryID interface {
	registryID() string
}

func (e InstallationEntry) registryID() string { return e.ID }
func (e WorkspaceEntry) registryID() string    { return e.ID }

// Registry is a generic on-disk, per-entry-file registry: one JSON file
// named fileName under dir/<slug>/, loaded into memory on Load and
// rewritten on every Put (§3: "Registries persist upon mutation").
type Registry[T entryID] struct {
	dir      string
	fileName string

	mu      sync.RWMutex
	byID    map[string]T
	slugOf  map[string]string // id -> slug, for Remove/Put path resolution
	watcher *fsnotify.Watcher
}

// New builds a Registry rooted at dir, where each entry lives at
// dir/<slug>/<fileName>.
func New[T entryID](dir, fileName string) *Registry[T] {
	return &Registry[T]{
		dir:      dir,
		fileName: fileName,
		byID:     make(map[string]T),
		slugOf:   make(map[string]string),
	}
}

// Load scans dir for every <slug>/<fileName> and populates the in-memory
// index. A missing dir is not an error (nothing has been persisted yet).
func (r *Registry[T]) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("registrystore: read %s: %w", r.dir, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		slug := e.Name()
		path := filepath.Join(r.dir, slug, r.fileName)
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("registrystore: read %s: %w", path, err)
		}
		var entry T
		if err := json.Unmarshal(raw, &entry); err != nil {
			return fmt.Errorf("registrystore: parse %s: %w", path, err)
		}
		r.byID[entry.registryID()] = entry
		r.slugOf[entry.registryID()] = slug
	}
	return nil
}

// Put writes entry to dir/<slug>/<fileName> and updates the in-memory
// index, associating slug with the entry's id for future Put/Remove
// calls.
func (r *Registry[T]) Put(slug string, entry T) error {
	dir := filepath.Join(r.dir, slug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registrystore: mkdir %s: %w", dir, err)
	}
	raw, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("registrystore: marshal: %w", err)
	}
	path := filepath.Join(dir, r.fileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("registrystore: write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("registrystore: rename %s: %w", path, err)
	}

	r.mu.Lock()
	r.byID[entry.registryID()] = entry
	r.slugOf[entry.registryID()] = slug
	r.mu.Unlock()
	return nil
}

// Remove deletes the entry's directory and forgets it.
func (r *Registry[T]) Remove(id string) error {
	r.mu.Lock()
	slug, ok := r.slugOf[id]
	delete(r.byID, id)
	delete(r.slugOf, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return os.RemoveAll(filepath.Join(r.dir, slug))
}

// Get looks up id.
func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byID[id]
	return v, ok
}

// List returns a snapshot of every entry.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.byID))
	for _, v := range r.byID {
		out = append(out, v)
	}
	return out
}

// Watch starts an fsnotify watch on dir itself, calling onChange on a
// write, create, remove or rename directly inside it, such as an entry
// directory being added or deleted. The watch is not recursive: rewriting
// the file inside an existing <slug>/ directory is not reported. Reload is
// the caller's responsibility; Watch only notifies.
func (r *Registry[T]) Watch(onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("registrystore: new watcher: %w", err)
	}
	if err := w.Add(r.dir); err != nil {
		w.Close()
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("registrystore: watch %s: %w", r.dir, err)
	}

	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					onChange()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Close stops the fsnotify watch, if one was started.
func (r *Registry[T]) Close() error {
	r.mu.Lock()
	w := r.watcher
	r.watcher = nil
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}
