package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"governor/internal/canonicaljson"
)

// Store is the process-wide policy singleton: an atomically swappable
// reference to an immutable Document, per spec.md §9. Readers call Get and
// never hold a lock; writers (reload or save) build a new Document and
// swap the pointer.
type Store struct {
	path string

	ref atomic.Pointer[Document]

	mu        sync.Mutex // serializes reload/save against each other
	lastMtime time.Time

	watcher *fsnotify.Watcher
}

// NewStore loads the policy file at path (creating it from
// DefaultDocument if it does not exist) and starts its hot-reload watcher.
// The returned context.CancelFunc stops the watcher.
func NewStore(path string) (*Store, context.CancelFunc, error) {
	s := &Store{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("policy: create policy dir: %w", err)
		}
		if err := SaveFile(path, DefaultDocument()); err != nil {
			return nil, nil, fmt.Errorf("policy: write default policy: %w", err)
		}
	}

	if err := s.reload(); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.startWatch(ctx)
	return s, cancel, nil
}

// Get returns the current Document. Safe for concurrent use; the returned
// pointer must not be mutated by the caller.
func (s *Store) Get() *Document {
	return s.ref.Load()
}

// Reload re-reads the policy file if its mtime has advanced since the last
// load, atomically swapping in the new Document on success. It is safe to
// call concurrently and from the fsnotify watcher goroutine.
func (s *Store) Reload() error {
	return s.reload()
}

func (s *Store) reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("policy: stat %s: %w", s.path, err)
	}
	if !info.ModTime().After(s.lastMtime) && s.ref.Load() != nil {
		return nil
	}

	doc, err := LoadFile(s.path)
	if err != nil {
		slog.Error("policy reload failed, keeping previous document", "path", s.path, "error", err)
		return err
	}
	s.lastMtime = info.ModTime()
	s.ref.Store(doc)
	slog.Info("policy reloaded", "path", s.path, "revision", doc.Revision)
	return nil
}

// Save applies a JSON Merge Patch to the current document, bumps
// revision, sets updated_at, validates, writes atomically, and swaps the
// in-memory reference. expectedETag must match ETag(current) or Save
// returns ErrETagMismatch.
func (s *Store) Save(patch []byte, expectedETag string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.ref.Load()
	if ETag(current) != expectedETag {
		return nil, ErrETagMismatch
	}

	merged, err := ApplyMergePatch(current, patch)
	if err != nil {
		return nil, err
	}
	merged.Revision = current.Revision + 1
	merged.UpdatedAt = time.Now().UTC()

	if errs, _ := Validate(merged); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, errs)
	}

	if err := SaveFile(s.path, merged); err != nil {
		return nil, err
	}
	info, err := os.Stat(s.path)
	if err == nil {
		s.lastMtime = info.ModTime()
	}
	s.ref.Store(merged)
	slog.Info("policy saved", "path", s.path, "revision", merged.Revision)
	return merged, nil
}

// startWatch watches the policy file's directory (not the file itself, so
// editors that write-then-rename still trigger a reload) via fsnotify,
// falling back to a 500ms mtime poll if the watcher cannot be started
// (e.g. no inotify support in the container).
func (s *Store) startWatch(ctx context.Context) {
	dir := filepath.Dir(s.path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("policy: fsnotify unavailable, falling back to mtime polling", "error", err)
		go s.pollLoop(ctx)
		return
	}
	if err := w.Add(dir); err != nil {
		slog.Warn("policy: fsnotify add failed, falling back to mtime polling", "dir", dir, "error", err)
		w.Close()
		go s.pollLoop(ctx)
		return
	}
	s.watcher = w

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if err := s.reload(); err != nil {
						slog.Error("policy: reload after fs event failed", "error", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("policy: fsnotify error", "error", err)
			}
		}
	}()
}

func (s *Store) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.reload(); err != nil {
				slog.Debug("policy: poll reload failed", "error", err)
			}
		}
	}
}

// ETag returns the hex SHA-256 of doc's canonical JSON encoding.
func ETag(doc *Document) string {
	return canonicaljson.MustHash(doc)
}

// Revision returns doc's revision counter.
func Revision(doc *Document) int {
	return doc.Revision
}
