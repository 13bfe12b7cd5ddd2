package notify

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/vellum-cms/vellum/internal/logging"
)

// RepositoryWatcher translates file changes under a file-backed
// repository root into invalidation events on the bus. Items become
// CONTENT_CHANGED events; templates and slots become
// OBJECT_INVALIDATION events.
type RepositoryWatcher struct {
	root     string
	notifier *Notifier
	watcher  *fsnotify.Watcher
	logger   logging.Logger
	done     chan struct{}
}

// NewRepositoryWatcher creates a watcher over the repository root. The
// root is expected to contain items/, templates/ and slots/
// subdirectories.
func NewRepositoryWatcher(root string, notifier *Notifier, logger logging.Logger) (*RepositoryWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	rw := &RepositoryWatcher{
		root:     root,
		notifier: notifier,
		watcher:  w,
		logger:   logger.WithComponent("repository-watcher"),
		done:     make(chan struct{}),
	}

	for _, dir := range []string{"items", "templates", "slots"} {
		path := filepath.Join(root, dir)
		if err := w.Add(path); err != nil {
			rw.logger.Warn(context.Background(), err, "not watching directory", "path", path)
		}
	}

	return rw, nil
}

// Start runs the event loop until Stop or ctx cancellation.
func (rw *RepositoryWatcher) Start(ctx context.Context) {
	go rw.loop(ctx)
}

// Stop shuts the watcher down.
func (rw *RepositoryWatcher) Stop() error {
	close(rw.done)
	return rw.watcher.Close()
}

func (rw *RepositoryWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-rw.done:
			return
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				rw.dispatch(ctx, event.Name)
			}
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			rw.logger.Warn(ctx, err, "watch error")
		}
	}
}

func (rw *RepositoryWatcher) dispatch(ctx context.Context, path string) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".yaml") && !strings.HasSuffix(base, ".yml") {
		return
	}
	id := strings.TrimSuffix(strings.TrimSuffix(base, ".yaml"), ".yml")
	dir := filepath.Base(filepath.Dir(path))

	switch dir {
	case "items":
		rw.logger.Debug(ctx, "content changed", "item", id)
		rw.notifier.ContentChanged(id)
	case "templates":
		rw.logger.Debug(ctx, "template changed", "template", id)
		rw.notifier.ObjectInvalidated(GUIDTemplate, id)
	case "slots":
		rw.logger.Debug(ctx, "slot changed", "slot", id)
		rw.notifier.ObjectInvalidated(GUIDSlot, id)
	}
}
