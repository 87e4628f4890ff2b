package sources

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/ggoodman/streamrpc-go/stream"
)

// FileEvent is emitted by WatchPath for every filesystem notification.
type FileEvent struct {
	Path string `json:"path"`
	Op   string `json:"op"`
}

// WatchPath emits a FileEvent for each change to path, or to entries
// directly inside it when path is a directory. The stream errors when the
// watcher reports an error and never completes on its own.
func WatchPath(path string) stream.Stream {
	return stream.Create(func(ctx context.Context, e stream.Emitter) error {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		defer w.Close()

		if err := w.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-w.Events:
				if !ok {
					return nil
				}
				if err := e.Next(FileEvent{Path: ev.Name, Op: ev.Op.String()}); err != nil {
					return err
				}
			case err, ok := <-w.Errors:
				if !ok {
					return nil
				}
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
	})
}
