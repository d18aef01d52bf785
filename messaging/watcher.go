package messaging

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// WatchInbox watches the inbox directory and calls handle with the job id
// of every newly created entry. Only Create events trigger the handler;
// platforms that also fire Write events for the same file would otherwise
// process a command twice. Returns when the context is cancelled.
func WatchInbox(ctx context.Context, dir string, handle func(jobID string), logger *logrus.Entry) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create inbox watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(event.Name)
			if strings.HasSuffix(name, ".tmp") {
				continue
			}
			jobID, err := decodeBoxName(name)
			if err != nil {
				logger.WithField("file", name).Warn("Ignoring undecodable inbox entry")
				continue
			}
			handle(jobID)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Error("Inbox watcher error")
		}
	}
}
