package i18n

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Reload replaces the contents of c with the defaults overlaid by path.
// On error c is left unchanged.
func (c *Catalog) Reload(path string) error {
	fresh, err := Load(path)
	if err != nil {
		return err
	}
	fresh.mu.RLock()
	msgs := fresh.messages
	fresh.mu.RUnlock()

	c.mu.Lock()
	c.messages = msgs
	c.mu.Unlock()
	return nil
}

// Watch reloads c whenever the file at path is written or recreated, until
// ctx is done. The parent directory is watched so editors that replace the
// file on save are handled.
func Watch(ctx context.Context, c *Catalog, path string, log *zap.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	target := filepath.Clean(path)

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				// let the writer finish
				time.Sleep(100 * time.Millisecond)
				if err := c.Reload(path); err != nil {
					log.Warn("messages_reload_failed", zap.String("path", path), zap.Error(err))
					continue
				}
				log.Info("messages_reloaded", zap.String("path", path))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("messages_watch_error", zap.Error(err))
			}
		}
	}()
	return nil
}
