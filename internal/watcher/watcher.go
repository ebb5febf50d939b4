// Package watcher watches the accounts state file and triggers pool reloads.
// It supports cross-platform fsnotify event handling with debounce and
// content hashing so atomic rename writes and self-inflicted saves do not
// cause reload storms.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agpool/agpool/internal/account"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher reloads the account pool when the backing state file changes on
// disk. The parent directory is watched rather than the file itself because
// saves go through a temp-file rename, which replaces the watched inode.
type Watcher struct {
	pool *account.Pool
	path string

	watcher *fsnotify.Watcher

	reloadMu    sync.Mutex
	reloadTimer *time.Timer
	lastHash    string
}

// NewWatcher creates a watcher for the given pool backed by the state file at
// path.
func NewWatcher(pool *account.Pool, path string) *Watcher {
	return &Watcher{pool: pool, path: path, lastHash: hashFile(path)}
}

// Start begins watching and blocks until ctx is cancelled or the underlying
// watcher fails. Run it in its own goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsWatcher
	defer func() {
		if errClose := fsWatcher.Close(); errClose != nil {
			log.Errorf("watcher: close error: %v", errClose)
		}
	}()

	dir := filepath.Dir(w.path)
	if errAdd := fsWatcher.Add(dir); errAdd != nil {
		return errAdd
	}
	log.Debugf("watcher: watching %s for account changes", dir)

	for {
		select {
		case <-ctx.Done():
			w.stopReloadTimer()
			return ctx.Err()
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case errWatch, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("watcher: %v", errWatch)
		}
	}
}

func (w *Watcher) stopReloadTimer() {
	w.reloadMu.Lock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
		w.reloadTimer = nil
	}
	w.reloadMu.Unlock()
}

func (w *Watcher) scheduleReload() {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
	w.reloadTimer = time.AfterFunc(reloadDebounce, func() {
		w.reloadMu.Lock()
		w.reloadTimer = nil
		w.reloadMu.Unlock()
		w.reloadIfChanged()
	})
}

func (w *Watcher) reloadIfChanged() {
	newHash := hashFile(w.path)
	w.reloadMu.Lock()
	unchanged := newHash != "" && newHash == w.lastHash
	w.lastHash = newHash
	w.reloadMu.Unlock()
	if unchanged {
		log.Debugf("watcher: accounts file content unchanged, skipping reload")
		return
	}

	log.Infof("watcher: accounts file changed, reloading pool: %s", w.path)
	if err := w.pool.Reload(); err != nil {
		log.Errorf("watcher: reload pool: %v", err)
	}
}

func hashFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
