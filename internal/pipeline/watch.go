package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/apodwall/vbuild/internal/fingerprint"
	"github.com/fsnotify/fsnotify"
	"github.com/qiniu/x/log"
)

// DefaultDebounce is the quiet period Watch waits for after a change.
const DefaultDebounce = 300 * time.Millisecond

// Watch calls rebuild whenever files below root change, until ctx is done.
// Directories in exclude, typically the pipeline's own output, are not
// watched. Bursts of changes within debounce collapse into one rebuild, and
// a change during a rebuild schedules exactly one more. Rebuild errors are
// logged, not returned.
func Watch(ctx context.Context, root string, exclude []string, debounce time.Duration, rebuild func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer watcher.Close()
	skip := fingerprint.Within(root, exclude...)
	if err := addDirsRecursive(watcher, root, skip); err != nil {
		return err
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	requests := make(chan struct{}, 1)
	trigger := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			select {
			case requests <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-requests:
				log.Infof("watch: change detected; rebuilding")
				if err := rebuild(ctx); err != nil {
					log.Errorf("watch: %v", err)
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			<-done
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ignoreEvent(root, ev.Name, skip) {
				continue
			}
			if ev.Op&fsnotify.Create == fsnotify.Create {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = addDirsRecursive(watcher, ev.Name, skip)
				}
			}
			log.Debugf("watch: %s %s", ev.Op, ev.Name)
			trigger()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("watch: %v", err)
		}
	}
}

func addDirsRecursive(w *fsnotify.Watcher, root string, skip []string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (fingerprint.Ignored(d.Name()) || isSkipped(root, path, skip)) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			log.Warnf("watch: add %s: %v", path, err)
		}
		return nil
	})
}

// isSkipped reports whether path is, or lies below, one of the slash
// separated root-relative directories in skip.
func isSkipped(root, path string, skip []string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, s := range skip {
		if rel == s || strings.HasPrefix(rel, s+"/") {
			return true
		}
	}
	return false
}

// ignoreEvent reports changes that cannot affect a build: editor temp
// files and anything below a directory left out of fingerprints.
func ignoreEvent(root, path string, skip []string) bool {
	base := filepath.Base(path)
	if strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		strings.HasPrefix(base, ".#") ||
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#") {
		return true
	}
	if isSkipped(root, path, skip) {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if fingerprint.Ignored(part) {
			return true
		}
	}
	return false
}
