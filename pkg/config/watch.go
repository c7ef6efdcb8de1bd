package config

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"
)

// Watcher polls a set of files and reports when one of them changes.
// A change is only reported once the file has been stable for the
// debounce interval, so editors that write in several steps trigger a
// single reload.
type Watcher struct {
	mu sync.Mutex

	paths        []string
	interval     time.Duration
	debounceTime time.Duration
	stamps       map[string]fileStamp
	pending      map[string]time.Time

	onChange func(path string)
}

type fileStamp struct {
	modTime time.Time
	size    int64
}

// NewWatcher creates a watcher over paths. onChange is called from the
// goroutine running Run.
func NewWatcher(paths []string, onChange func(path string)) *Watcher {
	w := &Watcher{
		paths:        append([]string(nil), paths...),
		interval:     500 * time.Millisecond,
		debounceTime: 100 * time.Millisecond,
		stamps:       make(map[string]fileStamp),
		pending:      make(map[string]time.Time),
		onChange:     onChange,
	}
	for _, p := range w.paths {
		w.stamps[p] = statFile(p)
	}
	return w
}

// SetInterval sets the polling and debounce intervals.
func (w *Watcher) SetInterval(poll, debounce time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.interval = poll
	w.debounceTime = debounce
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.mu.Lock()
	interval := w.interval
	w.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, p := range w.Poll(now) {
				w.onChange(p)
			}
		}
	}
}

// Poll checks every file once and returns the paths whose change has
// settled by now.
func (w *Watcher) Poll(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ready []string
	for _, p := range w.paths {
		st := statFile(p)
		if st != w.stamps[p] {
			w.stamps[p] = st
			w.pending[p] = now
			continue
		}
		if since, ok := w.pending[p]; ok && now.Sub(since) >= w.debounceTime {
			delete(w.pending, p)
			ready = append(ready, p)
		}
	}
	return ready
}

func statFile(path string) fileStamp {
	fi, err := os.Stat(path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{modTime: fi.ModTime(), size: fi.Size()}
}

// DetectChanges compares two configs and returns the sorted names of
// sections that were added, removed, or modified.
func DetectChanges(oldCfg, newCfg *Config) []string {
	var changed []string

	for _, newSec := range newCfg.GetSections() {
		name := newSec.GetName()
		oldCfg.mu.RLock()
		oldSec := oldCfg.sections[name]
		oldCfg.mu.RUnlock()
		if oldSec == nil || !sectionsEqual(oldSec, newSec) {
			changed = append(changed, name)
		}
	}

	for _, oldSec := range oldCfg.GetSections() {
		if !newCfg.HasSection(oldSec.GetName()) {
			changed = append(changed, oldSec.GetName())
		}
	}

	sort.Strings(changed)
	return changed
}

// sectionsEqual checks if two sections have the same options.
func sectionsEqual(a, b *Section) bool {
	if len(a.options) != len(b.options) {
		return false
	}
	for k, v := range a.options {
		if bv, ok := b.options[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
