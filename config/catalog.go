package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/relaywire/eventcore/intent"
	"github.com/relaywire/eventcore/telemetry"
)

// FileCatalog implements intent.Catalog directly over a YAML config
// document, for installations that declare their intent catalog as part of
// the static config rather than through the admin/promotion surface backed
// by store.CatalogStore. It watches the document's file and hot-reloads its
// catalog section without a process restart; a reload that fails schema
// validation or is unparsable is logged and discarded, leaving the last-good
// catalog in place.
type FileCatalog struct {
	path   string
	logger telemetry.Logger

	mu      sync.RWMutex
	entries []intent.Entry

	watcher *fsnotify.Watcher
	done    chan struct{}
}

var _ intent.Catalog = (*FileCatalog)(nil)

// NewFileCatalog loads path once and returns a FileCatalog ready to serve
// intent.Catalog reads. Call Watch to start hot-reloading.
func NewFileCatalog(path string, logger telemetry.Logger) (*FileCatalog, error) {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	fc := &FileCatalog{path: path, logger: logger}
	entries, err := loadCatalogEntries(path)
	if err != nil {
		return nil, err
	}
	fc.entries = entries
	return fc, nil
}

// Active implements intent.Catalog.
func (c *FileCatalog) Active(ctx context.Context) ([]intent.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var active []intent.Entry
	for _, e := range c.entries {
		if e.Active {
			active = append(active, e)
		}
	}
	return intent.SortByPriorityDescending(active), nil
}

// FindByName implements intent.Catalog.
func (c *FileCatalog) FindByName(ctx context.Context, name string) (intent.Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.Name == name {
			return e, true, nil
		}
	}
	return intent.Entry{}, false, nil
}

// Watch starts watching the catalog file's directory for writes and
// reloads on change, debounced by 200ms to coalesce editor save bursts. It
// returns once the watcher is armed; reload failures are logged, not
// returned, since a bad edit should not bring down an already-running core.
func (c *FileCatalog) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create catalog watcher: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	c.watcher = w
	c.done = make(chan struct{})

	go c.reloadLoop(ctx)
	return nil
}

// Close stops the watcher, if running.
func (c *FileCatalog) Close() error {
	if c.watcher == nil {
		return nil
	}
	close(c.done)
	return c.watcher.Close()
}

func (c *FileCatalog) reloadLoop(ctx context.Context) {
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(c.path) {
				continue
			}
			if !pending {
				pending = true
				debounce.Reset(200 * time.Millisecond)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn(ctx, "config: catalog watcher error", "error", err.Error())
		case <-debounce.C:
			pending = false
			c.reload(ctx)
		}
	}
}

func (c *FileCatalog) reload(ctx context.Context) {
	entries, err := loadCatalogEntries(c.path)
	if err != nil {
		c.logger.Warn(ctx, "config: catalog reload failed, keeping previous catalog", "path", c.path, "error", err.Error())
		return
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	c.logger.Info(ctx, "config: intent catalog reloaded", "path", c.path, "entries", len(entries))
}

func loadCatalogEntries(path string) ([]intent.Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("config: normalize document: %w", err)
	}
	if err := validate(asJSON); err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: decode document: %w", err)
	}
	entries := make([]intent.Entry, 0, len(doc.Catalog))
	for _, d := range doc.Catalog {
		entries = append(entries, d.toEntry())
	}
	return entries, nil
}
