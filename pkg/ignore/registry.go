// Package ignore keeps the set of application names whose notifications are
// never forwarded.
package ignore

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/tidwall/gjson"

	"notifywatch/pkg/jsonfile"
)

type fileFormat struct {
	Apps []string `json:"apps"`
}

// Registry is the in-memory ignore set, mirrored to disk after every change.
// Names are compared exactly: no case folding and no trimming.
type Registry struct {
	path string
	log  *slog.Logger
	mu   sync.RWMutex
	apps map[string]struct{}
}

// NewRegistry creates an empty registry backed by path. Call Reload to read it.
func NewRegistry(path string, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		path: path,
		log:  log,
		apps: make(map[string]struct{}),
	}
}

// IsIgnored reports whether notifications from app are suppressed.
func (r *Registry) IsIgnored(app string) bool {
	if r == nil || app == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.apps[app]
	return ok
}

// Add suppresses app. It reports whether the set changed; adding a name that
// is already present is a no-op and does not touch the file.
func (r *Registry) Add(app string) (bool, error) {
	if app == "" {
		return false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[app]; ok {
		return false, nil
	}
	r.apps[app] = struct{}{}
	if err := r.saveLocked(); err != nil {
		delete(r.apps, app)
		return false, err
	}
	r.log.Info("app added to ignore list", "app", app)
	return true, nil
}

// Remove stops suppressing app. Removing an absent name is a no-op.
func (r *Registry) Remove(app string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.apps[app]; !ok {
		return false, nil
	}
	delete(r.apps, app)
	if err := r.saveLocked(); err != nil {
		r.apps[app] = struct{}{}
		return false, err
	}
	r.log.Info("app removed from ignore list", "app", app)
	return true, nil
}

// List returns the ignored names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

// Reload replaces the set with the file contents. Both {"apps": [...]} and a
// bare list are accepted. A missing file is an empty set; a malformed one is
// also treated as empty and the reason returned.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := jsonfile.Read(r.path)
	if err != nil {
		r.apps = map[string]struct{}{}
		if jsonfile.IsMissing(err) {
			return nil
		}
		return fmt.Errorf("read ignore list: %w", err)
	}

	apps, err := parse(data)
	if err != nil {
		r.apps = map[string]struct{}{}
		return err
	}
	r.apps = apps
	r.log.Info("loaded ignore list", "apps", len(apps))
	return nil
}

func parse(data []byte) (map[string]struct{}, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parse ignore list: invalid json")
	}
	doc := gjson.ParseBytes(data)
	list := doc
	if doc.IsObject() {
		list = doc.Get("apps")
	}
	apps := make(map[string]struct{})
	if !list.Exists() || list.Type == gjson.Null {
		return apps, nil
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("parse ignore list: apps is not a list")
	}
	list.ForEach(func(_, value gjson.Result) bool {
		if name := value.String(); name != "" {
			apps[name] = struct{}{}
		}
		return true
	})
	return apps, nil
}

func (r *Registry) saveLocked() error {
	if err := jsonfile.Write(r.path, fileFormat{Apps: r.sortedLocked()}); err != nil {
		return fmt.Errorf("save ignore list: %w", err)
	}
	return nil
}

func (r *Registry) sortedLocked() []string {
	out := make([]string, 0, len(r.apps))
	for app := range r.apps {
		out = append(out, app)
	}
	sort.Strings(out)
	return out
}
