package ignore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"notifywatch/pkg/logger"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestRegistryAddRemovePersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ignore.json")
	reg := NewRegistry(path, logger.Discard())

	changed, err := reg.Add("Slack")
	if err != nil || !changed {
		t.Fatalf("Add(Slack) = %v, %v", changed, err)
	}
	if !reg.IsIgnored("Slack") {
		t.Error("expected Slack to be ignored right after Add")
	}

	fresh := NewRegistry(path, logger.Discard())
	if err := fresh.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !fresh.IsIgnored("Slack") {
		t.Error("reload lost Slack")
	}

	changed, err = reg.Remove("Slack")
	if err != nil || !changed {
		t.Fatalf("Remove(Slack) = %v, %v", changed, err)
	}
	if reg.IsIgnored("Slack") {
		t.Error("expected Slack to be forwarded right after Remove")
	}
	if err := fresh.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if fresh.IsIgnored("Slack") {
		t.Error("reload resurrected Slack")
	}
}

func TestRegistryIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ignore.json")
	reg := NewRegistry(path, logger.Discard())

	if _, err := reg.Add("Mail"); err != nil {
		t.Fatal(err)
	}
	changed, err := reg.Add("Mail")
	if err != nil || changed {
		t.Errorf("second Add = %v, %v; want no change", changed, err)
	}
	changed, err = reg.Remove("Calendar")
	if err != nil || changed {
		t.Errorf("Remove(absent) = %v, %v; want no change", changed, err)
	}
	if got := reg.List(); len(got) != 1 || got[0] != "Mail" {
		t.Errorf("List() = %v", got)
	}
}

func TestRegistryExactMatch(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "ignore.json"), logger.Discard())
	if _, err := reg.Add("Firefox"); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"firefox", "Firefox ", " Firefox", ""} {
		if reg.IsIgnored(name) {
			t.Errorf("IsIgnored(%q) = true, want exact match only", name)
		}
	}
	var nilRegistry *Registry
	if nilRegistry.IsIgnored("Firefox") {
		t.Error("nil registry ignored an app")
	}
}

func TestRegistryWritesSorted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ignore.json")
	reg := NewRegistry(path, logger.Discard())
	for _, app := range []string{"zoom", "Alpha", "mail"} {
		if _, err := reg.Add(app); err != nil {
			t.Fatal(err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	compact := strings.Join(strings.Fields(string(data)), "")
	if compact != `{"apps":["Alpha","mail","zoom"]}` {
		t.Errorf("file = %s", data)
	}
}

func TestRegistryReloadFormats(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
		wantErr bool
	}{
		{"object", `{"apps": ["b", "a"]}`, []string{"a", "b"}, false},
		{"bare list", `["Spotify", 3]`, []string{"3", "Spotify"}, false},
		{"empty object", `{}`, []string{}, false},
		{"malformed", `{"apps": [`, []string{}, true},
		{"apps not a list", `{"apps": "x"}`, []string{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempFile(t, t.TempDir(), "ignore.json", tt.content)
			reg := NewRegistry(path, logger.Discard())
			err := reg.Reload()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Reload error = %v, wantErr %v", err, tt.wantErr)
			}
			got := reg.List()
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("List() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "ignore.json"), logger.Discard())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = reg.Add("Busy")
			_, _ = reg.Remove("Busy")
		}()
		go func() {
			defer wg.Done()
			_ = reg.IsIgnored("Busy")
		}()
	}
	wg.Wait()
}

func TestRegistryReloadDuringAdd(t *testing.T) {
	reg := NewRegistry(filepath.Join(t.TempDir(), "ignore.json"), logger.Discard())
	apps := []string{"mail", "chat", "zoom", "calendar", "music", "torrent", "backup", "updates"}

	var wg sync.WaitGroup
	for _, app := range apps {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := reg.Add(app); err != nil {
				t.Errorf("Add(%q): %v", app, err)
				return
			}
			if !reg.IsIgnored(app) {
				t.Errorf("%q not ignored right after Add", app)
			}
		}()
		go func() {
			defer wg.Done()
			for range 10 {
				if err := reg.Reload(); err != nil {
					t.Errorf("Reload: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	for _, app := range apps {
		if !reg.IsIgnored(app) {
			t.Errorf("%q lost by a concurrent reload", app)
		}
	}
}
