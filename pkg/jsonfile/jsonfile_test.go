package jsonfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	if err := Write(path, map[string][]string{"apps": {"a", "b"}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := "{\n  \"apps\": [\n    \"a\",\n    \"b\"\n  ]\n}\n"
	if string(data) != want {
		t.Errorf("file content = %q, want %q", data, want)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}
}

func TestReadMissing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.json"))
	if !IsMissing(err) {
		t.Errorf("expected missing-file error, got %v", err)
	}
}
