package artifacts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.EnsureLayout(); err != nil {
		t.Fatalf("Failed to ensure layout: %v", err)
	}
	return store
}

func TestFSStoreLayoutAndWrites(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveRawProviderSnapshot("web-search", "run-1", map[string]int{"returned": 3}); err != nil {
		t.Fatalf("SaveRawProviderSnapshot failed: %v", err)
	}
	if err := store.SaveNormalizedArticle("article-1", map[string]string{"title": "t"}); err != nil {
		t.Fatalf("SaveNormalizedArticle failed: %v", err)
	}
	if err := store.SaveRunArtifact("run-1", "clusters", []string{"c1"}); err != nil {
		t.Fatalf("SaveRunArtifact failed: %v", err)
	}

	paths := []string{
		filepath.Join(store.root, "runs", "run-1", "raw", "web-search.json"),
		filepath.Join(store.root, "articles", "article-1.json"),
		filepath.Join(store.root, "runs", "run-1", "clusters.json"),
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("Expected artifact at %s: %v", path, err)
			continue
		}
		if !json.Valid(data) {
			t.Errorf("Expected valid JSON at %s", path)
		}
	}
}

func TestFSStoreIdempotentByPath(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveNormalizedArticle("article-1", map[string]string{"v": "first"}); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	if err := store.SaveNormalizedArticle("article-1", map[string]string{"v": "second"}); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(store.root, "articles", "article-1.json"))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["v"] != "second" {
		t.Errorf("Expected last write to win, got %q", decoded["v"])
	}
}

func TestFSStoreRejectsPathEscapes(t *testing.T) {
	store := newTestStore(t)

	bad := [][2]string{
		{"../escape", "kind"},
		{"run-1", "../escape"},
		{"run/1", "kind"},
		{"", "kind"},
		{"..", "kind"},
	}
	for _, pair := range bad {
		if err := store.SaveRunArtifact(pair[0], pair[1], "x"); err == nil {
			t.Errorf("Expected rejection for runID=%q kind=%q", pair[0], pair[1])
		}
	}

	if err := store.SaveNormalizedArticle("../../etc/passwd", "x"); err == nil {
		t.Error("Expected rejection for escaping article ID")
	}
	if err := store.SaveRawProviderSnapshot("../evil", "run-1", "x"); err == nil {
		t.Error("Expected rejection for escaping provider name")
	}
}

func TestNopStore(t *testing.T) {
	var store NopStore
	if err := store.EnsureLayout(); err != nil {
		t.Errorf("Expected nop EnsureLayout to succeed, got %v", err)
	}
	if err := store.SaveRunArtifact("run", "kind", nil); err != nil {
		t.Errorf("Expected nop save to succeed, got %v", err)
	}
}
