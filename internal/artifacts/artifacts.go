// Package artifacts persists run outputs as pretty-printed JSON files. The
// store is write-only and idempotent by path, so retries and re-runs never
// corrupt earlier output.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is the persistence capability the orchestrator depends on.
type Store interface {
	EnsureLayout() error
	SaveRawProviderSnapshot(provider, runID string, payload any) error
	SaveNormalizedArticle(articleID string, payload any) error
	SaveRunArtifact(runID, kind string, payload any) error
}

// NopStore satisfies Store without writing anything. Used when persistence
// is disabled.
type NopStore struct{}

func (NopStore) EnsureLayout() error                               { return nil }
func (NopStore) SaveRawProviderSnapshot(string, string, any) error { return nil }
func (NopStore) SaveNormalizedArticle(string, any) error           { return nil }
func (NopStore) SaveRunArtifact(string, string, any) error         { return nil }

// FSStore writes artifacts under a root directory:
//
//	<root>/runs/<runID>/raw/<provider>.json
//	<root>/runs/<runID>/<kind>.json
//	<root>/articles/<articleID>.json
//
// Articles live outside the per-run tree because their IDs derive from
// canonical URLs, making the files shared and idempotent across runs.
type FSStore struct {
	root string
}

// NewFSStore creates a store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact root: %w", err)
	}
	return &FSStore{root: abs}, nil
}

// EnsureLayout creates the top-level directories.
func (s *FSStore) EnsureLayout() error {
	for _, dir := range []string{s.root, filepath.Join(s.root, "runs"), filepath.Join(s.root, "articles")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create artifact directory: %w", err)
		}
	}
	return nil
}

func (s *FSStore) SaveRawProviderSnapshot(provider, runID string, payload any) error {
	path, err := s.securePath("runs", runID, "raw", provider+".json")
	if err != nil {
		return err
	}
	return writeJSON(path, payload)
}

func (s *FSStore) SaveNormalizedArticle(articleID string, payload any) error {
	path, err := s.securePath("articles", articleID+".json")
	if err != nil {
		return err
	}
	return writeJSON(path, payload)
}

func (s *FSStore) SaveRunArtifact(runID, kind string, payload any) error {
	path, err := s.securePath("runs", runID, kind+".json")
	if err != nil {
		return err
	}
	return writeJSON(path, payload)
}

// securePath joins path elements under the root and rejects any element that
// could escape it.
func (s *FSStore) securePath(elems ...string) (string, error) {
	for _, elem := range elems {
		if elem == "" || elem == "." || elem == ".." ||
			strings.ContainsAny(elem, `/\`) || strings.Contains(elem, "..") {
			return "", fmt.Errorf("invalid artifact path element %q", elem)
		}
	}
	path := filepath.Join(append([]string{s.root}, elems...)...)
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path %q escapes root", path)
	}
	return path, nil
}

func writeJSON(path string, payload any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}
