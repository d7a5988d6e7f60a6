// Package artifacts stores node output blobs on disk, one directory per run.
// The database keeps metadata rows (pkg/services); this package owns only the
// bytes. Blobs are immutable once written — retries produce sibling files
// instead of overwriting.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/troupe-ai/troupe/pkg/models"
)

// Store writes and reads artifact blobs under a root directory, laid out as
// <root>/<run_id>/<node_id>.<ext>.
type Store struct {
	root string
}

// WriteResult describes a persisted blob.
type WriteResult struct {
	Path   string // relative to the store root
	Bytes  int64
	SHA256 string
}

// NewStore creates the root directory if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("artifact root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// Write persists body for (runID, nodeID, typ) and returns the relative path,
// size and hex SHA-256 digest. When a blob for the node already exists (a
// retried node), the new file gets a numeric suffix so earlier attempts stay
// inspectable. The write goes through a temp file and rename so readers never
// observe a partial blob.
func (s *Store) Write(runID, nodeID string, typ models.ArtifactType, body []byte) (*WriteResult, error) {
	if err := validateSegment(runID); err != nil {
		return nil, fmt.Errorf("invalid run id: %w", err)
	}
	if err := validateSegment(nodeID); err != nil {
		return nil, fmt.Errorf("invalid node id: %w", err)
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown artifact type %q", typ)
	}

	dir := filepath.Join(s.root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	name := nodeID + "." + typ.Ext()
	for attempt := 2; ; attempt++ {
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s.%d.%s", nodeID, attempt, typ.Ext())
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("failed to publish blob: %w", err)
	}

	digest := sha256.Sum256(body)
	return &WriteResult{
		Path:   filepath.Join(runID, name),
		Bytes:  int64(len(body)),
		SHA256: hex.EncodeToString(digest[:]),
	}, nil
}

// Read returns the blob at a relative path previously returned by Write.
func (s *Store) Read(relPath string) ([]byte, error) {
	clean := filepath.Clean(relPath)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("invalid artifact path %q", relPath)
	}
	body, err := os.ReadFile(filepath.Join(s.root, clean))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return body, nil
}

// RemoveRun deletes a run's whole blob directory. Missing directories are not
// an error.
func (s *Store) RemoveRun(runID string) error {
	if err := validateSegment(runID); err != nil {
		return fmt.Errorf("invalid run id: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(s.root, runID)); err != nil {
		return fmt.Errorf("failed to remove run artifacts: %w", err)
	}
	return nil
}

// CheckWritable probes the root with a throwaway file. Used by health checks.
func (s *Store) CheckWritable() error {
	probe, err := os.CreateTemp(s.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("artifact root not writable: %w", err)
	}
	name := probe.Name()
	probe.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("failed to remove probe file: %w", err)
	}
	return nil
}

// validateSegment rejects ids that could escape the store layout.
func validateSegment(id string) error {
	if id == "" {
		return fmt.Errorf("empty")
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("contains path separators")
	}
	return nil
}
