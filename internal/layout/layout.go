// Package layout implements Change Layout / Artifacts (spec.md §4.8):
// allocating and managing openspec/changes/<change_id>/, with atomic
// writes and content-addressed manifests for drift detection.
package layout

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ArtifactRef identifies one committed artifact (spec.md §3).
type ArtifactRef struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Layout owns one change's artifact directory.
type Layout struct {
	dir string
}

// New returns a Layout rooted at changeDir
// ("openspec/changes/<change_id>").
func New(changeDir string) *Layout {
	return &Layout{dir: changeDir}
}

// Dir returns the change directory root.
func (l *Layout) Dir() string { return l.dir }

// PutArtifact writes data to relPath under the change directory atomically
// (write-to-temp + fsync + rename, spec.md §3: "Ownership... the engine
// writes atomically") and returns its content-addressed reference.
func (l *Layout) PutArtifact(relPath string, data []byte) (ArtifactRef, error) {
	full := filepath.Join(l.dir, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return ArtifactRef{}, fmt.Errorf("create artifact dir: %w", err)
	}

	tmp := full + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return ArtifactRef{}, fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return ArtifactRef{}, fmt.Errorf("write temp artifact: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return ArtifactRef{}, fmt.Errorf("fsync temp artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return ArtifactRef{}, fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return ArtifactRef{}, fmt.Errorf("rename temp artifact: %w", err)
	}

	sum := sha256.Sum256(data)
	return ArtifactRef{
		Path:   relPath,
		SHA256: hex.EncodeToString(sum[:]),
		Size:   int64(len(data)),
	}, nil
}

// ReadArtifact reads relPath under the change directory.
func (l *Layout) ReadArtifact(relPath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(l.dir, relPath))
}

// HashArtifact rehashes relPath as currently on disk.
func (l *Layout) HashArtifact(relPath string) (ArtifactRef, error) {
	data, err := l.ReadArtifact(relPath)
	if err != nil {
		return ArtifactRef{}, err
	}
	sum := sha256.Sum256(data)
	return ArtifactRef{Path: relPath, SHA256: hex.EncodeToString(sum[:]), Size: int64(len(data))}, nil
}

// VerifyManifest rehashes every entry in manifest and reports any whose
// content no longer matches (spec.md §4.8: "Detect drift by rehashing at
// commit time; drift aborts with ArtifactConflict").
func (l *Layout) VerifyManifest(manifest []ArtifactRef) (ok bool, drifted []ArtifactRef, err error) {
	for _, ref := range manifest {
		current, herr := l.HashArtifact(ref.Path)
		if herr != nil {
			return false, nil, fmt.Errorf("rehash %s: %w", ref.Path, herr)
		}
		if current.SHA256 != ref.SHA256 || current.Size != ref.Size {
			drifted = append(drifted, current)
		}
	}
	return len(drifted) == 0, drifted, nil
}

// ManifestHash computes a deterministic hash over a stage's artifact
// manifest: stable sort by path, then sha256 concatenation (spec.md §8:
// "the artifact manifest hash (stable sort by path, then sha256
// concatenation) is identical across runs").
func ManifestHash(manifest []ArtifactRef) string {
	sorted := append([]ArtifactRef{}, manifest...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	for _, ref := range sorted {
		h.Write([]byte(ref.Path))
		h.Write([]byte(ref.SHA256))
	}
	return hex.EncodeToString(h.Sum(nil))
}
