package layout

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPutArtifactWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	ref, err := l.PutArtifact("00-initialize.md", []byte("hello"))
	if err != nil {
		t.Fatalf("PutArtifact: %v", err)
	}
	if ref.Size != 5 {
		t.Errorf("Size = %d, want 5", ref.Size)
	}

	if _, err := os.Stat(filepath.Join(dir, "00-initialize.md.tmp")); !os.IsNotExist(err) {
		t.Error("temp file should not remain after rename")
	}

	data, err := l.ReadArtifact("00-initialize.md")
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("data = %q, want hello", data)
	}
}

func TestVerifyManifestDetectsDrift(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	ref, err := l.PutArtifact("spec.md", []byte("v1"))
	if err != nil {
		t.Fatal(err)
	}

	ok, drifted, err := l.VerifyManifest([]ArtifactRef{ref})
	if err != nil {
		t.Fatal(err)
	}
	if !ok || len(drifted) != 0 {
		t.Fatalf("expected no drift, got drifted=%v", drifted)
	}

	if _, err := l.PutArtifact("spec.md", []byte("v2-mutated")); err != nil {
		t.Fatal(err)
	}

	ok, drifted, err = l.VerifyManifest([]ArtifactRef{ref})
	if err != nil {
		t.Fatal(err)
	}
	if ok || len(drifted) != 1 {
		t.Fatalf("expected drift detected, ok=%v drifted=%v", ok, drifted)
	}
}

func TestManifestHashDeterministic(t *testing.T) {
	m1 := []ArtifactRef{{Path: "b.md", SHA256: "bb"}, {Path: "a.md", SHA256: "aa"}}
	m2 := []ArtifactRef{{Path: "a.md", SHA256: "aa"}, {Path: "b.md", SHA256: "bb"}}

	if ManifestHash(m1) != ManifestHash(m2) {
		t.Error("ManifestHash should be order-independent (stable sort by path)")
	}
}
