package filenaming

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveNoCollisionUsesRequestedName(t *testing.T) {
	dir := t.TempDir()
	n := New()

	name, err := n.Resolve(dir, ".transferd-tmp", "output.zip", "https://example.test/output.zip")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if name != "output.zip" {
		t.Errorf("name = %q, want output.zip", name)
	}
}

func TestResolveDerivesNameFromURL(t *testing.T) {
	dir := t.TempDir()
	n := New()

	name, err := n.Resolve(dir, ".transferd-tmp", "", "https://example.test/path/to/report.pdf")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if name != "report.pdf" {
		t.Errorf("name = %q, want report.pdf", name)
	}
}

func TestResolveMintsTemplateWhenURLHasNoBasename(t *testing.T) {
	dir := t.TempDir()
	n := New()

	name, err := n.Resolve(dir, ".transferd-tmp", "", "https://example.test/")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(name) != len("file000000") || name[:4] != "file" {
		t.Errorf("name = %q, want fileXXXXXX shape", name)
	}
}

func TestResolveCollisionAppendsIncrementingSuffix(t *testing.T) {
	dir := t.TempDir()
	n := New()

	if err := os.WriteFile(filepath.Join(dir, "report.pdf"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	name, err := n.Resolve(dir, ".transferd-tmp", "report.pdf", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if name != "report_1.pdf" {
		t.Errorf("name = %q, want report_1.pdf", name)
	}

	if err := os.WriteFile(filepath.Join(dir, "report_1.pdf"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	name2, err := n.Resolve(dir, ".transferd-tmp", "report.pdf", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if name2 != "report_2.pdf" {
		t.Errorf("name = %q, want report_2.pdf (idempotent re-derivation)", name2)
	}
}

func TestResolveChecksTempPathToo(t *testing.T) {
	dir := t.TempDir()
	n := New()

	tempDir := filepath.Join(dir, ".transferd-tmp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "a.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	name, err := n.Resolve(dir, ".transferd-tmp", "a.bin", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if name != "a_1.bin" {
		t.Errorf("name = %q, want a_1.bin", name)
	}
}

func TestResolveRejectsInvalidRequestedName(t *testing.T) {
	dir := t.TempDir()
	n := New()

	if _, err := n.Resolve(dir, ".transferd-tmp", "../escape", ""); err != ErrInvalidFilename {
		t.Errorf("err = %v, want ErrInvalidFilename", err)
	}
	if _, err := n.Resolve(dir, ".transferd-tmp", "...", ""); err != ErrInvalidFilename {
		t.Errorf("err = %v, want ErrInvalidFilename", err)
	}
}
