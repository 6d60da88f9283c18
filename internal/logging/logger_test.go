package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transferd.log")
	l := New(Config{LogFile: path, Verbose: true})

	l.Info().Msg("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected log output in %s", path)
	}
}

func TestNewDefaultDiscardsWithoutPanicking(t *testing.T) {
	l := NewDefault()
	l.Debug().Msg("should not panic")
}
