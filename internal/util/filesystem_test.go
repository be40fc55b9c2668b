package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.txt")

	if err := os.WriteFile(path, []byte("old\n"), 0644); err != nil {
		t.Fatalf("Failed to seed file: %v", err)
	}

	if err := WriteFileAtomic(path, []byte("new\n"), 0644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(got) != "new\n" {
		t.Errorf("Expected %q, got %q", "new\n", got)
	}

	if _, err := os.Stat(path + "~"); !os.IsNotExist(err) {
		t.Errorf("Temp file should not survive a successful write")
	}
}

func TestWriteFileAtomic_MissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "catalog.txt")
	if err := WriteFileAtomic(path, []byte("x"), 0644); err == nil {
		t.Error("Expected error when parent directory does not exist")
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mp3")
	if FileExists(path) {
		t.Error("FileExists reported a missing file")
	}
	os.WriteFile(path, []byte("x"), 0644)
	if !FileExists(path) {
		t.Error("FileExists missed an existing file")
	}
	if FileExists(dir) {
		t.Error("FileExists should be false for directories")
	}
}

func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in       int64
		expected string
	}{
		{0, "0 B"},
		{-5, "0 B"},
		{1024, "1.0 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}

	for _, tc := range testCases {
		if got := FormatBytes(tc.in); got != tc.expected {
			t.Errorf("FormatBytes(%d) = %q, expected %q", tc.in, got, tc.expected)
		}
	}
}
