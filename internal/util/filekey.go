package util

import (
	"crypto/sha1"
	"fmt"
	"os"
	"syscall"
)

// GenerateFileKey creates a stable key for a file based on its filesystem metadata
// Key is SHA1 of (dev, inode, size, mtime). A changed key means the cached
// content hash for the file can no longer be trusted.
func GenerateFileKey(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return GenerateSimpleFileKey(info.Size(), info.ModTime().UnixNano()), nil
	}

	h := sha1.New()
	fmt.Fprintf(h, "%d:%d:%d:%d", stat.Dev, stat.Ino, info.Size(), info.ModTime().UnixNano())
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// GenerateSimpleFileKey creates a key from size and mtime only (portable fallback)
func GenerateSimpleFileKey(size int64, mtime int64) string {
	h := sha1.New()
	fmt.Fprintf(h, "%d:%d", size, mtime)
	return fmt.Sprintf("%x", h.Sum(nil))
}
