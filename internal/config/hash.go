package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	return hashBytes(data), nil
}

func hashBytes(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Fingerprint returns blake3:<hex> of the file contents as they were loaded, or "" for
// in-memory configs. Later edits on disk do not change it.
func (c *Config) Fingerprint() string {
	if c == nil {
		return ""
	}
	return c.fingerprint
}

// FileFingerprint returns the fingerprint of path as it is on disk now.
func FileFingerprint(path string) (string, error) {
	h, err := ComputeBlake3Hash(path)
	if err != nil {
		return "", err
	}
	return "blake3:" + h, nil
}
