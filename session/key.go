// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadOrGenerateKey loads the master key from path, or generates a
// fresh one and persists it when the file does not exist. The key file
// holds the key hex-encoded, mode 0600. The containing directory must
// already exist.
//
// The key is process-wide state with a fixed lifecycle: loaded once at
// startup and held until exit. Rotation is deliberately not handled
// here — the sealed layout carries a key-version byte so rotation can
// be added without breaking outstanding cookies.
func LoadOrGenerateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("key file %s is not valid hex: %w", path, err)
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("key file %s holds %d bytes, want %d", path, len(key), KeySize)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	// Write to a temp file in the same directory and rename, so a
	// crash mid-write never leaves a truncated key behind.
	directory := filepath.Dir(path)
	tmp, err := os.CreateTemp(directory, ".key-*")
	if err != nil {
		return nil, fmt.Errorf("creating key file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("setting key file permissions: %w", err)
	}
	if _, err := tmp.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing key file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fmt.Errorf("persisting key file: %w", err)
	}
	return key, nil
}
