package recovery

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SeedPerm is the permission the seed file is created with.
const SeedPerm = 0600

// LoadOrCreateSeed reads the hex encoded seed stored at path, or creates a random one if the file does not exist.
func LoadOrCreateSeed(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return createSeed(path)
	}
	if err != nil {
		return nil, fmt.Errorf("recovery: read seed: %w", err)
	}
	seed, err := hex.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("recovery: decode seed: %w", err)
	}
	if len(seed) < SeedSize {
		return nil, fmt.Errorf("recovery: seed in %s is shorter than %d bytes", path, SeedSize)
	}
	return seed, nil
}

func createSeed(path string) ([]byte, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("recovery: generate seed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("recovery: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, SeedPerm)
	if err != nil {
		return nil, fmt.Errorf("recovery: create seed: %w", err)
	}
	if _, err = f.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("recovery: write seed: %w", err)
	}
	if err = f.Close(); err != nil {
		return nil, fmt.Errorf("recovery: write seed: %w", err)
	}
	return seed, nil
}
