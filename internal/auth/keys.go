// Package auth signs and verifies the access tokens carried by asset URLs.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// PASETO v4 requires a 256-bit (32-byte) symmetric key.
	keyLength = 32
	// Expected hex-encoded length (32 bytes = 64 hex characters).
	keyHexLength = 64

	keyFileName = "asset.key"
)

// LoadOrGenerateKey loads or generates the hex-encoded signing key stored in
// <dir>/asset.key. A new key is written with owner-only permissions.
func LoadOrGenerateKey(dir string) (string, error) {
	keyPath := filepath.Join(dir, keyFileName)

	//#nosec G304 -- key path is derived from the configured data directory
	if keyBytes, err := os.ReadFile(keyPath); err == nil {
		keyHex := strings.TrimSpace(string(keyBytes))
		if len(keyHex) != keyHexLength {
			return "", fmt.Errorf("invalid asset key length: expected %d hex chars, got %d", keyHexLength, len(keyHex))
		}
		if _, err := hex.DecodeString(keyHex); err != nil {
			return "", fmt.Errorf("invalid asset key format: not valid hex: %w", err)
		}
		return keyHex, nil
	}

	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate asset key: %w", err)
	}
	keyHex := hex.EncodeToString(key)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(keyHex), 0o600); err != nil {
		return "", fmt.Errorf("failed to save asset key: %w", err)
	}
	return keyHex, nil
}
