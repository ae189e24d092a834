package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// LoadOrCreateToken returns the API token stored at path, generating it on
// first use. Concurrent processes serialize on a sibling lock file so they
// all end up with the same token.
func LoadOrCreateToken(path string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	lock := flock.New(path + lockFileSuffix)
	if err := lock.Lock(); err != nil {
		return "", fmt.Errorf("failed to acquire lock on %s: %w", lock.Path(), err)
	}
	defer lock.Unlock()

	if b, err := os.ReadFile(path); err == nil {
		if token := strings.TrimSpace(string(b)); token != "" {
			return token, nil
		}
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(token), 0600); err != nil {
		return "", err
	}
	return token, nil
}
