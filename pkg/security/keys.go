package security

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

// EncryptionKeySize is the length in bytes of a generated data key
const EncryptionKeySize = 32

// WriteEncryptionKeyFile writes a random data key to <dir>/<name>.bin and
// the key config that references it to <dir>/<name>.txt. The returned path
// is the key config, which is what --key-file expects.
func WriteEncryptionKeyFile(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create key directory: %w", err)
	}

	key := make([]byte, EncryptionKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}

	keyPath := filepath.Join(dir, name+".bin")
	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return "", fmt.Errorf("failed to write key: %w", err)
	}

	configPath := filepath.Join(dir, name+".txt")
	config := fmt.Sprintf("Keys {\n  ContainerPath: %q\n  Pin: \"\"\n  Id: %q\n  Version: 1\n}\n", keyPath, name)
	if err := os.WriteFile(configPath, []byte(config), 0600); err != nil {
		return "", fmt.Errorf("failed to write key config: %w", err)
	}

	return configPath, nil
}
