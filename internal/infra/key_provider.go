package infra

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltFileName = ".salt"
	saltSize     = 32
	keySize      = 32 // 256-bit SQLCipher key
	pbkdf2Iters  = 4096
)

// FileKeyProvider derives the config-store encryption key from a random
// per-install salt kept in a hidden file with 0600 permissions. The
// passphrase input is the machine hostname, so a copied database is
// useless on another machine.
type FileKeyProvider struct {
	saltPath string
}

// NewFileKeyProvider creates a FileKeyProvider for the given data directory.
func NewFileKeyProvider(dataDir string) *FileKeyProvider {
	return &FileKeyProvider{
		saltPath: filepath.Join(dataDir, saltFileName),
	}
}

// GetKey derives the encryption key from the stored salt.
func (p *FileKeyProvider) GetKey() ([]byte, error) {
	encoded, err := os.ReadFile(p.saltPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read salt file: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("invalid salt size: got %d, want %d", len(salt), saltSize)
	}
	return deriveKey(salt), nil
}

// StoreSalt writes new salt material with restricted permissions.
func (p *FileKeyProvider) StoreSalt(salt []byte) error {
	if len(salt) != saltSize {
		return fmt.Errorf("invalid salt size: got %d, want %d", len(salt), saltSize)
	}
	dir := filepath.Dir(p.saltPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(salt)
	if err := os.WriteFile(p.saltPath, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write salt file: %w", err)
	}
	return nil
}

// KeyExists checks if salt material has been generated.
func (p *FileKeyProvider) KeyExists() bool {
	_, err := os.Stat(p.saltPath)
	return err == nil
}

// EnsureKey generates and stores salt material if absent, then returns
// the derived key.
func (p *FileKeyProvider) EnsureKey() ([]byte, error) {
	if p.KeyExists() {
		return p.GetKey()
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := p.StoreSalt(salt); err != nil {
		return nil, err
	}
	return deriveKey(salt), nil
}

func deriveKey(salt []byte) []byte {
	hostname, _ := os.Hostname()
	return pbkdf2.Key([]byte("armorylink-"+hostname), salt, pbkdf2Iters, keySize, sha256.New)
}
