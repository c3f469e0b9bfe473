package telegram

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gotd/td/session"
	"golang.org/x/crypto/argon2"
)

var (
	ErrEmptyPassphrase   = errors.New("session passphrase is empty")
	ErrInvalidCiphertext = errors.New("invalid session file: too short")
	ErrDecryptionFailed  = errors.New("session decryption failed")
)

// sealedMagic prefixes every sealed session file.
var sealedMagic = []byte("EMBS1")

const (
	saltSize = 16
	keySize  = 32
)

// SealedStorage is a gotd session store that keeps the MTProto auth key
// encrypted at rest with AES-256-GCM. The key is derived from a passphrase
// with Argon2id; the salt is stored in the file header.
//
// File layout: magic | salt | nonce | ciphertext+tag.
type SealedStorage struct {
	Path       string
	passphrase []byte

	mu sync.Mutex
}

var _ session.Storage = (*SealedStorage)(nil)

// NewSealedStorage creates a sealed store at path.
func NewSealedStorage(path, passphrase string) (*SealedStorage, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	return &SealedStorage{Path: path, passphrase: []byte(passphrase)}, nil
}

// NewSessionStorage picks the sealed store when a passphrase is configured
// and the plain gotd file store otherwise.
func NewSessionStorage(path, passphrase string) session.Storage {
	if passphrase == "" {
		return &session.FileStorage{Path: path}
	}
	return &SealedStorage{Path: path, passphrase: []byte(passphrase)}
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, keySize)
}

// LoadSession implements session.Storage.
func (s *SealedStorage) LoadSession(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return open(data, s.passphrase)
}

// StoreSession implements session.Storage.
func (s *SealedStorage) StoreSession(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := seal(data, s.passphrase)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	if err := os.WriteFile(s.Path, sealed, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func seal(plaintext, passphrase []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(sealedMagic)+saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	// The header is authenticated together with the payload.
	return gcm.Seal(out, nonce, plaintext, out[:len(sealedMagic)+saltSize]), nil
}

func open(data, passphrase []byte) ([]byte, error) {
	if len(data) < len(sealedMagic)+saltSize || !bytes.HasPrefix(data, sealedMagic) {
		return nil, ErrInvalidCiphertext
	}
	header := data[:len(sealedMagic)+saltSize]
	salt := header[len(sealedMagic):]

	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	rest := data[len(header):]
	if len(rest) < gcm.NonceSize() {
		return nil, ErrInvalidCiphertext
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
