// Package keystore provides persistence backends for auth.KeyStore beyond
// the in-memory default (adapter/outbound/memory.AuthStore): an
// environment-variable-backed store for bootstrap/ephemeral secrets, and a
// file-encrypted store for single-node durability without a database.
package keystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/mcpanvil/core/internal/domain/auth"
)

// kdfParams tunes the Argon2id key derivation used to turn a passphrase into
// an AES-256 key. Matches the memory/iteration cost domain/auth.crypto.go
// uses for password hashing, since both run on the same threat model
// (local attacker with the ciphertext but not the passphrase).
const (
	kdfMemoryKiB  = 47 * 1024
	kdfIterations = 1
	kdfThreads    = 1
	kdfKeyLength  = 32 // AES-256
	saltLength    = 16
)

// fileEnvelope is the on-disk JSON structure: salt and nonce for decryption,
// plus the AES-GCM-sealed key blob.
type fileEnvelope struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`       // hex
	Nonce      string `json:"nonce"`      // hex
	Ciphertext string `json:"ciphertext"` // hex, includes GCM tag
	UpdatedAt  string `json:"updated_at"`
}

// FileStore is an auth.KeyStore backed by a single encrypted file. Writes
// are atomic (write-temp, fsync, rename) and cross-process-safe (flock on a
// sidecar .lock file), the same discipline the teacher's state store uses
// for state.json.
type FileStore struct {
	path       string
	passphrase []byte
	logger     *slog.Logger

	mu   sync.RWMutex
	keys map[string]*auth.ApiKey
}

// NewFileStore opens (or initializes) an encrypted key store at path,
// derived from passphrase. Load must be called before use.
func NewFileStore(path string, passphrase []byte, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, passphrase: passphrase, logger: logger, keys: make(map[string]*auth.ApiKey)}
}

// Load reads and decrypts the key file. A missing file is not an error —
// it means an empty store, matching the teacher's FileStateStore.Load
// first-boot behavior.
func (f *FileStore) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.logger.Info("key file not found, starting empty", "path", f.path)
			return nil
		}
		return fmt.Errorf("keystore: read file: %w", err)
	}

	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(f.path); statErr == nil {
			if mode := info.Mode().Perm(); mode&0077 != 0 {
				f.logger.Warn("key file has too-open permissions, should be 0600",
					"path", f.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("keystore: parse envelope: %w", err)
	}

	plaintext, err := f.decrypt(env)
	if err != nil {
		return fmt.Errorf("keystore: decrypt: %w", err)
	}

	var keys []*auth.ApiKey
	if err := json.Unmarshal(plaintext, &keys); err != nil {
		return fmt.Errorf("keystore: parse keys: %w", err)
	}

	loaded := make(map[string]*auth.ApiKey, len(keys))
	for _, k := range keys {
		loaded[k.ID] = k
	}
	f.keys = loaded
	return nil
}

// save encrypts and atomically persists the current in-memory key set.
// Caller must hold f.mu.
func (f *FileStore) save() error {
	keys := make([]*auth.ApiKey, 0, len(f.keys))
	for _, k := range f.keys {
		keys = append(keys, k)
	}
	plaintext, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("keystore: marshal keys: %w", err)
	}

	env, err := f.encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("keystore: encrypt: %w", err)
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("keystore: marshal envelope: %w", err)
	}
	data = append(data, '\n')

	lockPath := f.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("keystore: open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("keystore: acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	if err := f.writeAtomic(data); err != nil {
		return err
	}
	if err := os.Chmod(f.path, 0600); err != nil {
		f.logger.Warn("failed to set permissions on key file", "error", err)
	}
	return nil
}

func (f *FileStore) writeAtomic(data []byte) error {
	tmpPath := f.path + ".tmp"
	fh, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("keystore: create temp file: %w", err)
	}
	cleanup := func() {
		_ = fh.Close()
		_ = os.Remove(tmpPath)
	}
	if _, err := fh.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("keystore: write temp file: %w", err)
	}
	if err := fh.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("keystore: fsync temp file: %w", err)
	}
	if err := fh.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("keystore: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("keystore: rename temp to target: %w", err)
	}
	return nil
}

func (f *FileStore) deriveKey(salt []byte) []byte {
	return argon2.IDKey(f.passphrase, salt, kdfIterations, kdfMemoryKiB, kdfThreads, kdfKeyLength)
}

func (f *FileStore) encrypt(plaintext []byte) (fileEnvelope, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return fileEnvelope{}, err
	}
	key := f.deriveKey(salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fileEnvelope{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fileEnvelope{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fileEnvelope{}, err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	return fileEnvelope{
		Version:    1,
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(ciphertext),
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (f *FileStore) decrypt(env fileEnvelope) ([]byte, error) {
	salt, err := hex.DecodeString(env.Salt)
	if err != nil {
		return nil, fmt.Errorf("bad salt: %w", err)
	}
	nonce, err := hex.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("bad nonce: %w", err)
	}
	ciphertext, err := hex.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("bad ciphertext: %w", err)
	}

	key := f.deriveKey(salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (f *FileStore) Create(_ context.Context, key *auth.ApiKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *key
	f.keys[key.ID] = &cp
	return f.save()
}

func (f *FileStore) Get(_ context.Context, id string) (*auth.ApiKey, error) {
	f.mu.RLock()
	key, ok := f.keys[id]
	f.mu.RUnlock()
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	cp := *key
	return &cp, nil
}

func (f *FileStore) List(_ context.Context) ([]*auth.ApiKey, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*auth.ApiKey, 0, len(f.keys))
	for _, key := range f.keys {
		cp := *key
		out = append(out, &cp)
	}
	return out, nil
}

func (f *FileStore) Update(_ context.Context, key *auth.ApiKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key.ID]; !ok {
		return auth.ErrKeyNotFound
	}
	cp := *key
	f.keys[key.ID] = &cp
	return f.save()
}

func (f *FileStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[id]; !ok {
		return auth.ErrKeyNotFound
	}
	delete(f.keys, id)
	return f.save()
}

var _ auth.KeyStore = (*FileStore)(nil)
