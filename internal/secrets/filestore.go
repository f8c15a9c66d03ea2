package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/agenshield/agenshield/internal/config"
)

// FileStore is a local, AES-256-GCM encrypted-at-rest Store, used when no
// broker-fronted vault is reachable. It is a convenience fallback, not a
// reimplementation of the out-of-scope vault's own encryption or unlock
// protocol.
type FileStore struct {
	path string
	key  [32]byte
	mu   sync.Mutex
}

// NewFileStore creates a store backed by an encrypted file. If path is
// empty, "<home>/.config/agenshield/secrets.enc" is used.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		home, err := config.ResolveHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determining home directory: %w", err)
		}
		path = filepath.Join(home, ".config", "agenshield", "secrets.enc")
	}
	key, err := deriveKey()
	if err != nil {
		return nil, fmt.Errorf("deriving encryption key: %w", err)
	}
	return &FileStore{path: path, key: key}, nil
}

// NewFileStoreWithKey creates a FileStore with a caller-supplied key,
// primarily for tests.
func NewFileStoreWithKey(path string, key [32]byte) *FileStore {
	return &FileStore{path: path, key: key}
}

func (f *FileStore) List(_ context.Context) ([]Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	store, err := f.load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Secret, 0, len(store))
	for _, s := range store {
		out = append(out, s)
	}
	return out, nil
}

func (f *FileStore) Get(_ context.Context, name string) (Secret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	store, err := f.load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Secret{}, ErrNotFound
		}
		return Secret{}, err
	}
	s, ok := store[name]
	if !ok {
		return Secret{}, ErrNotFound
	}
	return s, nil
}

func (f *FileStore) Set(_ context.Context, s Secret) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	store, err := f.load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if store == nil {
		store = make(map[string]Secret)
	}
	store[s.Name] = s
	return f.save(store)
}

func (f *FileStore) Destroy(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	store, err := f.load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	if _, ok := store[name]; !ok {
		return ErrNotFound
	}
	delete(store, name)
	return f.save(store)
}

func (f *FileStore) load() (map[string]Secret, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	plaintext, err := f.decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("decrypting secret store: %w", err)
	}
	var store map[string]Secret
	if err := json.Unmarshal(plaintext, &store); err != nil {
		return nil, fmt.Errorf("parsing secret store: %w", err)
	}
	return store, nil
}

func (f *FileStore) save(store map[string]Secret) error {
	plaintext, err := json.Marshal(store)
	if err != nil {
		return fmt.Errorf("marshalling secret store: %w", err)
	}
	ciphertext, err := f.encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("encrypting secret store: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating secrets directory: %w", err)
	}
	return os.WriteFile(f.path, ciphertext, 0o600)
}

func (f *FileStore) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(f.key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (f *FileStore) decrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(f.key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// deriveKey produces a 256-bit key from the machine ID and current user.
// Not a strong secret by itself — it ties the file to this host and user
// so it cannot simply be copied elsewhere.
func deriveKey() ([32]byte, error) {
	machineID, err := readMachineID()
	if err != nil {
		return [32]byte{}, fmt.Errorf("reading machine id: %w", err)
	}
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("LOGNAME")
	}
	if username == "" {
		username = "agenshield-user"
	}
	material := machineID + ":" + username + ":agenshield-secrets"
	return sha256.Sum256([]byte(material)), nil
}

func readMachineID() (string, error) {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil && len(data) > 0 {
		return string(data), nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}
	return hostname, nil
}
