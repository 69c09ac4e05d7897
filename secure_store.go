package kiddoalert

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Secure store keys.
const (
	SecretAccessToken  = "access_token"
	SecretRefreshToken = "refresh_token"
	SecretDeviceID     = "device_id"
	SecretUserID       = "user_id"
)

// argon2id parameters for deriving the sealing key from the passphrase.
const (
	kdfTime    = 2
	kdfMemory  = 19 * 1024
	kdfThreads = 1
	saltSize   = 16
)

// TokenStore is the credential storage the APIClient and Authenticator need.
type TokenStore interface {
	AccessToken() (string, error)
	RefreshToken() (string, error)
	DeviceID() (string, error)
	UserID() (string, error)
	SaveTokens(access, refresh string) error
	SaveUserID(id string) error
	ClearTokens() error
}

// sealedFile is the on-disk format of SecureStore.
type sealedFile struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// SecureStore keeps session credentials encrypted at rest with
// XChaCha20-Poly1305 under an argon2id-derived key.
type SecureStore struct {
	mu     sync.Mutex
	path   string
	key    []byte
	salt   []byte
	values map[string]string
}

var _ TokenStore = (*SecureStore)(nil)

// NewSecureStore opens or creates the sealed credential file at path.
// A wrong passphrase or tampered file yields ErrSecretsLocked.
func NewSecureStore(path, passphrase string) (*SecureStore, error) {
	if path == "" {
		return nil, ErrMissingStorePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	s := &SecureStore{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err) || (err == nil && len(data) == 0):
		s.salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, s.salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		s.key = deriveKey(passphrase, s.salt)
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read secure store: %w", err)
	}

	var sealed sealedFile
	if err := json.Unmarshal(data, &sealed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreCorrupted, err)
	}
	s.salt = sealed.Salt
	s.key = deriveKey(passphrase, sealed.Salt)

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, ErrSecretsLocked
	}
	if err := json.Unmarshal(plain, &s.values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreCorrupted, err)
	}
	return s, nil
}

// NewMemorySecureStore returns a SecureStore that never touches disk.
func NewMemorySecureStore() *SecureStore {
	return &SecureStore{values: make(map[string]string)}
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize)
}

// persistLocked seals the current values and writes them atomically.
func (s *SecureStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	plain, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	out, err := json.Marshal(sealedFile{
		Version:    DefaultStoreVersion,
		Salt:       s.salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plain, nil),
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	return writeFileAtomic(s.path, out)
}

func (s *SecureStore) get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

func (s *SecureStore) set(kv map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range kv {
		if v == "" {
			delete(s.values, k)
			continue
		}
		s.values[k] = v
	}
	return s.persistLocked()
}

// AccessToken returns the stored access token or "".
func (s *SecureStore) AccessToken() (string, error) {
	return s.get(SecretAccessToken), nil
}

// RefreshToken returns the stored refresh token or "".
func (s *SecureStore) RefreshToken() (string, error) {
	return s.get(SecretRefreshToken), nil
}

// UserID returns the stored user id or "".
func (s *SecureStore) UserID() (string, error) {
	return s.get(SecretUserID), nil
}

// DeviceID returns the device id, generating and persisting a UUID on first read.
func (s *SecureStore) DeviceID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id := s.values[SecretDeviceID]; id != "" {
		return id, nil
	}
	id := uuid.NewString()
	s.values[SecretDeviceID] = id
	if err := s.persistLocked(); err != nil {
		return "", err
	}
	return id, nil
}

// SaveTokens stores both tokens.
func (s *SecureStore) SaveTokens(access, refresh string) error {
	return s.set(map[string]string{
		SecretAccessToken:  access,
		SecretRefreshToken: refresh,
	})
}

// SaveUserID stores the authenticated user id.
func (s *SecureStore) SaveUserID(id string) error {
	return s.set(map[string]string{SecretUserID: id})
}

// ClearTokens removes the tokens and user id. The device id survives.
func (s *SecureStore) ClearTokens() error {
	return s.set(map[string]string{
		SecretAccessToken:  "",
		SecretRefreshToken: "",
		SecretUserID:       "",
	})
}

// ClearAll removes every credential including the device id.
func (s *SecureStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]string)
	return s.persistLocked()
}
