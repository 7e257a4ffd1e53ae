// ABOUTME: Encrypted file persistence with AES-256-GCM and owner-only key files
// ABOUTME: Provides atomic write-to-temp-then-rename saves for crash safety

package cryptofile

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// ErrCorrupt is returned when an encrypted file exists but cannot be
// decrypted or decoded. Callers must treat this as a startup error, not
// as an empty store.
var ErrCorrupt = errors.New("encrypted file is corrupt or key mismatch")

// LoadOrCreateKey returns the encryption key stored at path, generating a
// fresh 32-byte key with owner-only permissions on first use. An existing
// key file is never regenerated.
func LoadOrCreateKey(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		if len(data) != KeySize {
			return nil, fmt.Errorf("key file %s: expected %d bytes, got %d", path, KeySize, len(data))
		}
		return data, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating key directory: %w", err)
	}
	if err := WriteFileAtomic(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("writing key file: %w", err)
	}
	return key, nil
}

// LoadOrCreateSecret returns the text secret stored at path, generating a
// high-entropy base64url secret with owner-only permissions on first use.
// Used for the token signing secret.
func LoadOrCreateSecret(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("secret file %s is empty", path)
		}
		return secret, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("reading secret file: %w", err)
	}

	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("creating secret directory: %w", err)
	}
	if err := WriteFileAtomic(path, []byte(secret), 0o600); err != nil {
		return "", fmt.Errorf("writing secret file: %w", err)
	}
	return secret, nil
}

// Seal serializes v to JSON and encrypts it with AES-256-GCM under key.
// A fresh random nonce is generated per call and prepended to the ciphertext.
func Seal(key []byte, v any) ([]byte, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling state: %w", err)
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal and unmarshals the JSON into v.
// Returns ErrCorrupt if the data is truncated, tampered with, or was
// encrypted under a different key.
func Open(key, data []byte, v any) error {
	aesgcm, err := newGCM(key)
	if err != nil {
		return err
	}

	if len(data) < aesgcm.NonceSize() {
		return fmt.Errorf("%w: truncated", ErrCorrupt)
	}
	nonce, ciphertext := data[:aesgcm.NonceSize()], data[aesgcm.NonceSize():]

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

// SaveEncrypted seals v under key and atomically writes it to path with
// owner-only permissions. The file is never left half-written: content goes
// to a temp file in the same directory which is then renamed over path.
func SaveEncrypted(path string, key []byte, v any) error {
	data, err := Seal(key, v)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// LoadEncrypted reads the encrypted file at path and unmarshals it into v.
// Returns os.ErrNotExist (wrapped) if the file does not exist yet; the
// caller decides whether that means an empty store.
func LoadEncrypted(path string, key []byte, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := Open(key, data, v); err != nil {
		return fmt.Errorf("decrypting %s: %w", path, err)
	}
	return nil
}

// WriteFileAtomic writes data to path via a temp file and rename so a crash
// mid-write cannot leave a partially written file at path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return fmt.Errorf("setting temp file mode: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aesgcm, nil
}
