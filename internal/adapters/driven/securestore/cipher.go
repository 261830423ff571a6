package securestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// blobVersion is the version byte for the encrypted blob format.
	blobVersion = 0x01

	// nonceSize is the AES-GCM nonce size (12 bytes is standard)
	nonceSize = 12

	// keySize is the required key size for AES-256
	keySize = 32

	// hkdfInfo binds derived keys to this use.
	hkdfInfo = "carequeue-sync kv encryption v1"
)

var (
	// ErrEmptySecret is returned when no key material is given.
	ErrEmptySecret = errors.New("encryption secret must not be empty")

	// ErrInvalidBlobSize is returned when the encrypted blob is too small.
	ErrInvalidBlobSize = errors.New("encrypted blob is too small")

	// ErrUnsupportedVersion is returned when the blob version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported blob version")

	// ErrDecryptionFailed is returned when decryption fails (wrong key or corrupted data).
	ErrDecryptionFailed = errors.New("failed to decrypt blob")
)

// Cipher handles AES-256-GCM sealing of stored values.
// The sealed format is: version(1) || nonce(12) || ciphertext(N)
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher derives a 32-byte key from secret with HKDF-SHA256. salt may be
// nil; devices sharing a secret should pass their partition so keys differ.
func NewCipher(secret, salt []byte) (*Cipher, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Cipher{gcm: gcm}, nil
}

// Seal encrypts plaintext. The key name is authenticated as additional
// data so a blob cannot be moved to another key.
func (c *Cipher) Seal(key string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := c.gcm.Seal(nil, nonce, plaintext, []byte(key))

	blob := make([]byte, 1+nonceSize+len(ciphertext))
	blob[0] = blobVersion
	copy(blob[1:1+nonceSize], nonce)
	copy(blob[1+nonceSize:], ciphertext)

	return blob, nil
}

// Open decrypts a blob sealed under the same key name.
func (c *Cipher) Open(key string, blob []byte) ([]byte, error) {
	minSize := 1 + nonceSize + c.gcm.Overhead()
	if len(blob) < minSize {
		return nil, ErrInvalidBlobSize
	}

	if blob[0] != blobVersion {
		return nil, fmt.Errorf("%w: got version %d", ErrUnsupportedVersion, blob[0])
	}

	nonce := blob[1 : 1+nonceSize]
	ciphertext := blob[1+nonceSize:]

	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
