package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

type Service interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// NewService returns the cipher for the given passphrase: a pass-through when
// the passphrase is empty, AES-256-GCM with a scrypt-derived key otherwise.
func NewService(passphrase string) Service {
	if passphrase == "" {
		return NoopService{}
	}
	return &AesGcmService{passphrase: passphrase}
}

// NoopService passes payloads through without encryption (no passphrase configured).
type NoopService struct{}

func (NoopService) Encrypt(plaintext []byte) ([]byte, error)  { return plaintext, nil }
func (NoopService) Decrypt(ciphertext []byte) ([]byte, error) { return ciphertext, nil }

const (
	saltSize = 16
	keySize  = 32

	// Interactive-strength scrypt parameters
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// AesGcmService encrypts payloads with AES-256-GCM under a key derived from
// the passphrase with scrypt. The salt is prepended to the ciphertext so any
// instance built from the same passphrase can open it. Safe for concurrent
// use; the derived key is cached per salt since derivation is deliberately
// expensive.
type AesGcmService struct {
	passphrase string

	mu   sync.Mutex
	salt []byte
	aead cipher.AEAD
}

func (c *AesGcmService) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.aead == nil {
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, errors.Wrap(err, "[AesGcmService.Encrypt] generate salt")
		}
		if err := c.deriveLocked(salt); err != nil {
			return nil, err
		}
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "[AesGcmService.Encrypt] generate nonce")
	}

	// Layout: salt || nonce || ciphertext || tag
	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, c.salt...)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, nil), nil
}

func (c *AesGcmService) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < saltSize {
		return nil, errors.New("[AesGcmService.Decrypt] ciphertext too short")
	}
	salt, rest := ciphertext[:saltSize], ciphertext[saltSize:]

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.aead == nil || !bytes.Equal(salt, c.salt) {
		if err := c.deriveLocked(salt); err != nil {
			return nil, err
		}
	}

	nonceSize := c.aead.NonceSize()
	if len(rest) < nonceSize {
		return nil, errors.New("[AesGcmService.Decrypt] ciphertext too short")
	}
	nonce, cipherBytes := rest[:nonceSize], rest[nonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, cipherBytes, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[AesGcmService.Decrypt] open ciphertext")
	}
	return plaintext, nil
}

func (c *AesGcmService) deriveLocked(salt []byte) error {
	key, err := scrypt.Key([]byte(c.passphrase), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return errors.Wrap(err, "[AesGcmService.deriveLocked] derive key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return errors.Wrap(err, "[AesGcmService.deriveLocked] create cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return errors.Wrap(err, "[AesGcmService.deriveLocked] create GCM")
	}

	c.salt = append([]byte(nil), salt...)
	c.aead = aead
	return nil
}
