package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/scrypt"

	"admin-auth-service/internal/util"
)

const (
	// versionPrefix tags the ciphertext format so the scheme can be
	// rotated later without re-encrypting everything up front.
	versionPrefix = "v1"

	// kdfSalt is an application-level constant; uniqueness per secret
	// comes from the random IV, not the salt.
	kdfSalt = "webhook-salt"

	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

var ErrEncryptionFailed = errors.New("encryption failed")

// Codec encrypts stored secrets (MFA seeds, partner webhook credentials)
// with AES-256-CBC under a key derived once from the master key.
type Codec struct {
	key []byte
}

// NewCodec derives the AES key from masterKey via scrypt. The derivation
// is slow on purpose; construct one codec at startup and share it.
func NewCodec(masterKey string) (*Codec, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("master key is empty")
	}
	key, err := scrypt.Key([]byte(masterKey), []byte(kdfSalt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive codec key: %w", err)
	}
	return &Codec{key: key}, nil
}

// EncryptSecret returns "v1:<ivHex>:<cipherHex>" with a fresh random IV.
func (c *Codec) EncryptSecret(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return versionPrefix + ":" + hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptSecret reverses EncryptSecret. It never returns an error to its
// caller: any malformed input, unknown version or padding failure yields
// ok=false, and the caller must treat the secret as unavailable.
func (c *Codec) DecryptSecret(encrypted string) (string, bool) {
	if encrypted == "" {
		return "", false
	}

	parts := strings.Split(encrypted, ":")
	if len(parts) != 3 || parts[0] != versionPrefix {
		return "", false
	}

	iv, err := hex.DecodeString(parts[1])
	if err != nil || len(iv) != aes.BlockSize {
		return "", false
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", false
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", false
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		util.Debug("secret decryption failed", zap.Error(err))
		return "", false
	}
	return string(unpadded), true
}

// SignPayload computes the hex HMAC-SHA256 signature partners use to
// verify webhook deliveries.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	pad := blockSize - len(b)%blockSize
	out := make([]byte, len(b)+pad)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	pad := int(b[len(b)-1])
	if pad == 0 || pad > blockSize || pad > len(b) {
		return nil, errors.New("invalid padding byte")
	}
	for _, by := range b[len(b)-pad:] {
		if int(by) != pad {
			return nil, errors.New("inconsistent padding")
		}
	}
	return b[:len(b)-pad], nil
}
