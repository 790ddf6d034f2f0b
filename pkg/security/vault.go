// Package security holds the identity vault that seals the real submitter of
// anonymous reports.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/hkdf"
)

const (
	saltSize          = 16
	trackingTokenSize = 32
	trackingPrefix    = "trk_"
	hkdfInfo          = "citizen-reporting/anonymous-identity/v1"
	fallbackJWTSecret = "SUPER_SECRET_KEY_CHANGE_ME"
)

var ErrDecrypt = errors.New("identity vault: cannot open sealed reporter id")

// MasterKey returns the 32-byte vault master key. anonEncKey (base64 of 32
// bytes) wins; otherwise the key is the SHA-256 of the JWT secret.
func MasterKey(anonEncKey, jwtSecret string) ([]byte, error) {
	if v := strings.TrimSpace(anonEncKey); v != "" {
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("decode ANON_ENC_KEY: %w", err)
		}
		if len(b) != 32 {
			return nil, errors.New("ANON_ENC_KEY must decode to 32 bytes")
		}
		return b, nil
	}

	secret := strings.TrimSpace(jwtSecret)
	if secret == "" {
		secret = fallbackJWTSecret
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:], nil
}

// Sealed is what the store keeps for an anonymous report. TrackingToken is
// the plaintext handed to the submitter once; only its hash is persisted.
type Sealed struct {
	EncryptedReporterID string
	KeyID               string
	TrackingToken       string
}

type Vault struct {
	master    []byte
	tokenCost int

	dummyOnce sync.Once
	dummyHash []byte
}

func NewVault(master []byte) (*Vault, error) {
	return NewVaultWithCost(master, bcrypt.DefaultCost)
}

// NewVaultWithCost sets the bcrypt cost used for tracking-token hashes.
func NewVaultWithCost(master []byte, cost int) (*Vault, error) {
	if len(master) != 32 {
		return nil, fmt.Errorf("vault master key must be 32 bytes, got %d", len(master))
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("invalid bcrypt cost %d", cost)
	}
	key := make([]byte, len(master))
	copy(key, master)
	return &Vault{master: key, tokenCost: cost}, nil
}

// Encrypt seals reporterID under a key derived from a fresh salt and issues
// a new tracking token.
func (v *Vault) Encrypt(reporterID string) (Sealed, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Sealed{}, fmt.Errorf("read salt: %w", err)
	}
	keyID := base64.RawURLEncoding.EncodeToString(salt)

	gcm, err := v.aead(salt)
	if err != nil {
		return Sealed{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Sealed{}, fmt.Errorf("read nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(reporterID), []byte(keyID))
	payload := append(nonce, ciphertext...)

	token, err := newTrackingToken()
	if err != nil {
		return Sealed{}, err
	}
	return Sealed{
		EncryptedReporterID: base64.StdEncoding.EncodeToString(payload),
		KeyID:               keyID,
		TrackingToken:       token,
	}, nil
}

func (v *Vault) Decrypt(encrypted, keyID string) (string, error) {
	salt, err := base64.RawURLEncoding.DecodeString(keyID)
	if err != nil || len(salt) != saltSize {
		return "", ErrDecrypt
	}
	payload, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", ErrDecrypt
	}
	gcm, err := v.aead(salt)
	if err != nil {
		return "", err
	}
	ns := gcm.NonceSize()
	if len(payload) < ns {
		return "", ErrDecrypt
	}
	pt, err := gcm.Open(nil, payload[:ns], payload[ns:], []byte(keyID))
	if err != nil {
		return "", ErrDecrypt
	}
	return string(pt), nil
}

func (v *Vault) aead(salt []byte) (cipher.AEAD, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, v.master, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func (v *Vault) HashTrackingToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), v.tokenCost)
	if err != nil {
		return "", fmt.Errorf("hash tracking token: %w", err)
	}
	return string(h), nil
}

// VerifyTrackingToken reports whether token matches hash. An empty hash
// still costs one bcrypt comparison so lookups of missing reports take as
// long as mismatches.
func (v *Vault) VerifyTrackingToken(hash, token string) bool {
	if hash == "" {
		v.dummyOnce.Do(func() {
			v.dummyHash, _ = bcrypt.GenerateFromPassword([]byte(trackingPrefix+"dummy"), v.tokenCost)
		})
		_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(token))
		return false
	}
	if token == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(hash), []byte(trackingPrefix))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

func newTrackingToken() (string, error) {
	b := make([]byte, trackingTokenSize)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("read tracking token: %w", err)
	}
	return trackingPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}
