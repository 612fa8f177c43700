// Package secret encrypts provider API keys before they are written to the
// configuration table. Keys are sealed with AES-256-GCM under a key derived
// from machine and user identifiers, so a copied database is useless on
// another machine.
package secret

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Prefix marks sealed values in storage.
const Prefix = "enc:v1:"

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidFormat    = errors.New("invalid sealed value")
)

// Box seals and opens values.
type Box struct {
	aead cipher.AEAD
}

// NewBox returns a Box keyed for the current machine and user.
func NewBox() (*Box, error) {
	return NewBoxFromMaterial(machineMaterial())
}

// NewBoxFromMaterial derives the key from material.
func NewBoxFromMaterial(material []byte) (*Box, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, material, []byte("diario"), []byte("config secrets v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext. The empty string stays empty.
func (b *Box) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Values without Prefix were stored
// in the clear and are returned unchanged.
func (b *Box) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, Prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	n := b.aead.NonceSize()
	if len(raw) < n {
		return "", ErrInvalidFormat
	}
	plain, err := b.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Mask hides all but the ends of a secret for display.
func Mask(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// IsSecretKey reports whether a configuration key holds a credential.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	return strings.HasSuffix(k, "api_key") || strings.HasSuffix(k, "token")
}

func machineMaterial() []byte {
	var b strings.Builder
	host, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	b.WriteString(host)
	b.WriteString(home)
	b.WriteString(runtime.GOOS)
	b.WriteString(runtime.GOARCH)
	if uid := os.Getuid(); uid != -1 {
		fmt.Fprintf(&b, "uid:%d", uid)
	}
	b.WriteString(os.Getenv("USER"))
	return []byte(b.String())
}

// KV is a flat key/value settings table.
type KV interface {
	SetConfig(ctx context.Context, key, value string) error
	GetConfig(ctx context.Context, key string) (string, error)
}

// Vault stores settings in a KV, sealing credentials on the way in.
type Vault struct {
	kv  KV
	box *Box
}

func NewVault(kv KV, box *Box) *Vault {
	return &Vault{kv: kv, box: box}
}

func (v *Vault) Set(ctx context.Context, key, value string) error {
	if IsSecretKey(key) {
		sealed, err := v.box.Seal(value)
		if err != nil {
			return err
		}
		value = sealed
	}
	return v.kv.SetConfig(ctx, key, value)
}

// Get returns the stored value, opened when sealed. Unset keys yield "".
func (v *Vault) Get(ctx context.Context, key string) (string, error) {
	stored, err := v.kv.GetConfig(ctx, key)
	if err != nil {
		return "", err
	}
	value, err := v.box.Open(stored)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", key, err)
	}
	return value, nil
}
