// Package aead protects credential payloads with AES-128-GCM.
//
// Encrypt output is self-contained: a random 12-byte nonce is prepended to
// the sealed bytes (nonce || ciphertext || tag), so Decrypt needs only the
// key. Every call binds the same associated data, AssociatedData.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	dserrors "github.com/systmms/credstore/internal/errors"
	"github.com/systmms/credstore/pkg/credential"
)

// KeySize is the raw key length AES-128 requires.
const KeySize = 16

// AssociatedData is authenticated with every payload.
const AssociatedData = "Using Aes128Gcm to encrypt credential"

// randReader is swapped in tests.
var randReader io.Reader = rand.Reader

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size %d, want %d", len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext under key and returns nonce || ciphertext || tag.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindCrypto, "encrypt", "initialize cipher", err)
	}

	nonce := make([]byte, gcm.NonceSize(), gcm.NonceSize()+len(plaintext)+gcm.Overhead())
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return nil, dserrors.Wrap(dserrors.KindCrypto, "encrypt", "generate nonce", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, []byte(AssociatedData)), nil
}

// Decrypt opens a value produced by Encrypt. A wrong key, altered bytes or
// truncated input all fail tag verification.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindCrypto, "decrypt", "initialize cipher", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize+gcm.Overhead() {
		return nil, dserrors.New(dserrors.KindCrypto, "decrypt", "ciphertext too short")
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, []byte(AssociatedData))
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindCrypto, "decrypt", "open ciphertext", err)
	}
	return plaintext, nil
}

// Protect encrypts r.Value in place, storing it base64 encoded, and records
// Aes128Gcm as the applied algorithm. The declared policy in r.Metadata is
// left alone.
func Protect(r *credential.Record, key []byte) error {
	if r.Encryption != nil && *r.Encryption != credential.NoEncryption {
		return dserrors.New(dserrors.KindCrypto, "protect",
			fmt.Sprintf("value is already protected with %s", *r.Encryption))
	}

	sealed, err := Encrypt([]byte(r.Value), key)
	if err != nil {
		return err
	}
	r.Value = base64.StdEncoding.EncodeToString(sealed)
	r.Encryption = credential.Aes128Gcm.Ptr()
	return nil
}

// Unprotect reverses Protect. Records with no applied encryption are left
// unchanged.
func Unprotect(r *credential.Record, key []byte) error {
	if r.Encryption == nil {
		return nil
	}

	switch *r.Encryption {
	case credential.NoEncryption:
		return nil
	case credential.Aes128Gcm:
	default:
		return dserrors.New(dserrors.KindCrypto, "unprotect",
			fmt.Sprintf("%s has no payload cipher", *r.Encryption))
	}

	sealed, err := base64.StdEncoding.DecodeString(r.Value)
	if err != nil {
		return dserrors.Wrap(dserrors.KindCrypto, "unprotect", "decode base64 payload", err)
	}
	plaintext, err := Decrypt(sealed, key)
	if err != nil {
		return err
	}
	r.Value = string(plaintext)
	r.Encryption = credential.NoEncryption.Ptr()
	return nil
}
