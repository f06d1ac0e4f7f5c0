// Package crypto provides encryption and decryption for sensitive data at rest,
// primarily OAuth tokens. It implements AES-256-GCM authenticated encryption
// with associated-data binding and a versioned envelope format so ciphertext
// can be stored in text columns and survive future key/algorithm rotation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Envelope layout: version "." nonce "." tag "." ciphertext, each segment
// unpadded URL-safe base64. The 16-byte GCM tag is split off the sealed
// output so the stored value is self-describing.
const (
	envelopeVersion  = "v1"
	envelopeSegments = 4
	nonceSize        = 12
	tagSize          = 16
)

// ErrDecrypt is returned for any decryption failure: malformed envelope,
// unknown version, tag verification failure, or associated-data mismatch.
// Callers must treat it as unrecoverable for the record and force re-auth;
// the error intentionally carries no detail about which check failed.
var ErrDecrypt = errors.New("crypto: decryption failed")

// Cipher encrypts and decrypts strings bound to an associated-data context.
// The associated data is authenticated but not encrypted: an envelope sealed
// for one context cannot be opened under another (e.g. a token ciphertext
// copied between user rows fails verification).
type Cipher interface {
	// Encrypt seals plaintext into a versioned envelope string.
	Encrypt(plaintext, associatedData string) (string, error)

	// Decrypt opens an envelope produced by Encrypt. Returns an error
	// wrapping ErrDecrypt when verification fails for any reason.
	Decrypt(envelope, associatedData string) (string, error)
}

// AESCipher implements Cipher using AES-256-GCM.
type AESCipher struct {
	aead cipher.AEAD
}

// NewAESCipher creates a cipher from a base64-encoded 32-byte key.
// Generate one with: openssl rand -base64 32
//
// Returns an error if the key is missing, not valid base64, or not exactly
// 32 bytes after decoding. Key problems are configuration errors and should
// be fatal at startup, not retried.
func NewAESCipher(base64Key string) (*AESCipher, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}

	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}

	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &AESCipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random 96-bit nonce and returns the
// envelope string "v1.<nonce>.<tag>.<ciphertext>".
func (c *AESCipher) Encrypt(plaintext, associatedData string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("plaintext is empty")
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	// Seal output is ciphertext || tag; the tag occupies the trailing
	// Overhead() bytes.
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), []byte(associatedData))
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	enc := base64.RawURLEncoding
	return strings.Join([]string{
		envelopeVersion,
		enc.EncodeToString(nonce),
		enc.EncodeToString(tag),
		enc.EncodeToString(ct),
	}, "."), nil
}

// Decrypt parses and opens an envelope. Unknown versions fail closed: there
// is no fallback decoding path for unversioned or future ciphertext.
func (c *AESCipher) Decrypt(envelope, associatedData string) (string, error) {
	parts := strings.Split(envelope, ".")
	if len(parts) != envelopeSegments {
		return "", fmt.Errorf("%w: malformed envelope", ErrDecrypt)
	}
	if parts[0] != envelopeVersion {
		return "", fmt.Errorf("%w: unknown envelope version %q", ErrDecrypt, parts[0])
	}

	enc := base64.RawURLEncoding
	nonce, err := enc.DecodeString(parts[1])
	if err != nil || len(nonce) != nonceSize {
		return "", fmt.Errorf("%w: malformed envelope", ErrDecrypt)
	}
	tag, err := enc.DecodeString(parts[2])
	if err != nil || len(tag) != tagSize {
		return "", fmt.Errorf("%w: malformed envelope", ErrDecrypt)
	}
	ct, err := enc.DecodeString(parts[3])
	if err != nil {
		return "", fmt.Errorf("%w: malformed envelope", ErrDecrypt)
	}

	sealed := make([]byte, 0, len(ct)+len(tag))
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, []byte(associatedData))
	if err != nil {
		// Do not distinguish tag failure from AAD mismatch; the detail
		// could leak information about stored ciphertext.
		return "", ErrDecrypt
	}

	return string(plaintext), nil
}

// TokenAAD returns the associated-data string binding a token ciphertext to
// a specific Twitch user record.
func TokenAAD(userID string) string {
	return "twitchUser:" + userID + ":oauth"
}
