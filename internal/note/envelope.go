package note

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeBegin = "<!-- BEGIN ENCRYPTED TEXT --"
	envelopeEnd   = "-- END ENCRYPTED TEXT -->"

	saltSize = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var (
	// ErrWrongPassphrase is returned when an envelope fails authentication.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted note")

	// ErrNotEncrypted is returned by Decrypt for content without an envelope.
	ErrNotEncrypted = errors.New("note is not encrypted")

	// ErrNoPassphrase is returned when encryption is requested without a passphrase.
	ErrNoPassphrase = errors.New("passphrase is required")
)

// IsEncrypted reports whether content is an encryption envelope.
func IsEncrypted(content string) bool {
	s := strings.TrimSpace(content)
	return strings.HasPrefix(s, envelopeBegin) && strings.HasSuffix(s, envelopeEnd)
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

// Encrypt seals plaintext into an envelope with a fresh salt and nonce.
func Encrypt(plaintext, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrNoPassphrase
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	payload := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+aead.Overhead())
	payload = append(payload, salt...)
	payload = append(payload, nonce...)
	payload = aead.Seal(payload, nonce, []byte(plaintext), nil)

	return envelopeBegin + "\n" + base64.StdEncoding.EncodeToString(payload) + "\n" + envelopeEnd + "\n", nil
}

// Decrypt opens an envelope produced by Encrypt.
func Decrypt(envelope, passphrase string) (string, error) {
	if !IsEncrypted(envelope) {
		return "", ErrNotEncrypted
	}
	if passphrase == "" {
		return "", ErrNoPassphrase
	}

	s := strings.TrimSpace(envelope)
	s = strings.TrimPrefix(s, envelopeBegin)
	s = strings.TrimSuffix(s, envelopeEnd)
	s = strings.Join(strings.Fields(s), "")

	payload, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrongPassphrase, err)
	}
	if len(payload) < saltSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return "", fmt.Errorf("%w: payload too short", ErrWrongPassphrase)
	}

	salt := payload[:saltSize]
	nonce := payload[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := payload[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrWrongPassphrase
	}
	return string(plaintext), nil
}
