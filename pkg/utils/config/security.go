// Copyright 2025 Consentry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config resolves sensitive configuration values from environment
// references and encrypted literals.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// keyEnvVar names the environment variable holding the AES-256 key
	// for ENC(...) values.
	keyEnvVar = "CONSENTRY_CONFIG_KEY"

	// devFallbackKey keeps local development working without a key set.
	// DO NOT rely on it in production.
	devFallbackKey = "consentry-dev-key-not-for-prod!!"
)

// GetSecureValue resolves one configuration value. "${VAR}" expands to
// the environment variable VAR, "ENC(...)" decrypts the enclosed
// ciphertext, and anything else passes through unchanged.
func GetSecureValue(value string) (string, error) {
	if ref, ok := unwrap(value, "${", "}"); ok {
		resolved := os.Getenv(ref)
		if resolved == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return resolved, nil
	}
	if enc, ok := unwrap(value, "ENC(", ")"); ok {
		return DecryptValue(enc)
	}
	return value, nil
}

// unwrap strips a prefix/suffix pair, reporting whether value carried it.
func unwrap(value, prefix, suffix string) (string, bool) {
	if !strings.HasPrefix(value, prefix) || !strings.HasSuffix(value, suffix) {
		return "", false
	}
	return value[len(prefix) : len(value)-len(suffix)], true
}

// EncryptValue seals a plaintext with AES-256-GCM and returns it
// base64-encoded, nonce first.
func EncryptValue(plaintext string) (string, error) {
	gcm, err := newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptValue reverses EncryptValue.
func DecryptValue(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	gcm, err := newGCM()
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, sealed := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt value: %w", err)
	}
	return string(plaintext), nil
}

func newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(encryptionKey())
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// encryptionKey derives the 32-byte AES key. Shorter keys are
// zero-padded, longer ones truncated.
func encryptionKey() []byte {
	raw := os.Getenv(keyEnvVar)
	if raw == "" {
		raw = devFallbackKey
	}
	var key [32]byte
	copy(key[:], raw)
	return key[:]
}
