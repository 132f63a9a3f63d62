// Package secretbox cifra los documentos del keystore en disco con
// AES-256-GCM. La clave maestra viene de NICKEL_MASTER_KEY (base64).
package secretbox

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
	"sync"
)

const (
	secretBoxEnvVar   = "NICKEL_MASTER_KEY"
	nonceSizeGCM      = 12  // AES-GCM nonce size recomendado (96 bits)
	requiredKeyLength = 32  // 32 bytes => AES-256
	sep               = "|" // nonce|ciphertext (ambos en base64)
)

var (
	masterKey     []byte
	masterKeyOnce sync.Once
	loadErr       error
	mu            sync.RWMutex
)

// ensureLoaded carga la clave maestra desde NICKEL_MASTER_KEY (base64) una sola vez.
func ensureLoaded() error {
	masterKeyOnce.Do(func() {
		kb64 := strings.TrimSpace(os.Getenv(secretBoxEnvVar))
		if kb64 == "" {
			loadErr = fmt.Errorf("%s no seteada; genere una clave con: openssl rand -base64 32", secretBoxEnvVar)
			return
		}
		k, err := base64.StdEncoding.DecodeString(kb64)
		if err != nil {
			loadErr = fmt.Errorf("decode %s: %w", secretBoxEnvVar, err)
			return
		}
		if len(k) != requiredKeyLength {
			loadErr = fmt.Errorf("%s debe decodificar a %d bytes, obtuvo %d", secretBoxEnvVar, requiredKeyLength, len(k))
			return
		}
		mu.Lock()
		masterKey = make([]byte, len(k))
		copy(masterKey, k)
		mu.Unlock()
	})
	return loadErr
}

// Ready expone si la clave está cargada (útil para healthchecks).
func Ready() bool {
	mu.RLock()
	defer mu.RUnlock()
	return len(masterKey) == requiredKeyLength
}

func gcm() (cipher.AEAD, error) {
	if err := ensureLoaded(); err != nil {
		return nil, err
	}

	mu.RLock()
	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	mu.RUnlock()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// Encrypt cifra plaintext y devuelve base64(nonce)|base64(ciphertext).
func Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce random: %w", err)
	}

	ct := aead.Seal(nil, nonce, plaintext, nil)

	out := base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct)
	return []byte(out), nil
}

// Decrypt descifra el formato producido por Encrypt.
func Decrypt(data []byte) ([]byte, error) {
	parts := strings.SplitN(string(data), sep, 2)
	if len(parts) != 2 {
		return nil, errors.New("secretbox: formato inválido, se esperaba nonce|ciphertext")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	if len(nonce) != nonceSizeGCM {
		return nil, fmt.Errorf("nonce de %d bytes, se esperaban %d", len(nonce), nonceSizeGCM)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	aead, err := gcm()
	if err != nil {
		return nil, err
	}

	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("secretbox: %w", err)
	}
	return pt, nil
}

// UnsafeResetForTests limpia el estado global. Solo para tests.
func UnsafeResetForTests() {
	mu.Lock()
	masterKey = nil
	masterKeyOnce = sync.Once{}
	loadErr = nil
	mu.Unlock()
}
