// Package fs implementa el keystore sobre archivos JSON cifrados en reposo
// con secretbox. Un documento por llave (type/fingerprint/privacidad); la
// escritura usa atomicwrite para que sea todo-o-nada.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dropDatabas3/nickel/internal/keys"
	"github.com/dropDatabas3/nickel/internal/keystore"
	"github.com/dropDatabas3/nickel/internal/security/secretbox"
	"github.com/dropDatabas3/nickel/internal/util/atomicwrite"
)

const docExt = ".nkl"

type Store struct {
	root string
}

// New crea (si hace falta) el directorio root y devuelve el store.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("keystore fs: mkdir %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// docPath: <root>/<type>-<pub|priv>-<fingerprint>.nkl
func (s *Store) docPath(typ keys.Type, fingerprint string, private bool) string {
	half := "pub"
	if private {
		half = "priv"
	}
	name := fmt.Sprintf("%s-%s-%s%s", typ, half, strings.ToLower(fingerprint), docExt)
	return filepath.Join(s.root, name)
}

func (s *Store) Find(ctx context.Context, typ keys.Type, address string, private bool) (*keys.Key, error) {
	half := "pub"
	if private {
		half = "priv"
	}
	prefix := fmt.Sprintf("%s-%s-", typ, half)

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("keystore fs: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), docExt) {
			continue
		}
		k, err := s.readDoc(filepath.Join(s.root, e.Name()))
		if err != nil {
			return nil, err
		}
		if k.HasAddress(address) {
			return k, nil
		}
	}
	return nil, keystore.ErrNotFound
}

func (s *Store) Write(ctx context.Context, k *keys.Key) error {
	raw, err := json.Marshal(k)
	if err != nil {
		return fmt.Errorf("keystore fs: marshal: %w", err)
	}
	sealed, err := secretbox.Encrypt(raw)
	if err != nil {
		return fmt.Errorf("keystore fs: seal: %w", err)
	}
	path := s.docPath(k.Type, k.Fingerprint, k.Private)
	if err := atomicwrite.AtomicWriteFile(path, sealed, 0600); err != nil {
		return fmt.Errorf("keystore fs: write %s: %w", path, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, k *keys.Key) error {
	path := s.docPath(k.Type, k.Fingerprint, k.Private)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("keystore fs: remove %s: %w", path, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, private bool) ([]*keys.Key, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("keystore fs: read dir: %w", err)
	}

	var out []*keys.Key
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), docExt) {
			continue
		}
		k, err := s.readDoc(filepath.Join(s.root, e.Name()))
		if err != nil {
			return nil, err
		}
		if k.Private == private {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Store) readDoc(path string) (*keys.Key, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore fs: read %s: %w", path, err)
	}
	raw, err := secretbox.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("keystore fs: open %s: %w", path, err)
	}
	var k keys.Key
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("keystore fs: unmarshal %s: %w", path, err)
	}
	return &k, nil
}
