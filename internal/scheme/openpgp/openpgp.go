// Package openpgp implementa el Scheme OpenPGP sobre gopenpgp.
package openpgp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ProtonMail/gopenpgp/v2/crypto"
	"github.com/ProtonMail/gopenpgp/v2/helper"

	"github.com/dropDatabas3/nickel/internal/keys"
	"github.com/dropDatabas3/nickel/internal/keystore"
	"github.com/dropDatabas3/nickel/internal/observability/logger"
	"github.com/dropDatabas3/nickel/internal/scheme"
	"go.uber.org/zap"
)

const defaultBits = 4096

// Config ajusta la generación de llaves.
type Config struct {
	// Bits para llaves RSA. Default 4096. Los tests usan menos.
	Bits int
}

// Scheme implementa scheme.Scheme para llaves OpenPGP. El store es el
// keystore local; el scheme no conoce la política de confianza.
type Scheme struct {
	store keystore.Store
	bits  int
	log   *zap.Logger
}

func New(store keystore.Store, cfg Config) *Scheme {
	bits := cfg.Bits
	if bits <= 0 {
		bits = defaultBits
	}
	return &Scheme{
		store: store,
		bits:  bits,
		log:   logger.Named("openpgp"),
	}
}

func (s *Scheme) Type() keys.Type { return keys.OpenPGP }

func (s *Scheme) Get(ctx context.Context, address string, private bool) (*keys.Key, error) {
	k, err := s.store.Find(ctx, keys.OpenPGP, address, private)
	if errors.Is(err, keystore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", keys.ErrKeyNotFound, address)
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

// Put persiste k como llave activa para address. Si address tenía otra
// llave (distinto fingerprint) de la misma privacidad, la vieja se elimina:
// Find por dirección debe tener un único resultado.
func (s *Scheme) Put(ctx context.Context, k *keys.Key, address string) error {
	existing, err := s.store.Find(ctx, keys.OpenPGP, address, k.Private)
	if err != nil && !errors.Is(err, keystore.ErrNotFound) {
		return err
	}
	if err == nil && existing.Fingerprint != k.Fingerprint {
		if derr := s.store.Delete(ctx, existing); derr != nil {
			return derr
		}
	}
	return s.store.Write(ctx, k)
}

func (s *Scheme) Delete(ctx context.Context, k *keys.Key) error {
	return s.store.Delete(ctx, k)
}

func (s *Scheme) List(ctx context.Context, private bool) ([]*keys.Key, error) {
	all, err := s.store.List(ctx, private)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, k := range all {
		if k.Type == keys.OpenPGP {
			out = append(out, k)
		}
	}
	return out, nil
}

// Generate crea un par RSA para address, persiste ambas mitades y devuelve
// la privada.
func (s *Scheme) Generate(ctx context.Context, address string) (*keys.Key, error) {
	name := address
	if i := strings.Index(address, "@"); i > 0 {
		name = address[:i]
	}

	s.log.Info("generating key pair", zap.String("address", address), zap.Int("bits", s.bits))
	genKey, err := crypto.GenerateKey(name, address, "rsa", s.bits)
	if err != nil {
		return nil, fmt.Errorf("openpgp: generate: %w", err)
	}

	priv, err := s.buildKey(genKey, true)
	if err != nil {
		return nil, err
	}
	pubKey, err := genKey.ToPublic()
	if err != nil {
		return nil, fmt.Errorf("openpgp: to public: %w", err)
	}
	pub, err := s.buildKey(pubKey, false)
	if err != nil {
		return nil, err
	}

	if err := s.Put(ctx, pub, address); err != nil {
		return nil, err
	}
	if err := s.Put(ctx, priv, address); err != nil {
		return nil, err
	}
	return priv, nil
}

// ParseArmored interpreta material armored. Si el texto contiene la mitad
// privada devuelve ambas; si no, priv es nil.
func (s *Scheme) ParseArmored(armored string) (*keys.Key, *keys.Key, error) {
	key, err := crypto.NewKeyFromArmored(armored)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", keys.ErrParseFailed, err)
	}

	if !key.IsPrivate() {
		pub, err := s.buildKey(key, false)
		if err != nil {
			return nil, nil, err
		}
		return pub, nil, nil
	}

	priv, err := s.buildKey(key, true)
	if err != nil {
		return nil, nil, err
	}
	pubKey, err := key.ToPublic()
	if err != nil {
		return nil, nil, fmt.Errorf("openpgp: to public: %w", err)
	}
	pub, err := s.buildKey(pubKey, false)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

func (s *Scheme) buildKey(key *crypto.Key, private bool) (*keys.Key, error) {
	armored, err := key.Armor()
	if err != nil {
		return nil, fmt.Errorf("openpgp: armor: %w", err)
	}

	var addresses []string
	if ent := key.GetEntity(); ent != nil {
		for _, ident := range ent.Identities {
			if ident.UserId != nil && ident.UserId.Email != "" {
				addresses = append(addresses, ident.UserId.Email)
			}
		}
	}
	sort.Strings(addresses)

	now := time.Now().UTC()
	return &keys.Key{
		KeyID:       key.GetHexKeyID(),
		Fingerprint: key.GetFingerprint(),
		Addresses:   addresses,
		Type:        keys.OpenPGP,
		Material:    armored,
		Private:     private,
		Validation:  keys.WeakChain,
		CreatedAt:   now,
		RefreshedAt: now,
	}, nil
}

func (s *Scheme) Encrypt(data []byte, pub *keys.Key, sign *keys.Key) ([]byte, error) {
	ring, err := s.ring(pub)
	if err != nil {
		return nil, err
	}
	var signRing *crypto.KeyRing
	if sign != nil {
		signRing, err = s.ring(sign)
		if err != nil {
			return nil, err
		}
	}

	msg, err := ring.Encrypt(crypto.NewPlainMessage(data), signRing)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", keys.ErrEncryptFailed, err)
	}
	armored, err := msg.GetArmored()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", keys.ErrEncryptFailed, err)
	}
	return []byte(armored), nil
}

// Decrypt descifra data con priv. Si verify no es nil reporta además si la
// firma embebida verifica contra esa llave; el descifrado en sí nunca
// depende de la verificación.
func (s *Scheme) Decrypt(data []byte, priv *keys.Key, verify *keys.Key) ([]byte, bool, error) {
	pgpMsg, err := crypto.NewPGPMessageFromArmored(string(data))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", keys.ErrDecryptFailed, err)
	}
	ring, err := s.ring(priv)
	if err != nil {
		return nil, false, err
	}

	plain, err := ring.Decrypt(pgpMsg, nil, 0)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", keys.ErrDecryptFailed, err)
	}

	verified := false
	if verify != nil {
		verifyRing, err := s.ring(verify)
		if err != nil {
			return nil, false, err
		}
		if _, verr := ring.Decrypt(pgpMsg, verifyRing, crypto.GetUnixTime()); verr == nil {
			verified = true
		}
	}
	return plain.GetBinary(), verified, nil
}

func (s *Scheme) Sign(data []byte, priv *keys.Key, opts scheme.SignOptions) ([]byte, error) {
	ring, err := s.ring(priv)
	if err != nil {
		return nil, err
	}

	if opts.Clearsign {
		out, err := helper.SignCleartextMessage(ring, string(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", keys.ErrSignFailed, err)
		}
		return []byte(out), nil
	}

	sig, err := ring.SignDetached(crypto.NewPlainMessage(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", keys.ErrSignFailed, err)
	}
	if opts.Binary {
		return sig.Data, nil
	}
	armored, err := sig.GetArmored()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", keys.ErrSignFailed, err)
	}
	return []byte(armored), nil
}

func (s *Scheme) Verify(data []byte, pub *keys.Key, detachedSig []byte) (bool, error) {
	ring, err := s.ring(pub)
	if err != nil {
		return false, err
	}

	if detachedSig == nil {
		// Sin firma detached: data debe ser un mensaje cleartext firmado.
		_, err := helper.VerifyCleartextMessage(ring, string(data), crypto.GetUnixTime())
		return err == nil, nil
	}

	var sig *crypto.PGPSignature
	if strings.Contains(string(detachedSig), "BEGIN PGP SIGNATURE") {
		sig, err = crypto.NewPGPSignatureFromArmored(string(detachedSig))
		if err != nil {
			return false, fmt.Errorf("%w: %v", keys.ErrParseFailed, err)
		}
	} else {
		sig = &crypto.PGPSignature{Data: detachedSig}
	}

	err = ring.VerifyDetached(crypto.NewPlainMessage(data), sig, crypto.GetUnixTime())
	return err == nil, nil
}

// CanReplace es el hook de supersesión: una llave existente puede ser
// reemplazada si expiró o si nunca fue ejercitada (ni cifrado ni firma
// registrados contra ella). La monotonía del nivel de validación ya la
// chequeó la política antes de llegar acá.
func (s *Scheme) CanReplace(candidate, existing *keys.Key) bool {
	if ek, err := crypto.NewKeyFromArmored(existing.Material); err == nil && ek.IsExpired() {
		return true
	}
	if !existing.EncrUsed && !existing.SignUsed {
		return true
	}
	return false
}

func (s *Scheme) ring(k *keys.Key) (*crypto.KeyRing, error) {
	key, err := crypto.NewKeyFromArmored(k.Material)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", keys.ErrParseFailed, err)
	}
	return crypto.NewKeyRing(key)
}
