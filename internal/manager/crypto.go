package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dropDatabas3/nickel/internal/keys"
	"github.com/dropDatabas3/nickel/internal/scheme"
)

// Signature es el resultado de verificación de un Decrypt. Exactamente uno
// de Key/Err está seteado: la llave verificante, o bien ErrKeyNotFound
// para la dirección de verificación / ErrInvalidSignature.
type Signature struct {
	Key *keys.Key
	Err error
}

// Verified reporta si la firma verificó contra una llave conocida.
func (s *Signature) Verified() bool {
	return s != nil && s.Err == nil && s.Key != nil
}

// EncryptOptions controla Encrypt. El zero value cifra sin firmar y sin
// tocar la red.
type EncryptOptions struct {
	// Sign es la dirección cuyo private key firma el mensaje. Vacío = sin
	// firma. La llave de firma siempre se resuelve solo localmente.
	Sign string
	// FetchRemote habilita el fallback al nickserver para la llave del
	// destinatario.
	FetchRemote bool
}

// DecryptOptions controla Decrypt.
type DecryptOptions struct {
	// Verify es la dirección contra cuya llave pública verificar la firma.
	// Vacío = no verificar.
	Verify string
	// FetchRemote habilita el fallback remoto para la llave de Verify.
	FetchRemote bool
}

// Encrypt cifra data para address y, si opts.Sign está seteado, firma con
// la llave privada de esa dirección. Las dos resoluciones corren en
// paralelo y se juntan antes de cifrar: nunca se pasa un juego parcial de
// llaves al engine. Si cualquiera falla, la operación entera falla con ese
// KeyNotFound; no se devuelve cifrado parcial.
func (m *Manager) Encrypt(ctx context.Context, data []byte, address string, typ keys.Type, opts EncryptOptions) ([]byte, error) {
	s, err := m.registry.Resolve(typ)
	if err != nil {
		return nil, err
	}

	var (
		wg              sync.WaitGroup
		pub, signKey    *keys.Key
		pubErr, signErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		pub, pubErr = m.GetKey(ctx, address, typ, false, opts.FetchRemote)
	}()
	if opts.Sign != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			signKey, signErr = m.GetKey(ctx, opts.Sign, typ, true, false)
		}()
	}
	wg.Wait()

	// La llave obligatoria (el destinatario) tiene precedencia al reportar.
	if pubErr != nil {
		return nil, pubErr
	}
	if signErr != nil {
		return nil, signErr
	}

	ciphertext, err := s.Encrypt(data, pub, signKey)
	if err != nil {
		return nil, err
	}

	// La llave fue ejercitada: el flag informa upgrades futuros y se
	// persiste antes de devolver el cifrado.
	pub.EncrUsed = true
	if err := s.Put(ctx, pub, address); err != nil {
		return nil, err
	}
	return ciphertext, nil
}

// Decrypt descifra data con la llave privada de address y, si opts.Verify
// está seteado, verifica la firma con la llave pública de esa dirección.
//
// El manejo de fallas es asimétrico a propósito: sin llave privada la
// llamada entera falla; una llave de verificación ausente solo degrada el
// resultado (Signature.Err = KeyNotFound) — descifrar no debe fallar
// porque la llave del remitente no aparezca.
func (m *Manager) Decrypt(ctx context.Context, data []byte, address string, typ keys.Type, opts DecryptOptions) ([]byte, *Signature, error) {
	s, err := m.registry.Resolve(typ)
	if err != nil {
		return nil, nil, err
	}

	var (
		wg                 sync.WaitGroup
		priv, verifyKey    *keys.Key
		privErr, verifyErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		priv, privErr = m.GetKey(ctx, address, typ, true, false)
	}()
	if opts.Verify != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			verifyKey, verifyErr = m.GetKey(ctx, opts.Verify, typ, false, opts.FetchRemote)
		}()
	}
	wg.Wait()

	if privErr != nil {
		return nil, nil, privErr
	}
	// KeyNotFound en la rama de verificación es informativo; cualquier
	// otro error sí aborta.
	if verifyErr != nil && !errors.Is(verifyErr, keys.ErrKeyNotFound) {
		return nil, nil, verifyErr
	}
	if verifyErr != nil {
		verifyKey = nil
	}

	plaintext, verified, err := s.Decrypt(data, priv, verifyKey)
	if err != nil {
		return nil, nil, err
	}

	var sig *Signature
	switch {
	case opts.Verify == "":
		sig = nil
	case verifyKey == nil:
		sig = &Signature{Err: verifyErr}
	case verified:
		verifyKey.SignUsed = true
		if err := s.Put(ctx, verifyKey, opts.Verify); err != nil {
			return nil, nil, err
		}
		sig = &Signature{Key: verifyKey}
	default:
		sig = &Signature{Err: fmt.Errorf("%w: failed to verify signature with key %s",
			keys.ErrInvalidSignature, verifyKey.KeyID)}
	}
	return plaintext, sig, nil
}

// Sign firma data con la llave privada de address (resolución solo local).
func (m *Manager) Sign(ctx context.Context, data []byte, address string, typ keys.Type, opts scheme.SignOptions) ([]byte, error) {
	s, err := m.registry.Resolve(typ)
	if err != nil {
		return nil, err
	}
	priv, err := m.GetKey(ctx, address, typ, true, false)
	if err != nil {
		return nil, err
	}
	return s.Sign(data, priv, opts)
}

// Verify verifica data con la llave pública de address, usando detachedSig
// si se provee. En éxito marca y persiste "signature used"; en fallo de
// verificación devuelve ErrInvalidSignature nombrando la llave.
func (m *Manager) Verify(ctx context.Context, data []byte, address string, typ keys.Type, detachedSig []byte, fetchRemote bool) (*keys.Key, error) {
	s, err := m.registry.Resolve(typ)
	if err != nil {
		return nil, err
	}
	pub, err := m.GetKey(ctx, address, typ, false, fetchRemote)
	if err != nil {
		return nil, err
	}

	ok, err := s.Verify(data, pub, detachedSig)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: failed to verify signature with key %s",
			keys.ErrInvalidSignature, pub.KeyID)
	}

	pub.SignUsed = true
	if err := s.Put(ctx, pub, address); err != nil {
		return nil, err
	}
	return pub, nil
}
