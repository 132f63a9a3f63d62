// Package keystore define el store local de llaves y su driver en memoria.
// Drivers persistentes: keystore/fs (archivos cifrados) y keystore/pg.
package keystore

import (
	"context"
	"errors"

	"github.com/dropDatabas3/nickel/internal/keys"
)

var (
	ErrNotFound = errors.New("not found")
)

// Store es el almacenamiento local de llaves. La escritura de una llave es
// atómica: o queda completa o el store no cambia. El store no conoce la
// política de confianza; eso vive en el orquestador.
type Store interface {
	// Find busca una llave de typ ligada a address con la privacidad
	// pedida. Devuelve ErrNotFound si no hay.
	Find(ctx context.Context, typ keys.Type, address string, private bool) (*keys.Key, error)

	// Write inserta o reemplaza (por type/fingerprint/private) la llave.
	Write(ctx context.Context, k *keys.Key) error

	// Delete elimina la llave identificada por type/fingerprint/private.
	Delete(ctx context.Context, k *keys.Key) error

	// List devuelve todas las llaves con la privacidad pedida, de todos
	// los tipos. Orden indefinido.
	List(ctx context.Context, private bool) ([]*keys.Key, error)
}

// clone evita que los llamadores muten el estado interno del store.
func clone(k *keys.Key) *keys.Key {
	out := *k
	out.Addresses = append([]string(nil), k.Addresses...)
	return &out
}
