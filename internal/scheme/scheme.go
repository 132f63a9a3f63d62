// Package scheme define la interfaz de capacidades por tipo de llave y el
// registry que despacha sobre ella. El registry no guarda datos de llaves,
// solo comportamiento.
package scheme

import (
	"context"

	"github.com/dropDatabas3/nickel/internal/keys"
)

// SignOptions controla el formato de salida de Sign.
type SignOptions struct {
	// Detached produce una firma separada del texto (default del manager).
	Detached bool
	// Clearsign produce un mensaje cleartext firmado en lugar de una firma
	// detached. Excluyente con Detached.
	Clearsign bool
	// Binary omite el armor ASCII de la firma.
	Binary bool
}

// Scheme es la implementación concreta de un esquema criptográfico para un
// tipo de llave. Cubre tanto las primitivas (generate/parse/encrypt/...)
// como el acceso al store local para llaves de su tipo.
type Scheme interface {
	// Type es el tag bajo el que el scheme se registra.
	Type() keys.Type

	// Get busca en el store local la llave del tipo del scheme ligada a
	// address. Falla con keys.ErrKeyNotFound si no hay.
	Get(ctx context.Context, address string, private bool) (*keys.Key, error)

	// Put persiste k como la llave activa para address, reemplazando
	// cualquier llave previa de la misma privacidad. Atómico por documento.
	Put(ctx context.Context, k *keys.Key, address string) error

	// Delete elimina la llave del store local.
	Delete(ctx context.Context, k *keys.Key) error

	// List devuelve todas las llaves del tipo del scheme.
	List(ctx context.Context, private bool) ([]*keys.Key, error)

	// Generate crea un par de llaves para address, persiste ambas mitades
	// y devuelve la privada.
	Generate(ctx context.Context, address string) (*keys.Key, error)

	// ParseArmored interpreta material armored. priv es nil si el texto
	// solo contiene la mitad pública.
	ParseArmored(armored string) (pub *keys.Key, priv *keys.Key, err error)

	// Encrypt cifra data para pub, firmando con sign si no es nil.
	Encrypt(data []byte, pub *keys.Key, sign *keys.Key) ([]byte, error)

	// Decrypt descifra data con priv. Si verify no es nil, además reporta
	// si la firma embebida verifica contra esa llave.
	Decrypt(data []byte, priv *keys.Key, verify *keys.Key) (plaintext []byte, verified bool, err error)

	// Sign firma data con priv según opts.
	Sign(data []byte, priv *keys.Key, opts SignOptions) ([]byte, error)

	// Verify verifica data contra pub, usando detachedSig si se provee;
	// si no, data debe ser un mensaje cleartext firmado.
	Verify(data []byte, pub *keys.Key, detachedSig []byte) (bool, error)

	// CanReplace es el hook de supersesión de la política de confianza:
	// decide si candidate es sucesor legítimo de existing según la noción
	// del esquema (expiración, llave nunca ejercitada, ...).
	CanReplace(candidate, existing *keys.Key) bool
}
