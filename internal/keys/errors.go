package keys

import "errors"

// Taxonomía de errores del key manager. Se envuelven con %w y el detalle
// (address, key id, causa de transporte) en el punto donde se producen.
var (
	// ErrUnsupportedKeyType: se pidió un tipo de llave sin Scheme registrado.
	// Error de programación/configuración, se falla antes de cualquier I/O.
	ErrUnsupportedKeyType = errors.New("unsupported key type")

	// ErrKeyNotFound: la resolución no encontró llave, ni local ni remota.
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyAddressMismatch: la llave no reclama la dirección destino.
	ErrKeyAddressMismatch = errors.New("key address mismatch")

	// ErrKeyNotValidUpgrade: la política de confianza rechazó el reemplazo.
	ErrKeyNotValidUpgrade = errors.New("key is not a valid upgrade")

	// ErrInvalidSignature: la verificación falló o la llave nombrada no
	// produjo la firma.
	ErrInvalidSignature = errors.New("invalid signature")
)

// Errores del motor criptográfico. No forman parte del contrato de
// orquestación pero el engine puede fallar por material corrupto.
var (
	ErrEncryptFailed = errors.New("encrypt failed")
	ErrDecryptFailed = errors.New("decrypt failed")
	ErrSignFailed    = errors.New("sign failed")
	ErrParseFailed   = errors.New("could not parse key material")
)
