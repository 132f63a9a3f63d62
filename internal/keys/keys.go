// Package keys define el modelo de dominio del key manager: la llave,
// su nivel de validación y la taxonomía de errores.
package keys

import "time"

// Type identifica el esquema criptográfico de una llave ("openpgp", ...).
type Type string

const (
	// OpenPGP is the only scheme shipped today. Other types register
	// themselves against the same tag space.
	OpenPGP Type = "openpgp"
)

func (t Type) String() string { return string(t) }

// Key representa una llave criptográfica ligada a una o más direcciones.
//
// Una llave privada y su pública comparten KeyID/Fingerprint y direcciones,
// pero son entradas distintas en el store (índices private/public separados).
type Key struct {
	// KeyID es el identificador corto (hex) de la llave.
	KeyID string `json:"key_id"`

	// Fingerprint identifica la llave de forma única.
	Fingerprint string `json:"fingerprint"`

	// Addresses son las direcciones (UIDs) que la llave reclama. Nunca vacío.
	Addresses []string `json:"addresses"`

	// Type selecciona el Scheme en el registry.
	Type Type `json:"type"`

	// Material es el texto armored de la llave.
	Material string `json:"material"`

	// Private indica si Material contiene la mitad privada.
	Private bool `json:"private"`

	// Validation indica cómo se obtuvo la llave. Solo sube, nunca baja.
	Validation ValidationLevel `json:"validation"`

	// EncrUsed / SignUsed marcan si la llave fue realmente ejercitada.
	// Informan decisiones futuras de upgrade.
	EncrUsed bool `json:"encr_used"`
	SignUsed bool `json:"sign_used"`

	CreatedAt   time.Time `json:"created_at"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// HasAddress reporta si la llave reclama address entre sus UIDs.
func (k *Key) HasAddress(address string) bool {
	for _, a := range k.Addresses {
		if a == address {
			return true
		}
	}
	return false
}
