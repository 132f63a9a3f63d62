package keys

import "fmt"

// ValidationLevel es el rating ordenado de confianza de una llave pública,
// según cómo fue obtenida. El orden importa: una llave almacenada nunca se
// reemplaza por una de nivel menor.
type ValidationLevel int

const (
	// WeakChain: llave obtenida de un directorio no autoritativo para el
	// dominio de la dirección (p.ej. keyserver de terceros).
	WeakChain ValidationLevel = iota + 1

	// ProviderTrust: llave obtenida del directorio autoritativo para el
	// dominio de la dirección (dominio de la dirección == host del
	// directorio).
	ProviderTrust

	ProviderEndorsement
	ThirdPartyEndorsement
	ThirdPartyConsensus
	HistoricallyAuditing
	KnownPorts
	Fingerprint
)

var levelNames = map[ValidationLevel]string{
	WeakChain:             "Weak_Chain",
	ProviderTrust:         "Provider_Trust",
	ProviderEndorsement:   "Provider_Endorsement",
	ThirdPartyEndorsement: "Third_Party_Endorsement",
	ThirdPartyConsensus:   "Third_Party_Consensus",
	HistoricallyAuditing:  "Historically_Auditing",
	KnownPorts:            "Known_Ports",
	Fingerprint:           "Fingerprint",
}

func (l ValidationLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("ValidationLevel(%d)", int(l))
}

// ParseValidationLevel convierte el nombre textual del nivel.
func ParseValidationLevel(s string) (ValidationLevel, error) {
	for l, name := range levelNames {
		if name == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown validation level %q", s)
}

// SuccessorFunc es el hook de supersesión del scheme: decide si candidate
// es un sucesor legítimo de existing (p.ej. existing expiró o nunca fue
// ejercitada). La política solo impone la monotonía del nivel de confianza.
type SuccessorFunc func(candidate, existing *Key) bool

// CanUpgrade decide si candidate puede reemplazar a existing en el store.
//
//   - Sin llave previa siempre se acepta: es instalación, no upgrade.
//   - Las llaves privadas no pasan por chequeo de nivel: el orquestador
//     garantiza que solo nacen de generación o import local, nunca del
//     resolver remoto.
//   - Re-fetch de la misma llave (mismo fingerprint) siempre se acepta;
//     el nivel almacenado nunca baja (ver Manager.PutKey).
//   - Para el resto: el nivel del candidato debe ser >= al existente y el
//     scheme debe aceptarlo como sucesor.
func CanUpgrade(candidate, existing *Key, successor SuccessorFunc) bool {
	if existing == nil {
		return true
	}
	if candidate.Private || existing.Private {
		return true
	}
	if candidate.Fingerprint == existing.Fingerprint {
		return true
	}
	if candidate.Validation < existing.Validation {
		return false
	}
	if successor == nil {
		return false
	}
	return successor(candidate, existing)
}
