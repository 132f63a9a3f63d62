package logger

import (
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/nickel/internal/util"
)

// Campos estándar del dominio. Usarlos mantiene los nombres consistentes
// entre manager, resolver y API.

// Address crea un campo para la dirección (email) de una llave. Se loggea
// enmascarada: las direcciones de correo no van en claro a los logs.
func Address(v string) zap.Field {
	return zap.String("address", util.MaskEmail(v))
}

// KeyID crea un campo para el id corto de una llave.
func KeyID(v string) zap.Field {
	return zap.String("key_id", v)
}

// KeyType crea un campo para el tipo de llave.
func KeyType(v string) zap.Field {
	return zap.String("key_type", v)
}

// Validation crea un campo para el nivel de validación.
func Validation(v string) zap.Field {
	return zap.String("validation", v)
}

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para la duración de una operación.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}
