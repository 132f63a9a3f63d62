package nickserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/nickel/internal/keys"
	"github.com/dropDatabas3/nickel/internal/metrics"
	"github.com/dropDatabas3/nickel/internal/observability/logger"
)

// DefaultCacheTTL es la ventana durante la cual el resultado de una
// resolución (éxito o fallo) se sirve desde cache sin tocar el directorio.
const DefaultCacheTTL = 300 * time.Second

// KeyWriter es el camino de escritura del orquestador. El resolver nunca
// persiste directamente: toda llave remota pasa por la política de upgrade.
type KeyWriter interface {
	PutRawKey(ctx context.Context, armored string, typ keys.Type, address string, level keys.ValidationLevel) error
}

// Resolver resuelve llaves de direcciones contra el nickserver.
//
// Los resultados se cachean por dirección (no por tipo): una sola consulta
// al directorio alimenta todas las llaves que el server publique para esa
// dirección. Resoluciones concurrentes de la misma dirección se coalescen
// con singleflight; dentro de la ventana de cache todas observan el mismo
// resultado.
type Resolver struct {
	client *Client
	writer KeyWriter
	cache  *gocache.Cache
	sf     singleflight.Group
	log    *zap.Logger
}

func NewResolver(client *Client, writer KeyWriter, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver{
		client: client,
		writer: writer,
		cache:  gocache.New(ttl, time.Minute),
		log:    logger.Named("resolver"),
	}
}

// Resolve trae las llaves de address desde el directorio y las persiste a
// través del KeyWriter. Devuelve nil si al menos una llave quedó
// almacenada; keys.ErrKeyNotFound si no. El resultado (incluido el fallo)
// queda cacheado por la ventana configurada.
func (r *Resolver) Resolve(ctx context.Context, address string) error {
	if outcome, ok := r.cache.Get(address); ok {
		metrics.ResolverCacheHits.Inc()
		if outcome == nil {
			return nil
		}
		return outcome.(error)
	}

	res, err, _ := r.sf.Do(address, func() (interface{}, error) {
		// Double-check: otro vuelo pudo poblar la cache mientras esperábamos.
		if outcome, ok := r.cache.Get(address); ok {
			metrics.ResolverCacheHits.Inc()
			if outcome == nil {
				return nil, nil
			}
			return outcome.(error), nil
		}

		outcome := r.fetch(ctx, address)
		if outcome == nil {
			r.cache.SetDefault(address, nil)
		} else {
			r.cache.SetDefault(address, outcome)
		}
		return outcome, nil
	})
	if err != nil {
		// singleflight no produce errores propios acá; por las dudas.
		return err
	}
	if res == nil {
		return nil
	}
	return res.(error)
}

// fetch hace el request al directorio, asigna nivel de validación según el
// dominio y escribe cada llave soportada por el camino del orquestador.
func (r *Resolver) fetch(ctx context.Context, address string) error {
	metrics.NickserverRequests.Inc()
	serverKeys, err := r.client.FetchKeys(ctx, address)
	if err != nil {
		r.log.Warn("error retrieving key", logger.Address(address), logger.Err(err))
		return err
	}

	// El nickserver es autoritativo solo para su propio dominio; para
	// otros dominios la llave puede venir de keyservers de terceros.
	level := keys.WeakChain
	if domainOf(address) == r.client.Domain() {
		level = keys.ProviderTrust
	}

	stored := 0
	for tag, armored := range serverKeys {
		err := r.writer.PutRawKey(ctx, armored, keys.Type(tag), address, level)
		switch {
		case err == nil:
			stored++
		case errors.Is(err, keys.ErrUnsupportedKeyType):
			// Tipos que no manejamos se ignoran sin invalidar el resto.
			r.log.Debug("skipping unsupported key type",
				logger.Address(address), logger.KeyType(tag))
		default:
			// Fallos de persistencia (incluye upgrade rechazado) se propagan.
			return err
		}
	}
	if stored == 0 {
		return fmt.Errorf("%w: %s", keys.ErrKeyNotFound, address)
	}
	r.log.Info("keys fetched from nickserver",
		logger.Address(address), logger.Validation(level.String()), zap.Int("stored", stored))
	return nil
}

func domainOf(address string) string {
	if strings.Count(address, "@") != 1 {
		return ""
	}
	return address[strings.Index(address, "@")+1:]
}
