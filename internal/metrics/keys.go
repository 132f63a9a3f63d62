package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Key-manager Prometheus metrics. Standalone package to avoid import cycles
// between manager/resolver and the HTTP layer.

var (
	KeyLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keymanager_lookups_total",
		Help: "Resoluciones de llave iniciadas, por resultado (found|not_found)",
	}, []string{"result"})

	ResolverCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keymanager_resolver_cache_hits_total",
		Help: "Resoluciones servidas desde la cache del resolver",
	})

	NickserverRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keymanager_nickserver_requests_total",
		Help: "Requests HTTP emitidos al nickserver",
	})

	UpgradesRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keymanager_upgrades_rejected_total",
		Help: "Escrituras de llave rechazadas por la política de confianza",
	})
)

// Register registers the key-manager metrics on the given registry (or default if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		KeyLookups, ResolverCacheHits, NickserverRequests, UpgradesRejected,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
