package scheme

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dropDatabas3/nickel/internal/keys"
)

// Registry mapea tags de tipo de llave a su Scheme. Se llena en el arranque
// y después solo se lee, pero igual es seguro bajo concurrencia.
type Registry struct {
	mu      sync.RWMutex
	schemes map[keys.Type]Scheme
}

func NewRegistry() *Registry {
	return &Registry{schemes: make(map[keys.Type]Scheme)}
}

// Register registra s bajo su propio tag. Reemplaza un registro previo.
func (r *Registry) Register(s Scheme) {
	r.mu.Lock()
	r.schemes[s.Type()] = s
	r.mu.Unlock()
}

// Resolve devuelve el scheme para typ o falla con ErrUnsupportedKeyType.
func (r *Registry) Resolve(typ keys.Type) (Scheme, error) {
	r.mu.RLock()
	s, ok := r.schemes[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", keys.ErrUnsupportedKeyType, typ)
	}
	return s, nil
}

// Supported reporta si hay un scheme registrado para typ.
func (r *Registry) Supported(typ keys.Type) bool {
	r.mu.RLock()
	_, ok := r.schemes[typ]
	r.mu.RUnlock()
	return ok
}

// Types devuelve los tags registrados, ordenados.
func (r *Registry) Types() []keys.Type {
	r.mu.RLock()
	out := make([]keys.Type, 0, len(r.schemes))
	for t := range r.schemes {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
