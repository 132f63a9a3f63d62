// Package events expone los hooks informativos del ciclo de vida de
// llaves. Son solo observabilidad: ningún componente del core depende de
// que haya suscriptores.
package events

import "sync"

type Event string

const (
	LookingForKey         Event = "keymanager_looking_for_key"
	KeyFound              Event = "keymanager_key_found"
	KeyNotFound           Event = "keymanager_key_not_found"
	StartedKeyGeneration  Event = "keymanager_started_key_generation"
	FinishedKeyGeneration Event = "keymanager_finished_key_generation"
	DoneUploadingKeys     Event = "keymanager_done_uploading_keys"
)

// Handler recibe el evento y la dirección involucrada.
type Handler func(ev Event, address string)

// Bus es un fan-out en memoria. Emit nunca bloquea al emisor por un
// suscriptor lento más allá de la llamada síncrona; los handlers deben ser
// baratos.
type Bus struct {
	mu   sync.RWMutex
	subs []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.subs = append(b.subs, h)
	b.mu.Unlock()
}

// Emit notifica a todos los suscriptores. Seguro sobre un Bus nil.
func (b *Bus) Emit(ev Event, address string) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, h := range subs {
		h(ev, address)
	}
}
