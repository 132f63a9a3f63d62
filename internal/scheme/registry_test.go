package scheme

import (
	"errors"
	"testing"

	"github.com/dropDatabas3/nickel/internal/keys"
)

// stubScheme solo aporta su tag; el registry no toca el resto.
type stubScheme struct {
	Scheme
	typ keys.Type
}

func (s stubScheme) Type() keys.Type { return s.typ }

func TestRegistry_ResolveRegistered(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(stubScheme{typ: keys.OpenPGP})

	s, err := r.Resolve(keys.OpenPGP)
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if s.Type() != keys.OpenPGP {
		t.Fatalf("Resolve devolvió scheme de tipo %s", s.Type())
	}
	if !r.Supported(keys.OpenPGP) {
		t.Fatalf("Supported(openpgp) = false")
	}
}

func TestRegistry_UnknownTypeFailsFast(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(stubScheme{typ: keys.OpenPGP})

	_, err := r.Resolve("quantum")
	if !errors.Is(err, keys.ErrUnsupportedKeyType) {
		t.Fatalf("Resolve(quantum) = %v, quería ErrUnsupportedKeyType", err)
	}
	if r.Supported("quantum") {
		t.Fatalf("Supported(quantum) = true")
	}
}

func TestRegistry_TypesSorted(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register(stubScheme{typ: "zzz"})
	r.Register(stubScheme{typ: keys.OpenPGP})
	r.Register(stubScheme{typ: "aaa"})

	got := r.Types()
	want := []keys.Type{"aaa", keys.OpenPGP, "zzz"}
	if len(got) != len(want) {
		t.Fatalf("Types = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Types = %v, quería %v", got, want)
		}
	}
}

// El registry reemplaza registros del mismo tag; ningún caller depende del
// orden de registro.
func TestRegistry_RegisterReplaces(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	first := stubScheme{typ: keys.OpenPGP}
	second := stubScheme{typ: keys.OpenPGP}
	r.Register(first)
	r.Register(second)

	if got := len(r.Types()); got != 1 {
		t.Fatalf("Types tiene %d entradas, quería 1", got)
	}
}
