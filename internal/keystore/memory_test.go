package keystore

import (
	"context"
	"errors"
	"testing"

	"github.com/dropDatabas3/nickel/internal/keys"
)

func testKey(fpr string, private bool, addrs ...string) *keys.Key {
	return &keys.Key{
		KeyID:       fpr[:8],
		Fingerprint: fpr,
		Addresses:   addrs,
		Type:        keys.OpenPGP,
		Material:    "-----BEGIN PGP-----\ndummy\n-----END PGP-----",
		Private:     private,
		Validation:  keys.WeakChain,
	}
}

func TestMemory_WriteFindDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	k := testKey("AAAA11112222333344445555666677778888", false, "alice@example.org")
	if err := s.Write(ctx, k); err != nil {
		t.Fatalf("Write err: %v", err)
	}

	got, err := s.Find(ctx, keys.OpenPGP, "alice@example.org", false)
	if err != nil {
		t.Fatalf("Find err: %v", err)
	}
	if got.Fingerprint != k.Fingerprint {
		t.Fatalf("fingerprint mismatch: %s", got.Fingerprint)
	}

	// La mitad privada es otra entrada: no debería aparecer.
	if _, err := s.Find(ctx, keys.OpenPGP, "alice@example.org", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Find private = %v, quería ErrNotFound", err)
	}

	if err := s.Delete(ctx, k); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if _, err := s.Find(ctx, keys.OpenPGP, "alice@example.org", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Find tras Delete = %v, quería ErrNotFound", err)
	}
}

func TestMemory_WriteReplacesSameFingerprint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	k := testKey("AAAA11112222333344445555666677778888", false, "alice@example.org")
	if err := s.Write(ctx, k); err != nil {
		t.Fatal(err)
	}
	k2 := testKey("AAAA11112222333344445555666677778888", false, "alice@example.org")
	k2.Validation = keys.ProviderTrust
	if err := s.Write(ctx, k2); err != nil {
		t.Fatal(err)
	}

	got, err := s.Find(ctx, keys.OpenPGP, "alice@example.org", false)
	if err != nil {
		t.Fatal(err)
	}
	if got.Validation != keys.ProviderTrust {
		t.Fatalf("Write no reemplazó: validation = %v", got.Validation)
	}

	all, err := s.List(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("List = %d llaves, quería 1", len(all))
	}
}

func TestMemory_FindByAnyClaimedAddress(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	k := testKey("BBBB11112222333344445555666677778888", false, "alice@example.org", "a@other.org")
	if err := s.Write(ctx, k); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Find(ctx, keys.OpenPGP, "a@other.org", false); err != nil {
		t.Fatalf("Find por segunda dirección: %v", err)
	}
}

func TestMemory_CloneProtectsState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemory()

	k := testKey("CCCC11112222333344445555666677778888", false, "alice@example.org")
	if err := s.Write(ctx, k); err != nil {
		t.Fatal(err)
	}
	got, err := s.Find(ctx, keys.OpenPGP, "alice@example.org", false)
	if err != nil {
		t.Fatal(err)
	}
	// mutar lo devuelto no debe tocar el store
	got.Addresses[0] = "evil@example.org"
	again, err := s.Find(ctx, keys.OpenPGP, "alice@example.org", false)
	if err != nil {
		t.Fatalf("Find tras mutación externa: %v", err)
	}
	if again.Addresses[0] != "alice@example.org" {
		t.Fatalf("el store compartió su slice interno")
	}
}
