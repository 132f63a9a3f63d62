package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/dropDatabas3/nickel/internal/events"
	"github.com/dropDatabas3/nickel/internal/keys"
	"github.com/dropDatabas3/nickel/internal/scheme"
)

// fakeScheme implementa scheme.Scheme en memoria con una cripto de
// juguete. El material armored sigue el formato "PUB|<fpr>|<addr>" o
// "PAIR|<fpr>|<addr>" para que ParseArmored sea determinístico.
type fakeScheme struct {
	mu         sync.Mutex
	docs       map[string]*keys.Key // fpr + privacidad
	canReplace bool
	verifyOK   bool
}

func newFakeScheme() *fakeScheme {
	return &fakeScheme{docs: make(map[string]*keys.Key), verifyOK: true}
}

func docID(fpr string, private bool) string {
	return fmt.Sprintf("%s/%v", fpr, private)
}

func (f *fakeScheme) Type() keys.Type { return keys.OpenPGP }

func (f *fakeScheme) Get(ctx context.Context, address string, private bool) (*keys.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.docs {
		if k.Private == private && k.HasAddress(address) {
			out := *k
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", keys.ErrKeyNotFound, address)
}

func (f *fakeScheme) Put(ctx context.Context, k *keys.Key, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, old := range f.docs {
		if old.Private == k.Private && old.HasAddress(address) && old.Fingerprint != k.Fingerprint {
			delete(f.docs, id)
		}
	}
	cp := *k
	f.docs[docID(k.Fingerprint, k.Private)] = &cp
	return nil
}

func (f *fakeScheme) Delete(ctx context.Context, k *keys.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, docID(k.Fingerprint, k.Private))
	return nil
}

func (f *fakeScheme) List(ctx context.Context, private bool) ([]*keys.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*keys.Key
	for _, k := range f.docs {
		if k.Private == private {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeScheme) Generate(ctx context.Context, address string) (*keys.Key, error) {
	pub := fakeKey("GENFPR0000000000", false, address)
	priv := fakeKey("GENFPR0000000000", true, address)
	if err := f.Put(ctx, pub, address); err != nil {
		return nil, err
	}
	if err := f.Put(ctx, priv, address); err != nil {
		return nil, err
	}
	return priv, nil
}

func (f *fakeScheme) ParseArmored(armored string) (*keys.Key, *keys.Key, error) {
	parts := strings.Split(armored, "|")
	if len(parts) != 3 {
		return nil, nil, fmt.Errorf("%w: %q", keys.ErrParseFailed, armored)
	}
	pub := fakeKey(parts[1], false, parts[2])
	switch parts[0] {
	case "PUB":
		return pub, nil, nil
	case "PAIR":
		return pub, fakeKey(parts[1], true, parts[2]), nil
	}
	return nil, nil, fmt.Errorf("%w: %q", keys.ErrParseFailed, armored)
}

func (f *fakeScheme) Encrypt(data []byte, pub *keys.Key, sign *keys.Key) ([]byte, error) {
	signer := ""
	if sign != nil {
		signer = sign.Fingerprint
	}
	return []byte(fmt.Sprintf("enc[%s|%s|%s]", pub.Fingerprint, signer, data)), nil
}

func (f *fakeScheme) Decrypt(data []byte, priv *keys.Key, verify *keys.Key) ([]byte, bool, error) {
	raw := strings.TrimSuffix(strings.TrimPrefix(string(data), "enc["), "]")
	parts := strings.SplitN(raw, "|", 3)
	if len(parts) != 3 || parts[0] != priv.Fingerprint {
		return nil, false, fmt.Errorf("%w: wrong key", keys.ErrDecryptFailed)
	}
	verified := verify != nil && f.verifyOK && parts[1] == verify.Fingerprint
	return []byte(parts[2]), verified, nil
}

func (f *fakeScheme) Sign(data []byte, priv *keys.Key, opts scheme.SignOptions) ([]byte, error) {
	return []byte(fmt.Sprintf("sig[%s|%s]", priv.Fingerprint, data)), nil
}

func (f *fakeScheme) Verify(data []byte, pub *keys.Key, detachedSig []byte) (bool, error) {
	return f.verifyOK, nil
}

func (f *fakeScheme) CanReplace(candidate, existing *keys.Key) bool {
	return f.canReplace
}

func fakeKey(fpr string, private bool, addrs ...string) *keys.Key {
	return &keys.Key{
		KeyID:       fpr[:8],
		Fingerprint: fpr,
		Addresses:   addrs,
		Type:        keys.OpenPGP,
		Material:    fmt.Sprintf("PUB|%s|%s", fpr, addrs[0]),
		Private:     private,
		Validation:  keys.WeakChain,
	}
}

// newTestManager arma un Manager contra un nickserver que no existe; los
// tests que necesitan red levantan su propio httptest server.
func newTestManager(t *testing.T, f *fakeScheme, cfg Config) *Manager {
	t.Helper()
	if cfg.Address == "" {
		cfg.Address = "alice@example.org"
	}
	if cfg.NickserverURI == "" {
		cfg.NickserverURI = "https://nicknym.example.org:6425"
	}
	reg := scheme.NewRegistry()
	reg.Register(f)
	m, err := New(cfg, reg, events.NewBus())
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	return m
}

func TestPutKeyGetKey_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFakeScheme()
	m := newTestManager(t, f, Config{})

	k := fakeKey("AAAA000011112222", false, "bob@example.org")
	if err := m.PutKey(ctx, k, "bob@example.org"); err != nil {
		t.Fatalf("PutKey err: %v", err)
	}

	got, err := m.GetKey(ctx, "bob@example.org", keys.OpenPGP, false, false)
	if err != nil {
		t.Fatalf("GetKey err: %v", err)
	}
	if got.Fingerprint != k.Fingerprint {
		t.Fatalf("fingerprint mismatch: %s", got.Fingerprint)
	}
}

func TestGetKey_UnsupportedTypeFailsFast(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeScheme(), Config{})

	_, err := m.GetKey(ctx, "bob@example.org", "quantum", false, true)
	if !errors.Is(err, keys.ErrUnsupportedKeyType) {
		t.Fatalf("GetKey = %v, quería ErrUnsupportedKeyType", err)
	}
}

func TestPutKey_AddressMismatch(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeScheme(), Config{})

	k := fakeKey("AAAA000011112222", false, "bob@example.org")
	err := m.PutKey(ctx, k, "mallory@example.org")
	if !errors.Is(err, keys.ErrKeyAddressMismatch) {
		t.Fatalf("PutKey = %v, quería ErrKeyAddressMismatch", err)
	}
	// El store debe quedar intacto.
	if _, err := m.GetKey(ctx, "bob@example.org", keys.OpenPGP, false, false); !errors.Is(err, keys.ErrKeyNotFound) {
		t.Fatalf("una llave rechazada quedó almacenada")
	}
}

func TestPutKey_RejectsDowngrade(t *testing.T) {
	ctx := context.Background()
	f := newFakeScheme()
	f.canReplace = true // la política de nivel decide antes que el hook
	m := newTestManager(t, f, Config{})

	trusted := fakeKey("AAAA000011112222", false, "bob@example.org")
	trusted.Validation = keys.ProviderTrust
	if err := m.PutKey(ctx, trusted, "bob@example.org"); err != nil {
		t.Fatal(err)
	}

	weak := fakeKey("BBBB000011112222", false, "bob@example.org")
	weak.Validation = keys.WeakChain
	err := m.PutKey(ctx, weak, "bob@example.org")
	if !errors.Is(err, keys.ErrKeyNotValidUpgrade) {
		t.Fatalf("PutKey = %v, quería ErrKeyNotValidUpgrade", err)
	}

	got, err := m.GetKey(ctx, "bob@example.org", keys.OpenPGP, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.Fingerprint != trusted.Fingerprint {
		t.Fatalf("la llave original fue reemplazada por un downgrade")
	}
}

func TestPutKey_SuccessorHookGatesReplacement(t *testing.T) {
	ctx := context.Background()
	f := newFakeScheme()
	f.canReplace = false
	m := newTestManager(t, f, Config{})

	old := fakeKey("AAAA000011112222", false, "bob@example.org")
	if err := m.PutKey(ctx, old, "bob@example.org"); err != nil {
		t.Fatal(err)
	}

	candidate := fakeKey("BBBB000011112222", false, "bob@example.org")
	if err := m.PutKey(ctx, candidate, "bob@example.org"); !errors.Is(err, keys.ErrKeyNotValidUpgrade) {
		t.Fatalf("PutKey = %v, quería ErrKeyNotValidUpgrade", err)
	}

	f.canReplace = true
	if err := m.PutKey(ctx, candidate, "bob@example.org"); err != nil {
		t.Fatalf("PutKey con sucesión habilitada err: %v", err)
	}
}

func TestPutKey_RefreshNeverLowersValidation(t *testing.T) {
	ctx := context.Background()
	f := newFakeScheme()
	m := newTestManager(t, f, Config{})

	stored := fakeKey("AAAA000011112222", false, "bob@example.org")
	stored.Validation = keys.ProviderTrust
	stored.EncrUsed = true
	if err := m.PutKey(ctx, stored, "bob@example.org"); err != nil {
		t.Fatal(err)
	}

	// Re-fetch de la misma llave desde una fuente menos confiable.
	refetch := fakeKey("AAAA000011112222", false, "bob@example.org")
	refetch.Validation = keys.WeakChain
	if err := m.PutKey(ctx, refetch, "bob@example.org"); err != nil {
		t.Fatalf("refresh err: %v", err)
	}

	got, err := m.GetKey(ctx, "bob@example.org", keys.OpenPGP, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if got.Validation != keys.ProviderTrust {
		t.Fatalf("el nivel bajó a %v en un refresh", got.Validation)
	}
	if !got.EncrUsed {
		t.Fatalf("el flag de uso se perdió en un refresh")
	}
}

func TestGetKey_PrivateNeverGoesRemote(t *testing.T) {
	ctx := context.Background()
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"openpgp":"PUB|CCCC000011112222|carol@example.org"}`))
	}))
	defer srv.Close()

	m := newTestManager(t, newFakeScheme(), Config{NickserverURI: srv.URL})

	_, err := m.GetKey(ctx, "carol@example.org", keys.OpenPGP, true, true)
	if !errors.Is(err, keys.ErrKeyNotFound) {
		t.Fatalf("GetKey = %v, quería ErrKeyNotFound", err)
	}
	if hits != 0 {
		t.Fatalf("una búsqueda de llave privada tocó el nickserver")
	}
}

func TestGetKey_FetchRemoteStoresAndReturns(t *testing.T) {
	ctx := context.Background()
	f := newFakeScheme()
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.URL.Query().Get("address")
		fmt.Fprintf(w, `{"openpgp":"PUB|DDDD000011112222|%s"}`, address)
	}))
	defer srv.Close()
	srvURL = srv.URL

	m := newTestManager(t, f, Config{NickserverURI: srvURL})

	u, _ := url.Parse(srvURL)
	address := "dave@" + u.Hostname() // dominio del directorio => Provider_Trust

	k, err := m.GetKey(ctx, address, keys.OpenPGP, false, true)
	if err != nil {
		t.Fatalf("GetKey remoto err: %v", err)
	}
	if k.Fingerprint != "DDDD000011112222" {
		t.Fatalf("llave inesperada: %+v", k)
	}
	if k.Validation != keys.ProviderTrust {
		t.Fatalf("validation = %v, quería Provider_Trust", k.Validation)
	}

	// Segunda lectura: ya es local, sin red de por medio.
	srv.Close()
	if _, err := m.GetKey(ctx, address, keys.OpenPGP, false, false); err != nil {
		t.Fatalf("GetKey local tras fetch err: %v", err)
	}
}

func TestGetKey_NoFetchRemoteStaysLocal(t *testing.T) {
	ctx := context.Background()
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer srv.Close()

	m := newTestManager(t, newFakeScheme(), Config{NickserverURI: srv.URL})
	if _, err := m.GetKey(ctx, "eve@example.org", keys.OpenPGP, false, false); !errors.Is(err, keys.ErrKeyNotFound) {
		t.Fatalf("GetKey = %v, quería ErrKeyNotFound", err)
	}
	if hits != 0 {
		t.Fatalf("fetchRemote=false tocó la red")
	}
}

func TestPutRawKey_StoresBothHalvesOfOwnBundle(t *testing.T) {
	ctx := context.Background()
	f := newFakeScheme()
	m := newTestManager(t, f, Config{})

	armored := "PAIR|EEEE000011112222|alice@example.org"
	if err := m.PutRawKey(ctx, armored, keys.OpenPGP, "alice@example.org", keys.Fingerprint); err != nil {
		t.Fatalf("PutRawKey err: %v", err)
	}

	pub, err := m.GetKey(ctx, "alice@example.org", keys.OpenPGP, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if pub.Validation != keys.Fingerprint {
		t.Fatalf("nivel de la pública = %v", pub.Validation)
	}
	if _, err := m.GetKey(ctx, "alice@example.org", keys.OpenPGP, true, false); err != nil {
		t.Fatalf("la mitad privada del bundle no se almacenó: %v", err)
	}
}

func TestFetchKey_KeepsOnlyPublicHalf(t *testing.T) {
	ctx := context.Background()
	f := newFakeScheme()
	// La fuente devuelve un bundle con privada incluida; solo debe
	// retenerse la pública.
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("PAIR|FFFF000011112222|frank@example.org"))
	}))
	defer src.Close()

	m := newTestManager(t, f, Config{})
	if err := m.FetchKey(ctx, "frank@example.org", src.URL, keys.OpenPGP, keys.WeakChain); err != nil {
		t.Fatalf("FetchKey err: %v", err)
	}

	if _, err := m.GetKey(ctx, "frank@example.org", keys.OpenPGP, false, false); err != nil {
		t.Fatalf("la llave pública no quedó almacenada: %v", err)
	}
	if _, err := m.GetKey(ctx, "frank@example.org", keys.OpenPGP, true, false); !errors.Is(err, keys.ErrKeyNotFound) {
		t.Fatalf("FetchKey retuvo material privado de una fuente remota")
	}
}

func TestFetchKey_SourceDown(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeScheme(), Config{})
	err := m.FetchKey(ctx, "frank@example.org", "http://127.0.0.1:1/key", keys.OpenPGP, keys.WeakChain)
	if !errors.Is(err, keys.ErrKeyNotFound) {
		t.Fatalf("FetchKey = %v, quería ErrKeyNotFound", err)
	}
}

func TestGenKey_EmitsLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	f := newFakeScheme()
	reg := scheme.NewRegistry()
	reg.Register(f)
	bus := events.NewBus()

	var mu sync.Mutex
	var seen []events.Event
	bus.Subscribe(func(ev events.Event, _ string) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	m, err := New(Config{
		Address:       "alice@example.org",
		NickserverURI: "https://nicknym.example.org:6425",
	}, reg, bus)
	if err != nil {
		t.Fatal(err)
	}

	k, err := m.GenKey(ctx, keys.OpenPGP)
	if err != nil {
		t.Fatalf("GenKey err: %v", err)
	}
	if !k.Private {
		t.Fatalf("GenKey devolvió la mitad pública")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []events.Event{events.StartedKeyGeneration, events.FinishedKeyGeneration}
	if len(seen) != len(want) || seen[0] != want[0] || seen[1] != want[1] {
		t.Fatalf("eventos = %v, quería %v", seen, want)
	}
}

func TestSendKey_RequiresToken(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeScheme(), Config{})
	if err := m.SendKey(ctx, keys.OpenPGP); err == nil {
		t.Fatalf("SendKey sin token debería fallar")
	}
}

func TestSendKey_UploadsPublicKey(t *testing.T) {
	ctx := context.Background()
	f := newFakeScheme()

	var gotAuth, gotMaterial, gotPath string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("método %s, quería PUT", r.Method)
		}
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		gotMaterial = r.PostForm.Get("user[public_key]")
	}))
	defer api.Close()

	m := newTestManager(t, f, Config{
		APIURI:     api.URL,
		APIVersion: "1",
		UID:        "uid-123",
		Token:      "sekrit",
	})
	if _, err := m.GenKey(ctx, keys.OpenPGP); err != nil {
		t.Fatal(err)
	}

	if err := m.SendKey(ctx, keys.OpenPGP); err != nil {
		t.Fatalf("SendKey err: %v", err)
	}
	if gotPath != "/1/users/uid-123.json" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotAuth != "Token token=sekrit" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if !strings.Contains(gotMaterial, "PUB|GENFPR0000000000") {
		t.Fatalf("el material subido no es la llave pública: %q", gotMaterial)
	}
}

func TestSendKey_RotatedTokenWins(t *testing.T) {
	ctx := context.Background()
	f := newFakeScheme()

	var gotAuth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer api.Close()

	m := newTestManager(t, f, Config{
		APIURI:     api.URL,
		APIVersion: "1",
		UID:        "uid-123",
		Token:      "viejo",
	})
	if _, err := m.GenKey(ctx, keys.OpenPGP); err != nil {
		t.Fatal(err)
	}

	m.RotateToken("nuevo")
	if err := m.SendKey(ctx, keys.OpenPGP); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Token token=nuevo" {
		t.Fatalf("authorization = %q tras rotar", gotAuth)
	}
}

func TestDeleteKey_And_GetAllKeys(t *testing.T) {
	ctx := context.Background()
	f := newFakeScheme()
	m := newTestManager(t, f, Config{})

	a := fakeKey("AAAA000011112222", false, "a@example.org")
	b := fakeKey("BBBB000011112222", false, "b@example.org")
	for _, k := range []*keys.Key{a, b} {
		if err := m.PutKey(ctx, k, k.Addresses[0]); err != nil {
			t.Fatal(err)
		}
	}

	all, err := m.GetAllKeys(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("GetAllKeys = %d, quería 2", len(all))
	}

	if err := m.DeleteKey(ctx, a); err != nil {
		t.Fatalf("DeleteKey err: %v", err)
	}
	all, err = m.GetAllKeys(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Fingerprint != b.Fingerprint {
		t.Fatalf("tras borrar queda %v", all)
	}
}
