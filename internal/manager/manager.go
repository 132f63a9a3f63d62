// Package manager implementa el orquestador de ciclo de vida de llaves:
// resolución local-primero con fallback al nickserver, política de upgrade
// en toda escritura, y las operaciones encrypt/decrypt/sign/verify sobre
// esa resolución.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/nickel/internal/events"
	"github.com/dropDatabas3/nickel/internal/keys"
	"github.com/dropDatabas3/nickel/internal/metrics"
	"github.com/dropDatabas3/nickel/internal/nickserver"
	"github.com/dropDatabas3/nickel/internal/observability/logger"
	"github.com/dropDatabas3/nickel/internal/scheme"
)

const pubkeyFormKey = "user[public_key]"

// Config es la configuración inmutable del Manager. El token de sesión es
// el único valor rotable en runtime (RotateToken); todo lo demás se fija
// al construir.
type Config struct {
	// Address es la dirección del usuario de este key manager.
	Address string

	// NickserverURI es el directorio de llaves del proveedor.
	NickserverURI string

	// CACertPath es el CA del proveedor para pinning TLS. Vacío => raíces
	// del sistema (solo dev).
	CACertPath string

	// APIURI / APIVersion / UID arman el endpoint de registro de llaves.
	APIURI     string
	APIVersion string
	UID        string

	// Token de sesión para el endpoint de registro.
	Token string

	// CacheTTL de la cache del resolver. 0 => nickserver.DefaultCacheTTL.
	CacheTTL time.Duration
}

// Manager es el orquestador. Posee el registry de schemes y la cache del
// resolver; el keystore y el cliente HTTP son handles que consume.
type Manager struct {
	cfg      Config
	registry *scheme.Registry
	resolver *nickserver.Resolver
	httpc    *http.Client
	bus      *events.Bus
	log      *zap.Logger

	tokenMu sync.RWMutex
	token   string
}

func New(cfg Config, registry *scheme.Registry, bus *events.Bus) (*Manager, error) {
	client, err := nickserver.NewClient(cfg.NickserverURI, cfg.CACertPath)
	if err != nil {
		return nil, err
	}
	httpc, err := nickserver.NewHTTPClient(cfg.CACertPath)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		registry: registry,
		httpc:    httpc,
		bus:      bus,
		log:      logger.Named("keymanager"),
		token:    cfg.Token,
	}
	// El resolver escribe a través del manager: toda llave remota pasa por
	// la política de upgrade de PutRawKey/PutKey.
	m.resolver = nickserver.NewResolver(client, m, cfg.CacheTTL)
	return m, nil
}

// Address es la dirección del dueño de este key manager.
func (m *Manager) Address() string { return m.cfg.Address }

// RotateToken reemplaza el token de sesión para el endpoint de registro.
func (m *Manager) RotateToken(token string) {
	m.tokenMu.Lock()
	m.token = token
	m.tokenMu.Unlock()
}

func (m *Manager) sessionToken() string {
	m.tokenMu.RLock()
	defer m.tokenMu.RUnlock()
	return m.token
}

// GetKey devuelve una llave de typ ligada a address. Busca primero en el
// store local; con fetchRemote y para llaves públicas cae al nickserver.
// Las llaves privadas jamás se resuelven remotamente: solo generación o
// import local pueden crearlas.
//
// Una resolución remota exitosa deja la llave persistida: la lectura tiene
// esa escritura como efecto colateral deliberado (write-through perezoso).
func (m *Manager) GetKey(ctx context.Context, address string, typ keys.Type, private, fetchRemote bool) (*keys.Key, error) {
	s, err := m.registry.Resolve(typ)
	if err != nil {
		return nil, err
	}

	m.log.Debug("getting key", logger.Address(address), logger.KeyType(typ.String()))
	m.bus.Emit(events.LookingForKey, address)

	k, err := s.Get(ctx, address, private)
	if err == nil {
		metrics.KeyLookups.WithLabelValues("found").Inc()
		m.bus.Emit(events.KeyFound, address)
		return k, nil
	}
	if !errors.Is(err, keys.ErrKeyNotFound) {
		return nil, err
	}

	metrics.KeyLookups.WithLabelValues("not_found").Inc()
	m.bus.Emit(events.KeyNotFound, address)

	if !fetchRemote || private {
		return nil, err
	}

	m.bus.Emit(events.LookingForKey, address)
	if rerr := m.resolver.Resolve(ctx, address); rerr != nil {
		return nil, rerr
	}
	// El resolver ya persistió; la relectura no puede ir a red.
	k, err = s.Get(ctx, address, false)
	if err != nil {
		return nil, err
	}
	m.bus.Emit(events.KeyFound, address)
	return k, nil
}

// PutKey almacena k como llave activa para address, aplicando la política
// de confianza contra la llave existente. Rechazos fallan con
// keys.ErrKeyNotValidUpgrade y dejan el store intacto.
func (m *Manager) PutKey(ctx context.Context, k *keys.Key, address string) error {
	s, err := m.registry.Resolve(k.Type)
	if err != nil {
		return err
	}
	if !k.HasAddress(address) {
		return fmt.Errorf("%w: UIDs %v found, but expected %s",
			keys.ErrKeyAddressMismatch, k.Addresses, address)
	}

	existing, err := s.Get(ctx, address, k.Private)
	if err != nil {
		if !errors.Is(err, keys.ErrKeyNotFound) {
			return err
		}
		existing = nil // sin llave previa: instalación, no upgrade
	}

	if !keys.CanUpgrade(k, existing, s.CanReplace) {
		metrics.UpgradesRejected.Inc()
		return fmt.Errorf("%w: key %s can not be upgraded by new key %s",
			keys.ErrKeyNotValidUpgrade, existing.KeyID, k.KeyID)
	}

	// Re-fetch de la misma llave con nivel menor: el nivel almacenado
	// nunca baja.
	if existing != nil && !k.Private && existing.Fingerprint == k.Fingerprint {
		if k.Validation < existing.Validation {
			k.Validation = existing.Validation
		}
		if existing.EncrUsed {
			k.EncrUsed = true
		}
		if existing.SignUsed {
			k.SignUsed = true
		}
		k.CreatedAt = existing.CreatedAt
	}

	return s.Put(ctx, k, address)
}

// PutRawKey parsea material armored y lo almacena para address vía PutKey.
// level se asigna a la mitad pública. Si el material trae la mitad privada
// (import de un bundle propio) también se almacena: ese camino se trata
// como localmente autoritativo, nunca viene del resolver.
func (m *Manager) PutRawKey(ctx context.Context, armored string, typ keys.Type, address string, level keys.ValidationLevel) error {
	s, err := m.registry.Resolve(typ)
	if err != nil {
		return err
	}
	pub, priv, err := s.ParseArmored(armored)
	if err != nil {
		return err
	}
	pub.Validation = level
	if err := m.PutKey(ctx, pub, address); err != nil {
		return err
	}
	if priv != nil {
		return m.PutKey(ctx, priv, address)
	}
	return nil
}

// FetchKey trae material de llave pública desde un URI arbitrario (no el
// nickserver) y lo almacena para address. Solo se retiene la mitad pública,
// sin importar qué contenga la fuente.
func (m *Manager) FetchKey(ctx context.Context, address, uri string, typ keys.Type, level keys.ValidationLevel) error {
	s, err := m.registry.Resolve(typ)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("%w: %s", keys.ErrKeyNotFound, uri)
	}
	resp, err := m.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", keys.ErrKeyNotFound, uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s: status %d", keys.ErrKeyNotFound, uri, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", keys.ErrKeyNotFound, uri, err)
	}

	pub, _, err := s.ParseArmored(string(body))
	if err != nil || pub == nil {
		return fmt.Errorf("%w: %s", keys.ErrKeyNotFound, uri)
	}
	pub.Validation = level
	return m.PutKey(ctx, pub, address)
}

// GenKey genera el par de llaves del dueño de este manager.
func (m *Manager) GenKey(ctx context.Context, typ keys.Type) (*keys.Key, error) {
	s, err := m.registry.Resolve(typ)
	if err != nil {
		return nil, err
	}
	m.bus.Emit(events.StartedKeyGeneration, m.cfg.Address)
	k, err := s.Generate(ctx, m.cfg.Address)
	if err != nil {
		return nil, err
	}
	m.bus.Emit(events.FinishedKeyGeneration, m.cfg.Address)
	return k, nil
}

// SendKey sube la llave pública propia al endpoint de registro del
// proveedor, que la firma y reemplaza llaves previas de la dirección.
// Requiere token de sesión; es la única escritura remota del manager.
func (m *Manager) SendKey(ctx context.Context, typ keys.Type) error {
	if _, err := m.registry.Resolve(typ); err != nil {
		return err
	}
	token := m.sessionToken()
	if token == "" {
		return errors.New("keymanager: session token required to send key")
	}

	pub, err := m.GetKey(ctx, m.cfg.Address, typ, false, false)
	if err != nil {
		return err
	}

	uri := fmt.Sprintf("%s/%s/users/%s.json", m.cfg.APIURI, m.cfg.APIVersion, m.cfg.UID)
	form := url.Values{}
	form.Set(pubkeyFormKey, pub.Material)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", fmt.Sprintf("Token token=%s", token))

	resp, err := m.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("keymanager: send key: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("keymanager: send key: status %d: %s", resp.StatusCode, string(body))
	}

	m.bus.Emit(events.DoneUploadingKeys, m.cfg.Address)
	m.log.Info("public key uploaded", logger.Address(m.cfg.Address), logger.KeyID(pub.KeyID))
	return nil
}

// DeleteKey elimina la llave del store local.
func (m *Manager) DeleteKey(ctx context.Context, k *keys.Key) error {
	s, err := m.registry.Resolve(k.Type)
	if err != nil {
		return err
	}
	return s.Delete(ctx, k)
}

// GetAllKeys lista todas las llaves locales, reconstruyendo cada una vía
// el scheme de su tipo persistido.
func (m *Manager) GetAllKeys(ctx context.Context, private bool) ([]*keys.Key, error) {
	var out []*keys.Key
	for _, typ := range m.registry.Types() {
		s, err := m.registry.Resolve(typ)
		if err != nil {
			return nil, err
		}
		ks, err := s.List(ctx, private)
		if err != nil {
			return nil, err
		}
		out = append(out, ks...)
	}
	return out, nil
}
