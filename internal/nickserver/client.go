// Package nickserver habla con el directorio de llaves del proveedor y
// resuelve llaves remotas con cache de resultados y coalescing de requests.
package nickserver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/dropDatabas3/nickel/internal/keys"
)

const defaultTimeout = 30 * time.Second

// Client es el cliente HTTP del nickserver. El transporte verifica el
// certificado del proveedor contra el CA configurado (pinning); no se usa
// el pool de CAs del sistema cuando hay CA propio.
type Client struct {
	uri    string
	domain string
	httpc  *http.Client
}

// NewHTTPClient construye un *http.Client con el CA del proveedor como
// única raíz de confianza. Con caCertPath vacío se usan las raíces del
// sistema (solo razonable en dev).
func NewHTTPClient(caCertPath string) (*http.Client, error) {
	c := &http.Client{Timeout: defaultTimeout}
	if caCertPath == "" {
		return c, nil
	}

	pem, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("nickserver: read ca cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("nickserver: no certs in %s", caCertPath)
	}
	c.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool},
	}
	return c, nil
}

// NewClient crea el cliente para el nickserver en uri.
func NewClient(uri, caCertPath string) (*Client, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("nickserver: parse uri: %w", err)
	}
	httpc, err := NewHTTPClient(caCertPath)
	if err != nil {
		return nil, err
	}
	return &Client{uri: uri, domain: u.Hostname(), httpc: httpc}, nil
}

// Domain es el host del nickserver; el directorio solo es autoritativo
// para direcciones de este dominio. Match exacto, sin sufijos ni puerto.
func (c *Client) Domain() string { return c.domain }

// FetchKeys pide al directorio las llaves de address. Devuelve el mapa
// tag-de-tipo → material armored. 404 y cualquier otro fallo se normalizan
// a keys.ErrKeyNotFound conservando el detalle.
func (c *Client) FetchKeys(ctx context.Context, address string) (map[string]string, error) {
	u, err := url.Parse(c.uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", keys.ErrKeyNotFound, address, err)
	}
	q := u.Query()
	q.Set("address", address)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", keys.ErrKeyNotFound, address, err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", keys.ErrKeyNotFound, address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", keys.ErrKeyNotFound, address)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %s: nickserver status %d: %s",
			keys.ErrKeyNotFound, address, resp.StatusCode, string(body))
	}

	// El nickserver responde text/plain pero el cuerpo es JSON.
	var serverKeys map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&serverKeys); err != nil {
		return nil, fmt.Errorf("%w: %s: decode: %v", keys.ErrKeyNotFound, address, err)
	}
	return serverKeys, nil
}
