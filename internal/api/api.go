// Package api expone el key manager por HTTP para clientes locales
// (la UI y el agente de mail hablan con este servicio por loopback).
package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/nickel/internal/keys"
	"github.com/dropDatabas3/nickel/internal/manager"
	"github.com/dropDatabas3/nickel/internal/scheme"
)

// Server arma el router con todas las rutas del servicio.
type Server struct {
	mgr *manager.Manager
	reg *prometheus.Registry
}

func NewServer(mgr *manager.Manager, reg *prometheus.Registry) *Server {
	return &Server{mgr: mgr, reg: reg}
}

// Router construye el chi.Router con middlewares y rutas montadas.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.reg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/keys", s.handleListKeys)
		r.Post("/keys", s.handleImportKey)
		r.Get("/keys/{address}", s.handleGetKey)
		r.Delete("/keys/{address}", s.handleDeleteKey)
		r.Post("/keys/generate", s.handleGenKey)
		r.Post("/keys/send", s.handleSendKey)
		r.Post("/keys/fetch", s.handleFetchKey)
		r.Put("/token", s.handleRotateToken)

		r.Post("/encrypt", s.handleEncrypt)
		r.Post("/decrypt", s.handleDecrypt)
		r.Post("/sign", s.handleSign)
		r.Post("/verify", s.handleVerify)
	})

	return r
}

// keyType lee el tipo de llave del request; por ahora el default es el
// único engine registrado.
func keyType(v string) keys.Type {
	if v == "" {
		return keys.OpenPGP
	}
	return keys.Type(v)
}

func boolParam(r *http.Request, name string) bool {
	return r.URL.Query().Get(name) == "true" || r.URL.Query().Get(name) == "1"
}

// ─── Keys ───

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	private := boolParam(r, "private")
	ks, err := s.mgr.GetAllKeys(r.Context(), private)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": ks})
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if address == "" {
		writeError(w, errBadRequest)
		return
	}
	private := boolParam(r, "private")
	fetch := boolParam(r, "fetch_remote")
	typ := keyType(r.URL.Query().Get("type"))

	k, err := s.mgr.GetKey(r.Context(), address, typ, private, fetch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, k)
}

type importKeyRequest struct {
	Type       string `json:"type"`
	Address    string `json:"address"`
	Material   string `json:"material"`
	Validation string `json:"validation"`
}

func (s *Server) handleImportKey(w http.ResponseWriter, r *http.Request) {
	var req importKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalidJSON)
		return
	}
	if req.Address == "" || req.Material == "" {
		writeError(w, errBadRequest)
		return
	}
	level := keys.WeakChain
	if req.Validation != "" {
		var err error
		if level, err = keys.ParseValidationLevel(req.Validation); err != nil {
			writeError(w, &HTTPError{Code: "bad_request", Message: "Unknown validation level", Detail: req.Validation, Status: http.StatusBadRequest})
			return
		}
	}
	if err := s.mgr.PutRawKey(r.Context(), req.Material, keyType(req.Type), req.Address, level); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	private := boolParam(r, "private")
	typ := keyType(r.URL.Query().Get("type"))

	k, err := s.mgr.GetKey(r.Context(), address, typ, private, false)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.mgr.DeleteKey(r.Context(), k); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleGenKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	// Body opcional: sin body genera OpenPGP.
	_ = json.NewDecoder(r.Body).Decode(&req)

	k, err := s.mgr.GenKey(r.Context(), keyType(req.Type))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, k)
}

func (s *Server) handleSendKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type string `json:"type"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.mgr.SendKey(r.Context(), keyType(req.Type)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

type fetchKeyRequest struct {
	Address    string `json:"address"`
	URI        string `json:"uri"`
	Type       string `json:"type"`
	Validation string `json:"validation"`
}

func (s *Server) handleFetchKey(w http.ResponseWriter, r *http.Request) {
	var req fetchKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalidJSON)
		return
	}
	if req.Address == "" || req.URI == "" {
		writeError(w, errBadRequest)
		return
	}
	level := keys.WeakChain
	if req.Validation != "" {
		var err error
		if level, err = keys.ParseValidationLevel(req.Validation); err != nil {
			writeError(w, &HTTPError{Code: "bad_request", Message: "Unknown validation level", Detail: req.Validation, Status: http.StatusBadRequest})
			return
		}
	}
	if err := s.mgr.FetchKey(r.Context(), req.Address, req.URI, keyType(req.Type), level); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

func (s *Server) handleRotateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalidJSON)
		return
	}
	s.mgr.RotateToken(req.Token)
	writeJSON(w, http.StatusOK, map[string]string{"status": "rotated"})
}

// ─── Crypto ───

type encryptRequest struct {
	Data        string `json:"data"`
	Address     string `json:"address"`
	Type        string `json:"type"`
	Sign        string `json:"sign,omitempty"`
	FetchRemote bool   `json:"fetch_remote"`
}

func (s *Server) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	var req encryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalidJSON)
		return
	}
	if req.Address == "" {
		writeError(w, errBadRequest)
		return
	}
	ct, err := s.mgr.Encrypt(r.Context(), []byte(req.Data), req.Address, keyType(req.Type), manager.EncryptOptions{
		Sign:        req.Sign,
		FetchRemote: req.FetchRemote,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"data": string(ct)})
}

type decryptRequest struct {
	Data        string `json:"data"`
	Address     string `json:"address"`
	Type        string `json:"type"`
	Verify      string `json:"verify,omitempty"`
	FetchRemote bool   `json:"fetch_remote"`
}

type signatureView struct {
	Verified bool   `json:"verified"`
	KeyID    string `json:"key_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalidJSON)
		return
	}
	if req.Address == "" {
		writeError(w, errBadRequest)
		return
	}
	pt, sig, err := s.mgr.Decrypt(r.Context(), []byte(req.Data), req.Address, keyType(req.Type), manager.DecryptOptions{
		Verify:      req.Verify,
		FetchRemote: req.FetchRemote,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"data": string(pt)}
	if sig != nil {
		sv := signatureView{Verified: sig.Verified()}
		if sig.Key != nil {
			sv.KeyID = sig.Key.KeyID
		}
		if sig.Err != nil {
			sv.Error = sig.Err.Error()
		}
		resp["signature"] = sv
	}
	writeJSON(w, http.StatusOK, resp)
}

type signRequest struct {
	Data      string `json:"data"`
	Address   string `json:"address"`
	Type      string `json:"type"`
	Detached  bool   `json:"detached"`
	Clearsign bool   `json:"clearsign"`
	Binary    bool   `json:"binary"`
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalidJSON)
		return
	}
	if req.Address == "" {
		writeError(w, errBadRequest)
		return
	}
	out, err := s.mgr.Sign(r.Context(), []byte(req.Data), req.Address, keyType(req.Type), scheme.SignOptions{
		Detached:  req.Detached,
		Clearsign: req.Clearsign,
		Binary:    req.Binary,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	// Firmas binarias van en base64, el resto es texto armado.
	sig := string(out)
	if req.Binary {
		sig = base64.StdEncoding.EncodeToString(out)
	}
	writeJSON(w, http.StatusOK, map[string]string{"signature": sig})
}

type verifyRequest struct {
	Data        string `json:"data"`
	Address     string `json:"address"`
	Type        string `json:"type"`
	Signature   string `json:"signature,omitempty"`
	FetchRemote bool   `json:"fetch_remote"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errInvalidJSON)
		return
	}
	if req.Address == "" {
		writeError(w, errBadRequest)
		return
	}
	var detached []byte
	if req.Signature != "" {
		detached = []byte(req.Signature)
	}
	k, err := s.mgr.Verify(r.Context(), []byte(req.Data), req.Address, keyType(req.Type), detached, req.FetchRemote)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true, "key_id": k.KeyID})
}
