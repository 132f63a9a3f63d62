package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dropDatabas3/nickel/internal/keys"
)

func TestMapError_Taxonomy(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: quantum", keys.ErrUnsupportedKeyType), http.StatusBadRequest, "unsupported_key_type"},
		{fmt.Errorf("%w: bob@example.org", keys.ErrKeyNotFound), http.StatusNotFound, "key_not_found"},
		{fmt.Errorf("%w: UIDs", keys.ErrKeyAddressMismatch), http.StatusUnprocessableEntity, "key_address_mismatch"},
		{fmt.Errorf("%w: key X", keys.ErrKeyNotValidUpgrade), http.StatusConflict, "key_not_valid_upgrade"},
		{fmt.Errorf("%w: key X", keys.ErrInvalidSignature), http.StatusUnprocessableEntity, "invalid_signature"},
		{fmt.Errorf("se rompió todo"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		got := mapError(tc.err)
		if got.Status != tc.status || got.Code != tc.code {
			t.Fatalf("mapError(%v) = %d/%s, quería %d/%s", tc.err, got.Status, got.Code, tc.status, tc.code)
		}
	}
}

func TestWriteError_JSONBody(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	writeError(rec, fmt.Errorf("%w: ghost@example.org", keys.ErrKeyNotFound))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var body HTTPError
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("respuesta no es JSON: %v", err)
	}
	if body.Code != "key_not_found" {
		t.Fatalf("code = %s", body.Code)
	}
	// El status es metadato del transporte, no viaja en el cuerpo.
	if rec.Header().Get("Content-Type") != "application/json; charset=utf-8" {
		t.Fatalf("content-type = %s", rec.Header().Get("Content-Type"))
	}
}

func TestWriteError_PassesThroughHTTPError(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	writeError(rec, errInvalidJSON)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}
