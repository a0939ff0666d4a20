package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ledgercore/internal/ledger"
	"ledgercore/internal/money"
)

func ledgerCents(v int64) ledger.Cents { return ledger.Cents(v) }

func taxTreatment(s string) money.TaxTreatment {
	if s == "" {
		return money.TaxNone
	}
	return money.TaxTreatment(s)
}

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON encode error: %v", err)
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// urlParam reads a required chi path parameter.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// Pagination holds parsed pagination parameters.
type Pagination struct {
	Limit  int
	Offset int
}

func parsePagination(r *http.Request) Pagination {
	p := Pagination{Limit: 50, Offset: 0}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > 200 {
		p.Limit = 200
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.Offset = n
		}
	}
	return p
}

// errorToHTTP maps a domain error to the appropriate HTTP status and
// writes the response, generalizing entErrorToHTTP's error-to-status
// switch from Ent's typed errors to this module's ledger error family.
func errorToHTTP(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *ledger.ValidationError:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", e.Error())
	case *ledger.StateError:
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": e.Message,
			"code":  e.Code,
		})
	case *ledger.AuthorizationError:
		if e.Forbidden {
			writeError(w, http.StatusForbidden, "FORBIDDEN", e.Error())
		} else {
			writeError(w, http.StatusNotFound, "NOT_FOUND", e.Error())
		}
	case *ledger.InvariantError:
		log.Printf("httpapi: invariant violated: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	default:
		log.Printf("httpapi: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
