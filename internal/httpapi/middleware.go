package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"
)

type ctxKey int

const (
	ctxKeyTenantID ctxKey = iota
	ctxKeyActor
	ctxKeyStaff
)

// CORS allows any origin, matching the permissive dev-mode middleware
// stack the reference server assembles in front of its generated routes.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Tenant-ID, X-Actor, X-Staff")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Logging logs one line per request with method, path, status, and
// latency.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recovery converts a panicking handler into a 500 instead of crashing
// the process, the same safety net every request gets in front of
// generated and custom routes alike.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("httpapi: panic recovered: %v", rec)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// TenantContext resolves the caller's tenant, actor, and staff flag from
// request headers and stores them on the request context. Every
// component call downstream reads tenantID as an explicit argument from
// this context value, never from a process global.
func TenantContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get("X-Tenant-ID")
		if tenantID == "" {
			writeError(w, http.StatusBadRequest, "MISSING_TENANT", "X-Tenant-ID header is required")
			return
		}
		actor := r.Header.Get("X-Actor")
		if actor == "" {
			actor = "unknown"
		}
		staff := r.Header.Get("X-Staff") == "true"

		ctx := context.WithValue(r.Context(), ctxKeyTenantID, tenantID)
		ctx = context.WithValue(ctx, ctxKeyActor, actor)
		ctx = context.WithValue(ctx, ctxKeyStaff, staff)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantID(r *http.Request) string {
	v, _ := r.Context().Value(ctxKeyTenantID).(string)
	return v
}

func actor(r *http.Request) string {
	v, _ := r.Context().Value(ctxKeyActor).(string)
	return v
}

func isStaff(r *http.Request) bool {
	v, _ := r.Context().Value(ctxKeyStaff).(bool)
	return v
}
