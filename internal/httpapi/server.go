// Package httpapi assembles the chi router and handlers the reconciliation
// and review core is served behind, grounded on
// mattbaird-ontology/internal/server's router assembly
// (chi.NewRouter() + CORS/Logging/Recovery) and its handler package's
// writeJSON/writeError/decodeJSON/parseUUID helper shapes.
package httpapi

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ledgercore/internal/advisor"
	"ledgercore/internal/storage"
)

// Config holds everything a running server needs.
type Config struct {
	Port          int
	Storage       *storage.Storage
	AdvisorProvider advisor.Provider
}

// NewRouter builds the full route tree for cfg.
func NewRouter(cfg Config) chi.Router {
	r := chi.NewRouter()
	r.Use(CORS, Logging, Recovery, TenantContext)

	env := &handlerEnv{db: cfg.Storage, provider: cfg.AdvisorProvider}

	r.Route("/reconciliation", func(r chi.Router) {
		r.Get("/accounts", env.listBankAccounts)
		r.Get("/accounts/{id}/periods", env.listPeriods)
		r.Get("/session", env.getOrCreateSession)
		r.Post("/session/{id}/set_statement_balance", env.setStatementBalance)
		r.Post("/session/{id}/match", env.matchTx)
		r.Post("/session/{id}/unmatch", env.unmatchTx)
		r.Post("/session/{id}/exclude", env.excludeTx)
		r.Post("/session/{id}/complete", env.completeSession)
		r.Post("/sessions/{id}/reopen", env.reopenSession)
		r.Post("/add-as-new", env.addAsNew)
	})

	r.Route("/banking", func(r chi.Router) {
		r.Post("/transactions/{id}/allocate", env.allocateTx)
	})

	r.Route("/agentic", func(r chi.Router) {
		r.Post("/{surface}/run", env.runPipeline)
		r.Get("/{surface}/runs", env.listRuns)
		r.Get("/{surface}/run/{id}", env.getRun)

		r.Get("/companion/issues", env.listIssues)
		r.Patch("/companion/issues/{id}", env.updateIssue)
		r.Get("/companion/summary", env.companionSummary)
	})

	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	r := NewRouter(cfg)
	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: r}

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	log.Printf("httpapi: listening on %s", addr)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

type handlerEnv struct {
	db       *storage.Storage
	provider advisor.Provider
}
