package surrealshop

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
)

// Router returns the HTTP surface of the App.
//
// # API Endpoints
//
// Health check:
//
//	GET    /health                        - Backend reachability and active phase
//
// Administration:
//
//	GET    /api/admin/phase               - Active migration phase
//	POST   /api/admin/phase               - Change phase {"phase", "rollback", "force"}
//	GET    /api/admin/metrics             - Flat monitor snapshot
//	GET    /api/admin/drift               - Recent drift records
//
// Entities, for users, categories, products, cart_items and orders:
//
//	POST   /api/{table}                   - Create
//	GET    /api/{table}/{id}              - Get by identity
//	PATCH  /api/{table}/{id}              - Update the given fields
//	DELETE /api/{table}/{id}              - Delete
//	GET    /api/{table}?field=&value=     - Find by an indexed field
func (a *App) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(a.logRequests)

	router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/phase", a.handleGetPhase).Methods(http.MethodGet)
	admin.HandleFunc("/phase", a.handleSetPhase).Methods(http.MethodPost)
	admin.HandleFunc("/metrics", a.handleMetrics).Methods(http.MethodGet)
	admin.HandleFunc("/drift", a.handleDrift).Methods(http.MethodGet)

	a.registerEntities(api)
	return router
}

// Run serves the HTTP API and runs the consistency monitor until ctx is cancelled or the
// server fails. On cancellation in-flight requests get Server.ShutdownTimeout to finish.
func (a *App) Run(ctx context.Context, cmd *RunCommand) error {
	server := &http.Server{
		Addr:              net.JoinHostPort("", a.config.Server.Port),
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.log.Info().
		Str("addr", server.Addr).
		Str("phase", a.Phases().Current().String()).
		Msg("starting surrealshop server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.monitor.Run(gctx)
	})
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return a.store.Flush(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		a.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.status).
			Dur("latency", time.Since(start)).
			Msg("request")
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
