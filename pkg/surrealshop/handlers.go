package surrealshop

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/surrealdb/surrealshop/pkg/client"
	"github.com/surrealdb/surrealshop/pkg/models"
	"github.com/surrealdb/surrealshop/pkg/monitor"
	"github.com/surrealdb/surrealshop/pkg/phase"
	"github.com/surrealdb/surrealshop/pkg/store"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.config.Migration.ReadTimeout)
	defer cancel()

	response := map[string]any{
		"status": "healthy",
		"phase":  a.Phases().Current().String(),
		"time":   time.Now().Unix(),
	}
	status := http.StatusOK
	if failures := a.Ping(ctx); len(failures) > 0 {
		errs := make(map[string]string, len(failures))
		for name, err := range failures {
			errs[name] = err.Error()
		}
		response["status"] = "unhealthy"
		response["errors"] = errs
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, response)
}

func (a *App) handleGetPhase(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, client.PhaseResponse{Current: a.Phases().Current().String()})
}

// handleSetPhase changes the migration phase.
//
//	POST /api/admin/phase
//	{"phase": "dual_write_source_read", "rollback": false, "force": false}
//
// Responses:
//   - 200 OK: {"previous": "...", "current": "..."}
//   - 400 Bad Request: unknown phase or malformed body
//   - 409 Conflict: the transition skips a phase or moves backward without rollback
//   - 412 Precondition Failed: the advancement gate is closed and force is not set
func (a *App) handleSetPhase(w http.ResponseWriter, r *http.Request) {
	var req client.PhaseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload", "validation")
		return
	}
	next, err := phase.Parse(req.Phase)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "validation")
		return
	}

	prev, err := a.SetPhase(next, req.Rollback, req.Force)
	switch {
	case errors.Is(err, phase.ErrTransitionRejected):
		respondError(w, http.StatusConflict, err.Error(), "transition_rejected")
		return
	case errors.Is(err, monitor.ErrGateClosed):
		respondError(w, http.StatusPreconditionFailed, err.Error(), "gate_closed")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}

	respondJSON(w, http.StatusOK, client.PhaseResponse{
		Previous: prev.String(),
		Current:  next.String(),
	})
}

func (a *App) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := a.monitor.Snapshot()
	stats := a.store.ShadowStats()
	snapshot["shadow.queue.submitted"] = float64(stats.Submitted)
	snapshot["shadow.queue.succeeded"] = float64(stats.Succeeded)
	snapshot["shadow.queue.failed"] = float64(stats.Failed)
	snapshot["shadow.queue.dropped"] = float64(stats.Dropped)
	snapshot["shadow.queue.pending"] = float64(stats.Pending)
	snapshot["phase"] = float64(a.Phases().Current())
	respondJSON(w, http.StatusOK, snapshot)
}

func (a *App) handleDrift(w http.ResponseWriter, r *http.Request) {
	drift := a.monitor.Drift()
	if drift == nil {
		drift = []monitor.DriftRecord{}
	}
	respondJSON(w, http.StatusOK, drift)
}

func (a *App) registerEntities(api *mux.Router) {
	registerEntity(api, a, models.Users, store.Store.Users)
	registerEntity(api, a, models.Categories, store.Store.Categories)
	registerEntity(api, a, models.Products, store.Store.Products)
	registerEntity(api, a, models.CartItems, store.Store.CartItems)
	registerEntity(api, a, models.Orders, store.Store.Orders)
}

// entity serves the CRUD routes of one table.
type entity[T models.Record] struct {
	app  *App
	kind models.Kind[T]
	repo func(store.Store) store.Repository[T]
}

func registerEntity[T models.Record](api *mux.Router, a *App, kind models.Kind[T], repo func(store.Store) store.Repository[T]) {
	e := &entity[T]{app: a, kind: kind, repo: repo}
	base := "/" + kind.Table
	api.HandleFunc(base, e.handleCreate).Methods(http.MethodPost)
	api.HandleFunc(base, e.handleFind).Methods(http.MethodGet)
	api.HandleFunc(base+"/{id}", e.handleGet).Methods(http.MethodGet)
	api.HandleFunc(base+"/{id}", e.handleUpdate).Methods(http.MethodPatch)
	api.HandleFunc(base+"/{id}", e.handleDelete).Methods(http.MethodDelete)
}

func (e *entity[T]) repository() store.Repository[T] {
	return e.repo(e.app.store)
}

func (e *entity[T]) handleCreate(w http.ResponseWriter, r *http.Request) {
	rec := e.kind.New()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(rec); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload", "validation")
		return
	}
	out, err := e.repository().Create(r.Context(), rec)
	if err != nil {
		e.app.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, out)
}

func (e *entity[T]) handleGet(w http.ResponseWriter, r *http.Request) {
	out, err := e.repository().Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		e.app.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (e *entity[T]) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch models.Patch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request payload", "validation")
		return
	}
	out, err := e.repository().Update(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		e.app.respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (e *entity[T]) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	deleted, err := e.repository().Delete(r.Context(), id)
	if err != nil {
		e.app.respondStoreError(w, err)
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, e.kind.Name+" "+id+" not found", "not_found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *entity[T]) handleFind(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	field := q.Get("field")
	if field == "" {
		respondError(w, http.StatusBadRequest, "field query parameter is required", "validation")
		return
	}
	out, err := e.repository().FindBy(r.Context(), field, q.Get("value"))
	if err != nil {
		e.app.respondStoreError(w, err)
		return
	}
	if out == nil {
		out = []T{}
	}
	respondJSON(w, http.StatusOK, out)
}

// statusFor maps the store error classes to HTTP status codes. Classes are checked
// before ErrAuthoritativeWrite so a rejected write reports why it was rejected.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConstraint):
		return http.StatusConflict
	case errors.Is(err, store.ErrThrottled),
		errors.Is(err, store.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrAuthoritativeWrite),
		errors.Is(err, store.ErrTransient):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (a *App) respondStoreError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	respondError(w, status, err.Error(), store.Reason(err))
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_, _ = w.Write(response)
	}
}

func respondError(w http.ResponseWriter, status int, message, reason string) {
	respondJSON(w, status, client.ErrorResponse{Error: message, Reason: reason})
}
