package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealshop/pkg/client"
	"github.com/surrealdb/surrealshop/pkg/models"
)

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, client.ErrInvalid},
		{http.StatusNotFound, client.ErrNotFound},
		{http.StatusConflict, client.ErrConflict},
		{http.StatusPreconditionFailed, client.ErrGateClosed},
		{http.StatusBadGateway, client.ErrAuthoritativeWrite},
		{http.StatusServiceUnavailable, client.ErrUnavailable},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tt.status)
			_ = json.NewEncoder(w).Encode(client.ErrorResponse{Error: "boom", Reason: "why"})
		}))

		_, err := client.NewClient(srv.URL).Phase(context.Background())
		srv.Close()

		require.ErrorIs(t, err, tt.want)
		var apiErr *client.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, tt.status, apiErr.Status)
		assert.Equal(t, "boom", apiErr.Message)
		assert.Equal(t, "why", apiErr.Reason)
	}
}

func TestPlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := client.NewClient(srv.URL).Metrics(context.Background())
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.Empty(t, apiErr.Reason)
}

func TestRequests(t *testing.T) {
	var got struct {
		method, path, query string
		body                map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method, got.path, got.query = r.Method, r.URL.EscapedPath(), r.URL.RawQuery
		got.body = nil
		_ = json.NewDecoder(r.Body).Decode(&got.body)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/admin/phase":
			_ = json.NewEncoder(w).Encode(client.PhaseResponse{Previous: "source_only", Current: "dual_write_source_read"})
		case r.Method == http.MethodGet && r.URL.Path == "/api/users":
			_ = json.NewEncoder(w).Encode([]*models.User{{ID: "u1", Name: "Ann"}})
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			_ = json.NewEncoder(w).Encode(&models.User{ID: "u1", Name: "Ann"})
		}
	}))
	defer srv.Close()

	c := client.NewClient(srv.URL + "/")
	ctx := context.Background()

	state, err := c.SetPhase(ctx, client.PhaseRequest{Phase: "dual_write_source_read", Force: true})
	require.NoError(t, err)
	assert.Equal(t, "dual_write_source_read", state.Current)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, map[string]any{"phase": "dual_write_source_read", "force": true}, got.body)

	users, err := client.FindBy(ctx, c, models.Users, "username", "ann lee")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "field=username&value=ann+lee", got.query)

	u, err := client.Update(ctx, c, models.Users, "u/1", models.Patch{"name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.Name)
	assert.Equal(t, http.MethodPatch, got.method)
	assert.Equal(t, "/api/users/u%2F1", got.path)

	require.NoError(t, client.Delete(ctx, c, models.Users, "u1"))
	assert.Equal(t, http.MethodDelete, got.method)
}
