package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/cognatio/internal/app"
)

// Route patterns are part of the public contract; clients hard-code these
// paths. mux.Handler reports the matched pattern without invoking anything.
func TestSetupRoutes_PublicPaths(t *testing.T) {
	s := &Server{app: &app.App{Registry: prometheus.NewRegistry()}}
	mux := s.setupRoutes()

	tests := []struct {
		method string
		target string
		want   string
	}{
		{http.MethodPost, "/ingest", "POST /ingest"},
		{http.MethodGet, "/jobs", "GET /jobs"},
		{http.MethodGet, "/jobs/job-1", "GET /jobs/{id}"},
		{http.MethodPost, "/jobs/job-1/approve", "POST /jobs/{id}/approve"},
		{http.MethodPost, "/jobs/job-1/cancel", "POST /jobs/{id}/cancel"},
		{http.MethodDelete, "/jobs/job-1", "DELETE /jobs/{id}"},
		{http.MethodGet, "/jobs/job-1/stream", "GET /jobs/{id}/stream"},
		{http.MethodGet, "/artifacts", "GET /artifacts"},
		{http.MethodGet, "/artifacts/art-1", "GET /artifacts/{id}"},
		{http.MethodGet, "/artifacts/art-1/payload", "GET /artifacts/{id}/payload"},
		{http.MethodDelete, "/artifacts/art-1", "DELETE /artifacts/{id}"},
		{http.MethodPost, "/artifacts/art-1/regenerate", "POST /artifacts/{id}/regenerate"},
		{http.MethodGet, "/query-definitions", "GET /query-definitions"},
		{http.MethodPost, "/query-definitions", "POST /query-definitions"},
		{http.MethodPost, "/query-definitions/qd-1/execute", "POST /query-definitions/{id}/execute"},
		{http.MethodGet, "/admin/backup", "GET /admin/backup"},
		{http.MethodPost, "/admin/backup", "POST /admin/backup"},
		{http.MethodPost, "/admin/restore", "POST /admin/restore"},
		{http.MethodPost, "/auth/oauth/token", "POST /auth/oauth/token"},
		{http.MethodPost, "/auth/oauth/revoke", "POST /auth/oauth/revoke"},
		{http.MethodPost, "/auth/oauth/device/authorize", "POST /auth/oauth/device/authorize"},
		{http.MethodGet, "/auth/oauth/authorize", "GET /auth/oauth/authorize"},
		{http.MethodPost, "/auth/oauth/authorize", "POST /auth/oauth/authorize"},
		{http.MethodGet, "/metrics", "GET /metrics"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			_, pattern := mux.Handler(httptest.NewRequest(tt.method, tt.target, nil))
			require.Equal(t, tt.want, pattern)
		})
	}
}

func TestSetupRoutes_UnknownPathFallsThrough(t *testing.T) {
	s := &Server{app: &app.App{Registry: prometheus.NewRegistry()}}
	mux := s.setupRoutes()

	_, pattern := mux.Handler(httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	require.Equal(t, "/", pattern)
}
