package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes registers all API routes on a fresh mux. Method and path
// parameters are matched by the standard library router.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Ingestion
	mux.HandleFunc("POST /ingest", s.app.IngestHandler.IngestHandler)

	// Job queue
	mux.HandleFunc("GET /jobs", s.app.JobHandler.ListJobsHandler)
	mux.HandleFunc("GET /jobs/{id}", s.app.JobHandler.GetJobHandler)
	mux.HandleFunc("POST /jobs/{id}/approve", s.app.JobHandler.ApproveJobHandler)
	mux.HandleFunc("POST /jobs/{id}/cancel", s.app.JobHandler.CancelJobHandler)
	mux.HandleFunc("DELETE /jobs/{id}", s.app.JobHandler.DeleteJobHandler)
	mux.HandleFunc("GET /jobs/{id}/stream", s.app.JobHandler.StreamJobHandler)

	// Artifacts
	mux.HandleFunc("GET /artifacts", s.app.ArtifactHandler.ListArtifactsHandler)
	mux.HandleFunc("GET /artifacts/{id}", s.app.ArtifactHandler.GetArtifactHandler)
	mux.HandleFunc("GET /artifacts/{id}/payload", s.app.ArtifactHandler.GetArtifactPayloadHandler)
	mux.HandleFunc("DELETE /artifacts/{id}", s.app.ArtifactHandler.DeleteArtifactHandler)
	mux.HandleFunc("POST /artifacts/{id}/regenerate", s.app.ArtifactHandler.RegenerateArtifactHandler)

	// Query definitions
	mux.HandleFunc("GET /query-definitions", s.app.QueryDefHandler.ListDefinitionsHandler)
	mux.HandleFunc("POST /query-definitions", s.app.QueryDefHandler.CreateDefinitionHandler)
	mux.HandleFunc("GET /query-definitions/{id}", s.app.QueryDefHandler.GetDefinitionHandler)
	mux.HandleFunc("PUT /query-definitions/{id}", s.app.QueryDefHandler.UpdateDefinitionHandler)
	mux.HandleFunc("DELETE /query-definitions/{id}", s.app.QueryDefHandler.DeleteDefinitionHandler)
	mux.HandleFunc("POST /query-definitions/{id}/execute", s.app.QueryDefHandler.ExecuteDefinitionHandler)

	// Relationship-type vocabulary
	mux.HandleFunc("GET /vocabulary", s.app.VocabularyHandler.ListTypesHandler)
	mux.HandleFunc("POST /vocabulary", s.app.VocabularyHandler.AddTypeHandler)
	mux.HandleFunc("PATCH /vocabulary/{name}", s.app.VocabularyHandler.UpdateTypeHandler)

	// Graph reads
	mux.HandleFunc("GET /ontologies", s.app.GraphHandler.ListOntologiesHandler)
	mux.HandleFunc("GET /documents/{hash}", s.app.GraphHandler.GetDocumentHandler)
	mux.HandleFunc("GET /concepts/{id}", s.app.GraphHandler.GetConceptHandler)
	mux.HandleFunc("GET /search", s.app.GraphHandler.SearchHandler)

	// Administration
	mux.HandleFunc("GET /admin/backup", s.app.AdminHandler.BackupDownloadHandler)
	mux.HandleFunc("POST /admin/backup", s.app.AdminHandler.BackupJobHandler)
	mux.HandleFunc("POST /admin/restore", s.app.AdminHandler.RestoreUploadHandler)
	mux.HandleFunc("GET /admin/scheduled", s.app.AdminHandler.ListScheduledJobsHandler)
	mux.HandleFunc("PATCH /admin/scheduled/{name}", s.app.AdminHandler.UpdateScheduledJobHandler)

	// OAuth
	mux.HandleFunc("POST /auth/oauth/token", s.app.OAuthHandler.TokenHandler)
	mux.HandleFunc("POST /auth/oauth/revoke", s.app.OAuthHandler.RevokeHandler)
	mux.HandleFunc("POST /auth/oauth/device/authorize", s.app.OAuthHandler.DeviceAuthorizationHandler)
	mux.HandleFunc("GET /auth/oauth/device", s.app.OAuthHandler.GetDeviceFlowHandler)
	mux.HandleFunc("POST /auth/oauth/device/approve", s.app.OAuthHandler.DecideDeviceHandler(true))
	mux.HandleFunc("POST /auth/oauth/device/deny", s.app.OAuthHandler.DecideDeviceHandler(false))
	mux.HandleFunc("GET /auth/oauth/authorize", s.app.OAuthHandler.AuthorizeHandler)
	mux.HandleFunc("POST /auth/oauth/authorize", s.app.OAuthHandler.AuthorizeHandler)

	// System
	mux.HandleFunc("GET /version", s.app.SystemHandler.VersionHandler)
	mux.HandleFunc("GET /health", s.app.SystemHandler.HealthHandler)
	mux.HandleFunc("GET /status", s.app.SystemHandler.StatusHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.app.Registry, promhttp.HandlerOpts{}))

	// Fallback for unmatched paths
	mux.HandleFunc("/", s.app.SystemHandler.NotFoundHandler)

	return mux
}
