package api

import (
	"net/http"

	"github.com/quillcms/aichat/internal/log"
)

// health is a liveness probe for Docker/Kubernetes.
func health(logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// readiness reports whether the server can actually serve tool-backed
// turns. A degraded registry still returns 200: chat works without
// tools, so degradation is reported, not fatal.
func readiness(catalog ToolCatalog, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{"status": "ok"}
		if catalog != nil {
			body["toolsDegraded"] = catalog.Degraded()
		}
		writeJSON(w, http.StatusOK, body, logger)
	}
}
