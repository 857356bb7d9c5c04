package api

import (
	"net/http"

	"github.com/quillcms/aichat/internal/log"
	"github.com/quillcms/aichat/internal/registry"
)

// ToolCatalog is the tools handler's view of the registry.
type ToolCatalog interface {
	Tools() []registry.Descriptor
	Degraded() bool
}

// toolsResponse is the body for GET /api/tools.
type toolsResponse struct {
	Tools    []registry.Descriptor `json:"tools"`
	Degraded bool                  `json:"degraded"`
}

type toolsHandler struct {
	catalog ToolCatalog
	logger  log.Logger
}

// list handles GET /api/tools: the current tool catalog, empty but not
// an error when every provider is down.
func (h *toolsHandler) list(w http.ResponseWriter, _ *http.Request) {
	resp := toolsResponse{Degraded: h.catalog.Degraded()}
	if tools := h.catalog.Tools(); tools != nil {
		resp.Tools = tools
	} else {
		resp.Tools = []registry.Descriptor{}
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}
