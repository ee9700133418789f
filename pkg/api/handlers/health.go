package handlers

import (
	"net/http"

	"github.com/marmos91/dittonn/pkg/metadata/storage"
)

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Does the primary still have a healthy directory for
//     images and one for edits?
type HealthHandler struct {
	nn Namenode
}

// NewHealthHandler creates a new health handler.
//
// nn may be nil, in which case the readiness probe reports unhealthy.
func NewHealthHandler(nn Namenode) *HealthHandler {
	return &HealthHandler{nn: nn}
}

// Liveness handles GET /health - simple liveness probe.
//
// Returns 200 OK as long as the HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "dittonn",
	}))
}

// Readiness handles GET /health/ready - readiness probe.
//
// Returns 503 Service Unavailable when no namenode is attached or when every
// directory of a role has been removed.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.nn == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("namenode not initialized"))
		return
	}

	st := h.nn.Status()
	var images, edits int
	for _, d := range st.Directories {
		if !d.Healthy {
			continue
		}
		role := storage.ParseRole(d.Role)
		if role.Has(storage.RoleImage) {
			images++
		}
		if role.Has(storage.RoleEdits) {
			edits++
		}
	}
	if images == 0 || edits == 0 {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("no healthy storage directory left"))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]any{
		"image_dirs": images,
		"edits_dirs": edits,
		"removed":    len(st.Removed),
		"safe_mode":  st.SafeMode,
		"txid":       st.LastTxID,
	}))
}
