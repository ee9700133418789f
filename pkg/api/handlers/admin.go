package handlers

import (
	"net/http"
)

// AdminHandler serves the administrative operations of the primary.
type AdminHandler struct {
	nn Namenode
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(nn Namenode) *AdminHandler {
	return &AdminHandler{nn: nn}
}

// SafeModeRequest is the body of PUT /admin/safemode.
type SafeModeRequest struct {
	Enabled bool `json:"enabled"`
}

// SafeModeResponse is returned by the safe mode endpoints.
type SafeModeResponse struct {
	Enabled bool `json:"enabled"`
}

// RestoreRequest is the body of POST /admin/restore.
type RestoreRequest struct {
	Root string `json:"root"`
}

// Status handles GET /admin/status.
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.nn.Status())
}

// GetSafeMode handles GET /admin/safemode.
func (h *AdminHandler) GetSafeMode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SafeModeResponse{Enabled: h.nn.SafeMode()})
}

// SetSafeMode handles PUT /admin/safemode.
func (h *AdminHandler) SetSafeMode(w http.ResponseWriter, r *http.Request) {
	var req SafeModeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	h.nn.SetSafeMode(req.Enabled)
	writeJSON(w, http.StatusOK, SafeModeResponse{Enabled: h.nn.SafeMode()})
}

// SaveNamespace handles POST /admin/save-namespace.
func (h *AdminHandler) SaveNamespace(w http.ResponseWriter, r *http.Request) {
	if err := h.nn.SaveNamespace(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.nn.Status())
}

// Restore handles POST /admin/restore.
func (h *AdminHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Root == "" {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Code: "InvalidArgument", Message: "root is required"})
		return
	}
	if err := h.nn.RestoreDirectory(r.Context(), req.Root); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.nn.Status())
}
