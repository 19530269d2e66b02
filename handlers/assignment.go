package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"pulsehub/services/assignment"
)

// AssignmentHandler exposes the user-device assignment API.
type AssignmentHandler struct {
	assignment *assignment.Service
}

// NewAssignmentHandler creates a new assignment handler.
func NewAssignmentHandler(assignmentService *assignment.Service) *AssignmentHandler {
	return &AssignmentHandler{assignment: assignmentService}
}

// Register mounts the assignment routes.
func (h *AssignmentHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/users/{id}/devices", h.DevicesForUser).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{id}/devices/default", h.DefaultDevice).Methods(http.MethodGet)
	r.HandleFunc("/api/assignments", h.Assign).Methods(http.MethodPost)
	r.HandleFunc("/api/assignments", h.Unassign).Methods(http.MethodDelete)
	r.HandleFunc("/api/assignments/reassign", h.Reassign).Methods(http.MethodPost)
	r.HandleFunc("/api/assignments/repair", h.Repair).Methods(http.MethodPost)
}

// DevicesForUser returns the device ids a user holds.
// GET /api/users/{id}/devices
func (h *AssignmentHandler) DevicesForUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	ids, err := h.assignment.DevicesForUser(r.Context(), userID)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"deviceIds": ids,
	})
}

// DefaultDevice resolves (and lazily repairs) a user's default device.
// GET /api/users/{id}/devices/default
func (h *AssignmentHandler) DefaultDevice(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	id, err := h.assignment.DefaultDevice(r.Context(), userID)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"deviceId": id,
	})
}

// Assign claims a device for a user.
// POST /api/assignments
func (h *AssignmentHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string `json:"userId"`
		DeviceID    string `json:"deviceId"`
		MakeDefault bool   `json:"makeDefault"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.assignment.Assign(r.Context(), req.UserID, req.DeviceID, req.MakeDefault); err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"success": true,
	})
}

// Unassign releases a device from a user.
// DELETE /api/assignments
func (h *AssignmentHandler) Unassign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"userId"`
		DeviceID string `json:"deviceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.assignment.Unassign(r.Context(), req.UserID, req.DeviceID); err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"success": true,
	})
}

// Reassign moves a device between users in one step.
// POST /api/assignments/reassign
func (h *AssignmentHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID   string `json:"deviceId"`
		FromUserID string `json:"fromUserId"`
		ToUserID   string `json:"toUserId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.assignment.Reassign(r.Context(), req.DeviceID, req.FromUserID, req.ToUserID); err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"success": true,
	})
}

// Repair runs the dangling-reference sweep on demand.
// POST /api/assignments/repair
func (h *AssignmentHandler) Repair(w http.ResponseWriter, r *http.Request) {
	if err := h.assignment.RepairDangling(r.Context()); err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"success": true,
	})
}
