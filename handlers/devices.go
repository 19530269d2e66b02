package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"pulsehub/services/assignment"
	"pulsehub/services/devices"
	"pulsehub/services/users"
)

// DevicesHandler exposes the device registry API, including the claim flow
// for devices already held by another profile.
type DevicesHandler struct {
	devices    *devices.Service
	assignment *assignment.Service
	users      *users.Service
}

// NewDevicesHandler creates a new devices handler.
func NewDevicesHandler(devicesService *devices.Service, assignmentService *assignment.Service, usersService *users.Service) *DevicesHandler {
	return &DevicesHandler{
		devices:    devicesService,
		assignment: assignmentService,
		users:      usersService,
	}
}

// Register mounts the device routes.
func (h *DevicesHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/devices/paired", h.ListPaired).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/available", h.ListAvailable).Methods(http.MethodGet)
	r.HandleFunc("/api/devices/{id}/pair", h.Pair).Methods(http.MethodPost)
	r.HandleFunc("/api/devices/{id}/unpair", h.Unpair).Methods(http.MethodPost)
}

// ListPaired returns the paired devices.
// GET /api/devices/paired
func (h *DevicesHandler) ListPaired(w http.ResponseWriter, r *http.Request) {
	paired, err := h.devices.ListPaired(r.Context())
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"devices": paired,
	})
}

// ListAvailable returns the catalog entries not yet paired.
// GET /api/devices/available
func (h *DevicesHandler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	available, err := h.devices.ListAvailable(r.Context())
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{
		"devices": available,
	})
}

// Pair runs the pairing handshake and claims the device for a user. When the
// device is already held by a different profile the request must carry
// confirm=true; otherwise the current owner is surfaced and nothing changes.
// POST /api/devices/{id}/pair
func (h *DevicesHandler) Pair(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	var req struct {
		UserID      string `json:"userId"`
		MakeDefault bool   `json:"makeDefault"`
		Confirm     bool   `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		jsonError(w, "userId is required", http.StatusBadRequest)
		return
	}

	owner, err := h.assignment.Owner(r.Context(), deviceID)
	if err != nil {
		serviceError(w, err)
		return
	}
	if owner != "" && owner != req.UserID && !req.Confirm {
		ownerName := owner
		if u, err := h.users.Get(r.Context(), owner); err == nil {
			ownerName = u.Name
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error":     "device is already assigned",
			"ownerId":   owner,
			"ownerName": ownerName,
		})
		return
	}

	device, err := h.devices.Pair(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, devices.ErrRegistryClosed) {
			jsonError(w, "service is shutting down", http.StatusServiceUnavailable)
			return
		}
		serviceError(w, err)
		return
	}

	if owner != "" && owner != req.UserID {
		err = h.assignment.Reassign(r.Context(), deviceID, owner, req.UserID)
	} else {
		err = h.assignment.Assign(r.Context(), req.UserID, deviceID, req.MakeDefault)
	}
	if err != nil {
		serviceError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
		"device":  device,
	})
}

// Unpair removes the device and sweeps the assignments that referenced it.
// POST /api/devices/{id}/unpair
func (h *DevicesHandler) Unpair(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]

	if err := h.devices.Unpair(r.Context(), deviceID); err != nil {
		serviceError(w, err)
		return
	}
	if err := h.assignment.RepairDangling(r.Context()); err != nil {
		// The device is gone; the sweep can run again on the next removal.
		log.Printf("[handlers] repair after unpair %s failed: %v", deviceID, err)
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
	})
}
