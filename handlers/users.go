package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"pulsehub/models"
	"pulsehub/services/users"
)

// UsersHandler exposes the user directory API.
type UsersHandler struct {
	users *users.Service
}

// NewUsersHandler creates a new users handler.
func NewUsersHandler(usersService *users.Service) *UsersHandler {
	return &UsersHandler{users: usersService}
}

// Register mounts the user routes.
func (h *UsersHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/users", h.List).Methods(http.MethodGet)
	r.HandleFunc("/api/users", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/api/users/default", h.GetDefault).Methods(http.MethodGet)
	r.HandleFunc("/api/users/default", h.SetDefault).Methods(http.MethodPut)
	r.HandleFunc("/api/users/{id}", h.Update).Methods(http.MethodPut)
	r.HandleFunc("/api/users/{id}", h.Delete).Methods(http.MethodDelete)
}

// UserResponse is the JSON shape for a user, with the derived self flag.
type UserResponse struct {
	models.User
	Self bool `json:"self"`
}

// List returns the self profile first, then family members.
// GET /api/users
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.users.List(r.Context())
	if err != nil {
		serviceError(w, err)
		return
	}
	self, hasSelf, err := h.users.Self(r.Context())
	if err != nil {
		serviceError(w, err)
		return
	}

	out := make([]UserResponse, 0, len(list))
	for _, u := range list {
		out = append(out, UserResponse{User: u, Self: hasSelf && u.ID == self.ID})
	}

	writeJSON(w, map[string]interface{}{
		"users": out,
	})
}

// Create adds a family member.
// POST /api/users
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var profile models.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	user, err := h.users.Add(r.Context(), profile)
	if err != nil {
		serviceError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
		"user":    user,
	})
}

// Update merges profile edits into a user.
// PUT /api/users/{id}
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var patch models.UserPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	user, err := h.users.Update(r.Context(), id, patch)
	if err != nil {
		serviceError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
		"user":    user,
	})
}

// Delete removes a family member. The self profile is protected.
// DELETE /api/users/{id}
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.users.Remove(r.Context(), id); err != nil {
		serviceError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
	})
}

// GetDefault resolves the default profile.
// GET /api/users/default
func (h *UsersHandler) GetDefault(w http.ResponseWriter, r *http.Request) {
	user, ok, err := h.users.DefaultUser(r.Context())
	if err != nil {
		serviceError(w, err)
		return
	}
	if !ok {
		writeJSON(w, map[string]interface{}{
			"user": nil,
		})
		return
	}
	writeJSON(w, map[string]interface{}{
		"user": user,
	})
}

// SetDefault persists the default-profile selection.
// PUT /api/users/default
func (h *UsersHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.users.SetDefaultUser(r.Context(), req.UserID); err != nil {
		serviceError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
	})
}
