package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"pulsehub/models"
	"pulsehub/services/users"
	"pulsehub/utils"
)

// AuthHandler implements the mock OTP sign-in. There is no real identity
// provider: the code is generated locally, held in memory with a TTL, and
// returned in the response so the frontend can display it.
type AuthHandler struct {
	users *users.Service
	ttl   time.Duration

	mu      sync.Mutex
	pending map[string]pendingOTP
}

type pendingOTP struct {
	code      string
	expiresAt time.Time
}

// NewAuthHandler creates a new auth handler with the given code lifetime.
func NewAuthHandler(usersService *users.Service, ttl time.Duration) *AuthHandler {
	return &AuthHandler{
		users:   usersService,
		ttl:     ttl,
		pending: make(map[string]pendingOTP),
	}
}

// Register mounts the auth routes.
func (h *AuthHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/auth/otp/request", h.RequestOTP).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/otp/verify", h.VerifyOTP).Methods(http.MethodPost)
}

// RequestOTP issues a one-time code for the given phone number.
// POST /api/auth/otp/request
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		jsonError(w, "phone is required", http.StatusBadRequest)
		return
	}

	code, err := utils.GenerateOTP()
	if err != nil {
		jsonError(w, "Failed to generate code: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	h.pending[phone] = pendingOTP{code: code, expiresAt: time.Now().Add(h.ttl)}
	h.mu.Unlock()

	log.Printf("[auth] issued otp for %s", phone)

	// Mock flow: no SMS gateway, the code goes straight back to the caller.
	writeJSON(w, map[string]interface{}{
		"success": true,
		"code":    code,
	})
}

// VerifyOTP checks the code and registers the self profile.
// POST /api/auth/otp/verify
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone   string             `json:"phone"`
		Code    string             `json:"code"`
		Profile models.UserProfile `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if !utils.ValidateOTP(req.Code) {
		jsonError(w, "code must be 6 digits", http.StatusBadRequest)
		return
	}

	phone := strings.TrimSpace(req.Phone)
	h.mu.Lock()
	entry, ok := h.pending[phone]
	if ok && entry.code == req.Code && time.Now().Before(entry.expiresAt) {
		delete(h.pending, phone)
	} else {
		ok = false
	}
	h.mu.Unlock()

	if !ok {
		jsonError(w, "invalid or expired code", http.StatusUnauthorized)
		return
	}

	profile := req.Profile
	if profile.Phone == "" {
		profile.Phone = phone
	}

	user, err := h.users.RegisterSelf(r.Context(), profile)
	if err != nil {
		serviceError(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
		"user":    user,
	})
}
