package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type userResponse struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	LastSignInAt *time.Time `json:"last_sign_in_at,omitempty"`
	Providers    []string   `json:"providers,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// UserAPIHandler returns the signed in user as JSON, or 401.
func (s *Site) UserAPIHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	user := s.currentUser(r, s.factory.ForRequest(w, r))
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	resp := userResponse{
		ID:           user.ID,
		Email:        user.Email,
		LastSignInAt: user.LastSignInAt,
	}
	for _, identity := range user.Identities {
		resp.Providers = append(resp.Providers, identity.Provider)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Site) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
