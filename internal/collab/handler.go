package collab

import (
	"encoding/json"
	"errors"
	"net/http"

	"coedit/internal/collab/model"
	"coedit/internal/collab/service"
	"coedit/middleware"
	"coedit/pkg/logger"
)

type SessionHandler struct {
	Service *service.SessionService
}

func NewSessionHandler(svc *service.SessionService) *SessionHandler {
	return &SessionHandler{Service: svc}
}

type openSessionRequest struct {
	ContentType string `json:"content_type"`
	ContentID   string `json:"content_id"`
}

func (h *SessionHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user := middleware.IdentityFrom(r.Context())

	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContentType == "" || req.ContentID == "" {
		http.Error(w, "content_type and content_id are required", http.StatusBadRequest)
		return
	}

	resp, err := h.Service.OpenSession(r.Context(), user, req.ContentType, req.ContentID)
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to open session for %s/%s: %v", req.ContentType, req.ContentID, err)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *SessionHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user := middleware.IdentityFrom(r.Context())

	sessions, err := h.Service.List(r.Context(), user.UserID)
	if err != nil {
		logger.Sugar.Errorf("Error fetching sessions: %v", err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

func (h *SessionHandler) GetSessionInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := r.URL.Query().Get("session")
	if token == "" {
		http.Error(w, "Missing session parameter", http.StatusBadRequest)
		return
	}

	info, err := h.Service.Info(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrPermissionDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, model.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrSessionEnded):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, model.ErrSessionFull):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
