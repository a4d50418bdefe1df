package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"gospelpress/internal/crypto"
	"gospelpress/internal/model"
	"gospelpress/internal/scripture"
)

type settingsResponse struct {
	Role                 string  `json:"role"`
	PreferredTranslation *string `json:"preferredTranslation,omitempty"`
	ViewPreference       *string `json:"viewPreference,omitempty"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	sub := subjectFromContext(r.Context())
	if sub.UserID == "" {
		// Legacy admin sessions carry no user record.
		writeJSON(w, http.StatusOK, settingsResponse{Role: model.RoleAdmin})
		return
	}

	user, err := s.store.GetUserProfile(r.Context(), subjectUUID(sub))
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusOK, settingsResponse{Role: model.RoleCounselee})
		return
	}
	if err != nil {
		s.logger.Errorw("settings load failed", "user", sub.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		Role:                 user.Role,
		PreferredTranslation: user.PreferredTranslation,
		ViewPreference:       user.ViewPreference,
	})
}

type updateSettingsRequest struct {
	PreferredTranslation *string `json:"preferredTranslation"`
	ViewPreference       *string `json:"viewPreference"`
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	sub := subjectFromContext(r.Context())
	if sub.UserID == "" {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req updateSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.PreferredTranslation != nil {
		if _, ok := scripture.Translations[*req.PreferredTranslation]; !ok {
			writeError(w, http.StatusBadRequest, "invalid_translation")
			return
		}
	}

	userID := subjectUUID(sub)
	user, err := s.store.GetUserProfile(r.Context(), userID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	if err != nil {
		s.logger.Errorw("settings load failed", "user", sub.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	if req.PreferredTranslation != nil {
		user.PreferredTranslation = req.PreferredTranslation
	}
	if req.ViewPreference != nil {
		user.ViewPreference = req.ViewPreference
	}
	if err := s.store.UpdateUserSettings(r.Context(), userID, user.PreferredTranslation, user.ViewPreference); err != nil {
		s.logger.Errorw("settings update failed", "user", sub.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		Role:                 user.Role,
		PreferredTranslation: user.PreferredTranslation,
		ViewPreference:       user.ViewPreference,
	})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_user_id")
		return
	}
	if err := s.store.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		s.logger.Errorw("user delete failed", "user", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Legacy password auth

type legacyLoginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLegacyLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminPassword == "" && s.cfg.AdminPasswordHash == "" {
		writeError(w, http.StatusInternalServerError, "admin_password_not_configured")
		return
	}

	var req legacyLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !crypto.VerifyAdminSecret(s.cfg.AdminPassword, s.cfg.AdminPasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := s.sessions.Create(r.Context())
	if err != nil {
		s.logger.Errorw("session create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"expiresIn": int64(s.cfg.SessionTTL / time.Second),
	})
}

func (s *Server) handleLegacyLogout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := s.sessions.Delete(r.Context(), token); err != nil {
		s.logger.Errorw("session delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
