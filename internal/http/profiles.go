package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"gospelpress/internal/authz"
	"gospelpress/internal/model"
	"gospelpress/internal/repository"
)

type profileResponse struct {
	ID          string          `json:"id"`
	Slug        string          `json:"slug"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	IsDefault   bool            `json:"isDefault"`
	IsTemplate  bool            `json:"isTemplate"`
	VisitCount  int64           `json:"visitCount"`
	CreatedBy   string          `json:"createdBy,omitempty"`
	CreatedAt   int64           `json:"createdAt"`
	UpdatedAt   int64           `json:"updatedAt"`
	Sections    []model.Section `json:"sections"`
}

func profileToResponse(profile model.Profile) profileResponse {
	sections := profile.Sections
	if sections == nil {
		sections = []model.Section{}
	}
	return profileResponse{
		ID:          profile.ID.String(),
		Slug:        profile.Slug,
		Title:       profile.Title,
		Description: profile.Description,
		IsDefault:   profile.IsDefault,
		IsTemplate:  profile.IsTemplate,
		VisitCount:  profile.VisitCount,
		CreatedBy:   ownerID(profile),
		CreatedAt:   profile.CreatedAt.Unix(),
		UpdatedAt:   profile.UpdatedAt.Unix(),
		Sections:    sections,
	}
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	sub := subjectFromContext(r.Context())
	includeTemplates := r.URL.Query().Get("includeTemplates") == "true"

	profiles, err := s.store.ListProfiles(r.Context())
	if err != nil {
		s.logger.Errorw("profile list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	granted := map[uuid.UUID]bool{}
	if sub.Role == model.RoleCounselee && sub.Email != "" {
		granted, err = s.store.ListGrantedProfileIDs(r.Context(), sub.Email)
		if err != nil {
			s.logger.Errorw("grant list failed", "error", err)
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
	}

	visible := make([]profileResponse, 0, len(profiles))
	for _, profile := range profiles {
		// Templates stay out of default listings.
		if profile.IsTemplate && !includeTemplates {
			continue
		}
		res := authz.Resource{
			OwnerID:          ownerID(profile),
			IsDefault:        profile.IsDefault,
			IsTemplate:       profile.IsTemplate,
			GrantedToSubject: granted[profile.ID],
		}
		if authz.Decide(sub, res, authz.ActionView) == authz.Allow {
			visible = append(visible, profileToResponse(profile))
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": visible})
}

type createProfileRequest struct {
	Slug        string          `json:"slug"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	IsTemplate  bool            `json:"isTemplate"`
	Sections    []model.Section `json:"sections"`
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	sub := subjectFromContext(r.Context())
	if sub.Role == model.RoleCounselee {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req createProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Slug = strings.TrimSpace(req.Slug)
	req.Title = strings.TrimSpace(req.Title)
	if req.Slug == "" || req.Title == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if !validSlug(req.Slug) {
		writeError(w, http.StatusBadRequest, "invalid_slug")
		return
	}

	now := time.Now().UTC()
	profile := model.Profile{
		ID:          uuid.New(),
		Slug:        req.Slug,
		Title:       req.Title,
		Description: req.Description,
		IsTemplate:  req.IsTemplate,
		CreatedBy:   subjectUUID(sub),
		CreatedAt:   now,
		UpdatedAt:   now,
		Sections:    req.Sections,
	}
	if err := s.store.CreateProfile(r.Context(), profile); err != nil {
		if errors.Is(err, repository.ErrSlugTaken) {
			writeError(w, http.StatusConflict, "slug_taken")
			return
		}
		s.logger.Errorw("profile create failed", "slug", req.Slug, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, profileToResponse(profile))
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.loadProfile(w, r)
	if !ok {
		return
	}
	sub := subjectFromContext(r.Context())
	if !s.authorize(w, sub, s.resourceFor(r.Context(), sub, profile), authz.ActionView) {
		return
	}
	writeJSON(w, http.StatusOK, profileToResponse(profile))
}

type updateProfileRequest struct {
	Slug        *string          `json:"slug"`
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	IsTemplate  *bool            `json:"isTemplate"`
	IsDefault   *bool            `json:"isDefault"`
	Sections    *[]model.Section `json:"sections"`
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.loadProfile(w, r)
	if !ok {
		return
	}
	sub := subjectFromContext(r.Context())
	if !s.authorize(w, sub, s.resourceFor(r.Context(), sub, profile), authz.ActionEdit) {
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	// Slugs are immutable after creation.
	if req.Slug != nil && *req.Slug != profile.Slug {
		writeError(w, http.StatusBadRequest, "slug_immutable")
		return
	}
	if req.IsDefault != nil && !*req.IsDefault && profile.IsDefault {
		// The flag moves by promoting another profile, never by demotion.
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.IsTemplate != nil && *req.IsTemplate && profile.IsDefault {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	// Promotion is decided before anything is written so a denied or failed
	// flag move never leaves the content edits behind.
	promote := req.IsDefault != nil && *req.IsDefault && !profile.IsDefault
	if promote && sub.Role != model.RoleAdmin {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}
		profile.Title = title
	}
	if req.Description != nil {
		profile.Description = *req.Description
	}
	if req.IsTemplate != nil {
		profile.IsTemplate = *req.IsTemplate
	}
	if req.Sections != nil {
		profile.Sections = *req.Sections
	}

	var err error
	if promote {
		err = s.store.UpdateProfileSetDefault(r.Context(), profile)
	} else {
		err = s.store.UpdateProfile(r.Context(), profile)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "profile_not_found")
			return
		}
		s.logger.Errorw("profile update failed", "profile", profile.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if promote {
		profile.IsDefault = true
		profile.IsTemplate = false
	}

	profile.UpdatedAt = time.Now().UTC()
	writeJSON(w, http.StatusOK, profileToResponse(profile))
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.loadProfile(w, r)
	if !ok {
		return
	}
	if profile.IsDefault {
		writeErrorDetails(w, http.StatusForbidden, "forbidden", "Cannot delete the default profile")
		return
	}
	sub := subjectFromContext(r.Context())
	if !s.authorize(w, sub, s.resourceFor(r.Context(), sub, profile), authz.ActionDelete) {
		return
	}

	if err := s.store.DeleteProfile(r.Context(), profile.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "profile_not_found")
			return
		}
		status, code := statusForError(err)
		if status == http.StatusInternalServerError {
			s.logger.Errorw("profile delete failed", "profile", profile.ID, "error", err)
			writeError(w, status, code)
			return
		}
		writeErrorDetails(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type cloneProfileRequest struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

func (s *Server) handleCloneProfile(w http.ResponseWriter, r *http.Request) {
	source, ok := s.loadProfile(w, r)
	if !ok {
		return
	}
	sub := subjectFromContext(r.Context())
	if !s.authorize(w, sub, s.resourceFor(r.Context(), sub, source), authz.ActionClone) {
		return
	}

	var req cloneProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Slug = strings.TrimSpace(req.Slug)
	req.Title = strings.TrimSpace(req.Title)
	if req.Slug == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	if !validSlug(req.Slug) {
		writeError(w, http.StatusBadRequest, "invalid_slug")
		return
	}
	if req.Title == "" {
		req.Title = source.Title + " (copy)"
	}

	now := time.Now().UTC()
	clone := model.Profile{
		ID:          uuid.New(),
		Slug:        req.Slug,
		Title:       req.Title,
		Description: source.Description,
		CreatedBy:   subjectUUID(sub),
		CreatedAt:   now,
		UpdatedAt:   now,
		Sections:    source.Sections,
	}
	if err := s.store.CreateProfile(r.Context(), clone); err != nil {
		if errors.Is(err, repository.ErrSlugTaken) {
			writeError(w, http.StatusConflict, "slug_taken")
			return
		}
		s.logger.Errorw("profile clone failed", "source", source.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, profileToResponse(clone))
}

func (s *Server) handleVisit(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.loadProfile(w, r)
	if !ok {
		return
	}
	count, err := s.store.IncrementVisitCount(r.Context(), profile.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "profile_not_found")
			return
		}
		s.logger.Errorw("visit increment failed", "profile", profile.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"visitCount": count})
}

type profileSnapshot struct {
	Slug        string          `json:"slug"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Sections    []model.Section `json:"sections"`
	ExportedAt  int64           `json:"exportedAt"`
}

func (s *Server) handleBackupProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.loadProfile(w, r)
	if !ok {
		return
	}
	sub := subjectFromContext(r.Context())
	if !s.authorize(w, sub, s.resourceFor(r.Context(), sub, profile), authz.ActionBackup) {
		return
	}
	sections := profile.Sections
	if sections == nil {
		sections = []model.Section{}
	}
	writeJSON(w, http.StatusOK, profileSnapshot{
		Slug:        profile.Slug,
		Title:       profile.Title,
		Description: profile.Description,
		Sections:    sections,
		ExportedAt:  time.Now().UTC().Unix(),
	})
}

func (s *Server) handleRestoreProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := s.loadProfile(w, r)
	if !ok {
		return
	}
	sub := subjectFromContext(r.Context())
	if !s.authorize(w, sub, s.resourceFor(r.Context(), sub, profile), authz.ActionRestore) {
		return
	}

	var snapshot profileSnapshot
	if err := decodeJSON(r, &snapshot); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(snapshot.Title) == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	// The snapshot's slug and flags are ignored: restore replaces content
	// only.
	profile.Title = strings.TrimSpace(snapshot.Title)
	profile.Description = snapshot.Description
	profile.Sections = snapshot.Sections

	if err := s.store.UpdateProfile(r.Context(), profile); err != nil {
		s.logger.Errorw("profile restore failed", "profile", profile.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, profileToResponse(profile))
}

func subjectUUID(sub authz.Subject) uuid.UUID {
	id, err := uuid.Parse(sub.UserID)
	if err != nil {
		return uuid.Nil
	}
	return id
}
