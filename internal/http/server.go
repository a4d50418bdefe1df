package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gospelpress/internal/auth"
	"gospelpress/internal/authz"
	"gospelpress/internal/config"
	"gospelpress/internal/model"
	"gospelpress/internal/repository"
	"gospelpress/internal/scripture"
	"gospelpress/internal/session"
)

type Server struct {
	cfg       config.Config
	store     *repository.Store
	scripture *scripture.Service
	sessions  session.Store
	logger    *zap.SugaredLogger
}

func NewServer(cfg config.Config, store *repository.Store, scriptureSvc *scripture.Service, sessions session.Store, logger *zap.SugaredLogger) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		scripture: scriptureSvc,
		sessions:  sessions,
		logger:    logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.subjectMiddleware)

		r.Post("/auth", s.handleLegacyLogin)
		r.Delete("/auth", s.handleLegacyLogout)

		r.Get("/scripture", s.handleGetScripture)
		r.With(s.requireAuth, s.requireAdmin).Post("/scripture/cleanup", s.handleScriptureCleanup)
		r.Get("/translations", s.handleListTranslations)
		r.Get("/questions", s.handleListQuestions)

		r.With(s.requireAuth).Get("/settings", s.handleGetSettings)
		r.With(s.requireAuth).Put("/settings", s.handleUpdateSettings)
		r.With(s.requireAuth, s.requireAdmin).Delete("/users/{userId}", s.handleDeleteUser)

		r.Route("/profiles", func(r chi.Router) {
			r.With(s.requireAuth).Get("/", s.handleListProfiles)
			r.With(s.requireAuth).Post("/", s.handleCreateProfile)
			r.Get("/{profileId}", s.handleGetProfile)
			r.With(s.requireAuth).Put("/{profileId}", s.handleUpdateProfile)
			r.With(s.requireAuth).Delete("/{profileId}", s.handleDeleteProfile)
			r.With(s.requireAuth).Post("/{profileId}/clone", s.handleCloneProfile)
			r.Post("/{profileId}/visit", s.handleVisit)
			r.With(s.requireAuth).Get("/{profileId}/backup", s.handleBackupProfile)
			r.With(s.requireAuth).Post("/{profileId}/restore", s.handleRestoreProfile)
			r.With(s.requireAuth).Get("/{profileId}/access", s.handleListAccess)
			r.With(s.requireAuth).Post("/{profileId}/access", s.handleCreateGrant)
			r.With(s.requireAuth).Delete("/{profileId}/access/{grantId}", s.handleDeleteGrant)
		})
	})

	return r
}

// Middleware

type subjectKey struct{}

// subjectMiddleware resolves the caller: a JWT from the hosted auth service
// first, then a legacy admin session token. An unresolved token leaves the
// request anonymous; route gates decide whether that is a 401.
func (s *Server) subjectMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		if claims, err := auth.ParseToken(s.cfg.JWTSecret, token); err == nil {
			role, err := s.lookupRole(r.Context(), claims.UserID)
			if err != nil {
				s.logger.Errorw("role lookup failed", "user", claims.UserID, "error", err)
				writeError(w, http.StatusInternalServerError, "server_error")
				return
			}
			sub := authz.Subject{
				Authenticated: true,
				UserID:        claims.UserID,
				Email:         strings.ToLower(strings.TrimSpace(claims.Email)),
				Role:          role,
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, sub)))
			return
		}

		if ok, err := s.sessions.Validate(r.Context(), token); err == nil && ok {
			sub := authz.Subject{Authenticated: true, Role: model.RoleAdmin}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, sub)))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sub := subjectFromContext(r.Context()); !sub.Authenticated {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sub := subjectFromContext(r.Context()); sub.Role != model.RoleAdmin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func subjectFromContext(ctx context.Context) authz.Subject {
	sub, _ := ctx.Value(subjectKey{}).(authz.Subject)
	return sub
}

// lookupRole resolves the caller's role record. A missing row means the
// lowest privilege; any other store failure propagates so an outage never
// silently demotes the caller.
func (s *Server) lookupRole(ctx context.Context, userID string) (string, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return model.RoleCounselee, nil
	}
	user, err := s.store.GetUserProfile(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.RoleCounselee, nil
	}
	if err != nil {
		return "", err
	}
	return user.Role, nil
}

// authorize translates a policy decision into a response; returns true when
// the handler may proceed.
func (s *Server) authorize(w http.ResponseWriter, sub authz.Subject, res authz.Resource, action authz.Action) bool {
	switch authz.Decide(sub, res, action) {
	case authz.Allow:
		return true
	case authz.Unauthenticated:
		writeError(w, http.StatusUnauthorized, "unauthorized")
	default:
		writeError(w, http.StatusForbidden, "forbidden")
	}
	return false
}

// resourceFor assembles the policy inputs for a profile, resolving the
// counselee grant fact when it could matter.
func (s *Server) resourceFor(ctx context.Context, sub authz.Subject, profile model.Profile) authz.Resource {
	res := authz.Resource{
		OwnerID:    ownerID(profile),
		IsDefault:  profile.IsDefault,
		IsTemplate: profile.IsTemplate,
	}
	if sub.Authenticated && sub.Email != "" && sub.Role != model.RoleAdmin && sub.UserID != res.OwnerID {
		if granted, err := s.store.HasGrant(ctx, profile.ID, sub.Email); err == nil {
			res.GrantedToSubject = granted
		}
	}
	return res
}

func ownerID(profile model.Profile) string {
	if profile.CreatedBy == uuid.Nil {
		return ""
	}
	return profile.CreatedBy.String()
}

// loadProfile resolves the {profileId} route param as a uuid or a slug and
// writes the 404/500 itself on failure.
func (s *Server) loadProfile(w http.ResponseWriter, r *http.Request) (model.Profile, bool) {
	param := chi.URLParam(r, "profileId")
	var profile model.Profile
	var err error
	if id, parseErr := uuid.Parse(param); parseErr == nil {
		profile, err = s.store.GetProfile(r.Context(), id)
	} else {
		profile, err = s.store.GetProfileBySlug(r.Context(), param)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "profile_not_found")
		return model.Profile{}, false
	}
	if err != nil {
		s.logger.Errorw("profile load failed", "param", param, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return model.Profile{}, false
	}
	return profile, true
}

// Validation

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	slugRe  = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

	errInvalidEmail = errors.New("invalid email")
)

// normalizeEmail trims, lowercases and shape-checks a grant email. The
// operation is idempotent.
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || !emailRe.MatchString(email) {
		return "", errInvalidEmail
	}
	return email, nil
}

func validSlug(slug string) bool {
	return slugRe.MatchString(slug)
}

// Utilities

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// decodeJSON tolerates unknown fields: clients routinely PUT back whole
// response objects including read-only fields.
func decodeJSON(r *http.Request, out interface{}) error {
	return json.NewDecoder(r.Body).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeErrorDetails(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, map[string]string{"error": code, "details": details})
}
