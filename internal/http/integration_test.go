package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"gospelpress/internal/auth"
	"gospelpress/internal/config"
	"gospelpress/internal/db"
	"gospelpress/internal/model"
	"gospelpress/internal/repository"
	"gospelpress/internal/session"
)

const (
	adminUserID     = "22222222-2222-2222-2222-222222222221"
	counselorUserID = "22222222-2222-2222-2222-222222222222"
	counseleeUserID = "22222222-2222-2222-2222-222222222223"
	counseleeEmail  = "counselee@example.local"
)

func openTestDB(t *testing.T) *pgxpool.Pool {
	url := os.Getenv("GOSPELPRESS_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("GOSPELPRESS_TEST_DB or DATABASE_URL not set")
		return nil
	}
	pool, err := db.NewPool(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil
	}
	return pool
}

func seedUser(t *testing.T, pool *pgxpool.Pool, userID, email, role string) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO user_profiles (user_id, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (user_id) DO UPDATE SET email = EXCLUDED.email, role = EXCLUDED.role
	`, userID, email, role)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func newTestApp(t *testing.T, pool *pgxpool.Pool) (*httptest.Server, config.Config) {
	t.Helper()
	cfg := config.Config{
		JWTSecret:  "test-secret",
		JWTIssuer:  "test-issuer",
		SessionTTL: 24 * time.Hour,
	}
	store := repository.NewStore(pool)
	server := NewServer(cfg, store, nil, session.NewMemoryStore(cfg.SessionTTL, nil), zap.NewNop().Sugar())
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)
	return app, cfg
}

func mustToken(t *testing.T, cfg config.Config, userID, email string) string {
	t.Helper()
	token, err := auth.NewAccessToken(cfg.JWTSecret, cfg.JWTIssuer, 10*time.Minute, auth.Claims{
		UserID: userID,
		Email:  email,
	})
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	return token
}

func uniqueSlug(prefix string) string {
	return prefix + "-" + uuid.New().String()[:8]
}

func jsonBody(t *testing.T, body interface{}) io.Reader {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	return bytes.NewReader(payload)
}

func TestProfileLifecycle(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	seedUser(t, pool, adminUserID, "admin@example.local", model.RoleAdmin)
	seedUser(t, pool, counselorUserID, "counselor@example.local", model.RoleCounselor)
	seedUser(t, pool, counseleeUserID, counseleeEmail, model.RoleCounselee)

	app, cfg := newTestApp(t, pool)
	counselorToken := mustToken(t, cfg, counselorUserID, "counselor@example.local")
	counseleeToken := mustToken(t, cfg, counseleeUserID, counseleeEmail)

	slug := uniqueSlug("plan")
	resp := postJSON(t, app.URL+"/api/profiles", counselorToken, map[string]interface{}{
		"slug":  slug,
		"title": "The Bridge",
		"sections": []map[string]interface{}{
			{"title": "God", "text": "In the beginning"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", resp.StatusCode)
	}
	var created profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	resp.Body.Close()

	// A slug is never reassigned, even across deletions.
	resp = postJSON(t, app.URL+"/api/profiles", counselorToken, map[string]interface{}{
		"slug":  slug,
		"title": "Duplicate",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate slug: expected 409, got %d", resp.StatusCode)
	}

	// Lookup works by slug as well as id.
	resp = getWithToken(t, app.URL+"/api/profiles/"+slug, counselorToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get by slug: expected 200, got %d", resp.StatusCode)
	}

	// Anonymous readers cannot see a non-default profile.
	resp = getWithToken(t, app.URL+"/api/profiles/"+created.ID, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous get: expected 401, got %d", resp.StatusCode)
	}

	// The owner can rename; the slug cannot change.
	req, _ := http.NewRequest(http.MethodPut, app.URL+"/api/profiles/"+created.ID, jsonBody(t, map[string]interface{}{"title": "The Bridge v2"}))
	req.Header.Set("Authorization", "Bearer "+counselorToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPut, app.URL+"/api/profiles/"+created.ID, jsonBody(t, map[string]interface{}{"slug": "renamed"}))
	req.Header.Set("Authorization", "Bearer "+counselorToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("slug change: expected 400, got %d", resp.StatusCode)
	}

	// A counselee cannot edit.
	req, _ = http.NewRequest(http.MethodPut, app.URL+"/api/profiles/"+created.ID, jsonBody(t, map[string]interface{}{"title": "Hijacked"}))
	req.Header.Set("Authorization", "Bearer "+counseleeToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do error: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("counselee edit: expected 403, got %d", resp.StatusCode)
	}

	// Visits are public and increment atomically.
	resp = postJSON(t, app.URL+"/api/profiles/"+created.ID+"/visit", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("visit: expected 200, got %d", resp.StatusCode)
	}
	var visit struct {
		VisitCount int64 `json:"visitCount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&visit); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	resp.Body.Close()
	if visit.VisitCount < 1 {
		t.Fatalf("expected visit count >= 1, got %d", visit.VisitCount)
	}

	// The owner can clone under a fresh slug.
	cloneSlug := uniqueSlug("plan-copy")
	resp = postJSON(t, app.URL+"/api/profiles/"+created.ID+"/clone", counselorToken, map[string]string{"slug": cloneSlug})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clone: expected 200, got %d", resp.StatusCode)
	}
	var clone profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&clone); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	resp.Body.Close()
	if clone.Title != "The Bridge v2 (copy)" {
		t.Fatalf("expected derived title, got %q", clone.Title)
	}

	// Cleanup by the owner.
	for _, id := range []string{created.ID, clone.ID} {
		req, _ = http.NewRequest(http.MethodDelete, app.URL+"/api/profiles/"+id, nil)
		req.Header.Set("Authorization", "Bearer "+counselorToken)
		resp, err = http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do error: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delete: expected 200, got %d", resp.StatusCode)
		}
	}

	// The slug stays burned after deletion.
	resp = postJSON(t, app.URL+"/api/profiles", counselorToken, map[string]interface{}{
		"slug":  slug,
		"title": "Reuse attempt",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("slug reuse: expected 409, got %d", resp.StatusCode)
	}
}

func TestDefaultProfileProtection(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	seedUser(t, pool, adminUserID, "admin@example.local", model.RoleAdmin)
	app, cfg := newTestApp(t, pool)
	adminToken := mustToken(t, cfg, adminUserID, "admin@example.local")

	slug := uniqueSlug("default")
	resp := postJSON(t, app.URL+"/api/profiles", adminToken, map[string]interface{}{
		"slug":  slug,
		"title": "Default candidate",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", resp.StatusCode)
	}
	var created profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodPut, app.URL+"/api/profiles/"+created.ID, jsonBody(t, map[string]interface{}{"isDefault": true}))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("promote: expected 200, got %d", resp.StatusCode)
	}

	// The default profile is visible anonymously.
	resp = getWithToken(t, app.URL+"/api/profiles/"+created.ID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("anonymous default get: expected 200, got %d", resp.StatusCode)
	}

	// Even an admin cannot delete it.
	req, _ = http.NewRequest(http.MethodDelete, app.URL+"/api/profiles/"+created.ID, nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do error: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("default delete: expected 403, got %d", resp.StatusCode)
	}
	_, details := decodeErrorBody(t, resp)
	if details != "Cannot delete the default profile" {
		t.Fatalf("unexpected details %q", details)
	}
}

func TestAccessGrants(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	seedUser(t, pool, counselorUserID, "counselor@example.local", model.RoleCounselor)
	seedUser(t, pool, counseleeUserID, counseleeEmail, model.RoleCounselee)
	app, cfg := newTestApp(t, pool)
	counselorToken := mustToken(t, cfg, counselorUserID, "counselor@example.local")
	counseleeToken := mustToken(t, cfg, counseleeUserID, counseleeEmail)

	slug := uniqueSlug("shared")
	resp := postJSON(t, app.URL+"/api/profiles", counselorToken, map[string]interface{}{
		"slug":  slug,
		"title": "Shared plan",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", resp.StatusCode)
	}
	var created profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	resp.Body.Close()

	// No access before the grant.
	resp = getWithToken(t, app.URL+"/api/profiles/"+created.ID, counseleeToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("pre-grant get: expected 403, got %d", resp.StatusCode)
	}

	// Grant emails are normalized on write.
	resp = postJSON(t, app.URL+"/api/profiles/"+created.ID+"/access", counselorToken, map[string]string{
		"email": "  Counselee@Example.LOCAL  ",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("grant: expected 200, got %d", resp.StatusCode)
	}
	var grant struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	resp.Body.Close()
	if grant.Email != counseleeEmail {
		t.Fatalf("expected normalized email, got %q", grant.Email)
	}

	// The grant opens read access.
	resp = getWithToken(t, app.URL+"/api/profiles/"+created.ID, counseleeToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post-grant get: expected 200, got %d", resp.StatusCode)
	}

	// But not write access.
	req, _ := http.NewRequest(http.MethodPut, app.URL+"/api/profiles/"+created.ID, jsonBody(t, map[string]interface{}{"title": "Nope"}))
	req.Header.Set("Authorization", "Bearer "+counseleeToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do error: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("granted edit: expected 403, got %d", resp.StatusCode)
	}

	// Counselees cannot manage access themselves.
	resp = postJSON(t, app.URL+"/api/profiles/"+created.ID+"/access", counseleeToken, map[string]string{
		"email": "friend@example.local",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("counselee grant: expected 403, got %d", resp.StatusCode)
	}

	// Revocation closes access again.
	req, _ = http.NewRequest(http.MethodDelete, app.URL+"/api/profiles/"+created.ID+"/access/"+grant.ID, nil)
	req.Header.Set("Authorization", "Bearer "+counselorToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d", resp.StatusCode)
	}

	resp = getWithToken(t, app.URL+"/api/profiles/"+created.ID, counseleeToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("post-revoke get: expected 403, got %d", resp.StatusCode)
	}

	// Cleanup.
	req, _ = http.NewRequest(http.MethodDelete, app.URL+"/api/profiles/"+created.ID, nil)
	req.Header.Set("Authorization", "Bearer "+counselorToken)
	if _, err := http.DefaultClient.Do(req); err != nil {
		t.Fatalf("do error: %v", err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	seedUser(t, pool, counselorUserID, "counselor@example.local", model.RoleCounselor)
	app, cfg := newTestApp(t, pool)
	token := mustToken(t, cfg, counselorUserID, "counselor@example.local")

	req, _ := http.NewRequest(http.MethodPut, app.URL+"/api/settings", jsonBody(t, map[string]string{
		"preferredTranslation": "kjv",
	}))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update settings: expected 200, got %d", resp.StatusCode)
	}

	resp = getWithToken(t, app.URL+"/api/settings", token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get settings: expected 200, got %d", resp.StatusCode)
	}
	var settings struct {
		Role                 string  `json:"role"`
		PreferredTranslation *string `json:"preferredTranslation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&settings); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	resp.Body.Close()
	if settings.Role != model.RoleCounselor {
		t.Fatalf("expected counselor role, got %q", settings.Role)
	}
	if settings.PreferredTranslation == nil || *settings.PreferredTranslation != "kjv" {
		t.Fatalf("expected kjv preference, got %v", settings.PreferredTranslation)
	}
}

func TestDefaultPromotionByNonAdminPersistsNothing(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	seedUser(t, pool, counselorUserID, "counselor@example.local", model.RoleCounselor)
	app, cfg := newTestApp(t, pool)
	counselorToken := mustToken(t, cfg, counselorUserID, "counselor@example.local")

	slug := uniqueSlug("owned")
	resp := postJSON(t, app.URL+"/api/profiles", counselorToken, map[string]interface{}{
		"slug":  slug,
		"title": "Original",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", resp.StatusCode)
	}
	var created profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	resp.Body.Close()

	// A denied promotion must not commit the content edits riding along.
	req, _ := http.NewRequest(http.MethodPut, app.URL+"/api/profiles/"+created.ID, jsonBody(t, map[string]interface{}{
		"isDefault": true,
		"title":     "Mutated",
	}))
	req.Header.Set("Authorization", "Bearer "+counselorToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do error: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("promotion: expected 403, got %d", resp.StatusCode)
	}

	resp = getWithToken(t, app.URL+"/api/profiles/"+created.ID, counselorToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	var fetched profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	resp.Body.Close()
	if fetched.Title != "Original" {
		t.Fatalf("expected title untouched after denied promotion, got %q", fetched.Title)
	}
	if fetched.IsDefault {
		t.Fatalf("expected profile not promoted")
	}

	req, _ = http.NewRequest(http.MethodDelete, app.URL+"/api/profiles/"+created.ID, nil)
	req.Header.Set("Authorization", "Bearer "+counselorToken)
	if _, err := http.DefaultClient.Do(req); err != nil {
		t.Fatalf("do error: %v", err)
	}
}

func TestDeleteUserRevokesGrants(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	seedUser(t, pool, adminUserID, "admin@example.local", model.RoleAdmin)
	seedUser(t, pool, counselorUserID, "counselor@example.local", model.RoleCounselor)
	seedUser(t, pool, counseleeUserID, counseleeEmail, model.RoleCounselee)
	app, cfg := newTestApp(t, pool)
	adminToken := mustToken(t, cfg, adminUserID, "admin@example.local")
	counselorToken := mustToken(t, cfg, counselorUserID, "counselor@example.local")
	counseleeToken := mustToken(t, cfg, counseleeUserID, counseleeEmail)

	slug := uniqueSlug("revoke")
	resp := postJSON(t, app.URL+"/api/profiles", counselorToken, map[string]interface{}{
		"slug":  slug,
		"title": "Revocation target",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create: expected 200, got %d", resp.StatusCode)
	}
	var created profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	resp.Body.Close()

	for _, email := range []string{counseleeEmail, "bystander@example.local"} {
		resp = postJSON(t, app.URL+"/api/profiles/"+created.ID+"/access", counselorToken, map[string]string{"email": email})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("grant %s: expected 200, got %d", email, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp = getWithToken(t, app.URL+"/api/profiles/"+created.ID, counseleeToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pre-delete get: expected 200, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, app.URL+"/api/users/"+counseleeUserID, nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete user: expected 200, got %d", resp.StatusCode)
	}

	// The deleted user's email no longer authorizes anything.
	resp = getWithToken(t, app.URL+"/api/profiles/"+created.ID, counseleeToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("post-delete get: expected 403, got %d", resp.StatusCode)
	}

	// Grants to other emails survive (the profile is left in place too).
	resp = getWithToken(t, app.URL+"/api/profiles/"+created.ID+"/access", counselorToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("grant list: expected 200, got %d", resp.StatusCode)
	}
	var grants struct {
		Grants []struct {
			Email string `json:"email"`
		} `json:"grants"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grants); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	resp.Body.Close()
	if len(grants.Grants) != 1 || grants.Grants[0].Email != "bystander@example.local" {
		t.Fatalf("expected only the bystander grant to survive, got %+v", grants.Grants)
	}

	req, _ = http.NewRequest(http.MethodDelete, app.URL+"/api/profiles/"+created.ID, nil)
	req.Header.Set("Authorization", "Bearer "+counselorToken)
	if _, err := http.DefaultClient.Do(req); err != nil {
		t.Fatalf("do error: %v", err)
	}
}

func TestRoleLookupFailureIsServerError(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}

	seedUser(t, pool, adminUserID, "admin@example.local", model.RoleAdmin)
	app, cfg := newTestApp(t, pool)
	adminToken := mustToken(t, cfg, adminUserID, "admin@example.local")

	// With the pool gone the role lookup fails; the request must surface a
	// 500 instead of degrading the caller to the lowest privilege.
	pool.Close()
	resp := getWithToken(t, app.URL+"/api/translations", adminToken)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 when role lookup fails, got %d", resp.StatusCode)
	}
}
