package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"gospelpress/internal/model"
)

var (
	ErrSlugTaken      = errors.New("slug already assigned")
	ErrDefaultProfile = errors.New("Cannot delete the default profile")
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Profiles

func (s *Store) CreateProfile(ctx context.Context, profile model.Profile) error {
	sections, err := marshalSections(profile.Sections)
	if err != nil {
		return err
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		// Slugs are never reused, even after the owning profile is deleted.
		_, err := tx.Exec(ctx, `
			INSERT INTO slug_history (slug, profile_id, assigned_at)
			VALUES ($1, $2, $3)
		`, profile.Slug, profile.ID, profile.CreatedAt)
		if isUniqueViolation(err) {
			return ErrSlugTaken
		}
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO profiles (id, slug, title, description, is_default, is_template, visit_count, created_by, created_at, updated_at, sections)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, profile.ID, profile.Slug, profile.Title, profile.Description, profile.IsDefault, profile.IsTemplate,
			profile.VisitCount, profile.CreatedBy, profile.CreatedAt, profile.UpdatedAt, sections)
		if isUniqueViolation(err) {
			return ErrSlugTaken
		}
		return err
	})
}

func (s *Store) GetProfile(ctx context.Context, id uuid.UUID) (model.Profile, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, slug, title, description, is_default, is_template, visit_count, created_by, created_at, updated_at, sections
		FROM profiles
		WHERE id = $1
	`, id)
	return scanProfile(row)
}

func (s *Store) GetProfileBySlug(ctx context.Context, slug string) (model.Profile, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, slug, title, description, is_default, is_template, visit_count, created_by, created_at, updated_at, sections
		FROM profiles
		WHERE slug = $1
	`, slug)
	return scanProfile(row)
}

func (s *Store) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, slug, title, description, is_default, is_template, visit_count, created_by, created_at, updated_at, sections
		FROM profiles
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []model.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

func (s *Store) UpdateProfile(ctx context.Context, profile model.Profile) error {
	sections, err := marshalSections(profile.Sections)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE profiles
		SET title = $2, description = $3, is_template = $4, sections = $5, updated_at = $6
		WHERE id = $1
	`, profile.ID, profile.Title, profile.Description, profile.IsTemplate, sections, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateProfileSetDefault applies content changes and moves the is_default
// flag in one transaction: a failed promotion leaves the row untouched.
func (s *Store) UpdateProfileSetDefault(ctx context.Context, profile model.Profile) error {
	sections, err := marshalSections(profile.Sections)
	if err != nil {
		return err
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()
		tag, err := tx.Exec(ctx, `
			UPDATE profiles
			SET title = $2, description = $3, sections = $4, updated_at = $5
			WHERE id = $1
		`, profile.ID, profile.Title, profile.Description, sections, now)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		if _, err := tx.Exec(ctx, `UPDATE profiles SET is_default = false WHERE is_default = true AND id <> $1`, profile.ID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE profiles SET is_default = true, is_template = false, updated_at = $2 WHERE id = $1`, profile.ID, now)
		return err
	})
}

func (s *Store) DeleteProfile(ctx context.Context, id uuid.UUID) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var isDefault bool
		if err := tx.QueryRow(ctx, `SELECT is_default FROM profiles WHERE id = $1`, id).Scan(&isDefault); err != nil {
			return err
		}
		if isDefault {
			return ErrDefaultProfile
		}
		if _, err := tx.Exec(ctx, `DELETE FROM profile_grants WHERE profile_id = $1`, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, id)
		return err
	})
}

// IncrementVisitCount delegates atomicity to postgres; concurrent increments
// are never lost.
func (s *Store) IncrementVisitCount(ctx context.Context, id uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		UPDATE profiles SET visit_count = visit_count + 1 WHERE id = $1
		RETURNING visit_count
	`, id).Scan(&count)
	return count, err
}

// User profiles

func (s *Store) GetUserProfile(ctx context.Context, userID uuid.UUID) (model.UserProfile, error) {
	var user model.UserProfile
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, email, role, preferred_translation, view_preference, created_at, updated_at
		FROM user_profiles
		WHERE user_id = $1
	`, userID)
	err := row.Scan(
		&user.UserID,
		&user.Email,
		&user.Role,
		&user.PreferredTranslation,
		&user.ViewPreference,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func (s *Store) UpdateUserSettings(ctx context.Context, userID uuid.UUID, preferredTranslation, viewPreference *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_profiles
		SET preferred_translation = $2, view_preference = $3, updated_at = $4
		WHERE user_id = $1
	`, userID, preferredTranslation, viewPreference, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteUser removes the role record and every grant keyed by the user's
// email. Grants the user issued to others stay: the profiles they cover are
// left in place too.
func (s *Store) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		var email string
		if err := tx.QueryRow(ctx, `SELECT email FROM user_profiles WHERE user_id = $1`, userID).Scan(&email); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM profile_grants WHERE email = $1`, email); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM user_profiles WHERE user_id = $1`, userID)
		return err
	})
}

// Access grants

func (s *Store) ListGrants(ctx context.Context, profileID uuid.UUID) ([]model.Grant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, profile_id, email, granted_by, created_at
		FROM profile_grants
		WHERE profile_id = $1
		ORDER BY created_at
	`, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []model.Grant
	for rows.Next() {
		var grant model.Grant
		if err := rows.Scan(&grant.ID, &grant.ProfileID, &grant.Email, &grant.GrantedBy, &grant.CreatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	return grants, rows.Err()
}

func (s *Store) CreateGrant(ctx context.Context, grant model.Grant) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profile_grants (id, profile_id, email, granted_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, grant.ID, grant.ProfileID, grant.Email, grant.GrantedBy, grant.CreatedAt)
	return err
}

func (s *Store) DeleteGrant(ctx context.Context, profileID, grantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM profile_grants WHERE id = $1 AND profile_id = $2
	`, grantID, profileID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *Store) HasGrant(ctx context.Context, profileID uuid.UUID, email string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `
		SELECT 1 FROM profile_grants WHERE profile_id = $1 AND email = $2
	`, profileID, email).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListGrantedProfileIDs(ctx context.Context, email string) (map[uuid.UUID]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT profile_id FROM profile_grants WHERE email = $1`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	granted := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		granted[id] = true
	}
	return granted, rows.Err()
}

// Scripture cache

func (s *Store) GetScripture(ctx context.Context, reference, translation string) (model.ScriptureCacheEntry, error) {
	var entry model.ScriptureCacheEntry
	row := s.pool.QueryRow(ctx, `
		SELECT reference, translation, text, fetched_at
		FROM scripture_cache
		WHERE reference = $1 AND translation = $2
	`, reference, translation)
	err := row.Scan(&entry.Reference, &entry.Translation, &entry.Text, &entry.FetchedAt)
	return entry, err
}

func (s *Store) UpsertScripture(ctx context.Context, entry model.ScriptureCacheEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scripture_cache (reference, translation, text, fetched_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (reference, translation)
		DO UPDATE SET text = EXCLUDED.text, fetched_at = EXCLUDED.fetched_at
	`, entry.Reference, entry.Translation, entry.Text, entry.FetchedAt)
	return err
}

func (s *Store) DeleteStaleScripture(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scripture_cache WHERE fetched_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Question templates

func (s *Store) ListQuestionTemplates(ctx context.Context) ([]model.QuestionTemplate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, category, position, prompt
		FROM question_templates
		ORDER BY category, position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []model.QuestionTemplate
	for rows.Next() {
		var tpl model.QuestionTemplate
		if err := rows.Scan(&tpl.ID, &tpl.Category, &tpl.Position, &tpl.Prompt); err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

// Helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (model.Profile, error) {
	var profile model.Profile
	var sections []byte
	err := row.Scan(
		&profile.ID,
		&profile.Slug,
		&profile.Title,
		&profile.Description,
		&profile.IsDefault,
		&profile.IsTemplate,
		&profile.VisitCount,
		&profile.CreatedBy,
		&profile.CreatedAt,
		&profile.UpdatedAt,
		&sections,
	)
	if err != nil {
		return model.Profile{}, err
	}
	if len(sections) > 0 {
		if err := json.Unmarshal(sections, &profile.Sections); err != nil {
			return model.Profile{}, err
		}
	}
	return profile, nil
}

func marshalSections(sections []model.Section) ([]byte, error) {
	if sections == nil {
		sections = []model.Section{}
	}
	return json.Marshal(sections)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
