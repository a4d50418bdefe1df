package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleAdmin     = "admin"
	RoleCounselor = "counselor"
	RoleCounselee = "counselee"
)

// Profile is a gospel presentation. Exactly one profile system-wide carries
// IsDefault; templates are excluded from default listings.
type Profile struct {
	ID          uuid.UUID
	Slug        string
	Title       string
	Description string
	IsDefault   bool
	IsTemplate  bool
	VisitCount  int64
	CreatedBy   uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Sections    []Section
}

// Section is one ordered unit of presentation content. Subsections nest one
// additional level in practice but the type is recursive.
type Section struct {
	Title       string           `json:"title"`
	Text        string           `json:"text,omitempty"`
	Scriptures  []ScriptureRef   `json:"scriptures,omitempty"`
	Questions   []QuestionAnswer `json:"questions,omitempty"`
	Subsections []Section        `json:"subsections,omitempty"`
}

type ScriptureRef struct {
	Reference string `json:"reference"`
	Favorite  bool   `json:"favorite"`
}

type QuestionAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
}

// UserProfile is the role record keyed by the auth identity's user id. Email
// mirrors the identity's address so grants keyed by it can be revoked when
// the user is removed.
type UserProfile struct {
	UserID               uuid.UUID
	Email                string
	Role                 string
	PreferredTranslation *string
	ViewPreference       *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Grant authorizes one counselee email for one profile. Row existence is the
// sole authorization fact.
type Grant struct {
	ID        uuid.UUID
	ProfileID uuid.UUID
	Email     string
	GrantedBy uuid.UUID
	CreatedAt time.Time
}

type ScriptureCacheEntry struct {
	Reference   string
	Translation string
	Text        string
	FetchedAt   time.Time
}

type QuestionTemplate struct {
	ID       uuid.UUID
	Category string
	Position int
	Prompt   string
}
