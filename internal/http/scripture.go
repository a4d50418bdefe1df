package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"gospelpress/internal/model"
	"gospelpress/internal/scripture"
)

func (s *Server) handleGetScripture(w http.ResponseWriter, r *http.Request) {
	reference := strings.TrimSpace(r.URL.Query().Get("reference"))
	if reference == "" {
		writeErrorDetails(w, http.StatusBadRequest, "missing_reference", "Reference is required")
		return
	}

	translation := strings.TrimSpace(r.URL.Query().Get("translation"))
	if translation == "" {
		translation = s.preferredTranslation(r.Context())
	}
	if _, ok := scripture.Translations[translation]; !ok {
		writeErrorDetails(w, http.StatusBadRequest, "invalid_translation", "Unsupported translation")
		return
	}

	result, err := s.lookupScripture(r.Context(), reference, translation)
	if err != nil {
		status, code := statusForError(err)
		if status == http.StatusInternalServerError {
			s.logger.Errorw("scripture lookup failed", "reference", reference, "translation", translation, "error", err)
		}
		writeErrorDetails(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// lookupScripture contains the facade call behind a recover so an unexpected
// panic becomes a 500. A panic value that is not an error is reported as the
// literal "Unknown error".
func (s *Server) lookupScripture(ctx context.Context, reference, translation string) (result scripture.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if recErr, ok := rec.(error); ok {
				err = recErr
			} else {
				err = errors.New("Unknown error")
			}
		}
	}()
	return s.scripture.Lookup(ctx, reference, translation)
}

// preferredTranslation falls back through the subject's saved preference to
// esv.
func (s *Server) preferredTranslation(ctx context.Context) string {
	sub := subjectFromContext(ctx)
	if sub.Authenticated && sub.UserID != "" {
		if user, err := s.store.GetUserProfile(ctx, subjectUUID(sub)); err == nil && user.PreferredTranslation != nil {
			if _, ok := scripture.Translations[*user.PreferredTranslation]; ok {
				return *user.PreferredTranslation
			}
		}
	}
	return "esv"
}

func (s *Server) handleScriptureCleanup(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().UTC().Add(-s.cfg.ScriptureCacheTTL)
	deleted, err := s.store.DeleteStaleScripture(r.Context(), cutoff)
	if err != nil {
		s.logger.Errorw("scripture cleanup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

type translationEntry struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (s *Server) handleListTranslations(w http.ResponseWriter, _ *http.Request) {
	// Without an API.Bible key only the ESV provider can serve text.
	if s.cfg.APIBibleKey == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"translations": []translationEntry{{Code: "esv", Name: scripture.Translations["esv"]}},
		})
		return
	}
	entries := make([]translationEntry, 0, len(scripture.Translations))
	for _, code := range []string{"esv", "kjv", "nasb"} {
		entries = append(entries, translationEntry{Code: code, Name: scripture.Translations[code]})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"translations": entries})
}

// COMA study questions seeded when the table has no rows.
func defaultQuestionTemplates() []model.QuestionTemplate {
	defaults := []struct {
		category string
		prompt   string
	}{
		{"context", "Who wrote this passage, and to whom was it written?"},
		{"context", "What comes before and after this passage?"},
		{"observation", "What does the passage say?"},
		{"observation", "What words or ideas are repeated?"},
		{"meaning", "What does this passage mean?"},
		{"meaning", "What does it reveal about God?"},
		{"application", "How does this passage change the way you live?"},
		{"application", "What will you do in response this week?"},
	}
	templates := make([]model.QuestionTemplate, 0, len(defaults))
	positions := map[string]int{}
	for _, d := range defaults {
		positions[d.category]++
		templates = append(templates, model.QuestionTemplate{
			Category: d.category,
			Position: positions[d.category],
			Prompt:   d.prompt,
		})
	}
	return templates
}

type questionGroup struct {
	Category string   `json:"category"`
	Prompts  []string `json:"prompts"`
}

func (s *Server) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.ListQuestionTemplates(r.Context())
	if err != nil {
		s.logger.Errorw("question template list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if len(templates) == 0 {
		templates = defaultQuestionTemplates()
	}

	byCategory := map[string][]string{}
	for _, tpl := range templates {
		byCategory[tpl.Category] = append(byCategory[tpl.Category], tpl.Prompt)
	}
	groups := make([]questionGroup, 0, 4)
	for _, category := range []string{"context", "observation", "meaning", "application"} {
		if prompts, ok := byCategory[category]; ok {
			groups = append(groups, questionGroup{Category: category, Prompts: prompts})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"questions": groups})
}
