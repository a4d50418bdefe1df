package http

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5"
)

// Status selection for repository and provider errors pattern-matches the
// error message. The messages are part of the API surface; the patterns are
// pinned by tests.
var errorStatusPatterns = []struct {
	re     *regexp.Regexp
	status int
	code   string
}{
	{regexp.MustCompile(`Cannot delete the default profile`), http.StatusForbidden, "forbidden"},
	{regexp.MustCompile(`not configured`), http.StatusInternalServerError, "provider_not_configured"},
	{regexp.MustCompile(`returned status \d+`), http.StatusInternalServerError, "upstream_error"},
	{regexp.MustCompile(`Unsupported translation`), http.StatusBadRequest, "invalid_translation"},
	{regexp.MustCompile(`(?i)not found`), http.StatusNotFound, "not_found"},
}

func statusForError(err error) (int, string) {
	if errors.Is(err, pgx.ErrNoRows) {
		return http.StatusNotFound, "not_found"
	}
	msg := err.Error()
	for _, pattern := range errorStatusPatterns {
		if pattern.re.MatchString(msg) {
			return pattern.status, pattern.code
		}
	}
	return http.StatusInternalServerError, "server_error"
}
