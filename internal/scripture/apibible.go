package scripture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// verse ranges like "John 3:16-18"; the captured chapter and bounds rebuild
// an API.Bible passage range id.
var verseRangeRe = regexp.MustCompile(`(\d+):(\d+)-(\d+)\s*$`)

// APIBibleProvider fetches text from API.Bible in two steps: search the
// reference for a passage id, then fetch the passage (or the chapter, for
// chapter-only references) by id.
type APIBibleProvider struct {
	Key     string
	BaseURL string
	BibleID string
	Client  *http.Client
}

type apiBibleSearchResponse struct {
	Data struct {
		Passages []struct {
			ID string `json:"id"`
		} `json:"passages"`
		Verses []struct {
			ID string `json:"id"`
		} `json:"verses"`
	} `json:"data"`
}

type apiBibleContentResponse struct {
	Data struct {
		Content string `json:"content"`
	} `json:"data"`
}

func (p *APIBibleProvider) Fetch(ctx context.Context, reference string) (string, error) {
	if p.Key == "" {
		return "", errors.New("API.Bible key not configured")
	}

	passageID, err := p.searchPassageID(ctx, reference)
	if err != nil {
		return "", err
	}

	if !strings.Contains(reference, ":") {
		// Chapter-only reference: fetch the whole chapter by its id.
		return p.fetchContent(ctx, "/chapters/"+chapterID(passageID))
	}
	if m := verseRangeRe.FindStringSubmatch(reference); m != nil {
		base := chapterID(passageID)
		rangeID := base + "." + m[2] + "-" + base + "." + m[3]
		return p.fetchContent(ctx, "/passages/"+rangeID)
	}
	return p.fetchContent(ctx, "/passages/"+passageID)
}

func (p *APIBibleProvider) searchPassageID(ctx context.Context, reference string) (string, error) {
	params := url.Values{}
	params.Set("query", reference)
	params.Set("limit", "1")

	var body apiBibleSearchResponse
	if err := p.get(ctx, "/search?"+params.Encode(), &body); err != nil {
		return "", err
	}
	if len(body.Data.Passages) > 0 && body.Data.Passages[0].ID != "" {
		return body.Data.Passages[0].ID, nil
	}
	if len(body.Data.Verses) > 0 && body.Data.Verses[0].ID != "" {
		return body.Data.Verses[0].ID, nil
	}
	return "", ErrNotFound
}

func (p *APIBibleProvider) fetchContent(ctx context.Context, path string) (string, error) {
	params := url.Values{}
	params.Set("content-type", "text")
	params.Set("include-verse-numbers", "false")
	params.Set("include-titles", "false")

	var body apiBibleContentResponse
	if err := p.get(ctx, path+"?"+params.Encode(), &body); err != nil {
		return "", err
	}
	text := strings.TrimSpace(body.Data.Content)
	if text == "" {
		return "", ErrNotFound
	}
	return text, nil
}

func (p *APIBibleProvider) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/v1/bibles/"+p.BibleID+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("api-key", p.Key)

	resp, err := p.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API.Bible returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *APIBibleProvider) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

// chapterID truncates a verse id like "JHN.3.16" to its chapter id "JHN.3".
func chapterID(verseID string) string {
	parts := strings.Split(verseID, ".")
	if len(parts) < 2 {
		return verseID
	}
	return parts[0] + "." + parts[1]
}
