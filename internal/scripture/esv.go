package scripture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ESVProvider fetches passage text from the ESV API with a token-
// authenticated single call.
type ESVProvider struct {
	Token   string
	BaseURL string
	Client  *http.Client
}

type esvResponse struct {
	Canonical string   `json:"canonical"`
	Passages  []string `json:"passages"`
}

func (p *ESVProvider) Fetch(ctx context.Context, reference string) (string, error) {
	if p.Token == "" {
		return "", errors.New("ESV API token not configured")
	}

	params := url.Values{}
	params.Set("q", reference)
	params.Set("include-headings", "false")
	params.Set("include-footnotes", "false")
	params.Set("include-verse-numbers", "false")
	params.Set("include-short-copyright", "false")
	params.Set("include-passage-references", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/v3/passage/text/?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Token "+p.Token)

	resp, err := p.client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ESV API returned status %d", resp.StatusCode)
	}

	var body esvResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Passages) == 0 {
		return "", ErrNotFound
	}
	text := strings.TrimSpace(body.Passages[0])
	if text == "" {
		return "", ErrNotFound
	}
	return text, nil
}

func (p *ESVProvider) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}
