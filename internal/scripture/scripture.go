// Package scripture fetches Bible text for a reference and translation,
// multiplexing a capability-keyed registry of upstream providers behind a
// postgres-backed cache table.
package scripture

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gospelpress/internal/config"
	"gospelpress/internal/model"
)

var (
	ErrNotFound               = errors.New("Scripture text not found")
	ErrUnsupportedTranslation = errors.New("Unsupported translation")
)

// Translations maps supported translation codes to display names.
var Translations = map[string]string{
	"esv":  "English Standard Version",
	"kjv":  "King James Version",
	"nasb": "New American Standard Bible",
}

// API.Bible bible ids for the translations it serves.
var bibleIDs = map[string]string{
	"kjv":  "de4e12af7f28f599-02",
	"nasb": "a761ca71e0b3ddcf-01",
}

type Provider interface {
	Fetch(ctx context.Context, reference string) (string, error)
}

type CacheStore interface {
	GetScripture(ctx context.Context, reference, translation string) (model.ScriptureCacheEntry, error)
	UpsertScripture(ctx context.Context, entry model.ScriptureCacheEntry) error
}

type Result struct {
	Reference   string `json:"reference"`
	Translation string `json:"translation"`
	Text        string `json:"text"`
	Cached      bool   `json:"cached"`
}

type Service struct {
	providers map[string]Provider
	cache     CacheStore
	ttl       time.Duration
	logger    *zap.SugaredLogger
}

// NewProviders builds the provider registry from config. Missing credentials
// are reported at fetch time, not here.
func NewProviders(cfg config.Config) map[string]Provider {
	client := &http.Client{Timeout: 10 * time.Second}
	providers := map[string]Provider{
		"esv": &ESVProvider{Token: cfg.ESVAPIToken, BaseURL: cfg.ESVAPIURL, Client: client},
	}
	for code, bibleID := range bibleIDs {
		providers[code] = &APIBibleProvider{Key: cfg.APIBibleKey, BaseURL: cfg.APIBibleURL, BibleID: bibleID, Client: client}
	}
	return providers
}

func NewService(providers map[string]Provider, cache CacheStore, ttl time.Duration, logger *zap.SugaredLogger) *Service {
	return &Service{providers: providers, cache: cache, ttl: ttl, logger: logger}
}

// Lookup serves from the cache when fresh, otherwise fetches from the
// provider for the translation and writes back fire-and-forget.
func (s *Service) Lookup(ctx context.Context, reference, translation string) (Result, error) {
	provider, ok := s.providers[translation]
	if !ok {
		return Result{}, ErrUnsupportedTranslation
	}

	if s.cache != nil {
		entry, err := s.cache.GetScripture(ctx, reference, translation)
		if err == nil && time.Since(entry.FetchedAt) < s.ttl {
			cacheHits.Inc()
			return Result{Reference: reference, Translation: translation, Text: entry.Text, Cached: true}, nil
		}
	}

	cacheMisses.Inc()
	text, err := provider.Fetch(ctx, reference)
	if err != nil {
		return Result{}, err
	}

	if s.cache != nil {
		entry := model.ScriptureCacheEntry{
			Reference:   reference,
			Translation: translation,
			Text:        text,
			FetchedAt:   time.Now().UTC(),
		}
		// Write-back does not block the response; errors are logged only.
		go func() {
			writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.cache.UpsertScripture(writeCtx, entry); err != nil && s.logger != nil {
				s.logger.Warnw("scripture cache write failed", "reference", entry.Reference, "translation", entry.Translation, "error", err)
			}
		}()
	}

	return Result{Reference: reference, Translation: translation, Text: text, Cached: false}, nil
}
