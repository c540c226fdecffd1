// Package settings serves operator-tunable configuration stored in
// Postgres: message text overrides and per-task cron switches. Reads go
// through a short TTL cache so hot paths (every outbound message consults
// the catalog) do not hammer small settings tables.
package settings

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"castline/internal/classifier"
	"castline/internal/types"
)

// Repository is the persistence surface the service needs. Implemented by
// db.SettingsRepository.
type Repository interface {
	MessageOverrides(ctx context.Context) (map[string]string, error)
	SetMessageOverride(ctx context.Context, key, value string) error
	GetCronSetting(ctx context.Context, jobKey string) (*types.CronSetting, error)
	RecordCronRun(ctx context.Context, jobKey string, ranAt time.Time, result map[string]any) error
}

const (
	catalogCacheKey = "message_catalog"
	cacheTTL        = time.Minute
)

// Service loads and caches operator settings.
type Service struct {
	repo  Repository
	cache *gocache.Cache
}

// NewService creates a settings service with a fresh cache.
func NewService(repo Repository) *Service {
	return &Service{
		repo:  repo,
		cache: gocache.New(cacheTTL, 5*time.Minute),
	}
}

// Catalog returns the message catalog with current overrides applied.
// Served from cache for up to a minute; an override edit takes effect on
// the next cache miss.
func (s *Service) Catalog(ctx context.Context) (classifier.Catalog, error) {
	if v, ok := s.cache.Get(catalogCacheKey); ok {
		return v.(classifier.Catalog), nil
	}
	overrides, err := s.repo.MessageOverrides(ctx)
	if err != nil {
		return classifier.Catalog{}, err
	}
	cat := classifier.NewCatalog(overrides)
	s.cache.SetDefault(catalogCacheKey, cat)
	return cat, nil
}

// SetMessageOverride writes one override and drops the cached catalog so
// the writer observes their own change immediately.
func (s *Service) SetMessageOverride(ctx context.Context, key, value string) error {
	if err := s.repo.SetMessageOverride(ctx, key, value); err != nil {
		return err
	}
	s.cache.Delete(catalogCacheKey)
	return nil
}

// CronEnabled reports whether a scheduled task may run. Cron switches are
// read uncached: they are consulted once per task run, and a kill switch
// must bite immediately.
func (s *Service) CronEnabled(ctx context.Context, jobKey string) (bool, error) {
	cs, err := s.repo.GetCronSetting(ctx, jobKey)
	if err != nil {
		return false, err
	}
	return cs.Enabled, nil
}

// RecordRun stores the outcome summary of a completed task run.
func (s *Service) RecordRun(ctx context.Context, jobKey string, ranAt time.Time, result map[string]any) error {
	return s.repo.RecordCronRun(ctx, jobKey, ranAt, result)
}
