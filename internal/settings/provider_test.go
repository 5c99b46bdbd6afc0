package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
	"github.com/JakeFAU/madara-crawler/internal/storage/memory"
	"github.com/JakeFAU/madara-crawler/internal/store"
)

func newProvider(t *testing.T) (*Provider, *store.Repository) {
	t.Helper()
	repo := store.NewRepository(memory.NewStore(), nil)
	return NewProvider(crawler.DefaultSettings(), repo), repo
}

func TestCurrentWithoutStore(t *testing.T) {
	t.Parallel()

	got, err := NewProvider(crawler.DefaultSettings(), nil).Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, crawler.DefaultSettings(), got)
}

func TestUpdateOverlaysDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, repo := newProvider(t)

	got, err := p.Update(ctx, map[string]string{
		"request_delay":         "5s",
		"batch_size":            "10",
		"check_new_collections": "false",
	})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, got.RequestDelay)
	assert.Equal(t, 10, got.BatchSize)
	assert.False(t, got.CheckNewCollections)

	stored, err := repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "10", stored["batch_size"])

	current, err := p.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, got, current)
	assert.Equal(t, crawler.DefaultSettings().MaxAttempts, current.MaxAttempts)
}

func TestUpdateRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, repo := newProvider(t)

	for name, overrides := range map[string]map[string]string{
		"unknown":  {"colour": "blue"},
		"bad type": {"batch_size": "many"},
		"range":    {"max_attempts": "0"},
		"format":   {"merge_format": "bmp"},
	} {
		_, err := p.Update(ctx, overrides)
		assert.True(t, crawler.IsValidation(err), name)
	}
	stored, err := repo.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestCurrentIgnoresUndecodableOverrides(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, repo := newProvider(t)
	require.NoError(t, repo.SaveSetting(ctx, "batch_size", "lots"))
	require.NoError(t, repo.SaveSetting(ctx, "max_pages", "7"))

	got, err := p.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, crawler.DefaultSettings().BatchSize, got.BatchSize)
	assert.Equal(t, 7, got.MaxPages)
}

type brokenStore struct{}

func (brokenStore) LoadSettings(context.Context) (map[string]string, error) {
	return nil, errors.New("db down")
}

func (brokenStore) SaveSetting(context.Context, string, string) error { return nil }

func TestCurrentPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	_, err := NewProvider(crawler.DefaultSettings(), brokenStore{}).Current(context.Background())
	require.ErrorContains(t, err, "db down")
}
