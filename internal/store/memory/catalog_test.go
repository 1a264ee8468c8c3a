package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunevault/platform/internal/domain"
)

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestStore_LoadCatalog(t *testing.T) {
	ctx := context.Background()
	s := New()
	active := uuid.New()
	retired := uuid.New()

	path := writeCatalog(t, `[
		{"id":"`+active.String()+`","title":"Intro","artist":"Band","price":"1.29","audio_file":"intro.mp3","preview_file":"intro-preview.mp3"},
		{"id":"`+retired.String()+`","title":"Outro","artist":"Band","price":"0.99","active":false,"audio_file":"outro.mp3","preview_file":"outro-preview.mp3"}
	]`)

	n, err := s.LoadCatalog(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tr, err := s.LookupTrack(ctx, active)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.True(t, tr.Active)
	assert.Equal(t, "1.29", tr.Price.StringFixed(2))
	assert.Equal(t, "intro.mp3", tr.AudioFile)

	tr, err = s.LookupTrack(ctx, retired)
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.False(t, tr.Active)
}

func TestStore_LoadCatalogRejects(t *testing.T) {
	id := uuid.New().String()
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `[{`},
		{"sub-cent price", `[{"id":"` + id + `","price":"1.995","audio_file":"a.mp3","preview_file":"p.mp3"}]`},
		{"negative price", `[{"id":"` + id + `","price":"-1","audio_file":"a.mp3","preview_file":"p.mp3"}]`},
		{"missing id", `[{"price":"1.00","audio_file":"a.mp3","preview_file":"p.mp3"}]`},
		{"missing files", `[{"id":"` + id + `","price":"1.00"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			_, err := s.LoadCatalog(context.Background(), writeCatalog(t, tt.body))
			assert.Error(t, err)
			assert.Empty(t, s.tracks, "a rejected catalog must not be partially loaded")
		})
	}

	_, err := New().LoadCatalog(context.Background(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestStore_SeedRejectsSubCentPrice(t *testing.T) {
	s := New()
	ok := &domain.Track{ID: uuid.New(), Price: decimal.RequireFromString("1.00"), Active: true}
	bad := &domain.Track{ID: uuid.New(), Price: decimal.RequireFromString("1.995"), Active: true}

	err := s.Seed(context.Background(), ok, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 decimal places")

	tr, err := s.LookupTrack(context.Background(), ok.ID)
	require.NoError(t, err)
	assert.Nil(t, tr)
}
