package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tunevault/platform/internal/domain"
)

// CatalogEntry is one track in a catalog seed file.
type CatalogEntry struct {
	ID          uuid.UUID       `json:"id"`
	Title       string          `json:"title"`
	Artist      string          `json:"artist"`
	Price       decimal.Decimal `json:"price"`
	Active      *bool           `json:"active,omitempty"`
	AudioFile   string          `json:"audio_file"`
	PreviewFile string          `json:"preview_file"`
}

// LoadCatalog seeds the store from a JSON array of CatalogEntry. Entries
// without an active flag are active.
func (s *Store) LoadCatalog(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read catalog: %w", err)
	}

	var entries []CatalogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return 0, fmt.Errorf("decode catalog %s: %w", path, err)
	}

	tracks := make([]*domain.Track, 0, len(entries))
	for i, e := range entries {
		if e.AudioFile == "" || e.PreviewFile == "" {
			return 0, fmt.Errorf("catalog entry %d: audio_file and preview_file are required", i)
		}
		active := true
		if e.Active != nil {
			active = *e.Active
		}
		tracks = append(tracks, &domain.Track{
			ID:          e.ID,
			Title:       e.Title,
			Artist:      e.Artist,
			Price:       e.Price,
			Active:      active,
			AudioFile:   e.AudioFile,
			PreviewFile: e.PreviewFile,
		})
	}

	if err := s.Seed(ctx, tracks...); err != nil {
		return 0, err
	}
	return len(tracks), nil
}
