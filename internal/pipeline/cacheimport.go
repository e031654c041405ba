package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ncku-metabolomics/classyfire-cli/internal/model"
	"github.com/ncku-metabolomics/classyfire-cli/internal/table"
	"github.com/ncku-metabolomics/classyfire-cli/pkg/classyfire"
)

// LoadCacheEntries turns the classification tables under dir into cache
// entries. Rows without any taxonomy become missing entries; the first row
// seen for a key wins.
func LoadCacheEntries(ctx context.Context, dir string, ttl time.Duration, now time.Time) ([]model.CacheEntry, error) {
	files, err := table.ListFiles(dir, true, table.DerivedExts)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var entries []model.CacheEntry
	for _, path := range files {
		t, err := table.ReadFile(ctx, path, table.ReadOptions{Delimiter: ','})
		if err != nil {
			return nil, err
		}
		if !t.Has(ColClassInChIKey) {
			return nil, eris.Errorf("pipeline: %s has no %s column", t.Name, ColClassInChIKey)
		}
		for i := range t.Rows {
			key := strings.TrimSpace(t.Get(i, ColClassInChIKey))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true

			tax := taxonomyFromRow(t, i)
			status := model.CacheStatusFound
			if tax.IsEmpty() {
				status = model.CacheStatusMissing
			}
			entries = append(entries, model.CacheEntry{
				InChIKey:  key,
				Status:    status,
				Taxonomy:  tax,
				CachedAt:  now,
				ExpiresAt: now.Add(ttl),
			})
		}
	}
	return entries, nil
}

func taxonomyFromRow(t *table.Table, i int) classyfire.Taxonomy {
	tax := classyfire.Taxonomy{
		Kingdom:      t.Get(i, ColClassKingdom),
		Superclass:   t.Get(i, ColClassSuperclass),
		Class:        t.Get(i, ColClassClass),
		Subclass:     t.Get(i, ColClassSubclass),
		DirectParent: t.Get(i, ColClassDirectParent),
	}
	if nodes := t.Get(i, ColClassIntermediate); nodes != "" {
		tax.IntermediateNodes = strings.Split(nodes, classyfire.IntermediateSeparator)
	}
	return tax
}
