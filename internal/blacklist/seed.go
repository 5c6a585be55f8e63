package blacklist

import (
	"context"
	"fmt"

	"github.com/JakeFAU/jobhearted-crawler/internal/model"
	"github.com/JakeFAU/jobhearted-crawler/internal/record"
)

// IDGenerator issues record ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Seed stores any of words not yet blacklisted for workerID. Existing
// entries are left untouched, so seeding from config is idempotent.
func Seed(ctx context.Context, store record.Store, ids IDGenerator, workerID string, words []string) (int, error) {
	recs, err := store.FindByEquals(ctx, record.KindBlacklistEntry, model.FieldCrawlerID, workerID)
	if err != nil {
		return 0, record.Unavailable("seed blacklist", err)
	}
	have := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		if e, ok := rec.(*model.BlacklistEntry); ok {
			have[e.Word] = struct{}{}
		}
	}
	added := 0
	for _, w := range words {
		if w == "" {
			continue
		}
		if _, ok := have[w]; ok {
			continue
		}
		id, err := ids.NewID()
		if err != nil {
			return added, fmt.Errorf("seed blacklist: %w", err)
		}
		entry := &model.BlacklistEntry{ID: id, CrawlerID: workerID, Word: w}
		if err := store.Save(ctx, entry); err != nil {
			return added, record.Unavailable("seed blacklist", err)
		}
		have[w] = struct{}{}
		added++
	}
	return added, nil
}
