// Package blacklist decides which discovered URLs a worker may crawl.
package blacklist

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/jobhearted-crawler/internal/model"
	"github.com/JakeFAU/jobhearted-crawler/internal/record"
)

// Filter admits URLs that stay on the worker's site and avoid its
// blacklisted words. The word list is loaded once; IsAllowed is pure and
// safe for concurrent use.
type Filter struct {
	workerID string
	baseURL  string
	words    []string
}

// New loads every non-empty blacklist word stored for workerID.
func New(ctx context.Context, store record.Store, workerID, baseURL string) (*Filter, error) {
	recs, err := store.FindByEquals(ctx, record.KindBlacklistEntry, model.FieldCrawlerID, workerID)
	if err != nil {
		return nil, record.Unavailable(fmt.Sprintf("load blacklist for %s", workerID), err)
	}
	words := make([]string, 0, len(recs))
	for _, rec := range recs {
		entry, ok := rec.(*model.BlacklistEntry)
		if !ok {
			return nil, record.Unavailable(fmt.Sprintf("load blacklist for %s", workerID),
				fmt.Errorf("unexpected record %T", rec))
		}
		// An empty word is a substring of every URL.
		if entry.Word == "" {
			continue
		}
		words = append(words, entry.Word)
	}
	return &Filter{workerID: workerID, baseURL: baseURL, words: words}, nil
}

// IsAllowed reports whether url may be crawled: it must contain the base
// URL, must not contain a fragment marker, and must not contain any
// blacklisted word. Matching is case sensitive substring containment.
func (f *Filter) IsAllowed(url string) bool {
	if !strings.Contains(url, f.baseURL) {
		return false
	}
	if strings.Contains(url, "#") {
		return false
	}
	for _, w := range f.words {
		if strings.Contains(url, w) {
			return false
		}
	}
	return true
}

// Reason explains why IsAllowed rejects url, or returns "" if it is allowed.
func (f *Filter) Reason(url string) string {
	switch {
	case !strings.Contains(url, f.baseURL):
		return fmt.Sprintf("outside base url %q", f.baseURL)
	case strings.Contains(url, "#"):
		return "contains fragment marker"
	}
	for _, w := range f.words {
		if strings.Contains(url, w) {
			return fmt.Sprintf("contains blacklisted word %q", w)
		}
	}
	return ""
}

// Words returns a copy of the loaded words in store order.
func (f *Filter) Words() []string {
	return append([]string(nil), f.words...)
}

// WorkerID returns the worker the filter was loaded for.
func (f *Filter) WorkerID() string {
	return f.workerID
}

// BaseURL returns the required URL substring.
func (f *Filter) BaseURL() string {
	return f.baseURL
}
