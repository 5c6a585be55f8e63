package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobhearted-crawler/internal/config"
	"github.com/JakeFAU/jobhearted-crawler/internal/id/uuid"
)

// Verdict is the admission decision for one URL.
type Verdict struct {
	URL     string `json:"url"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// CheckURLs evaluates urls against the blacklist of the configured worker,
// using the configured record store.
func CheckURLs(ctx context.Context, cfg config.Config, logger *zap.Logger, workerID string, urls []string) ([]Verdict, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	wc, ok := cfg.Worker(workerID)
	if !ok {
		return nil, fmt.Errorf("worker %q is not configured", workerID)
	}
	a := &App{cfg: cfg, logger: logger}
	defer a.Close(ctx)
	if err := a.setupStore(ctx); err != nil {
		return nil, err
	}
	filter, err := BuildFilter(ctx, a.records, uuid.New(), wc)
	if err != nil {
		return nil, err
	}
	out := make([]Verdict, 0, len(urls))
	for _, u := range urls {
		out = append(out, Verdict{URL: u, Allowed: filter.IsAllowed(u), Reason: filter.Reason(u)})
	}
	return out, nil
}
