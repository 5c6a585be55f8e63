// Package worker implements the crawl loop run by each member of the fleet.
package worker

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhearted-crawler/internal/fleet"
	"github.com/JakeFAU/jobhearted-crawler/internal/metrics"
	"github.com/JakeFAU/jobhearted-crawler/internal/queue/memory"
	"github.com/JakeFAU/jobhearted-crawler/internal/vacancy"
)

// Outcome is the fetch layer's classification of one URL.
type Outcome struct {
	URL        string
	Flag       fleet.Flag
	StatusCode int
	Bytes      int
	// Links holds absolute URLs discovered on a VISITED page.
	Links []string
	// Vacancy is set when the page carried a vacancy.
	Vacancy *vacancy.Fields
}

// Gone reports whether the page was removed for good. Only gone pages
// retire their vacancy; other DEAD statuses such as 401 or 403 may be
// transient.
func (o Outcome) Gone() bool {
	return o.Flag == fleet.FlagDead &&
		(o.StatusCode == http.StatusNotFound || o.StatusCode == http.StatusGone)
}

// Fetcher retrieves and classifies a URL. An error means the URL could not
// be classified at all; HTTP failures are expressed through Outcome.Flag.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Outcome, error)
}

// Admission decides which discovered URLs enter the frontier.
// *blacklist.Filter satisfies it.
type Admission interface {
	IsAllowed(url string) bool
	Reason(url string) string
}

// Vacancies receives extracted vacancies. *vacancy.Engine satisfies it.
type Vacancies interface {
	Submit(ctx context.Context, sourceURLID int64, fields vacancy.Fields) (vacancy.Result, error)
	Retire(ctx context.Context, sourceURLID int64) (bool, error)
}

// Limiter spaces out requests. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Reporter receives lifecycle states and flag counts. *fleet.Tracker
// satisfies it.
type Reporter interface {
	fleet.StateReporter
	ReportFlagCount(id fleet.WorkerID, flag fleet.Flag, count int)
}

// Config controls Worker behavior.
type Config struct {
	ID    fleet.WorkerID
	Seeds []string
	// QueueDepth bounds the frontier; <= 0 is unbounded.
	QueueDepth int
	// MaxRetries is how often a RETRY outcome is requeued before giving up.
	MaxRetries int
	// RecrawlInterval, when positive, revisits known vacancy pages after the
	// frontier drains instead of stopping.
	RecrawlInterval time.Duration
}

// Dependencies are the collaborators a Worker needs. Limiter is optional.
type Dependencies struct {
	Admission Admission
	Fetcher   Fetcher
	Vacancies Vacancies
	Limiter   Limiter
	Reporter  Reporter
}

// Worker crawls one site: it pops URLs from its frontier, fetches them,
// reports per-flag counts and submits vacancies for deduplication.
type Worker struct {
	cfg       Config
	lifecycle *fleet.Lifecycle
	frontier  *memory.Frontier
	admission Admission
	fetcher   Fetcher
	vacancies Vacancies
	limiter   Limiter
	reporter  Reporter
	logger    *zap.Logger

	// Owned by the Run goroutine.
	counts      fleet.FlagCounts
	attempts    map[string]int
	vacancyURLs map[string]struct{}

	submitFailures atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
}

// ErrMissingDependency is returned by New when a required collaborator is nil.
var ErrMissingDependency = errors.New("worker dependency missing")

// New constructs a Worker and registers it as RUNNING with the reporter.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Worker, error) {
	if deps.Admission == nil || deps.Fetcher == nil || deps.Vacancies == nil {
		return nil, ErrMissingDependency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		cfg:         cfg,
		lifecycle:   fleet.NewLifecycle(cfg.ID, deps.Reporter),
		frontier:    memory.NewFrontier(cfg.QueueDepth),
		admission:   deps.Admission,
		fetcher:     deps.Fetcher,
		vacancies:   deps.Vacancies,
		limiter:     deps.Limiter,
		reporter:    deps.Reporter,
		logger:      logger.Named("worker").With(zap.String("worker_id", string(cfg.ID))),
		counts:      make(fleet.FlagCounts),
		attempts:    make(map[string]int),
		vacancyURLs: make(map[string]struct{}),
	}, nil
}

// ID returns the worker id.
func (w *Worker) ID() fleet.WorkerID { return w.cfg.ID }

// State returns the current lifecycle state.
func (w *Worker) State() fleet.State { return w.lifecycle.State() }

// Pause asks the worker to pause after the URL it is processing.
func (w *Worker) Pause() error { return w.lifecycle.RequestPause() }

// Resume continues a pausing or paused worker.
func (w *Worker) Resume() error { return w.lifecycle.Resume() }

// Stop stops the worker permanently and aborts any in-flight fetch.
func (w *Worker) Stop() bool {
	stopped := w.lifecycle.Stop()
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()
	return stopped
}

// SubmitFailures returns how many vacancy submissions or retirements failed.
func (w *Worker) SubmitFailures() int64 { return w.submitFailures.Load() }

// Run crawls until the frontier is exhausted, the worker is stopped, or ctx
// ends. The worker is STOPPED when Run returns.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	defer cancel()
	defer w.lifecycle.Stop()

	for _, seed := range w.cfg.Seeds {
		w.discover(seed)
	}
	w.logger.Info("worker started", zap.Int("seeds", w.frontier.Len()))

	for {
		if ctx.Err() != nil {
			w.logger.Info("worker context done")
			return nil
		}
		if err := w.lifecycle.Checkpoint(ctx); err != nil {
			if errors.Is(err, fleet.ErrStopped) {
				w.logger.Info("worker stopped")
			}
			return nil
		}
		url, ok := w.frontier.TryPop()
		if !ok {
			if w.scheduleRecrawl(ctx) {
				continue
			}
			w.logger.Info("frontier exhausted", zap.Int("urls_seen", w.frontier.Seen()))
			return nil
		}
		w.process(ctx, url)
	}
}

func (w *Worker) process(ctx context.Context, url string) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, url); err != nil {
			return
		}
	}
	out, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("fetch failed", zap.String("url", url), zap.Error(err))
		}
		return
	}
	if !out.Flag.Valid() {
		w.logger.Warn("fetcher returned unknown flag", zap.String("url", url), zap.String("flag", string(out.Flag)))
		return
	}
	metrics.ObserveCrawl(url, string(out.Flag), out.Bytes)
	w.bump(out.Flag)

	switch out.Flag {
	case fleet.FlagVisited:
		delete(w.attempts, url)
		for _, link := range out.Links {
			w.discover(link)
		}
		if out.Vacancy != nil {
			w.vacancyURLs[url] = struct{}{}
			w.submit(ctx, url, *out.Vacancy)
		}
	case fleet.FlagRetry:
		if w.attempts[url] >= w.cfg.MaxRetries {
			delete(w.attempts, url)
			w.logger.Warn("giving up on url", zap.String("url", url), zap.Int("status", out.StatusCode))
			return
		}
		w.attempts[url]++
		w.frontier.Requeue(url)
	case fleet.FlagDead:
		delete(w.attempts, url)
		if out.Gone() {
			delete(w.vacancyURLs, url)
			w.retire(ctx, url)
		}
	}
}

func (w *Worker) discover(url string) {
	if !w.admission.IsAllowed(url) {
		w.logger.Debug("url rejected", zap.String("url", url), zap.String("reason", w.admission.Reason(url)))
		return
	}
	if w.frontier.Push(url) {
		w.bump(fleet.FlagFound)
	}
}

func (w *Worker) submit(ctx context.Context, url string, fields vacancy.Fields) {
	res, err := w.vacancies.Submit(ctx, SourceURLID(url), fields)
	if err != nil {
		w.submitFailures.Add(1)
		metrics.ObserveSubmission("failed")
		w.logger.Error("vacancy submit failed", zap.String("url", url), zap.Error(err))
		return
	}
	metrics.ObserveSubmission(res.String())
	w.logger.Debug("vacancy submitted", zap.String("url", url), zap.Stringer("result", res))
}

func (w *Worker) retire(ctx context.Context, url string) {
	retired, err := w.vacancies.Retire(ctx, SourceURLID(url))
	if err != nil {
		w.submitFailures.Add(1)
		w.logger.Error("vacancy retire failed", zap.String("url", url), zap.Error(err))
		return
	}
	if retired {
		w.logger.Info("vacancy retired", zap.String("url", url))
	}
}

// scheduleRecrawl waits out the recrawl interval and requeues every known
// vacancy page. It reports false when there is nothing to recrawl.
func (w *Worker) scheduleRecrawl(ctx context.Context) bool {
	if w.cfg.RecrawlInterval <= 0 || len(w.vacancyURLs) == 0 {
		return false
	}
	timer := time.NewTimer(w.cfg.RecrawlInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
	}
	for url := range w.vacancyURLs {
		if w.frontier.Requeue(url) {
			w.bump(fleet.FlagRecrawl)
		}
	}
	return true
}

// bump increments a flag and reports the absolute count.
func (w *Worker) bump(flag fleet.Flag) {
	w.counts[flag]++
	if w.reporter != nil {
		w.reporter.ReportFlagCount(w.cfg.ID, flag, w.counts[flag])
	}
}

// SourceURLID derives the stable source URL id a vacancy is keyed by. The
// same URL always maps to the same non-negative id.
func SourceURLID(url string) int64 {
	return int64(xxhash.Sum64String(url) & math.MaxInt64)
}
