// Package collyfetcher implements worker.Fetcher using gocolly: it fetches a
// page, classifies the response into an outcome flag, collects links and
// extracts vacancy fields through configured CSS selectors.
package collyfetcher

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/jobhearted-crawler/internal/fleet"
	"github.com/JakeFAU/jobhearted-crawler/internal/vacancy"
	"github.com/JakeFAU/jobhearted-crawler/internal/worker"
)

const defaultTimeout = 15 * time.Second

// Selectors locate vacancy fields on a page. A page is a vacancy when the
// Vacancy marker (if set) matches and the description is non-empty.
type Selectors struct {
	Vacancy        string
	Title          string
	Employer       string
	EmploymentType string
	Location       string
	Description    string
	// Each element matched by a list selector yields one tag.
	Skills     string
	Educations string
	Locations  string
}

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodySize   int
	Selectors     Selectors
}

// Fetcher implements worker.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	// Retries and recrawls revisit URLs on purpose.
	c.AllowURLRevisit = true
	transport := newHTTPTransport()
	c.WithTransport(transport)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch retrieves url and classifies the response.
func (f *Fetcher) Fetch(ctx context.Context, url string) (worker.Outcome, error) {
	out := worker.Outcome{URL: url}
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, &out)

	if err := f.runCollector(ctx, collector, url, &out); err != nil {
		return worker.Outcome{}, err
	}
	return out, nil
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	if f.cfg.MaxBodySize > 0 {
		collector.MaxBodySize = f.cfg.MaxBodySize
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, out *worker.Outcome) {
	hooks.OnResponse(func(r *colly.Response) {
		out.StatusCode = r.StatusCode
		out.Bytes = len(r.Body)
		if isHTML(r.Headers.Get("Content-Type")) {
			out.Flag = fleet.FlagVisited
		} else {
			out.Flag = fleet.FlagFile
		}
	})

	hooks.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if link := e.Request.AbsoluteURL(e.Attr("href")); link != "" {
			out.Links = append(out.Links, link)
		}
	})

	hooks.OnHTML("html", func(e *colly.HTMLElement) {
		out.Vacancy = f.extract(e)
	})

	hooks.OnError(func(r *colly.Response, _ error) {
		if r == nil || r.StatusCode == 0 {
			out.Flag = fleet.FlagRetry
			return
		}
		out.StatusCode = r.StatusCode
		out.Bytes = len(r.Body)
		out.Flag = classifyStatus(r.StatusCode)
	})
}

// extract returns the vacancy fields on the page, or nil when it is not a
// vacancy page.
func (f *Fetcher) extract(e *colly.HTMLElement) *vacancy.Fields {
	sel := f.cfg.Selectors
	if sel.Description == "" {
		return nil
	}
	if sel.Vacancy != "" && e.DOM.Find(sel.Vacancy).Length() == 0 {
		return nil
	}
	description := childText(e, sel.Description)
	if description == "" {
		return nil
	}
	return &vacancy.Fields{
		Title:          childText(e, sel.Title),
		Employer:       childText(e, sel.Employer),
		EmploymentType: childText(e, sel.EmploymentType),
		Location:       childText(e, sel.Location),
		Description:    description,
		Skills:         childTexts(e, sel.Skills),
		Educations:     childTexts(e, sel.Educations),
		Locations:      childTexts(e, sel.Locations),
	}
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, out *worker.Outcome) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if ctx.Err() != nil {
			return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
		}
		// A hook that set the flag already classified the failure.
		if err == nil || out.Flag != "" {
			return nil
		}
		return fmt.Errorf("colly visit failed: %w", err)
	}
}

func classifyStatus(code int) fleet.Flag {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return fleet.FlagRetry
	default:
		return fleet.FlagDead
	}
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func childText(e *colly.HTMLElement, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(e.ChildText(selector))
}

func childTexts(e *colly.HTMLElement, selector string) []string {
	if selector == "" {
		return nil
	}
	var out []string
	e.ForEach(selector, func(_ int, el *colly.HTMLElement) {
		if text := strings.TrimSpace(el.Text); text != "" {
			out = append(out, text)
		}
	})
	return out
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
