package document

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// CrawlerConfig scopes a recursive site crawl.
type CrawlerConfig struct {
	StartURL    string
	BaseURL     string   // only links under this prefix are followed
	ExcludeURLs []string // URL prefixes to skip
	MaxDepth    int
	UserAgent   string
	Timeout     time.Duration // per-page fetch timeout
}

// Crawler recursively fetches pages under a base URL. It implements Fetcher.
//
// Links are followed breadth-first up to MaxDepth, restricted to the base
// URL prefix, with exclude prefixes and already-visited URLs skipped.
type Crawler struct {
	cfg    CrawlerConfig
	logger *slog.Logger
}

// NewCrawler creates a Crawler for the configured site.
func NewCrawler(cfg CrawlerConfig, logger *slog.Logger) (*Crawler, error) {
	if cfg.StartURL == "" {
		return nil, fmt.Errorf("crawler: start URL is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = cfg.StartURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	for i, ex := range cfg.ExcludeURLs {
		cfg.ExcludeURLs[i] = strings.TrimRight(ex, "/")
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{cfg: cfg, logger: logger}, nil
}

// Fetch crawls the site and streams each fetched page to yield.
// Individual page failures are logged and skipped; an error from yield
// aborts the crawl.
func (c *Crawler) Fetch(ctx context.Context, yield func(Raw) error) error {
	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("crawler: invalid base URL %q: %w", c.cfg.BaseURL, err)
	}

	collector := colly.NewCollector(
		colly.MaxDepth(c.cfg.MaxDepth),
		colly.UserAgent(c.cfg.UserAgent),
		colly.AllowedDomains(base.Hostname()),
	)
	collector.SetRequestTimeout(c.cfg.Timeout)

	var yieldErr error

	collector.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}
		if yieldErr != nil {
			r.Abort()
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		if yieldErr != nil {
			return
		}
		pageURL := strings.TrimRight(r.Request.URL.String(), "/")
		if !c.inScope(pageURL) {
			return
		}
		body := make([]byte, len(r.Body))
		copy(body, r.Body)
		if err := yield(Raw{SourceID: pageURL, HTML: body, FetchedAt: time.Now()}); err != nil {
			yieldErr = err
		}
	})

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := strings.TrimRight(e.Request.AbsoluteURL(e.Attr("href")), "/")
		if link == "" || !c.inScope(link) {
			return
		}
		if err := e.Request.Visit(link); err != nil {
			// Already-visited and depth-limit errors are expected noise.
			c.logger.Debug("skipping link", "url", link, "reason", err)
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		c.logger.Warn("page fetch failed", "url", r.Request.URL.String(), "error", err)
	})

	if err := collector.Visit(c.cfg.StartURL); err != nil {
		return fmt.Errorf("crawler: failed to visit start URL: %w", err)
	}
	collector.Wait()

	if yieldErr != nil {
		return yieldErr
	}
	return ctx.Err()
}

// inScope reports whether a URL is under the base prefix and not excluded.
func (c *Crawler) inScope(u string) bool {
	if !strings.HasPrefix(u, c.cfg.BaseURL) {
		return false
	}
	for _, ex := range c.cfg.ExcludeURLs {
		if strings.HasPrefix(u, ex) {
			return false
		}
	}
	return true
}
