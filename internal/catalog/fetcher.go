package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"clearance-watch/internal/domain"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Fetcher walks the pages of a category listing and returns its raw hits
type Fetcher struct {
	BaseURL  string
	PageSize int
	MaxPages int
	Timeout  time.Duration

	logger *zap.Logger
}

// NewFetcher creates a fetcher for the storefront rooted at baseURL
func NewFetcher(baseURL string, pageSize, maxPages int, timeout time.Duration, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		PageSize: pageSize,
		MaxPages: maxPages,
		Timeout:  timeout,
		logger:   logger,
	}
}

// FetchCategory loads pages one after another until a page returns fewer
// hits than PageSize. Any page error fails the whole category.
func (f *Fetcher) FetchCategory(ctx context.Context, category domain.Category) ([]RawProduct, error) {
	var all []RawProduct

	for page := 1; page <= f.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch of %s cancelled: %w", category.Key, err)
		}

		pageURL := f.pageURL(category.Path, page)
		hits, err := f.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("page %d of %s: %w", page, category.Key, err)
		}

		all = append(all, hits...)
		f.logger.Debug("Fetched listing page",
			zap.String("category", category.Key),
			zap.Int("page", page),
			zap.Int("hits", len(hits)),
		)

		if len(hits) < f.PageSize {
			return all, nil
		}
	}

	f.logger.Warn("Stopped paging at page limit",
		zap.String("category", category.Key),
		zap.Int("max_pages", f.MaxPages),
		zap.Int("hits", len(all)),
	)
	return all, nil
}

func (f *Fetcher) pageURL(path string, page int) string {
	u := f.BaseURL + path
	if page > 1 {
		u += "?page=" + strconv.Itoa(page)
	}
	return u
}

func (f *Fetcher) newCollector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.StdlibContext(ctx),
	)
	if u, err := url.Parse(f.BaseURL); err == nil && u.Hostname() != "" {
		c.AllowedDomains = []string{u.Hostname()}
	}
	c.SetRequestTimeout(f.Timeout)
	return c
}

func (f *Fetcher) fetchPage(ctx context.Context, pageURL string) ([]RawProduct, error) {
	c := f.newCollector(ctx)

	var payload string
	found := false
	c.OnHTML("script#__NEXT_DATA__", func(e *colly.HTMLElement) {
		if found {
			return
		}
		payload = e.Text
		found = true
	})

	if err := c.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("failed to visit %s: %w", pageURL, err)
	}

	if !found || strings.TrimSpace(payload) == "" {
		return nil, fmt.Errorf("%w: no __NEXT_DATA__ script on %s", ErrPayloadMissing, pageURL)
	}

	return parseNextData([]byte(payload))
}
