package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"clearance-watch/internal/domain"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const colorSuffixLen = 3

// StockLevels is the stock endpoint answer for one ancestor article
type StockLevels struct {
	Available []string `json:"availability"`
	FewLeft   []string `json:"fewPieceLeft"`
}

type stockResponse struct {
	Available *[]string `json:"availability"`
	FewLeft   []string  `json:"fewPieceLeft"`
}

// AvailabilityError aborts classification of a product
type AvailabilityError struct {
	ArticleCode string
	Err         error
}

func (e *AvailabilityError) Error() string {
	return fmt.Sprintf("availability of %s: %v", e.ArticleCode, e.Err)
}

func (e *AvailabilityError) Unwrap() error {
	return e.Err
}

// AncestorCode strips the trailing color code from an article code so all
// colors of a base item share one stock lookup
func AncestorCode(articleCode string) string {
	if len(articleCode) <= 7 {
		return articleCode
	}
	return articleCode[:len(articleCode)-colorSuffixLen]
}

// ClassifyVariants recomputes every variant's availability from levels.
// Few-left wins over available.
func ClassifyVariants(variants []domain.Variant, levels StockLevels) []domain.Variant {
	fewLeft := toSet(levels.FewLeft)
	available := toSet(levels.Available)

	out := make([]domain.Variant, len(variants))
	for i, v := range variants {
		_, few := fewLeft[v.SizeCode]
		_, inStock := available[v.SizeCode]
		switch {
		case few:
			v.Availability = domain.AvailabilityFewLeft
		case inStock:
			v.Availability = domain.AvailabilityInStock
		default:
			v.Availability = domain.AvailabilityOutOfStock
		}
		out[i] = v
	}
	return out
}

// AvailabilityClient queries the storefront stock endpoint, one call per product
type AvailabilityClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewAvailabilityClient creates a client paced at rps calls per second
func NewAvailabilityClient(baseURL string, rps float64, timeout time.Duration, logger *zap.Logger) *AvailabilityClient {
	return &AvailabilityClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}
}

// Classify fetches stock for the product's ancestor and rewrites the
// availability of every variant. On error the product is left untouched.
func (c *AvailabilityClient) Classify(ctx context.Context, product *domain.Product) error {
	levels, err := c.Stock(ctx, AncestorCode(product.ArticleCode))
	if err != nil {
		return &AvailabilityError{ArticleCode: product.ArticleCode, Err: err}
	}

	product.Variants = ClassifyVariants(product.Variants, levels)
	return nil
}

// Stock returns the available and few-left size codes of an ancestor article
func (c *AvailabilityClient) Stock(ctx context.Context, ancestor string) (StockLevels, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return StockLevels{}, fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s.json", c.baseURL, ancestor)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return StockLevels{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		select {
		case <-ctx.Done():
			return StockLevels{}, fmt.Errorf("request was cancelled: %w", ctx.Err())
		default:
			return StockLevels{}, fmt.Errorf("failed to execute request: %w", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StockLevels{}, fmt.Errorf("non-OK status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return StockLevels{}, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed stockResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return StockLevels{}, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if parsed.Available == nil {
		return StockLevels{}, fmt.Errorf("malformed response: missing availability list")
	}

	c.logger.Debug("Fetched stock levels",
		zap.String("ancestor", ancestor),
		zap.Int("available", len(*parsed.Available)),
		zap.Int("few_left", len(parsed.FewLeft)),
	)

	return StockLevels{Available: *parsed.Available, FewLeft: parsed.FewLeft}, nil
}

func toSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}
