package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"clearance-watch/internal/domain"
	"clearance-watch/internal/metrics"

	"go.uber.org/zap"
)

const (
	DefaultThreshold  = 6
	DefaultMaxRetries = 5

	kindItem      = "item"
	kindAggregate = "aggregate"
)

// Config tunes the dispatch policy
type Config struct {
	// Threshold is the largest batch still sent item by item
	Threshold int
	// MaxRetries caps resends of one rate-limited message; 0 retries forever
	MaxRetries int
	// StoreBaseURL is used to link aggregate messages to the category page
	StoreBaseURL string
}

// Result summarizes one Dispatch call
type Result struct {
	Sent        int
	Dropped     int
	Aggregated  bool
	RateLimited int
}

// Dispatcher turns new products into channel messages. Delivery is best
// effort: a message that fails for any reason other than rate limiting is
// logged and dropped.
type Dispatcher struct {
	sender Sender
	cfg    Config
	logger *zap.Logger
	wait   func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(sender Sender, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Dispatcher{
		sender: sender,
		cfg:    cfg,
		logger: logger,
		wait:   sleepContext,
	}
}

// Dispatch announces products for category. Up to Threshold items go out
// one by one with only the first audible; more than that collapse into a
// single aggregate message.
func (d *Dispatcher) Dispatch(ctx context.Context, category domain.Category, products []domain.Product) Result {
	var result Result
	if len(products) == 0 {
		return result
	}

	log := d.logger.With(zap.String("category", category.Key))

	if len(products) > d.cfg.Threshold {
		result.Aggregated = true
		msg := Message{Text: FormatAggregate(category, len(products), d.categoryURL(category))}
		d.deliver(ctx, log, msg, kindAggregate, &result)
		log.Info("Sent aggregate alert", zap.Int("new_items", len(products)), zap.Int("sent", result.Sent))
		return result
	}

	for i, p := range products {
		if ctx.Err() != nil {
			result.Dropped += len(products) - i
			log.Warn("Dispatch interrupted", zap.Error(ctx.Err()), zap.Int("remaining", len(products)-i))
			break
		}
		msg := Message{
			Text:     FormatProduct(p),
			PhotoURL: p.ImageSrc,
			Silent:   i > 0,
		}
		d.deliver(ctx, log.With(zap.String("article_code", p.ArticleCode)), msg, kindItem, &result)
	}

	log.Info("Sent item alerts", zap.Int("sent", result.Sent), zap.Int("dropped", result.Dropped))
	return result
}

// deliver sends msg, resending the same message after the server-provided
// delay for as long as it is rate limited and the retry cap allows
func (d *Dispatcher) deliver(ctx context.Context, log *zap.Logger, msg Message, kind string, result *Result) {
	retries := 0
	for {
		err := d.sender.Send(ctx, msg)
		if err == nil {
			result.Sent++
			metrics.RecordNotification(kind, "sent")
			return
		}

		var rateErr *RateLimitError
		if !errors.As(err, &rateErr) {
			log.Error("Failed to send alert, dropping", zap.Error(err))
			result.Dropped++
			metrics.RecordNotification(kind, "dropped")
			return
		}

		if d.cfg.MaxRetries > 0 && retries >= d.cfg.MaxRetries {
			log.Error("Rate limited too many times, dropping alert", zap.Int("retries", retries))
			result.Dropped++
			metrics.RecordNotification(kind, "dropped")
			return
		}

		retries++
		result.RateLimited++
		metrics.RecordRateLimitRetry()
		log.Warn("Rate limited, waiting before resend",
			zap.Duration("retry_after", rateErr.RetryAfter),
			zap.Int("attempt", retries),
		)

		if err := d.wait(ctx, rateErr.RetryAfter); err != nil {
			log.Warn("Gave up waiting for rate limit", zap.Error(err))
			result.Dropped++
			metrics.RecordNotification(kind, "dropped")
			return
		}
	}
}

func (d *Dispatcher) categoryURL(category domain.Category) string {
	if d.cfg.StoreBaseURL == "" {
		return ""
	}
	return strings.TrimRight(d.cfg.StoreBaseURL, "/") + category.Path
}

// FormatProduct renders one new product as an HTML message
func FormatProduct(p domain.Product) string {
	var b strings.Builder

	title := html.EscapeString(p.Title)
	if p.ProductURL != "" {
		fmt.Fprintf(&b, "<b><a href=\"%s\">%s</a></b>\n", html.EscapeString(p.ProductURL), title)
	} else {
		fmt.Fprintf(&b, "<b>%s</b>\n", title)
	}

	available := variantNames(p.AvailableVariants())
	if len(available) == 0 {
		b.WriteString("Available sizes: none\n")
	} else {
		fmt.Fprintf(&b, "Available sizes: %s\n", html.EscapeString(strings.Join(available, ", ")))
	}

	if few := variantNames(p.FewLeftVariants()); len(few) > 0 {
		fmt.Fprintf(&b, "⚠️ Few left: %s\n", html.EscapeString(strings.Join(few, ", ")))
	}

	fmt.Fprintf(&b, "Price: <s>%s</s> → <b>%s</b> (%s)",
		html.EscapeString(p.RegularPrice),
		html.EscapeString(p.DiscountPrice),
		html.EscapeString(p.DiscountPercentage),
	)

	return b.String()
}

// FormatAggregate renders the summary sent instead of per-item alerts
func FormatAggregate(category domain.Category, count int, categoryURL string) string {
	text := fmt.Sprintf("🛍 %d new items in <b>%s</b>", count, html.EscapeString(category.Label))
	if categoryURL != "" {
		text += fmt.Sprintf("\n<a href=\"%s\">Open %s</a>", html.EscapeString(categoryURL), html.EscapeString(category.Label))
	}
	return text
}

func variantNames(variants []domain.Variant) []string {
	names := make([]string, 0, len(variants))
	for _, v := range variants {
		names = append(names, v.Name)
	}
	return names
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
