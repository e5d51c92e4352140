package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clearance_watch"

var (
	passesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Sync passes by outcome.",
		},
		[]string{"outcome"},
	)
	passDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a full sync pass.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	categoryPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "category_passes_total",
			Help:      "Category passes by category and status.",
		},
		[]string{"category", "status"},
	)
	productsFetched = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "products_fetched",
			Help:      "Products seen in the last pass of a category.",
		},
		[]string{"category"},
	)
	newProductsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "new_products_total",
			Help:      "Article codes seen for the first time.",
		},
		[]string{"category"},
	)
	evictedProductsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_products_total",
			Help:      "Products removed by TTL eviction.",
		},
	)
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound alerts by kind and result.",
		},
		[]string{"kind", "result"},
	)
	rateLimitRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_retries_total",
			Help:      "Resends after a rate-limit rejection.",
		},
	)
)

func init() {
	prometheus.MustRegister(passesTotal)
	prometheus.MustRegister(passDuration)
	prometheus.MustRegister(categoryPassesTotal)
	prometheus.MustRegister(productsFetched)
	prometheus.MustRegister(newProductsTotal)
	prometheus.MustRegister(evictedProductsTotal)
	prometheus.MustRegister(notificationsTotal)
	prometheus.MustRegister(rateLimitRetriesTotal)
}

// RecordPass records a finished pass; outcome is "completed", "skipped" or "error"
func RecordPass(outcome string, duration time.Duration) {
	passesTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		passDuration.Observe(duration.Seconds())
	}
}

// RecordCategory records the result of one category pass
func RecordCategory(category, status string, fetched, newCount int) {
	categoryPassesTotal.WithLabelValues(category, status).Inc()
	productsFetched.WithLabelValues(category).Set(float64(fetched))
	if newCount > 0 {
		newProductsTotal.WithLabelValues(category).Add(float64(newCount))
	}
}

// RecordEvicted adds n evicted products
func RecordEvicted(n int) {
	if n > 0 {
		evictedProductsTotal.Add(float64(n))
	}
}

// RecordNotification counts one alert. kind is "item" or "aggregate",
// result is "sent" or "dropped".
func RecordNotification(kind, result string) {
	notificationsTotal.WithLabelValues(kind, result).Inc()
}

// RecordRateLimitRetry counts one resend after a rate-limit rejection
func RecordRateLimitRetry() {
	rateLimitRetriesTotal.Inc()
}

// Handler returns the Prometheus exposition handler
func Handler() http.Handler {
	return promhttp.Handler()
}
