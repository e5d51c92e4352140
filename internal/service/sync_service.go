package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"clearance-watch/internal/catalog"
	"clearance-watch/internal/domain"
	"clearance-watch/internal/lock"
	"clearance-watch/internal/metrics"
	"clearance-watch/internal/notify"
	"clearance-watch/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrPassInProgress  = errors.New("sync pass already in progress")
	ErrUnknownCategory = errors.New("unknown category")
)

// CatalogFetcher retrieves the raw listing of one category
type CatalogFetcher interface {
	FetchCategory(ctx context.Context, category domain.Category) ([]catalog.RawProduct, error)
}

// ProductNormalizer maps a raw listing to canonical products
type ProductNormalizer interface {
	NormalizeAll(raws []catalog.RawProduct, category string) ([]domain.Product, error)
}

// AvailabilityClassifier recomputes the availability of every variant of a product
type AvailabilityClassifier interface {
	Classify(ctx context.Context, product *domain.Product) error
}

// Notifier announces new products of a category
type Notifier interface {
	Dispatch(ctx context.Context, category domain.Category, products []domain.Product) notify.Result
}

// SyncService runs sync passes over the tracked categories
type SyncService interface {
	RunPass(ctx context.Context) (*PassReport, error)
	RunCategories(ctx context.Context, keys []string) (*PassReport, error)
	LastReport() *PassReport
	States(ctx context.Context) ([]*domain.CategoryState, error)
}

// Dependencies wires a SyncService. Now defaults to time.Now.
type Dependencies struct {
	Fetcher      CatalogFetcher
	Normalizer   ProductNormalizer
	Classifier   AvailabilityClassifier
	Notifier     Notifier
	CatalogRepo  repository.CatalogRepository
	CategoryRepo repository.CategoryRepository
	Lock         lock.PassLock

	Categories []domain.Category
	Retention  time.Duration
	Now        func() time.Time
}

// CategoryReport is the outcome of one category within a pass
type CategoryReport struct {
	Category  string `json:"category"`
	Fetched   int    `json:"fetched"`
	New       int    `json:"new"`
	Notified  int    `json:"notified"`
	Stale     int    `json:"stale"`
	Evicted   int    `json:"evicted"`
	ColdStart bool   `json:"cold_start"`
	Err       string `json:"error,omitempty"`
}

// PassReport summarizes one run over all categories
type PassReport struct {
	ID         uuid.UUID        `json:"id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Categories []CategoryReport `json:"categories"`
}

// Failed counts categories that ended in error
func (r *PassReport) Failed() int {
	n := 0
	for _, c := range r.Categories {
		if c.Err != "" {
			n++
		}
	}
	return n
}

type syncService struct {
	deps   Dependencies
	logger *zap.Logger

	mu   sync.RWMutex
	last *PassReport
}

// NewSyncService creates a new instance of SyncService
func NewSyncService(deps Dependencies, logger *zap.Logger) SyncService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &syncService{deps: deps, logger: logger}
}

// RunPass processes every category in order. A failing category is
// recorded and skipped; it never aborts the pass.
func (s *syncService) RunPass(ctx context.Context) (*PassReport, error) {
	return s.runPass(ctx, s.deps.Categories)
}

// RunCategories runs a pass restricted to the given category keys, in the
// configured order
func (s *syncService) RunCategories(ctx context.Context, keys []string) (*PassReport, error) {
	wanted := make(map[string]struct{}, len(keys))
	known := make(map[string]struct{}, len(s.deps.Categories))
	for _, c := range s.deps.Categories {
		known[c.Key] = struct{}{}
	}
	for _, k := range keys {
		if _, ok := known[k]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, k)
		}
		wanted[k] = struct{}{}
	}

	selected := make([]domain.Category, 0, len(wanted))
	for _, c := range s.deps.Categories {
		if _, ok := wanted[c.Key]; ok {
			selected = append(selected, c)
		}
	}

	return s.runPass(ctx, selected)
}

func (s *syncService) runPass(ctx context.Context, categories []domain.Category) (*PassReport, error) {
	acquired, err := s.deps.Lock.Acquire(ctx)
	if err != nil {
		metrics.RecordPass("error", 0)
		return nil, fmt.Errorf("failed to take pass lock: %w", err)
	}
	if !acquired {
		s.logger.Warn("Sync pass skipped, previous pass still running")
		metrics.RecordPass("skipped", 0)
		return nil, ErrPassInProgress
	}
	defer func() {
		// release even when ctx is already cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.deps.Lock.Release(releaseCtx); err != nil {
			s.logger.Error("Failed to release pass lock", zap.Error(err))
		}
	}()

	report := &PassReport{
		ID:         uuid.New(),
		StartedAt:  s.deps.Now(),
		Categories: make([]CategoryReport, 0, len(categories)),
	}
	log := s.logger.With(zap.String("pass_id", report.ID.String()))
	log.Info("Sync pass started", zap.Int("categories", len(categories)))

	for _, category := range categories {
		if err := ctx.Err(); err != nil {
			log.Warn("Sync pass interrupted", zap.Error(err))
			break
		}

		catLog := log.With(zap.String("category", category.Key))
		catLog.Info("Processing category", zap.String("label", category.Label))

		catReport, err := s.runCategory(ctx, category, catLog)
		status := domain.CategoryStatusOK
		if err != nil {
			status = domain.CategoryStatusFailed
			catReport.Err = err.Error()
			catLog.Error("Category pass failed", zap.Error(err))
		} else {
			catLog.Info("Category pass finished",
				zap.Int("fetched", catReport.Fetched),
				zap.Int("new", catReport.New),
				zap.Int("notified", catReport.Notified),
				zap.Int("evicted", catReport.Evicted),
			)
		}

		report.Categories = append(report.Categories, catReport)
		metrics.RecordCategory(category.Key, status, catReport.Fetched, catReport.New)
		s.saveState(ctx, catLog, catReport, status)
	}

	report.FinishedAt = s.deps.Now()
	metrics.RecordPass("completed", report.FinishedAt.Sub(report.StartedAt))
	log.Info("Sync pass finished",
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
		zap.Int("failed_categories", report.Failed()),
	)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	return report, nil
}

// runCategory walks FETCH, CLASSIFY, DIFF, NOTIFY, PERSIST and EVICT for a
// single category. The first stage error ends the category.
func (s *syncService) runCategory(ctx context.Context, category domain.Category, log *zap.Logger) (CategoryReport, error) {
	report := CategoryReport{Category: category.Key}
	now := s.deps.Now()

	raws, err := s.deps.Fetcher.FetchCategory(ctx, category)
	if err != nil {
		return report, fmt.Errorf("fetch: %w", err)
	}

	products, err := s.deps.Normalizer.NormalizeAll(raws, category.Key)
	if err != nil {
		return report, fmt.Errorf("normalize: %w", err)
	}
	report.Fetched = len(products)

	for i := range products {
		products[i].LastSeen = now
		if err := s.deps.Classifier.Classify(ctx, &products[i]); err != nil {
			return report, fmt.Errorf("classify: %w", err)
		}
	}

	codes := make([]string, len(products))
	for i, p := range products {
		codes[i] = p.ArticleCode
	}

	baseline, err := s.deps.CatalogRepo.CodesByCategory(ctx, category.Key)
	if err != nil {
		return report, fmt.Errorf("load baseline: %w", err)
	}
	// article codes are unique across the catalog, so an item already
	// stored under another category is not new either
	known, err := s.deps.CatalogRepo.ExistingCodes(ctx, codes)
	if err != nil {
		return report, fmt.Errorf("load existing codes: %w", err)
	}
	for code := range baseline {
		known[code] = struct{}{}
	}

	diff := catalog.Diff(codes, known)
	report.New = len(diff.New)
	report.Stale = len(diff.Stale)
	report.ColdStart = catalog.IsColdStart(baseline)

	switch {
	case report.ColdStart:
		log.Info("No baseline yet, storing products without alerts", zap.Int("products", len(products)))
	case len(diff.New) > 0:
		result := s.deps.Notifier.Dispatch(ctx, category, selectProducts(products, diff.New))
		report.Notified = result.Sent
	}

	if len(diff.Stale) > 0 {
		// stale items stay until TTL eviction removes them
		log.Debug("Products missing from listing", zap.Strings("article_codes", diff.Stale))
	}

	if err := s.deps.CatalogRepo.UpsertProducts(ctx, products); err != nil {
		return report, fmt.Errorf("persist: %w", err)
	}

	evicted, err := s.deps.CatalogRepo.EvictOlderThan(ctx, now.Add(-s.deps.Retention))
	if err != nil {
		return report, fmt.Errorf("evict: %w", err)
	}
	report.Evicted = len(evicted)
	if len(evicted) > 0 {
		metrics.RecordEvicted(len(evicted))
		log.Info("Evicted expired products", zap.Strings("article_codes", evicted))
	}

	return report, nil
}

func (s *syncService) saveState(ctx context.Context, log *zap.Logger, report CategoryReport, status string) {
	state := &domain.CategoryState{
		Category:     report.Category,
		LastPassAt:   s.deps.Now(),
		LastStatus:   status,
		LastError:    report.Err,
		ProductCount: report.Fetched,
		NewCount:     report.New,
		EvictedCount: report.Evicted,
	}
	if err := s.deps.CategoryRepo.SaveState(ctx, state); err != nil {
		log.Warn("Failed to record category state", zap.Error(err))
	}
}

// LastReport returns the most recent finished pass, nil before the first
func (s *syncService) LastReport() *PassReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// States returns the stored outcome of every category's last pass
func (s *syncService) States(ctx context.Context) ([]*domain.CategoryState, error) {
	states, err := s.deps.CategoryRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load category states: %w", err)
	}
	return states, nil
}

// selectProducts keeps the products whose code is in codes, in fetch order
func selectProducts(products []domain.Product, codes []string) []domain.Product {
	wanted := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		wanted[c] = struct{}{}
	}

	out := make([]domain.Product, 0, len(codes))
	for _, p := range products {
		if _, ok := wanted[p.ArticleCode]; ok {
			out = append(out, p)
		}
	}
	return out
}
