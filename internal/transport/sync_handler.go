package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"clearance-watch/internal/domain"
	"clearance-watch/internal/middleware"
	"clearance-watch/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SyncRequest is the optional body of POST /sync. Without categories the
// whole catalog is synced.
type SyncRequest struct {
	Categories []string `json:"categories" validate:"omitempty,max=20,unique,dive,required"`
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	LastPass   *service.PassReport     `json:"last_pass"`
	Categories []*domain.CategoryState `json:"categories"`
	NextRun    *time.Time              `json:"next_run,omitempty"`
}

// SyncHandler exposes sync status and manual triggers
type SyncHandler struct {
	syncService service.SyncService
	categories  map[string]struct{}
	nextRun     func() time.Time
	logger      *zap.Logger

	// passes started here outlive the request, so they run under baseCtx
	baseCtx context.Context
	running atomic.Bool
	passes  sync.WaitGroup
}

// NewSyncHandler creates a new SyncHandler. nextRun may be nil.
func NewSyncHandler(
	baseCtx context.Context,
	syncService service.SyncService,
	categories []domain.Category,
	nextRun func() time.Time,
	logger *zap.Logger,
) *SyncHandler {
	known := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		known[c.Key] = struct{}{}
	}
	return &SyncHandler{
		syncService: syncService,
		categories:  known,
		nextRun:     nextRun,
		logger:      logger,
		baseCtx:     baseCtx,
	}
}

// RegisterRoutes registers the status and trigger routes. triggerLimit
// guards POST /sync.
func (h *SyncHandler) RegisterRoutes(r chi.Router, triggerLimit func(http.Handler) http.Handler) {
	r.Get("/status", h.Status)
	r.With(triggerLimit).Post("/sync", h.Trigger)
}

// Status reports the last pass and the stored state of every category
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	states, err := h.syncService.States(r.Context())
	if err != nil {
		h.logger.Error("Failed to load category states", zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to load status")
		return
	}

	resp := StatusResponse{
		LastPass:   h.syncService.LastReport(),
		Categories: states,
	}
	if h.nextRun != nil {
		if next := h.nextRun(); !next.IsZero() {
			resp.NextRun = &next
		}
	}

	middleware.RespondWithJSON(w, http.StatusOK, resp)
}

// Trigger starts a pass in the background and answers 202 right away
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		h.logger.Debug("Sync request validation failed", zap.Error(err))
		if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
			middleware.RespondWithValidationErrors(w, validationErrors)
			return
		}
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var unknown []middleware.ValidationError
	for _, key := range req.Categories {
		if _, ok := h.categories[key]; !ok {
			unknown = append(unknown, middleware.ValidationError{Field: "categories", Message: "Unknown category " + key})
		}
	}
	if len(unknown) > 0 {
		middleware.RespondWithValidationErrors(w, unknown)
		return
	}

	if !h.running.CompareAndSwap(false, true) {
		middleware.RespondWithError(w, http.StatusConflict, service.ErrPassInProgress.Error())
		return
	}

	h.passes.Add(1)
	go h.run(req.Categories)

	middleware.RespondWithJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":     "accepted",
		"categories": req.Categories,
	})
}

// Wait blocks until every pass started by Trigger has returned or ctx
// expires. Call it after the HTTP server has stopped accepting requests.
func (h *SyncHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.passes.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *SyncHandler) run(categories []string) {
	defer h.passes.Done()
	defer h.running.Store(false)

	var (
		report *service.PassReport
		err    error
	)
	if len(categories) == 0 {
		report, err = h.syncService.RunPass(h.baseCtx)
	} else {
		report, err = h.syncService.RunCategories(h.baseCtx, categories)
	}

	switch {
	case errors.Is(err, service.ErrPassInProgress):
		h.logger.Warn("Manual sync skipped, a pass is already running")
	case err != nil:
		h.logger.Error("Manual sync failed", zap.Error(err))
	default:
		h.logger.Info("Manual sync finished",
			zap.String("pass_id", report.ID.String()),
			zap.Int("failed_categories", report.Failed()),
		)
	}
}
