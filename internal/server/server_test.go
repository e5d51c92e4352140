package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"clearance-watch/internal/config"
	"clearance-watch/internal/domain"
	"clearance-watch/internal/metrics"
	"clearance-watch/internal/middleware"
	"clearance-watch/internal/service"
	"clearance-watch/internal/transport"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type fakeDatabase struct {
	up     bool
	closed bool
}

func (f *fakeDatabase) Health(ctx context.Context) map[string]string {
	if f.up {
		return map[string]string{"status": "up"}
	}
	return map[string]string{"status": "down", "error": "connection refused"}
}

func (f *fakeDatabase) Close() error {
	f.closed = true
	return nil
}

type idleSyncService struct{}

func (idleSyncService) RunPass(ctx context.Context) (*service.PassReport, error) {
	return &service.PassReport{}, nil
}

func (idleSyncService) RunCategories(ctx context.Context, keys []string) (*service.PassReport, error) {
	return &service.PassReport{}, nil
}

func (idleSyncService) LastReport() *service.PassReport { return nil }

func (idleSyncService) States(ctx context.Context) ([]*domain.CategoryState, error) {
	return []*domain.CategoryState{}, nil
}

func newTestServer(t *testing.T, db Database, redisClient *redis.Client) *Server {
	t.Helper()
	cfg := &config.Config{
		Server:     config.ServerConfig{Port: "0", Env: "test", LogLevel: "info"},
		Categories: config.DefaultCategories,
	}
	h := transport.NewSyncHandler(context.Background(), idleSyncService{}, cfg.Categories, nil, zap.NewNop())
	return NewServer(cfg, zap.NewNop(), db, redisClient, h)
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		dbUp       bool
		wantStatus int
		wantBody   string
	}{
		{"database up", true, http.StatusOK, "ok"},
		{"database down", false, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeDatabase{up: tt.dbUp}, nil)

			w := get(s, "/health")
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			var body map[string]interface{}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != tt.wantBody {
				t.Errorf("status %v, want %s", body["status"], tt.wantBody)
			}
		})
	}
}

func TestHealthReportsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := newTestServer(t, &fakeDatabase{up: true}, client)

	if w := get(s, "/health"); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with redis up, got %d", w.Code)
	}

	mr.Close()
	w := get(s, "/health")
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), `"redis"`) {
		t.Fatalf("expected redis outage to degrade health, got %d %s", w.Code, w.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.RecordEvicted(1)
	s := newTestServer(t, &fakeDatabase{up: true}, nil)

	w := get(s, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "clearance_watch_evicted_products_total") {
		t.Error("exposition is missing sync metrics")
	}
}

func TestStatusIsRouted(t *testing.T) {
	s := newTestServer(t, &fakeDatabase{up: true}, nil)

	if w := get(s, "/status"); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := get(s, "/users"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown route, got %d", w.Code)
	}
}

func TestTriggerIsRateLimited(t *testing.T) {
	s := newTestServer(t, &fakeDatabase{up: true}, nil)

	limited := false
	for i := 0; i < triggerRequestsPerWindow+1; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/sync", nil)
		s.Handler.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Fatal("expected the trigger budget to run out")
	}
}

func TestCloseReleasesResources(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	db := &fakeDatabase{up: true}
	s := newTestServer(t, db, client)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !db.closed {
		t.Error("database was not closed")
	}
	if err := client.Ping(context.Background()).Err(); err == nil {
		t.Error("redis client still usable after close")
	}
}

func TestPanicReturnsJSONError(t *testing.T) {
	s := newTestServer(t, &fakeDatabase{up: true}, nil)
	s.Handler.(chi.Router).Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("nil map write")
	})

	w := get(s, "/boom")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON error envelope, got content type %q", ct)
	}

	var body middleware.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.Error.Code == "" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
}
