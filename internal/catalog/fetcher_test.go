package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"clearance-watch/internal/domain"

	"go.uber.org/zap"
)

var kidsCategory = domain.Category{Key: "kids_2_8y", Label: "Kids 2-8Y", Path: "/kids/last-chance/2-8y.html"}

func hitsPage(t *testing.T, start, count int) string {
	t.Helper()

	hits := make([]RawProduct, 0, count)
	for i := start; i < start+count; i++ {
		hits = append(hits, RawProduct{
			ArticleCode:     fmt.Sprintf("%07d001", i),
			ImageProductSrc: fmt.Sprintf("/assets/%d.jpg", i),
			PdpURL:          fmt.Sprintf("/hw_il/productpage.%07d001.html", i),
			Title:           fmt.Sprintf("Item %d", i),
			RegularPrice:    "₪ 59.90",
			RedPrice:        "₪ 24.90",
			Sizes:           []RawSize{{SizeCode: fmt.Sprintf("%07d001002", i), Name: "2Y"}},
		})
	}

	doc := map[string]any{
		"props": map[string]any{
			"pageProps": map[string]any{
				"plpProps": map[string]any{
					"productListingProps": map[string]any{"hits": hits},
				},
			},
		},
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	return `<!DOCTYPE html><html><head></head><body><div id="__next"></div>` +
		`<script id="__NEXT_DATA__" type="application/json">` + string(payload) + `</script></body></html>`
}

func TestFetchCategoryFollowsPagesUntilShortPage(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path != kidsCategory.Path {
			http.NotFound(w, r)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		switch page {
		case 0, 1:
			fmt.Fprint(w, hitsPage(t, 0, 36))
		case 2:
			fmt.Fprint(w, hitsPage(t, 36, 5))
		default:
			t.Errorf("unexpected page %d requested", page)
		}
	}))
	defer ts.Close()

	f := NewFetcher(ts.URL, 36, 10, 5*time.Second, zap.NewNop())

	raws, err := f.FetchCategory(context.Background(), kidsCategory)
	if err != nil {
		t.Fatalf("FetchCategory failed: %v", err)
	}
	if len(raws) != 41 {
		t.Errorf("expected 41 hits, got %d", len(raws))
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("expected 2 page requests, got %d", got)
	}
	if raws[40].ArticleCode != "0000040001" {
		t.Errorf("unexpected last article %s", raws[40].ArticleCode)
	}
}

func TestFetchCategoryStopsAtPageLimit(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(requests.Add(1))
		fmt.Fprint(w, hitsPage(t, n*10, 10))
	}))
	defer ts.Close()

	f := NewFetcher(ts.URL, 10, 3, 5*time.Second, zap.NewNop())

	raws, err := f.FetchCategory(context.Background(), kidsCategory)
	if err != nil {
		t.Fatalf("FetchCategory failed: %v", err)
	}
	if requests.Load() != 3 || len(raws) != 30 {
		t.Errorf("expected 3 pages / 30 hits, got %d pages / %d hits", requests.Load(), len(raws))
	}
}

func TestFetchCategoryMissingPayload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Maintenance</h1></body></html>`)
	}))
	defer ts.Close()

	f := NewFetcher(ts.URL, 36, 10, 5*time.Second, zap.NewNop())

	_, err := f.FetchCategory(context.Background(), kidsCategory)
	if !errors.Is(err, ErrPayloadMissing) {
		t.Fatalf("expected ErrPayloadMissing, got %v", err)
	}
}

func TestFetchCategoryPayloadWithoutHits(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{}}}</script></body></html>`)
	}))
	defer ts.Close()

	f := NewFetcher(ts.URL, 36, 10, 5*time.Second, zap.NewNop())

	_, err := f.FetchCategory(context.Background(), kidsCategory)
	if !errors.Is(err, ErrPayloadMissing) {
		t.Fatalf("expected ErrPayloadMissing, got %v", err)
	}
}

func TestFetchCategoryServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	f := NewFetcher(ts.URL, 36, 10, 5*time.Second, zap.NewNop())

	if _, err := f.FetchCategory(context.Background(), kidsCategory); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestFetchCategoryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFetcher("http://127.0.0.1:1", 36, 10, time.Second, zap.NewNop())

	_, err := f.FetchCategory(ctx, kidsCategory)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestParseNextDataInvalidJSON(t *testing.T) {
	_, err := parseNextData([]byte(`{"props":`))
	if !errors.Is(err, ErrPayloadMissing) {
		t.Fatalf("expected ErrPayloadMissing, got %v", err)
	}
}
