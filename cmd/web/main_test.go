package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"prediction-dashboard/internal/config"
)

// fakeBackend mimics the prediction REST API: a refresh job finishes after
// a fixed number of status polls and swaps in a new snapshot.
type fakeBackend struct {
	mu           sync.Mutex
	refreshing   bool
	pollsLeft    int
	generation   int
	authHeaders  []string
	startCalls   atomic.Int32
	statusCalls  atomic.Int32
	latestCalls  atomic.Int32
	pollsPerTask int
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/predictions/latest", func(w http.ResponseWriter, r *http.Request) {
		b.latestCalls.Add(1)
		b.recordAuth(r)
		b.mu.Lock()
		generation, refreshing := b.generation, b.refreshing
		b.mu.Unlock()

		products := `{"productId":"P1","productName":"Widget","bestsellerProbability":0.82,"isPotentialBestseller":true,"potentialLevel":"ÉLEVÉ","predictedAt":"2025-01-10T09:00:00"}`
		if generation > 0 {
			products += `,{"productId":"P2","productName":"Gadget","bestsellerProbability":0.18,"isPotentialBestseller":false,"potentialLevel":"FAIBLE","predictedAt":"2025-01-11T09:00:00"}`
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"bestsellerPredictions":[`+products+`],
			"rankingPredictions":[{"product_id":"P1","current_rank":12,"predicted_rank":7,"predicted_trend":"AMÉLIORATION"}],
			"priceIntelligence":[{"productId":"P3","productName":"Gizmo","currentPrice":1299.5,"recommendedPrice":1099.5,"priceChangePercentage":-15.4,"priceAction":"DIMINUER","analyzedAt":"2025-01-10T08:00:00"}],
			"totalCount":3,
			"lastRefreshedAt":"2025-01-10T09:00:00",
			"isRefreshing":`+boolString(refreshing)+`,
			"fromCache":true}`)
	})

	mux.HandleFunc("POST /api/predictions/refresh-async", func(w http.ResponseWriter, r *http.Request) {
		b.startCalls.Add(1)
		b.recordAuth(r)
		b.mu.Lock()
		b.refreshing = true
		b.pollsLeft = b.pollsPerTask
		b.mu.Unlock()
		io.WriteString(w, `{"message":"Refresh started","status":"STARTED"}`)
	})

	mux.HandleFunc("GET /api/predictions/refresh-status", func(w http.ResponseWriter, r *http.Request) {
		b.statusCalls.Add(1)
		b.mu.Lock()
		if b.refreshing {
			b.pollsLeft--
			if b.pollsLeft <= 0 {
				b.refreshing = false
				b.generation++
			}
		}
		refreshing := b.refreshing
		b.mu.Unlock()

		status := "COMPLETED"
		if refreshing {
			status = "RUNNING"
		}
		io.WriteString(w, `{"isRefreshing":`+boolString(refreshing)+`,"status":"`+status+`"}`)
	})

	mux.HandleFunc("GET /api/predictions/health", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"springBootService":"UP","mlServiceAvailable":true}`)
	})

	return mux
}

func (b *fakeBackend) recordAuth(r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authHeaders = append(b.authHeaders, r.Header.Get("Authorization"))
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func newTestApplication(t *testing.T, backend *fakeBackend) *application {
	t.Helper()
	upstream := httptest.NewServer(backend.handler())
	t.Cleanup(upstream.Close)

	cfg := config.Default()
	cfg.Backend.BaseURL = upstream.URL + "/api"
	cfg.Backend.Token = "dashboard-token"
	cfg.Backend.RequestsPerSec = 100
	cfg.Refresh.PollInterval = 10 * time.Millisecond
	cfg.Refresh.MaxPollDuration = 2 * time.Second
	cfg.Security.EnableRateLimit = false

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	app := newApplication(cfg, logger)
	t.Cleanup(app.coordinator.Dispose)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.warmUp(ctx, logger)

	return app
}

func getJSON(t *testing.T, h http.Handler, method, path string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("%s %s: failed to decode JSON: %v", method, path, err)
	}
	return w.Code, response
}

func TestApplication_InitialSnapshot(t *testing.T) {
	backend := &fakeBackend{pollsPerTask: 1}
	app := newTestApplication(t, backend)

	code, response := getJSON(t, app.handler, http.MethodGet, "/api/predictions")
	if code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, code)
	}

	data := response["data"].(map[string]any)
	predictions := data["predictions"].([]any)
	if len(predictions) != 2 {
		t.Fatalf("expected P1 and P3, got %d predictions", len(predictions))
	}

	p1 := predictions[0].(map[string]any)
	if p1["productId"] != "P1" || p1["ranking"] == nil || p1["price"] != nil {
		t.Errorf("unexpected P1: %v", p1)
	}
	ranking := p1["ranking"].(map[string]any)
	if ranking["predictedTrend"] != "IMPROVING" {
		t.Errorf("expected normalized trend, got %v", ranking["predictedTrend"])
	}
	bestseller := p1["bestseller"].(map[string]any)
	if bestseller["potentialLevel"] != "HIGH" {
		t.Errorf("expected normalized potential level, got %v", bestseller["potentialLevel"])
	}

	stats := data["stats"].(map[string]any)
	want := map[string]float64{
		"totalProducts":        2,
		"potentialBestsellers": 1,
		"improvingRankings":    1,
		"priceRecommendations": 1,
	}
	for k, v := range want {
		if stats[k] != v {
			t.Errorf("stats[%s] = %v, want %v", k, stats[k], v)
		}
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	for _, h := range backend.authHeaders {
		if h != "Bearer dashboard-token" {
			t.Errorf("unexpected Authorization header %q", h)
		}
	}
}

func TestApplication_RefreshCycle(t *testing.T) {
	backend := &fakeBackend{pollsPerTask: 2}
	app := newTestApplication(t, backend)

	code, response := getJSON(t, app.handler, http.MethodPost, "/api/predictions/refresh")
	if code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d: %v", http.StatusAccepted, code, response)
	}

	// A second request while polling is dropped.
	if code, _ := getJSON(t, app.handler, http.MethodPost, "/api/predictions/refresh"); code != http.StatusAccepted {
		t.Errorf("expected status %d for the dropped request, got %d", http.StatusAccepted, code)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		_, status := getJSON(t, app.handler, http.MethodGet, "/api/predictions/status")
		data := status["data"].(map[string]any)
		if data["phase"] == "IDLE" && data["lastOutcome"] == "COMPLETED" {
			if data["isRefreshing"] != false {
				t.Errorf("expected isRefreshing=false after completion")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("refresh cycle did not complete, last status %v", data)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := backend.startCalls.Load(); got != 1 {
		t.Errorf("expected exactly 1 start call, got %d", got)
	}
	if got := backend.statusCalls.Load(); got != 2 {
		t.Errorf("expected 2 status polls, got %d", got)
	}

	_, response = getJSON(t, app.handler, http.MethodGet, "/api/predictions/stats")
	if total := response["data"].(map[string]any)["totalProducts"]; total != float64(3) {
		t.Errorf("expected refreshed snapshot with 3 products, got %v", total)
	}
}

func TestApplication_HealthAndPage(t *testing.T) {
	app := newTestApplication(t, &fakeBackend{pollsPerTask: 1})

	code, response := getJSON(t, app.handler, http.MethodGet, "/health")
	if code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, code)
	}
	if status := response["data"].(map[string]any)["status"]; status != "healthy" {
		t.Errorf("expected healthy, got %v", status)
	}

	w := httptest.NewRecorder()
	app.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected text/html, got %q", ct)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header from middleware")
	}
	if !strings.Contains(w.Body.String(), "/sse/predictions") {
		t.Error("page should subscribe to the prediction stream")
	}
}

func TestDashboardTemplate(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	handleDashboard(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("expected cache-control 'no-cache', got %q", cc)
	}
}
