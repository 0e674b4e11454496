// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-quickauth.
//
// go-quickauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMiddleware_RoutePattern(t *testing.T) {
	Enable()
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	router := chi.NewRouter()
	router.Use(HTTPMiddleware)
	router.Get("/accounts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("Expected status 418, got %d", rec.Code)
		}
	}

	got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/accounts/{id}", "418"))
	if got != 3 {
		t.Errorf("Expected 3 requests under one route label, got %v", got)
	}
}

func TestHTTPMiddleware_DefaultStatus(t *testing.T) {
	Enable()
	HTTPRequestsTotal.Reset()

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/plain", nil))

	got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodPost, "unmatched", "200"))
	if got != 1 {
		t.Errorf("Expected 1 request with implicit 200, got %v", got)
	}
}

func TestHTTPMiddleware_Disabled(t *testing.T) {
	Disable()
	defer Enable()
	HTTPRequestsTotal.Reset()

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if count := testutil.CollectAndCount(HTTPRequestsTotal); count != 0 {
		t.Errorf("Expected no metrics when disabled, got %d", count)
	}
}

func TestResourceCollector(t *testing.T) {
	Enable()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := NewResourceCollector(ctx, time.Hour)
	if collector.interval != time.Hour {
		t.Errorf("Expected interval 1h, got %v", collector.interval)
	}

	collector.collect()
	if testutil.ToFloat64(Goroutines) < 1 {
		t.Error("Expected goroutine gauge to be populated")
	}
	if testutil.ToFloat64(MemoryAllocBytes) <= 0 {
		t.Error("Expected memory gauge to be populated")
	}

	done := make(chan struct{})
	go func() {
		collector.Start()
		close(done)
	}()
	collector.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}

func TestNewResourceCollector_DefaultInterval(t *testing.T) {
	collector := NewResourceCollector(context.Background(), 0)
	defer collector.Stop()
	if collector.interval != 30*time.Second {
		t.Errorf("Expected default interval 30s, got %v", collector.interval)
	}
}

func TestResourceCollector_Probes(t *testing.T) {
	Enable()
	pending := 7
	collector := NewResourceCollector(context.Background(), time.Hour, ChallengeProbe(func() int { return pending }))
	defer collector.Stop()

	collector.collect()
	if got := testutil.ToFloat64(PendingChallenges); got != 7 {
		t.Errorf("Expected 7 pending challenges, got %v", got)
	}

	Disable()
	defer Enable()
	pending = 1
	collector.collect()
	if got := testutil.ToFloat64(PendingChallenges); got != 7 {
		t.Errorf("Expected gauge untouched while disabled, got %v", got)
	}
}
