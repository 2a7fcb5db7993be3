package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/user/price-monitor/internal/proxy"
)

func newTestServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/product", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if r.Header.Get("Accept-Language") == "" {
			http.Error(w, "missing headers", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`<html><body><span class="price">$19.99</span></body></html>`))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/busy", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	return httptest.NewServer(mux)
}

func newTestColly(t *testing.T, timeout time.Duration) *Colly {
	t.Helper()
	pm, err := proxy.NewManager(nil)
	if err != nil {
		t.Fatal(err)
	}
	return NewColly(timeout, pm)
}

func TestCollyFetch(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()

	html, err := newTestColly(t, time.Second).Fetch(context.Background(), ts.URL+"/product")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "$19.99") {
		t.Errorf("unexpected body: %s", html)
	}
}

func TestCollyStatusErrors(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()
	f := newTestColly(t, time.Second)

	_, err := f.Fetch(context.Background(), ts.URL+"/missing")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("error = %v, want 404 StatusError", err)
	}
	if !errors.Is(err, ErrStatus) || Retryable(err) {
		t.Errorf("404 should match ErrStatus and not be retryable")
	}

	_, err = f.Fetch(context.Background(), ts.URL+"/busy")
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("error = %v, want 503 StatusError", err)
	}
	if !Retryable(err) {
		t.Errorf("503 should be retryable")
	}
}

func TestCollyTimeout(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()

	start := time.Now()
	_, err := newTestColly(t, 100*time.Millisecond).Fetch(context.Background(), ts.URL+"/slow")
	if err == nil {
		t.Fatal("expected a timeout")
	}
	if !Retryable(err) {
		t.Errorf("timeout should be retryable, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("fetch was not bounded by the timeout")
	}
}

func TestCollyCancelled(t *testing.T) {
	ts := newTestServer()
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestColly(t, time.Second).Fetch(ctx, ts.URL+"/product")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if Retryable(err) {
		t.Error("cancellation must not be retried")
	}
}
