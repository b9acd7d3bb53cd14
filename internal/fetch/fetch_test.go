package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(opts ...Option) *Client {
	base := []Option{WithRetryDelay(time.Millisecond)}
	return NewClient(append(base, opts...)...)
}

func TestGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua == "" {
			t.Error("expected a User-Agent header")
		}
		fmt.Fprint(w, "hello")
	}))
	defer srv.Close()

	resp, err := testClient().Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if resp.Text() != "hello" {
		t.Errorf("expected body %q, got %q", "hello", resp.Text())
	}
}

func TestGetRetriesOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	resp, err := testClient().Get(context.Background(), srv.URL, nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if resp.Text() != "ok" {
		t.Errorf("expected body %q, got %q", "ok", resp.Text())
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestGetDoesNotRetryClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient().Get(context.Background(), srv.URL, nil)
	if err == nil {
		t.Fatal("expected an error for 404")
	}

	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %T", err)
	}
	if netErr.Status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", netErr.Status)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected exactly 1 attempt for 404, got %d", got)
	}
}

func TestGetExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(WithMaxRetries(2)).Get(context.Background(), srv.URL, nil)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestGetQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "trend" {
			t.Errorf("expected query q=trend, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	opts := &Options{Params: map[string][]string{"q": {"trend"}}}
	if _, err := testClient().Get(context.Background(), srv.URL, opts); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
}

func TestGetManyPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, r.URL.Path)
	}))
	defer srv.Close()

	urls := []string{srv.URL + "/a", srv.URL + "/fail", srv.URL + "/b"}
	results := testClient().GetMany(context.Background(), urls)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[0].Response.Text() != "/a" {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if results[1].Err == nil {
		t.Error("expected second result to fail")
	}
	if results[2].Err != nil || results[2].Response.Text() != "/b" {
		t.Errorf("unexpected third result: %+v", results[2])
	}
}

func TestGetHonorsContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := testClient().Get(ctx, srv.URL, nil); err == nil {
		t.Fatal("expected an error from cancelled context")
	}
}
