package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matzehuels/smoothdeps/pkg/httputil"
)

func testCache(t *testing.T) *httputil.Cache {
	t.Helper()
	c, err := httputil.NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatalf("NewCache() error: %v", err)
	}
	return c
}

func fastBackoff() httputil.Backoff {
	return httputil.Backoff{Attempts: 3, Base: time.Millisecond, Factor: 1}
}

func TestNewClient(t *testing.T) {
	c := testCache(t)
	headers := map[string]string{"User-Agent": "smoothdeps/test"}
	client := NewClient(c, headers)

	if client.http == nil {
		t.Error("NewClient() http client is nil")
	}
	if client.cache != c {
		t.Error("NewClient() cache not set correctly")
	}
	if client.memo == nil {
		t.Error("NewClient() memo is nil")
	}
	if client.headers["User-Agent"] != "smoothdeps/test" {
		t.Error("NewClient() headers not set correctly")
	}
}

func TestClientGet(t *testing.T) {
	type response struct {
		Message string `json:"message"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		json.NewEncoder(w).Encode(response{Message: "hello"})
	}))
	defer server.Close()

	client := NewClient(nil, nil)
	client.SetHTTPClient(server.Client())

	var resp response
	if err := client.Get(context.Background(), server.URL, &resp); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if resp.Message != "hello" {
		t.Errorf("Get() message = %q, want %q", resp.Message, "hello")
	}
}

func TestClientGetWithHeadersOverridesDefaults(t *testing.T) {
	var received string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Get("Accept")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient(nil, map[string]string{"Accept": "text/html"})
	client.SetHTTPClient(server.Client())

	var resp map[string]any
	err := client.GetWithHeaders(context.Background(), server.URL, map[string]string{"Accept": "application/json"}, &resp)
	if err != nil {
		t.Fatalf("GetWithHeaders() error: %v", err)
	}
	if received != "application/json" {
		t.Errorf("Accept = %q, want %q", received, "application/json")
	}
}

func TestClientFetchContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html></html>"))
	}))
	defer server.Close()

	client := NewClient(nil, nil)
	client.SetHTTPClient(server.Client())

	resp, err := client.Fetch(context.Background(), server.URL+"/simple/x/", nil)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if resp.ContentType != "text/html; charset=utf-8" {
		t.Errorf("ContentType = %q", resp.ContentType)
	}
	if resp.URL != server.URL+"/simple/x/" {
		t.Errorf("URL = %q", resp.URL)
	}
}

func TestClientGetText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text response"))
	}))
	defer server.Close()

	client := NewClient(nil, nil)
	client.SetHTTPClient(server.Client())

	text, err := client.GetText(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("GetText() error: %v", err)
	}
	if text != "plain text response" {
		t.Errorf("GetText() = %q", text)
	}
}

func TestClientStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		wantErr   error
		retryable bool
	}{
		{http.StatusNotFound, ErrNotFound, false},
		{http.StatusGone, ErrNotFound, false},
		{http.StatusInternalServerError, ErrNetwork, true},
		{http.StatusTooManyRequests, ErrNetwork, true},
		{http.StatusForbidden, ErrNetwork, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewClient(nil, nil)
			client.SetHTTPClient(server.Client())

			_, err := client.GetText(context.Background(), server.URL)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if httputil.IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", httputil.IsRetryable(err), tt.retryable)
			}
		})
	}
}

func TestClientCached(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"name":"requests"}`))
	}))
	defer server.Close()

	c := testCache(t)
	client := NewClient(c, nil)
	client.SetHTTPClient(server.Client())

	type doc struct {
		Name string `json:"name"`
	}
	fetch := func(ctx context.Context, cl *Client, refresh bool) doc {
		var d doc
		err := cl.Cached(ctx, "pip:requests", refresh, &d, func() error {
			return cl.Get(ctx, server.URL, &d)
		})
		if err != nil {
			t.Fatalf("Cached() error: %v", err)
		}
		return d
	}

	ctx := context.Background()
	if d := fetch(ctx, client, false); d.Name != "requests" {
		t.Errorf("first fetch = %+v", d)
	}
	fetch(ctx, client, false)
	if hits.Load() != 1 {
		t.Errorf("memo should serve second call, hits = %d", hits.Load())
	}

	// A fresh client shares only the disk cache.
	other := NewClient(c, nil)
	other.SetHTTPClient(server.Client())
	if d := fetch(ctx, other, false); d.Name != "requests" || hits.Load() != 1 {
		t.Errorf("disk cache miss: %+v hits=%d", d, hits.Load())
	}

	fetch(ctx, client, true)
	if hits.Load() != 2 {
		t.Errorf("refresh should bypass caches, hits = %d", hits.Load())
	}
}

func TestClientCachedRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := NewClient(nil, nil)
	client.SetHTTPClient(server.Client())
	client.SetBackoff(fastBackoff())

	var v map[string]bool
	err := client.Cached(context.Background(), "k", false, &v, func() error {
		return client.Get(context.Background(), server.URL, &v)
	})
	if err != nil {
		t.Fatalf("Cached() error: %v", err)
	}
	if hits.Load() != 3 || !v["ok"] {
		t.Errorf("hits = %d, v = %v", hits.Load(), v)
	}
}

func TestNormalizePkgName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"FastAPI", "fastapi"},
		{"my_package", "my-package"},
		{"zope.interface", "zope-interface"},
		{"a__b--c", "a-b-c"},
		{"  Spaces  ", "spaces"},
	}
	for _, tt := range tests {
		if got := NormalizePkgName(tt.in); got != tt.want {
			t.Errorf("NormalizePkgName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEscapeNpmName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"react", "react"},
		{"@types/node", "@types%2Fnode"},
	}
	for _, tt := range tests {
		if got := EscapeNpmName(tt.in); got != tt.want {
			t.Errorf("EscapeNpmName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveURL(t *testing.T) {
	got := ResolveURL("https://mirror.example/simple/requests/", "../../packages/ab/requests-2.31.0.tar.gz#sha256=00")
	want := "https://mirror.example/packages/ab/requests-2.31.0.tar.gz#sha256=00"
	if got != want {
		t.Errorf("ResolveURL() = %q, want %q", got, want)
	}
}
