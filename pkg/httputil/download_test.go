package httputil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func artifactServer(t *testing.T, body []byte) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var ranges []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			mu.Lock()
			ranges = append(ranges, r.Header.Get("Range"))
			mu.Unlock()
		}
		if r.URL.Path != "/requests-2.31.0-py3-none-any.whl" {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "artifact", time.Time{}, bytes.NewReader(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &ranges
}

func sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func TestDownloader_Download(t *testing.T) {
	body := bytes.Repeat([]byte("wheel"), 1000)
	srv, _ := artifactServer(t, body)

	dest := filepath.Join(t.TempDir(), "requests.whl")
	d := NewDownloader(srv.Client())
	n, err := d.Download(context.Background(), srv.URL+"/requests-2.31.0-py3-none-any.whl", dest, SHA256(sum(body)))
	if err != nil {
		t.Fatalf("Download() failed: %v", err)
	}
	if n != int64(len(body)) {
		t.Errorf("Download() = %d bytes, want %d", n, len(body))
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Error("partial file should be renamed away")
	}
}

func TestDownloader_Resume(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789"), 500)
	srv, ranges := artifactServer(t, body)

	dest := filepath.Join(t.TempDir(), "requests.whl")
	if err := os.WriteFile(dest+".part", body[:2000], 0o644); err != nil {
		t.Fatal(err)
	}

	d := NewDownloader(srv.Client())
	if _, err := d.Download(context.Background(), srv.URL+"/requests-2.31.0-py3-none-any.whl", dest, SHA256(sum(body))); err != nil {
		t.Fatalf("Download() failed: %v", err)
	}

	if len(*ranges) != 1 || (*ranges)[0] != "bytes=2000-" {
		t.Errorf("GET ranges = %v, want [bytes=2000-]", *ranges)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, body) {
		t.Error("resumed file content differs from source")
	}
}

func TestDownloader_DigestMismatch(t *testing.T) {
	body := []byte("tampered")
	srv, _ := artifactServer(t, body)

	dest := filepath.Join(t.TempDir(), "requests.whl")
	d := NewDownloader(srv.Client())
	_, err := d.Download(context.Background(), srv.URL+"/requests-2.31.0-py3-none-any.whl", dest, SHA256(sum([]byte("original"))))
	if !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("Download() error = %v, want ErrDigestMismatch", err)
	}
	if !IsRetryable(err) {
		t.Error("digest mismatch should be retryable")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("dest must not exist after a mismatch")
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Error("partial file must be removed after a mismatch")
	}
}

func TestDownloader_NotFound(t *testing.T) {
	srv, _ := artifactServer(t, nil)

	d := NewDownloader(srv.Client())
	_, err := d.Download(context.Background(), srv.URL+"/missing.whl", filepath.Join(t.TempDir(), "x"), Digest{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Download() error = %v, want ErrNotFound", err)
	}
	if IsRetryable(err) {
		t.Error("404 must not be retryable")
	}
}

func TestDownloader_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client())
	_, err := d.Download(context.Background(), srv.URL+"/x.tgz", filepath.Join(t.TempDir(), "x"), Digest{})
	if !IsRetryable(err) || !errors.Is(err, ErrNetwork) {
		t.Errorf("Download() error = %v, want retryable ErrNetwork", err)
	}
}

func TestDownloader_UserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client(), WithUserAgent("smoothdeps/test"))
	if _, err := d.Download(context.Background(), srv.URL+"/a", filepath.Join(t.TempDir(), "a"), Digest{}); err != nil {
		t.Fatalf("Download() failed: %v", err)
	}
	if ua != "smoothdeps/test" {
		t.Errorf("User-Agent = %q, want %q", ua, "smoothdeps/test")
	}
}
