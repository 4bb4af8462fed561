package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/schollz/progressbar/v3"
)

// Sentinel errors shared by registry clients and the downloader.
var (
	// ErrNotFound is returned when a package, file or index page doesn't exist.
	ErrNotFound = errors.New("resource not found")

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, bad statuses).
	ErrNetwork = errors.New("network error")
)

// Downloader fetches artifacts to disk. Interrupted transfers leave a
// "<dest>.part" file that the next call resumes with a Range request when
// the server advertises byte ranges.
type Downloader struct {
	client    *http.Client
	userAgent string
	progress  io.Writer
}

// DownloaderOption configures a [Downloader].
type DownloaderOption func(*Downloader)

// WithUserAgent sets the User-Agent header for every request.
func WithUserAgent(ua string) DownloaderOption {
	return func(d *Downloader) { d.userAgent = ua }
}

// WithProgress renders a progress bar to w. A nil writer disables it.
func WithProgress(w io.Writer) DownloaderOption {
	return func(d *Downloader) { d.progress = w }
}

// NewDownloader creates a Downloader. A nil client uses a client without an
// overall timeout; callers bound transfers through the context.
func NewDownloader(client *http.Client, opts ...DownloaderOption) *Downloader {
	if client == nil {
		client = &http.Client{}
	}
	d := &Downloader{client: client, userAgent: "smoothdeps"}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download fetches url into dest and verifies it against want.
// It returns the number of bytes in dest.
//
// Errors are classified for [Backoff.Do]: connection failures, 5xx answers,
// truncated bodies and digest mismatches are [RetryableError]s; a 404 wraps
// [ErrNotFound] and is not retryable.
func (d *Downloader) Download(ctx context.Context, url, dest string, want Digest) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	part := dest + ".part"

	size, ranges, err := d.head(ctx, url)
	if err != nil {
		return 0, err
	}

	var offset int64
	if info, err := os.Stat(part); err == nil {
		if ranges && size > 0 && info.Size() <= size {
			offset = info.Size()
		} else {
			_ = os.Remove(part)
		}
	}

	if size <= 0 || offset < size {
		if err := d.fetch(ctx, url, part, offset, size); err != nil {
			return 0, err
		}
	}

	if err := want.Verify(part); err != nil {
		_ = os.Remove(part)
		if errors.Is(err, ErrDigestMismatch) {
			return 0, Retryable(err)
		}
		return 0, err
	}
	info, err := os.Stat(part)
	if err != nil {
		return 0, err
	}
	if err := os.Rename(part, dest); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// head reports the content length and whether byte ranges are accepted.
// Servers that reject HEAD are treated as "unknown size, no ranges".
func (d *Downloader) head(ctx context.Context, url string) (int64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false, err
	}
	d.setHeaders(req)
	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		return 0, false, Retryable(fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, false, fmt.Errorf("%w: %s", ErrNotFound, url)
	case resp.StatusCode >= 500:
		return 0, false, Retryable(fmt.Errorf("%w: HEAD %s: status %d", ErrNetwork, url, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return 0, false, nil
	}
	return resp.ContentLength, resp.Header.Get("Accept-Ranges") == "bytes", nil
}

func (d *Downloader) fetch(ctx context.Context, url, part string, offset, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	d.setHeaders(req)
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return Retryable(fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		flags |= os.O_APPEND
	case resp.StatusCode == http.StatusOK:
		flags |= os.O_TRUNC
		offset = 0
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		_ = os.Remove(part)
		return Retryable(fmt.Errorf("%w: stale partial download for %s", ErrNetwork, url))
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	case resp.StatusCode >= 500:
		return Retryable(fmt.Errorf("%w: GET %s: status %d", ErrNetwork, url, resp.StatusCode))
	default:
		return fmt.Errorf("%w: GET %s: status %d", ErrNetwork, url, resp.StatusCode)
	}

	out, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return err
	}

	var w io.Writer = out
	if d.progress != nil {
		total := size
		if total <= 0 && resp.ContentLength > 0 {
			total = offset + resp.ContentLength
		}
		bar := progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(d.progress),
			progressbar.OptionSetDescription(filepath.Base(url)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		_ = bar.Set64(offset)
		w = io.MultiWriter(out, bar)
	}

	// Keep the partial file on copy errors so the next attempt can resume.
	_, copyErr := io.Copy(w, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return Retryable(fmt.Errorf("%w: read %s: %v", ErrNetwork, url, copyErr))
	}
	return closeErr
}

func (d *Downloader) setHeaders(req *http.Request) {
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
}
