// Package httputil provides the HTTP plumbing shared by registry clients,
// the health prober and the installer.
//
// # Overview
//
//   - [Backoff]: exponential retry of transient failures
//   - [Cache]: file-based cache of registry responses
//   - [Downloader]: resumable artifact downloads with a progress bar
//   - [Digest]: integrity verification (sha256, sha512 SRI, sha1)
//
// # Retry
//
// Only errors wrapped in [RetryableError] are retried. Everything else is
// treated as terminal and returned immediately:
//
//	b := httputil.Backoff{Attempts: 3, Base: time.Second, Factor: 2}
//	err := b.Do(ctx, func(attempt int) error {
//	    return fetch(ctx)
//	})
//
// With the defaults a persistently failing call runs 3 times, waiting 1s
// and then 2s.
//
// # Downloads
//
// [Downloader.Download] issues a HEAD request to learn the size and whether
// the mirror honours byte ranges, then streams into "<dest>.part". A failed
// transfer keeps the partial file; the next attempt resumes with a Range
// header. The file is only renamed to dest after its digest matches.
package httputil
