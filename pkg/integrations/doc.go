// Package integrations provides HTTP clients for package mirrors.
//
// # Overview
//
// Each mirror kind has its own subpackage:
//
//   - [pypi]: PEP 691/503 simple indexes and the PyPI JSON API
//   - [npm]: npm registry packuments
//
// A client is bound to one mirror's base URL, so the installer creates one
// per candidate source and the failover loop never mixes answers from two
// mirrors.
//
// # Shared Infrastructure
//
// The [Client] type provides the HTTP plumbing used by both subpackages:
// default headers (User-Agent), status classification into [ErrNotFound]
// and retryable [ErrNetwork] errors, retries through [httputil.Backoff],
// and two cache layers (an LRU memo and an optional disk
// [httputil.Cache]).
//
//	client := integrations.NewClient(cache, map[string]string{"User-Agent": "smoothdeps/1.0"})
//	var v map[string]any
//	err := client.Cached(ctx, "key", false, &v, func() error {
//	    return client.Get(ctx, url, &v)
//	})
//
// Every request is reported to the [observability.HTTPHooks].
//
// [pypi]: github.com/matzehuels/smoothdeps/pkg/integrations/pypi
// [npm]: github.com/matzehuels/smoothdeps/pkg/integrations/npm
// [httputil.Backoff]: github.com/matzehuels/smoothdeps/pkg/httputil.Backoff
// [httputil.Cache]: github.com/matzehuels/smoothdeps/pkg/httputil.Cache
// [observability.HTTPHooks]: github.com/matzehuels/smoothdeps/pkg/observability.HTTPHooks
package integrations
