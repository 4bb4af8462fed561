package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/smoothdeps/pkg/source"
)

func newRegistry(t *testing.T, srcs ...source.Source) *source.Registry {
	t.Helper()
	r, err := source.NewRegistry(srcs...)
	require.NoError(t, err)
	return r
}

func pipSource(name, url string, prio int) source.Source {
	return source.Source{Name: name, Kind: source.KindPip, URL: url, Priority: prio}
}

func okServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		switch r.URL.Path {
		case "/simple/pip/", "/-/ping":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeURL(t *testing.T) {
	method, url := ProbeURL(source.Source{Kind: source.KindPip, URL: "https://pypi.org/simple/"})
	assert.Equal(t, http.MethodHead, method)
	assert.Equal(t, "https://pypi.org/simple/pip/", url)

	method, url = ProbeURL(source.Source{Kind: source.KindNpm, URL: "https://registry.npmjs.org"})
	assert.Equal(t, http.MethodGet, method)
	assert.Equal(t, "https://registry.npmjs.org/-/ping", url)
}

func TestProber_ProbeAll(t *testing.T) {
	good := okServer(t, nil)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	reg := newRegistry(t,
		pipSource("good", good.URL+"/simple", 1),
		pipSource("bad", bad.URL+"/simple", 2),
		source.Source{Name: "npm", Kind: source.KindNpm, URL: good.URL, Priority: 1},
	)
	m := NewMap(DefaultPolicy(), nil)
	p := NewProber(reg, m)

	recs, err := p.ProbeAll(context.Background(), source.KindPip)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "pip/good", recs[0].Source)
	assert.Equal(t, StatusHealthy, recs[0].Status)
	assert.NotNil(t, recs[0].LatencyMS)
	assert.Equal(t, 1, recs[1].ConsecutiveFailures)
	assert.Contains(t, recs[1].LastError, "502")

	_, ok := m.Get("npm/npm")
	assert.False(t, ok, "npm sources are not probed for pip")

	// Three rounds against the failing mirror mark it DOWN.
	for i := 0; i < 2; i++ {
		_, err := p.ProbeAll(context.Background(), source.KindPip)
		require.NoError(t, err)
	}
	assert.Equal(t, StatusDown, m.Status("pip/bad"))
	assert.Equal(t, StatusHealthy, m.Status("pip/good"))
}

func TestProber_RedirectCountsAsUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://elsewhere.invalid/pip/", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	m := NewMap(DefaultPolicy(), nil)
	p := NewProber(newRegistry(t, pipSource("r", srv.URL, 1)), m)
	rec := p.Probe(context.Background(), pipSource("r", srv.URL, 1))
	assert.Equal(t, 0, rec.ConsecutiveFailures)
}

func TestProber_Timeout(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	m := NewMap(Policy{ProbeTimeout: 50 * time.Millisecond}, nil)
	p := NewProber(newRegistry(t, pipSource("slow", slow.URL, 1)), m)

	start := time.Now()
	rec := p.Probe(context.Background(), pipSource("slow", slow.URL, 1))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, rec.ConsecutiveFailures)
	assert.Nil(t, rec.LatencyMS)
}

func TestProber_DegradedBySlowAnswer(t *testing.T) {
	mock := clock.NewMock()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.Add(2500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := NewMap(DefaultPolicy(), mock)
	src := pipSource("far", srv.URL, 1)
	p := NewProber(newRegistry(t, src), m)

	rec := p.Probe(context.Background(), src)
	assert.Equal(t, StatusDegraded, rec.Status)
	assert.Equal(t, int64(2500), *rec.LatencyMS)
}

func TestProber_ConcurrencyLimit(t *testing.T) {
	var inflight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
	}))
	defer srv.Close()

	var srcs []source.Source
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		srcs = append(srcs, pipSource(name, srv.URL, 1))
	}
	m := NewMap(Policy{Concurrency: 2}, nil)
	p := NewProber(newRegistry(t, srcs...), m)

	recs, err := p.ProbeAll(context.Background(), source.KindPip)
	require.NoError(t, err)
	assert.Len(t, recs, 8)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestProber_EnsureFresh(t *testing.T) {
	var hits atomic.Int32
	srv := okServer(t, &hits)
	mock := clock.NewMock()
	m := NewMap(DefaultPolicy(), mock)
	p := NewProber(newRegistry(t, pipSource("a", srv.URL+"/simple", 1)), m)

	assert.True(t, p.Stale(source.KindPip))
	probed, err := p.EnsureFresh(context.Background(), source.KindPip)
	require.NoError(t, err)
	assert.True(t, probed)
	assert.Equal(t, int32(1), hits.Load())

	mock.Add(4 * time.Minute)
	probed, _ = p.EnsureFresh(context.Background(), source.KindPip)
	assert.False(t, probed)
	assert.Equal(t, int32(1), hits.Load())

	mock.Add(2 * time.Minute)
	probed, _ = p.EnsureFresh(context.Background(), source.KindPip)
	assert.True(t, probed)
	assert.Equal(t, int32(2), hits.Load())
}

func TestProber_MarkFailureAndStore(t *testing.T) {
	store := &MemoryStore{}
	m := NewMap(DefaultPolicy(), nil)
	src := pipSource("a", "https://a.example/simple", 1)
	p := NewProber(newRegistry(t, src), m, WithStore(store))

	for i := 0; i < 3; i++ {
		p.MarkFailure(context.Background(), src, errors.New("pip exited 1"))
	}
	assert.Equal(t, StatusDown, m.Status(src.Key()))

	saved, _ := store.Load(context.Background())
	require.Len(t, saved, 1)
	assert.Equal(t, 3, saved[0].ConsecutiveFailures)

	fresh := NewMap(DefaultPolicy(), nil)
	p2 := NewProber(newRegistry(t, src), fresh, WithStore(store))
	require.NoError(t, p2.Restore(context.Background()))
	assert.Equal(t, StatusDown, fresh.Status(src.Key()))
}

func TestProber_Run(t *testing.T) {
	var hits atomic.Int32
	srv := okServer(t, &hits)
	p := NewProber(newRegistry(t, pipSource("a", srv.URL+"/simple", 1)), NewMap(DefaultPolicy(), nil))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var runErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		runErr = p.Run(ctx, 10*time.Millisecond)
	}()

	require.Eventually(t, func() bool { return hits.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()
	assert.ErrorIs(t, runErr, context.Canceled)
}

func TestProber_ProbeAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewProber(newRegistry(t, pipSource("a", "https://a.example/simple", 1)), NewMap(DefaultPolicy(), nil))
	_, err := p.ProbeAll(ctx, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProber_Forget(t *testing.T) {
	store := &MemoryStore{}
	m := NewMap(DefaultPolicy(), nil)
	src := pipSource("a", "https://a.example/simple", 1)
	p := NewProber(newRegistry(t, src), m, WithStore(store))

	p.MarkFailure(context.Background(), src, errors.New("boom"))
	p.Forget(context.Background(), src)

	_, ok := m.Get(src.Key())
	assert.False(t, ok)
	saved, _ := store.Load(context.Background())
	assert.Empty(t, saved)
}
