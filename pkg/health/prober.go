package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/smoothdeps/pkg/observability"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// Lister is the slice of the source registry the prober needs.
type Lister interface {
	List(kind source.Kind) []source.Source
}

// Prober issues lightweight HTTP checks against every registered source and
// folds the outcomes into its [Map].
type Prober struct {
	sources   Lister
	health    *Map
	client    *http.Client
	logger    *log.Logger
	store     Store
	userAgent string
}

// Option configures a Prober.
type Option func(*Prober)

// WithHTTPClient replaces the HTTP client used for probes. Per-probe
// deadlines come from [Policy.ProbeTimeout] regardless of the client's own
// timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// WithLogger sets the logger. Probe outcomes are logged at debug level.
func WithLogger(l *log.Logger) Option {
	return func(p *Prober) { p.logger = l }
}

// WithStore persists the map after every probe round.
func WithStore(s Store) Option {
	return func(p *Prober) { p.store = s }
}

// WithUserAgent sets the User-Agent header on probe requests.
func WithUserAgent(ua string) Option {
	return func(p *Prober) { p.userAgent = ua }
}

// NewProber creates a prober over sources that records into m.
func NewProber(sources Lister, m *Map, opts ...Option) *Prober {
	p := &Prober{
		sources: sources,
		health:  m,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.Default()
	}
	if p.client.CheckRedirect == nil {
		// A redirect is an answer; following it would probe some other host.
		c := *p.client
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
		p.client = &c
	}
	return p
}

// Health returns the map the prober writes to.
func (p *Prober) Health() *Map { return p.health }

func (p *Prober) clk() clock.Clock { return p.health.clock }

// ProbeURL returns the endpoint probed for src and the HTTP method used.
//
// pip mirrors are asked for the PEP 503 page of pip itself, which every
// index carries. npm registries expose a dedicated ping endpoint.
func ProbeURL(src source.Source) (method, url string) {
	switch src.Kind {
	case source.KindNpm:
		return http.MethodGet, src.BaseURL() + "/-/ping"
	default:
		return http.MethodHead, src.BaseURL() + "/pip/"
	}
}

// Probe checks one source and records the outcome.
func (p *Prober) Probe(ctx context.Context, src source.Source) Record {
	ctx, cancel := context.WithTimeout(ctx, p.health.policy.ProbeTimeout)
	defer cancel()

	start := p.clk().Now()
	err := p.check(ctx, src)
	latency := p.clk().Since(start)

	var rec Record
	if err != nil {
		rec = p.health.RecordFailure(src.Key(), err)
		p.logger.Debug("probe failed", "source", src.Name, "kind", src.Kind, "failures", rec.ConsecutiveFailures, "err", err)
	} else {
		rec = p.health.RecordSuccess(src.Key(), latency)
		p.logger.Debug("probe ok", "source", src.Name, "kind", src.Kind, "latency", latency, "status", rec.Status)
	}
	observability.Probe().OnProbe(ctx, src.Kind.String(), src.Name, latency, rec.Status.String(), err)
	return rec
}

func (p *Prober) check(ctx context.Context, src source.Source) error {
	method, url := ProbeURL(src)
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// ProbeAll probes every source of kind in parallel, bounded by
// [Policy.Concurrency]. An empty kind probes all kinds. The returned records
// follow the registry order. The only error is a cancelled ctx.
func (p *Prober) ProbeAll(ctx context.Context, kind source.Kind) ([]Record, error) {
	srcs := p.sources.List(kind)
	out := make([]Record, len(srcs))

	var g errgroup.Group
	g.SetLimit(p.health.policy.Concurrency)
	for i, src := range srcs {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			out[i] = p.Probe(ctx, src)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.save(ctx)
	return out, nil
}

// Stale reports whether any source of kind has no record or a record older
// than [Policy.Freshness].
func (p *Prober) Stale(kind source.Kind) bool {
	now := p.clk().Now()
	for _, src := range p.sources.List(kind) {
		r, ok := p.health.Get(src.Key())
		if !ok || r.LastProbe.IsZero() || now.Sub(r.LastProbe) > p.health.policy.Freshness {
			return true
		}
	}
	return false
}

// EnsureFresh probes kind if its data is stale and reports whether it did.
func (p *Prober) EnsureFresh(ctx context.Context, kind source.Kind) (bool, error) {
	if !p.Stale(kind) {
		return false, nil
	}
	if _, err := p.ProbeAll(ctx, kind); err != nil {
		return true, err
	}
	return true, nil
}

// MarkFailure records a failure the installer observed against src. It
// counts toward DOWN exactly like a failed probe.
func (p *Prober) MarkFailure(ctx context.Context, src source.Source, cause error) Record {
	rec := p.health.MarkFailure(src.Key(), cause)
	if rec.Down() {
		p.logger.Warn("source marked down", "source", src.Name, "kind", src.Kind, "failures", rec.ConsecutiveFailures)
	}
	observability.Probe().OnMarkFailure(ctx, src.Kind.String(), src.Name, rec.Status.String())
	p.save(ctx)
	return rec
}

// Forget drops the record for src and persists the change. Called when a
// source is removed from the registry.
func (p *Prober) Forget(ctx context.Context, src source.Source) {
	p.health.Reset(src.Key())
	p.save(ctx)
}

// Run probes every source immediately and then once per interval until ctx
// is done.
func (p *Prober) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = p.health.policy.Freshness
	}
	ticker := p.clk().Ticker(interval)
	defer ticker.Stop()

	for {
		start := p.clk().Now()
		recs, err := p.ProbeAll(ctx, "")
		if err != nil {
			return err
		}
		p.logger.Info("probe round", "sources", len(recs), "down", countDown(recs), "duration", p.clk().Since(start))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Restore seeds the map from the configured store. A missing store is not
// an error; health data may always be rebuilt by probing.
func (p *Prober) Restore(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	recs, err := p.store.Load(ctx)
	if err != nil {
		return err
	}
	p.health.Seed(recs...)
	return nil
}

func (p *Prober) save(ctx context.Context) {
	if p.store == nil {
		return
	}
	if err := p.store.Save(ctx, p.health.Records()); err != nil {
		p.logger.Warn("health state not saved", "err", err)
	}
}

func countDown(recs []Record) int {
	n := 0
	for _, r := range recs {
		if r.Down() {
			n++
		}
	}
	return n
}
