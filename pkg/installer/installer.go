package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/smoothdeps/pkg/cache"
	"github.com/matzehuels/smoothdeps/pkg/constraint"
	"github.com/matzehuels/smoothdeps/pkg/deps"
	smerrors "github.com/matzehuels/smoothdeps/pkg/errors"
	"github.com/matzehuels/smoothdeps/pkg/health"
	"github.com/matzehuels/smoothdeps/pkg/httputil"
	"github.com/matzehuels/smoothdeps/pkg/observability"
	"github.com/matzehuels/smoothdeps/pkg/selector"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// DefaultMaxSourceRetries is the number of distinct sources tried per
// package.
const DefaultMaxSourceRetries = 3

// Request is one install invocation. It is never persisted.
type Request struct {
	Packages    []deps.Requirement
	Kind        source.Kind
	Source      string // Explicit source name; disables failover
	Environment deps.Environment
	Dir         string // Working directory for the package manager
	NoDeps      bool
	Offline     bool // Install from cache only

	// Preferred maps normalized package names to the source to try first.
	// Unlike Source it keeps failover. Lock files fill it in.
	Preferred map[string]string

	// Indirect holds the normalized names of packages listed only to pin
	// another package's dependency. Their results are marked Indirect.
	Indirect map[string]bool
}

// Validate checks the kind and every package name.
func (r Request) Validate() error {
	if !r.Kind.Valid() {
		return smerrors.New(smerrors.ErrCodeInvalidInput, "unknown installer kind %q", r.Kind)
	}
	if len(r.Packages) == 0 {
		return smerrors.New(smerrors.ErrCodeInvalidInput, "no packages to install")
	}
	for _, p := range r.Packages {
		var err error
		if r.Kind == source.KindNpm {
			err = smerrors.ValidateNpmPackageName(p.Name)
		} else {
			err = smerrors.ValidatePythonPackageName(p.Name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Installed is one package that ended up installed.
type Installed struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Source    string `json:"source"`
	FromCache bool   `json:"from_cache,omitempty"`
	Indirect  bool   `json:"indirect,omitempty"`

	// Dependencies is the closure installed with the package, as resolved
	// by the package manager. Empty with --no-deps or when it could not be
	// read.
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

// Failure is one package that could not be installed.
type Failure struct {
	Package string        `json:"package"`
	Code    smerrors.Code `json:"code"`
	Message string        `json:"message"`
	err     error
}

// Err returns the underlying error.
func (f Failure) Err() error { return f.err }

// ConflictOutput is the package manager output of a run that stopped on a
// version conflict.
type ConflictOutput struct {
	Package string `json:"package"`
	Spec    string `json:"spec,omitempty"`
	Source  string `json:"source"`
	Output  string `json:"output"`
}

// Attempt is one try of one package against one source, or against the
// cache (Source "cache").
type Attempt struct {
	Package string        `json:"package"`
	Source  string        `json:"source"`
	Try     int           `json:"try"`
	Outcome Outcome       `json:"outcome"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
	At      time.Time     `json:"at"`
}

// CacheSource names the cache in attempts.
const CacheSource = "cache"

// Result summarizes an install.
type Result struct {
	RunID       string           `json:"run_id"`
	Kind        source.Kind      `json:"kind"`
	Environment deps.Environment `json:"environment"`
	Succeeded   []Installed      `json:"succeeded"`
	Failed      []Failure        `json:"failed,omitempty"`
	Conflicts   []ConflictOutput `json:"conflicts,omitempty"`
	UsedSources []string         `json:"used_sources,omitempty"`
	CacheHits   int              `json:"cache_hits"`
	Duration    time.Duration    `json:"duration"`
	Attempts    []Attempt        `json:"attempts"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// OK reports whether no package failed. Conflicts do not count.
func (r *Result) OK() bool { return len(r.Failed) == 0 }

// Err returns nil when every package succeeded. Otherwise it returns the
// first exhaustion error if any, else the first failure.
func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	for _, f := range r.Failed {
		if f.Code == smerrors.ErrCodeAllSourcesExhausted {
			return f.err
		}
	}
	return r.Failed[0].err
}

// Selector picks sources. [selector.Selector] implements it.
type Selector interface {
	Select(ctx context.Context, kind source.Kind, override string) (selector.Selection, error)
	Next(kind source.Kind, tried map[string]bool) (source.Source, error)
}

// FailureMarker records failures seen during installs. [health.Prober]
// implements it.
type FailureMarker interface {
	MarkFailure(ctx context.Context, src source.Source, cause error) health.Record
}

// Installer runs install requests: cache first, then the selected source,
// failing over to other sources on source-level errors.
type Installer struct {
	selector   Selector
	marker     FailureMarker
	cache      cache.Store
	fetcher    Fetcher
	runner     Runner
	commands   Commands
	backoff    httputil.Backoff
	maxSources int
	scratch    string
	python     string
	clock      clock.Clock
	logger     *log.Logger

	pythonOnce sync.Once
}

// Option configures an [Installer].
type Option func(*Installer)

// WithCache sets the artifact store. The default keeps nothing.
func WithCache(s cache.Store) Option { return func(in *Installer) { in.cache = s } }

// WithFetcher sets how artifacts are resolved and downloaded.
func WithFetcher(f Fetcher) Option { return func(in *Installer) { in.fetcher = f } }

// WithRunner sets how package managers are executed.
func WithRunner(r Runner) Option { return func(in *Installer) { in.runner = r } }

// WithCommands sets the package manager entry points.
func WithCommands(c Commands) Option { return func(in *Installer) { in.commands = c } }

// WithBackoff sets the per-source retry policy for transient errors.
func WithBackoff(b httputil.Backoff) Option { return func(in *Installer) { in.backoff = b } }

// WithMaxSourceRetries sets how many distinct sources a package may try.
func WithMaxSourceRetries(n int) Option {
	return func(in *Installer) {
		if n > 0 {
			in.maxSources = n
		}
	}
}

// WithScratchDir sets where downloads are staged.
func WithScratchDir(dir string) Option { return func(in *Installer) { in.scratch = dir } }

// WithPython sets the interpreter version files are matched against. The
// default asks pip.
func WithPython(version string) Option { return func(in *Installer) { in.python = version } }

// WithClock sets the clock used for attempt timestamps and durations and
// for retry waits.
func WithClock(c clock.Clock) Option { return func(in *Installer) { in.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option { return func(in *Installer) { in.logger = l } }

// New creates an installer. marker may be nil.
func New(sel Selector, marker FailureMarker, opts ...Option) *Installer {
	in := &Installer{
		selector:   sel,
		marker:     marker,
		cache:      cache.NewNullStore(),
		commands:   DefaultCommands(),
		backoff:    httputil.DefaultBackoff(),
		maxSources: DefaultMaxSourceRetries,
		scratch:    filepath.Join(os.TempDir(), "smoothdeps"),
		clock:      clock.New(),
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.fetcher == nil {
		in.fetcher = NewRegistryFetcher(nil, nil, nil)
	}
	if in.runner == nil {
		in.runner = ExecRunner{Logger: in.logger}
	}
	return in
}

// run is the state of one Install call.
type run struct {
	req     Request
	res     *Result
	scratch string
}

func (r *run) record(a Attempt) { r.res.Attempts = append(r.res.Attempts, a) }

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if !slices.Contains(r.res.Warnings, msg) {
		r.res.Warnings = append(r.res.Warnings, msg)
	}
}

func (r *run) succeed(i Installed) {
	i.Indirect = r.req.Indirect[i.Name]
	r.res.Succeeded = append(r.res.Succeeded, i)
	if i.Source != "" && !i.FromCache && !slices.Contains(r.res.UsedSources, i.Source) {
		r.res.UsedSources = append(r.res.UsedSources, i.Source)
	}
}

// Install processes req.Packages in order. Per-package failures are
// collected in the result; the returned error is reserved for invalid
// requests and cancellation.
func (in *Installer) Install(ctx context.Context, req Request) (*Result, error) {
	if req.Environment == "" {
		req.Environment = deps.EnvProd
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := in.clock.Now()
	res := &Result{RunID: uuid.NewString(), Kind: req.Kind, Environment: req.Environment}
	defer func() {
		res.Duration = in.clock.Since(start)
		observability.Install().OnInstallComplete(ctx, req.Kind.String(),
			len(res.Succeeded), len(res.Failed), res.CacheHits, res.Duration)
	}()

	if req.Kind == source.KindPip {
		in.detectPython(ctx)
	}
	if err := os.MkdirAll(in.scratch, 0o755); err != nil {
		return nil, err
	}
	scratch, err := os.MkdirTemp(in.scratch, "install-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(scratch)

	r := &run{req: req, res: res, scratch: scratch}
	for _, pkg := range req.Packages {
		if err := in.installOne(ctx, r, pkg); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			in.logger.Error("install failed", "package", pkg.Name, "err", smerrors.UserMessage(err))
			res.Failed = append(res.Failed, Failure{
				Package: pkg.String(),
				Code:    smerrors.GetCode(err),
				Message: smerrors.UserMessage(err),
				err:     err,
			})
		}
	}
	return res, nil
}

func (in *Installer) installOne(ctx context.Context, r *run, pkg deps.Requirement) error {
	set, err := specSet(r.req.Kind, pkg)
	if err != nil {
		return err
	}

	if ok, err := in.fromCache(ctx, r, pkg, set); ok || err != nil {
		return err
	}
	if r.req.Offline {
		return smerrors.New(smerrors.ErrCodePackageNotFound, "%s is not cached and --offline is set", pkg)
	}
	return in.fromNetwork(ctx, r, pkg)
}

// fromCache installs the highest cached version allowed by set. It reports
// false when the network should be tried.
func (in *Installer) fromCache(ctx context.Context, r *run, pkg deps.Requirement, set constraint.Set) (bool, error) {
	kind := r.req.Kind
	entry, err := in.cache.Lookup(ctx, pkg.Name, kind, set.Allows)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			in.logger.Warn("cache lookup failed", "package", pkg.Name, "err", err)
		}
		return false, ctx.Err()
	}

	var requires []string
	if !r.req.NoDeps {
		files, complete := in.cachedClosure(ctx, kind, entry)
		if !complete && !r.req.Offline {
			in.logger.Debug("dependencies not all cached, using mirrors", "package", pkg.Name, "version", entry.Version)
			return false, ctx.Err()
		}
		requires = files
	}

	target := entry.Path
	if kind == source.KindPip && len(pkg.Extras) > 0 {
		target = fileTarget(pkg, entry.Path)
	}

	start := in.clock.Now()
	out, err := in.runner.Run(ctx, in.commands.Offline(r.req, target, requires))
	if ctx.Err() != nil {
		return true, ctx.Err()
	}
	if err != nil {
		err = runError(kind, pkg.String(), out, err)
	}
	outcome := outcomeOf(err)
	in.observe(ctx, r, pkg, CacheSource, 1, outcome, err, start)

	switch outcome {
	case OutcomeOK:
		r.res.CacheHits++
		r.succeed(Installed{
			Name:         entry.Name,
			Version:      entry.Version,
			Source:       entry.Source,
			FromCache:    true,
			Dependencies: dependenciesOf(entry.Requires),
		})
		return true, nil
	case OutcomeConflict:
		r.res.Conflicts = append(r.res.Conflicts, ConflictOutput{Package: pkg.Name, Spec: pkg.Spec, Source: CacheSource, Output: string(out)})
		return true, nil
	}
	in.logger.Warn("offline install from cache failed, trying mirrors", "package", pkg.Name, "version", entry.Version, "err", smerrors.UserMessage(err))
	return false, nil
}

// fromNetwork tries the selected source, then failover candidates.
func (in *Installer) fromNetwork(ctx context.Context, r *run, pkg deps.Requirement) error {
	kind := r.req.Kind
	sel, err := in.choose(ctx, r, pkg)
	if err != nil {
		return err
	}

	src := sel.Source
	tried := map[string]bool{}
	var names []string
	for {
		tried[src.Key()] = true
		names = append(names, src.Name)

		err := in.trySource(ctx, r, pkg, src)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch outcomeOf(err) {
		case OutcomeTerminal:
			return err
		case OutcomeConflict:
			return nil
		}

		if in.marker != nil {
			in.marker.MarkFailure(ctx, src, err)
		}
		r.warn("%s: source %s failed: %s", pkg.Name, src.Name, smerrors.UserMessage(err))

		if sel.Override || len(tried) >= in.maxSources {
			return exhausted(pkg, names, err)
		}
		next, nerr := in.selector.Next(kind, tried)
		if nerr != nil {
			return exhausted(pkg, names, err)
		}
		in.logger.Warn("failing over", "package", pkg.Name, "from", src.Name, "to", next.Name)
		src = next
	}
}

func exhausted(pkg deps.Requirement, tried []string, last error) error {
	return smerrors.Wrap(smerrors.ErrCodeAllSourcesExhausted, last,
		"%s: all sources exhausted (tried %s)", pkg, strings.Join(tried, ", "))
}

// choose applies the explicit override, then the package's preferred
// source when it is usable, then normal selection.
func (in *Installer) choose(ctx context.Context, r *run, pkg deps.Requirement) (selector.Selection, error) {
	kind := r.req.Kind
	if r.req.Source != "" {
		sel, err := in.selector.Select(ctx, kind, r.req.Source)
		in.noteWarnings(r, sel)
		return sel, err
	}
	if pref := r.req.Preferred[kind.Normalize(pkg.Name)]; pref != "" {
		sel, err := in.selector.Select(ctx, kind, pref)
		if err == nil && !sel.HasWarning(selector.WarnOverrideDown) && !sel.Source.Disabled {
			sel.Override = false
			return sel, nil
		}
		in.logger.Debug("preferred source unusable", "package", pkg.Name, "source", pref)
	}
	sel, err := in.selector.Select(ctx, kind, "")
	in.noteWarnings(r, sel)
	return sel, err
}

func (in *Installer) noteWarnings(r *run, sel selector.Selection) {
	for _, w := range sel.Warnings {
		r.warn("%s", w.Message)
	}
}

// trySource retries transient failures against one source under the
// installer's backoff.
func (in *Installer) trySource(ctx context.Context, r *run, pkg deps.Requirement, src source.Source) error {
	b := in.backoff
	if b.Clock == nil {
		b.Clock = in.clock
	}
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		in.logger.Warn("transient failure, retrying", "package", pkg.Name, "source", src.Name,
			"attempt", attempt, "wait", wait, "err", smerrors.UserMessage(err))
	}
	return b.Do(ctx, func(try int) error {
		start := in.clock.Now()
		err := in.attempt(ctx, r, pkg, src)
		outcome := outcomeOf(err)
		if ctx.Err() == nil {
			in.observe(ctx, r, pkg, src.Name, try, outcome, err, start)
		}
		if outcome == OutcomeTransient && !httputil.IsRetryable(err) {
			return httputil.Retryable(err)
		}
		return err
	})
}

// attempt fetches pkg from src and runs the package manager once.
func (in *Installer) attempt(ctx context.Context, r *run, pkg deps.Requirement, src source.Source) error {
	kind := r.req.Kind
	art, err := in.fetcher.Fetch(ctx, src, pkg, r.scratch)
	if err != nil {
		return err
	}

	// npm installs the registry spec so that package.json records a
	// version rather than a scratch path; the tarball only feeds the cache.
	target := pinned(kind, pkg, art.Version).Target(kind)
	if art.Path != "" && kind == source.KindPip {
		target = art.Path
		if len(pkg.Extras) > 0 {
			target = fileTarget(pkg, art.Path)
		}
	}

	out, err := in.runner.Run(ctx, in.commands.Install(r.req, target, src))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = runError(kind, pkg.String(), out, err)
		if outcomeOf(err) == OutcomeConflict {
			r.res.Conflicts = append(r.res.Conflicts, ConflictOutput{Package: pkg.Name, Spec: pkg.Spec, Source: src.Name, Output: string(out)})
		}
		return err
	}

	inst := Installed{Name: kind.Normalize(art.Name), Version: art.Version, Source: src.Name}
	switch {
	case kind == source.KindNpm:
		inst.Dependencies = in.npmClosure(ctx, r, inst.Name, src)
	case !r.req.NoDeps || art.Path == "":
		inst.Dependencies = in.pipClosure(ctx, r, target, art, src)
	}
	if art.Path != "" {
		in.store(ctx, kind, art, src, inst.Dependencies)
	}
	r.succeed(inst)
	return nil
}

// fileTarget is the pip requirement installing pkg's extras from a file.
func fileTarget(pkg deps.Requirement, path string) string {
	return fmt.Sprintf("%s[%s] @ file://%s", pkg.Name, strings.Join(pkg.Extras, ","), filepath.ToSlash(path))
}

// store copies a successfully installed artifact into the cache with the
// closure it was installed with. Failures are logged; the install already
// succeeded.
func (in *Installer) store(ctx context.Context, kind source.Kind, art *Artifact, src source.Source, closure []Dependency) {
	a := cache.Artifact{
		Name:     art.Name,
		Version:  art.Version,
		Kind:     kind,
		Filename: art.Filename,
		Source:   src.Name,
		Requires: pinsOf(closure),
	}
	if art.Digest.Algorithm == "sha256" {
		a.SHA256 = art.Digest.Hex
	}
	in.put(ctx, a, art.Path)
}

func (in *Installer) observe(ctx context.Context, r *run, pkg deps.Requirement, src string, try int, outcome Outcome, err error, start time.Time) {
	latency := in.clock.Since(start)
	a := Attempt{
		Package: pkg.Name,
		Source:  src,
		Try:     try,
		Outcome: outcome,
		Latency: latency,
		At:      start,
	}
	if err != nil {
		a.Error = smerrors.UserMessage(err)
	}
	r.record(a)
	observability.Install().OnAttempt(ctx, r.req.Kind.String(), pkg.Name, src, string(outcome), latency)

	if outcome == OutcomeOK {
		in.logger.Info("installed", "package", pkg.Name, "source", src, "latency", latency.Round(time.Millisecond))
	} else {
		in.logger.Debug("attempt failed", "package", pkg.Name, "source", src, "try", try, "kind", outcome, "err", a.Error)
	}
}
