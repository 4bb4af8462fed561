package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/log"
	"go.uber.org/multierr"

	"github.com/matzehuels/smoothdeps/pkg/buildinfo"
	"github.com/matzehuels/smoothdeps/pkg/cache"
	"github.com/matzehuels/smoothdeps/pkg/conflict"
	"github.com/matzehuels/smoothdeps/pkg/config"
	"github.com/matzehuels/smoothdeps/pkg/deps"
	"github.com/matzehuels/smoothdeps/pkg/health"
	"github.com/matzehuels/smoothdeps/pkg/history"
	"github.com/matzehuels/smoothdeps/pkg/httputil"
	"github.com/matzehuels/smoothdeps/pkg/installer"
	"github.com/matzehuels/smoothdeps/pkg/selector"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// storePingTimeout bounds the reachability check of shared stores.
const storePingTimeout = 2 * time.Second

// app is the wired component graph behind one command: registry, health
// map, prober and selector, plus lazily opened stores.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	registry *source.Registry
	health   *health.Map
	prober   *health.Prober
	selector *selector.Selector
	runner   installer.Runner

	closers []io.Closer
}

// open loads configuration and wires the registry, health and selection
// components. Callers must Close the returned app.
func (c *CLI) open(ctx context.Context) (*app, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	regPath, err := cfg.RegistryPath()
	if err != nil {
		return nil, err
	}
	reg, err := source.Open(regPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   c.Logger,
		registry: reg,
		health:   health.NewMap(cfg.HealthPolicy(), clock.New()),
		runner:   c.runner,
	}

	store, err := a.healthStore(ctx)
	if err != nil {
		return nil, err
	}
	a.prober = health.NewProber(reg, a.health,
		health.WithStore(store),
		health.WithLogger(c.Logger),
		health.WithUserAgent(buildinfo.UserAgent()),
	)
	if err := a.prober.Restore(ctx); err != nil {
		c.Logger.Warn("could not restore health data", "err", err)
	}
	a.selector = selector.New(reg, a.health, a.prober, c.Logger)
	return a, nil
}

// Close releases every store opened through a.
func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i].Close())
	}
	a.closers = nil
	return err
}

// healthStore returns the Redis store when configured and reachable, and
// the state-dir file otherwise.
func (a *app) healthStore(ctx context.Context) (health.Store, error) {
	if url := a.cfg.Stores.RedisURL; url != "" {
		rs, err := health.NewRedisStore(url, a.cfg.Stores.HealthTTL)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
			err = rs.Ping(pingCtx)
			cancel()
			if err == nil {
				a.closers = append(a.closers, rs)
				return rs, nil
			}
			rs.Close()
		}
		a.logger.Warn("redis health store unavailable, using local file", "err", err)
	}
	path, err := a.cfg.HealthFile()
	if err != nil {
		return nil, err
	}
	return health.NewFileStore(path), nil
}

// artifacts opens the content-addressed artifact store.
func (a *app) artifacts(noCache bool) (cache.Store, error) {
	if noCache {
		return cache.NewNullStore(), nil
	}
	dir, err := a.cfg.ArtifactDir()
	if err != nil {
		return nil, err
	}
	s, err := cache.NewFileStore(dir,
		cache.WithLimits(a.cfg.PruneOptions()),
		cache.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, s)
	return s, nil
}

// metadata opens the registry response cache.
func (a *app) metadata() (*httputil.Cache, error) {
	dir, err := a.cfg.MetadataDir()
	if err != nil {
		return nil, err
	}
	return httputil.NewCache(dir, a.cfg.Cache.MetadataTTL)
}

// history opens the install journal: MongoDB when configured, else the
// JSON Lines file in the state dir.
func (a *app) history(ctx context.Context) (history.Store, error) {
	if uri := a.cfg.Stores.MongoURI; uri != "" {
		ms, err := history.NewMongoStore(ctx, uri, a.cfg.Stores.MongoDatabase)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ms)
		return ms, nil
	}
	path, err := a.cfg.HistoryFile()
	if err != nil {
		return nil, err
	}
	return history.NewFileStore(path, a.logger), nil
}

func headers() map[string]string {
	return map[string]string{"User-Agent": buildinfo.UserAgent()}
}

// installer builds an installer over store. Download progress goes to
// stderr.
func (a *app) installer(store cache.Store) (*installer.Installer, error) {
	meta, err := a.metadata()
	if err != nil {
		return nil, err
	}
	scratch, err := a.cfg.ScratchDir()
	if err != nil {
		return nil, err
	}
	dl := httputil.NewDownloader(nil,
		httputil.WithUserAgent(buildinfo.UserAgent()),
		httputil.WithProgress(os.Stderr),
	)

	runner := a.runner
	if runner == nil {
		runner = installer.ExecRunner{Timeout: a.cfg.Install.CommandTimeout, Logger: a.logger}
	}
	return installer.New(a.selector, a.prober,
		installer.WithCache(store),
		installer.WithFetcher(installer.NewRegistryFetcher(meta, dl, headers())),
		installer.WithRunner(runner),
		installer.WithCommands(a.cfg.Commands()),
		installer.WithBackoff(a.cfg.Backoff()),
		installer.WithMaxSourceRetries(a.cfg.Install.MaxSourceRetries),
		installer.WithScratchDir(scratch),
		installer.WithPython(a.cfg.Install.Python),
		installer.WithLogger(a.logger),
	), nil
}

// walker builds a conflict walker over the metadata cache.
func (a *app) walker(refresh bool) (*conflict.Walker, error) {
	meta, err := a.metadata()
	if err != nil {
		return nil, err
	}
	return &conflict.Walker{
		Selector: a.selector,
		Cache:    meta,
		Headers:  headers(),
		Options:  deps.Options{Refresh: refresh, Logger: a.logger},
		Logger:   a.logger,
	}, nil
}
