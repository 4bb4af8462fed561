package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/smoothdeps/internal/daemon"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var addr string
	var noMetrics bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mirror health daemon",
		Long: `Run a resident daemon that probes every mirror in the background and
answers selection queries over HTTP, so short-lived installs on this host
and others share one warm health map.

Endpoints: /healthz, /v1/sources, /v1/sources/{kind}/{name},
POST /v1/probe, /v1/select?kind=pip and /metrics (Prometheus).`,
		Example: `  deps serve
  deps serve --addr :7878`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Daemon.Addr
			}

			var metrics *daemon.Metrics
			if !noMetrics {
				metrics = daemon.NewMetrics()
				metrics.Install()
				for _, rec := range a.health.Records() {
					if src, ok := sourceByKey(a.registry.List(""), rec.Source); ok {
						metrics.SeedStatus(src.Kind.String(), src.Name, rec.Status)
					}
				}
			}

			srv := daemon.New(daemon.Config{
				Sources:       a.registry,
				Prober:        a.prober,
				Selector:      a.selector,
				Metrics:       metrics,
				ProbeInterval: a.cfg.Daemon.ProbeInterval,
				RateLimit:     a.cfg.Daemon.RateLimit,
				RateBurst:     a.cfg.Daemon.RateBurst,
				Logger:        c.Logger,
			})
			printInfo("Listening on %s", StyleLink.Render("http://"+addr))
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:7878)")
	cmd.Flags().BoolVar(&noMetrics, "no-metrics", false, "do not serve /metrics")

	return cmd
}

func sourceByKey(srcs []source.Source, key string) (source.Source, bool) {
	for _, s := range srcs {
		if s.Key() == key {
			return s, true
		}
	}
	return source.Source{}, false
}
