package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/matzehuels/smoothdeps/pkg/cache"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// cacheCommand creates the cache management command.
func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the artifact cache",
	}

	cmd.AddCommand(c.cacheListCommand())
	cmd.AddCommand(c.cacheStatsCommand())
	cmd.AddCommand(c.cachePruneCommand())
	cmd.AddCommand(c.cacheClearCommand())
	cmd.AddCommand(c.cachePathCommand())
	cmd.AddCommand(c.cachePullCommand())

	return cmd
}

// withArtifacts runs fn against the artifact store.
func (c *CLI) withArtifacts(ctx context.Context, fn func(a *app, store cache.Store) error) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.artifacts(false)
	if err != nil {
		return err
	}
	return fn(a, store)
}

// cacheListCommand creates the "cache list" subcommand.
func (c *CLI) cacheListCommand() *cobra.Command {
	var kindFlag string

	cmd := &cobra.Command{
		Use:     "list [name]",
		Aliases: []string{"ls"},
		Short:   "List cached artifacts",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := kindArg(kindFlag)
			if err != nil {
				return err
			}
			return c.withArtifacts(cmd.Context(), func(_ *app, store cache.Store) error {
				entries, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				entries = filterEntries(entries, kind, args)
				cache.SortEntries(entries)
				printTable(
					[]string{"Kind", "Name", "Version", "Size", "Source", "Hits", "Last used"},
					entryRows(entries, time.Now()),
					"Cache is empty",
				)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "only list artifacts of this kind")
	return cmd
}

func filterEntries(entries []cache.Entry, kind source.Kind, names []string) []cache.Entry {
	out := entries[:0]
	for _, e := range entries {
		if kind != "" && e.Kind != kind {
			continue
		}
		if len(names) > 0 && e.Name != e.Kind.Normalize(names[0]) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func entryRows(entries []cache.Entry, now time.Time) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Kind.String(),
			e.Name,
			e.Version,
			humanize.IBytes(uint64(e.Size)),
			e.Source,
			fmt.Sprint(e.AccessCount),
			formatRelativeTime(e.LastAccess, now),
		})
	}
	return rows
}

// cacheStatsCommand creates the "cache stats" subcommand.
func (c *CLI) cacheStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the artifact cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withArtifacts(cmd.Context(), func(a *app, store cache.Store) error {
				entries, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				st := cache.Summarize(entries)
				dir, _ := a.cfg.ArtifactDir()

				printKeyValue("Entries", fmt.Sprint(st.Entries))
				for _, k := range []source.Kind{source.KindPip, source.KindNpm} {
					if n := st.ByKind[k]; n > 0 {
						printKeyValue("  "+k.String(), fmt.Sprint(n))
					}
				}
				limit := "unbounded"
				if maxBytes := a.cfg.Cache.MaxBytes; maxBytes > 0 {
					limit = humanize.IBytes(uint64(maxBytes))
				}
				printKeyValue("Size", humanize.IBytes(uint64(st.TotalBytes))+" of "+limit)
				printKeyValue("Hits", fmt.Sprint(st.Accesses))
				if st.Entries > 0 {
					printKeyValue("Oldest", humanize.Time(st.Oldest))
					printKeyValue("Newest", humanize.Time(st.Newest))
				}
				printKeyValue("Directory", dir)
				return nil
			})
		},
	}
}

// cachePruneCommand creates the "cache prune" subcommand.
func (c *CLI) cachePruneCommand() *cobra.Command {
	var maxSize string
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Evict old and least recently used artifacts",
		Long: `Evict artifacts older than --max-age, then the least recently used ones
until the cache fits in --max-size. Limits default to the configuration.`,
		Example: `  deps cache prune
  deps cache prune --max-size 2GiB --max-age 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withArtifacts(cmd.Context(), func(a *app, store cache.Store) error {
				opts := a.cfg.PruneOptions()
				if maxSize != "" {
					n, err := humanize.ParseBytes(maxSize)
					if err != nil {
						return fmt.Errorf("--max-size: %w", err)
					}
					opts.MaxBytes = int64(n)
				}
				if cmd.Flags().Changed("max-age") {
					opts.MaxAge = maxAge
				}

				res, err := store.Prune(cmd.Context(), opts)
				if err != nil {
					return err
				}
				for _, e := range res.Removed {
					c.Logger.Debug("evicted", "kind", e.Kind, "name", e.Name, "version", e.Version)
				}
				printSuccess("Pruned %d artifacts, freed %s", len(res.Removed), humanize.IBytes(uint64(res.Freed)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&maxSize, "max-size", "", "size bound, e.g. 2GiB")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "age bound, e.g. 720h")
	return cmd
}

// cacheClearCommand creates the "cache clear" subcommand.
func (c *CLI) cacheClearCommand() *cobra.Command {
	var metadata bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withArtifacts(cmd.Context(), func(a *app, store cache.Store) error {
				entries, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				if err := store.Clear(cmd.Context()); err != nil {
					return err
				}
				printSuccess("Cleared %d cached artifacts", len(entries))

				if metadata {
					dir, err := a.cfg.MetadataDir()
					if err != nil {
						return err
					}
					if err := os.RemoveAll(dir); err != nil {
						return fmt.Errorf("clear metadata cache: %w", err)
					}
					printSuccess("Cleared registry metadata")
					printDetail("Directory: %s", dir)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&metadata, "metadata", false, "also clear cached registry responses")
	return cmd
}

// cachePathCommand creates the "cache path" subcommand.
func (c *CLI) cachePathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the artifact cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			dir, err := a.cfg.ArtifactDir()
			if err != nil {
				return fmt.Errorf("get cache dir: %w", err)
			}
			fmt.Println(dir)
			return nil
		},
	}
}

// cachePullCommand creates the "cache pull" subcommand.
func (c *CLI) cachePullCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pull DIR|s3://bucket/prefix",
		Short: "Load artifacts exported with deps export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			from := args[0]
			return c.withArtifacts(ctx, func(a *app, store cache.Store) error {
				var n int
				var err error
				if strings.HasPrefix(from, "s3://") {
					remote, rerr := a.s3Remote(from)
					if rerr != nil {
						return rerr
					}
					scratch, serr := a.cfg.ScratchDir()
					if serr != nil {
						return serr
					}
					spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Downloading from %s...", remote))
					spinner.Start()
					n, err = remote.Pull(ctx, store, scratch)
					spinner.Stop()
				} else {
					n, err = cache.Import(ctx, store, from)
				}
				if err != nil && n == 0 {
					return err
				}
				reportPartial(err)
				printSuccess("Pulled %d artifacts from %s", n, from)
				return nil
			})
		},
	}
}
