package cli

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/matzehuels/smoothdeps/pkg/cache"
	"github.com/matzehuels/smoothdeps/pkg/deps"
	smerrors "github.com/matzehuels/smoothdeps/pkg/errors"
	"github.com/matzehuels/smoothdeps/pkg/history"
	"github.com/matzehuels/smoothdeps/pkg/installer"
	"github.com/matzehuels/smoothdeps/pkg/lock"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

type updateOpts struct {
	kind   string
	env    string
	dir    string
	source string
	report string
	all    bool
	noDeps bool
}

// outdatedCommand creates the outdated command.
func (c *CLI) outdatedCommand() *cobra.Command {
	var opts updateOpts

	cmd := &cobra.Command{
		Use:   "outdated",
		Short: "List installed packages with newer versions on the mirrors",
		Long: `Compare every package installed directly into an environment of this
project with the newest version on the healthiest mirror. Installed versions
come from the install history, as for deps lock. Nothing is installed.`,
		Example: `  deps outdated
  deps outdated --kind npm --env dev
  deps outdated --all --source pypi-tsinghua`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := deps.ParseEnvironment(opts.env)
			if err != nil {
				return err
			}
			kind, err := kindArg(opts.kind)
			if err != nil {
				return err
			}

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			updates, err := c.checkUpdates(ctx, a, kind, env, opts, nil)
			if err != nil {
				return err
			}
			rows := updateRows(updates, opts.all)
			empty := "Everything is up to date"
			if len(updates) == 0 {
				empty = fmt.Sprintf("Nothing installed into %s from %s yet", env, absDir(opts.dir))
			}
			printTable([]string{"Package", "Kind", "Installed", "Latest", "Source"}, rows, empty)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "", "only check this installer kind")
	cmd.Flags().StringVarP(&opts.env, "env", "e", "prod", "environment: dev, test or prod")
	cmd.Flags().StringVarP(&opts.dir, "dir", "C", ".", "project directory")
	cmd.Flags().StringVarP(&opts.source, "source", "s", "", "look up versions on this source only")
	cmd.Flags().BoolVar(&opts.all, "all", false, "also list packages that are up to date")

	return cmd
}

// updateCommand creates the update command.
func (c *CLI) updateCommand() *cobra.Command {
	var opts updateOpts

	cmd := &cobra.Command{
		Use:   "update [package...]",
		Short: "Install the newest versions of installed packages",
		Long: `Install the newest mirror version of every outdated package installed
directly into an environment, or of the named packages only. Installs go
through the cache and failover like deps install and are recorded in the
history, so a following deps lock picks up the new versions.`,
		Example: `  deps update
  deps update requests flask
  deps update --kind npm --env dev`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runUpdate(cmd.Context(), args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "", "only update this installer kind")
	cmd.Flags().StringVarP(&opts.env, "env", "e", "prod", "environment: dev, test or prod")
	cmd.Flags().StringVarP(&opts.dir, "dir", "C", ".", "project directory")
	cmd.Flags().StringVarP(&opts.source, "source", "s", "", "use this source only (disables failover)")
	cmd.Flags().StringVar(&opts.report, "report", "", "write a JSON conflict report to this file")
	cmd.Flags().BoolVar(&opts.noDeps, "no-deps", false, "do not install dependencies of the updated packages")

	return cmd
}

func (c *CLI) runUpdate(ctx context.Context, names []string, opts updateOpts) error {
	env, err := deps.ParseEnvironment(opts.env)
	if err != nil {
		return err
	}
	kind, err := kindArg(opts.kind)
	if err != nil {
		return err
	}

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	updates, err := c.checkUpdates(ctx, a, kind, env, opts, names)
	if err != nil {
		return err
	}

	store, err := a.artifacts(false)
	if err != nil {
		return err
	}
	inst, err := a.installer(store)
	if err != nil {
		return err
	}

	updated := false
	for _, k := range source.Kinds {
		req := installer.Request{Kind: k, Source: opts.source, Environment: env, Dir: opts.dir, NoDeps: opts.noDeps, Preferred: map[string]string{}}
		for _, u := range updates[k] {
			if !u.Outdated() {
				continue
			}
			printInfo("%s %s -> %s", u.Name, StyleDim.Render(u.Current), StyleNumber.Render(u.Latest))
			req.Packages = append(req.Packages, u.Pinned(k))
			req.Preferred[u.Name] = u.Source
		}
		if len(req.Packages) == 0 {
			continue
		}
		updated = true

		res, err := inst.Install(ctx, req)
		if err != nil {
			return err
		}
		c.journal(ctx, a, res, opts.dir)
		if err := c.finishInstall(res, opts.report, false); err != nil {
			return err
		}
	}
	if !updated {
		printSuccess("Everything is up to date")
	}
	return nil
}

// checkUpdates looks up the newest versions of the packages installed
// directly into env, per kind. names restricts the packages; naming one
// that is not installed is an error.
func (c *CLI) checkUpdates(ctx context.Context, a *app, kind source.Kind, env deps.Environment, opts updateOpts, names []string) (map[source.Kind][]installer.Update, error) {
	hist, err := a.history(ctx)
	if err != nil {
		return nil, err
	}
	records, err := hist.List(ctx, history.Query{Kind: kind, Environment: env, Dir: absDir(opts.dir)})
	if err != nil {
		return nil, err
	}
	f := lock.Export(env, records, time.Now())

	inst, err := a.installer(cache.NewNullStore())
	if err != nil {
		return nil, err
	}
	found := map[string]bool{}
	out := map[source.Kind][]installer.Update{}
	for _, k := range f.Kinds() {
		var pkgs []installer.Installed
		for _, e := range f.Direct(k) {
			if len(names) > 0 && !slices.Contains(names, e.Name) && !slices.Contains(names, k.Normalize(e.Name)) {
				continue
			}
			found[e.Name] = true
			pkgs = append(pkgs, installer.Installed{Name: e.Name, Version: e.Version, Source: e.Source})
		}
		if len(pkgs) == 0 {
			continue
		}
		updates, err := inst.CheckUpdates(ctx, k, opts.source, pkgs)
		if err != nil {
			return nil, err
		}
		out[k] = updates
	}
	for _, n := range names {
		if !found[n] && !found[source.KindPip.Normalize(n)] {
			return nil, smerrors.New(smerrors.ErrCodePackageNotFound, "%s is not installed into %s here", n, env)
		}
	}
	return out, nil
}

// updateRows renders updates sorted by kind, outdated packages only unless
// all is set.
func updateRows(updates map[source.Kind][]installer.Update, all bool) [][]string {
	var rows [][]string
	for _, k := range source.Kinds {
		for _, u := range updates[k] {
			latest := u.Latest
			switch {
			case u.Error != "":
				latest = StyleDim.Render("unknown")
			case !u.Outdated() && !all:
				continue
			case u.Outdated():
				latest = StyleNumber.Render(u.Latest)
			}
			rows = append(rows, []string{u.Name, k.String(), u.Current, latest, u.Source})
		}
	}
	return rows
}

// uninstallCommand creates the uninstall command.
func (c *CLI) uninstallCommand() *cobra.Command {
	var kindFlag, envFlag, dir string

	cmd := &cobra.Command{
		Use:   "uninstall package...",
		Short: "Remove packages and drop them from the next lock file",
		Long: `Remove packages with pip or npm and record the removal in the install
history, so deps lock no longer lists them. Cached artifacts are kept.`,
		Example: `  deps uninstall requests
  deps uninstall --kind npm left-pad --env dev`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := deps.ParseEnvironment(envFlag)
			if err != nil {
				return err
			}
			kind := source.KindPip
			if kindFlag != "" {
				if kind, err = source.ParseKind(kindFlag); err != nil {
					return err
				}
			}

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			inst, err := a.installer(cache.NewNullStore())
			if err != nil {
				return err
			}
			if err := inst.Uninstall(ctx, kind, dir, args...); err != nil {
				return &ExitError{Code: ExitCode(err), Err: err}
			}

			removed := make([]string, len(args))
			for i, n := range args {
				removed[i] = kind.Normalize(n)
			}
			hist, err := a.history(ctx)
			if err == nil {
				err = hist.Append(ctx, history.Record{
					RunID:       uuid.NewString(),
					Time:        time.Now().UTC(),
					Kind:        kind,
					Environment: env,
					Dir:         absDir(dir),
					Removed:     removed,
				})
			}
			if err != nil {
				c.Logger.Warn("could not record the removal", "err", err)
			}
			for _, n := range removed {
				printSuccess("Removed %s", n)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "installer kind: pip or npm (default pip)")
	cmd.Flags().StringVarP(&envFlag, "env", "e", "prod", "environment the packages were installed into")
	cmd.Flags().StringVarP(&dir, "dir", "C", ".", "project directory")

	return cmd
}
