package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/smoothdeps/pkg/deps"
	"github.com/matzehuels/smoothdeps/pkg/history"
	"github.com/matzehuels/smoothdeps/pkg/installer"
	"github.com/matzehuels/smoothdeps/pkg/lock"
)

// lockCommand creates the lock command.
func (c *CLI) lockCommand() *cobra.Command {
	var envFlag, dir, output string

	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Write a lock file from the install history",
		Long: `Write the exact versions and mirrors of every package installed into an
environment of this project to deps.<env>.lock (TOML). The lock file is built
from the install history, so it records what was installed rather than what
a resolver would pick today.`,
		Example: `  deps lock
  deps lock --env dev --output deps.dev.lock`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := deps.ParseEnvironment(envFlag)
			if err != nil {
				return err
			}
			if output == "" {
				output = lock.Path(dir, env)
			}

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.history(ctx)
			if err != nil {
				return err
			}
			records, err := store.List(ctx, history.Query{Environment: env, Dir: absDir(dir)})
			if err != nil {
				return err
			}

			f := lock.Export(env, records, time.Now())
			if len(f.Packages) == 0 {
				printWarning("Nothing installed into %s from %s yet", env, absDir(dir))
				printNextStep("Install first", appName+" install --env "+env.String())
				return nil
			}
			if err := lock.Write(output, f); err != nil {
				return err
			}
			printSuccess("Locked %d packages for %s", len(f.Packages), env)
			printFile(output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&envFlag, "env", "e", "prod", "environment: dev, test or prod")
	cmd.Flags().StringVarP(&dir, "dir", "C", ".", "project directory")
	cmd.Flags().StringVarP(&output, "output", "o", "", "lock file path (default deps.<env>.lock in --dir)")

	return cmd
}

// restoreCommand creates the restore command.
func (c *CLI) restoreCommand() *cobra.Command {
	var envFlag, dir, input, reportPath string
	var noCache, offline bool

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Install the exact versions recorded in a lock file",
		Long: `Install every package of a lock file pinned to its locked version. The
recorded mirror is tried first; failover to the other mirrors still applies.`,
		Example: `  deps restore
  deps restore --env test --input ci/deps.test.lock`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := deps.ParseEnvironment(envFlag)
			if err != nil {
				return err
			}
			if input == "" {
				input = lock.Path(dir, env)
			}
			reqs, err := lock.Import(input)
			if err != nil {
				return err
			}
			return c.runRestore(ctx, reqs, dir, reportPath, noCache, offline)
		},
	}

	cmd.Flags().StringVarP(&envFlag, "env", "e", "prod", "environment: dev, test or prod")
	cmd.Flags().StringVarP(&dir, "dir", "C", ".", "project directory")
	cmd.Flags().StringVarP(&input, "input", "i", "", "lock file path (default deps.<env>.lock in --dir)")
	cmd.Flags().StringVar(&reportPath, "report", "", "write a JSON conflict report to this file")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "neither read nor write the artifact cache")
	cmd.Flags().BoolVar(&offline, "offline", false, "install from the artifact cache only")
	cmd.MarkFlagsMutuallyExclusive("no-cache", "offline")

	return cmd
}

// runRestore installs each request in turn and stops at the first one that
// fails.
func (c *CLI) runRestore(ctx context.Context, reqs []installer.Request, dir, reportPath string, noCache, offline bool) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.artifacts(noCache)
	if err != nil {
		return err
	}
	inst, err := a.installer(store)
	if err != nil {
		return err
	}

	for _, req := range reqs {
		req.Dir = dir
		req.Offline = offline
		printInfo("Restoring %d %s packages", len(req.Packages), req.Kind)

		res, err := inst.Install(ctx, req)
		if err != nil {
			return err
		}
		c.journal(ctx, a, res, dir)
		if err := c.finishInstall(res, reportPath, false); err != nil {
			return err
		}
	}
	return nil
}
