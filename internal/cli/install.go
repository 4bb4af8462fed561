package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/smoothdeps/pkg/cache"
	"github.com/matzehuels/smoothdeps/pkg/conflict"
	"github.com/matzehuels/smoothdeps/pkg/deps"
	"github.com/matzehuels/smoothdeps/pkg/deps/languages"
	smerrors "github.com/matzehuels/smoothdeps/pkg/errors"
	"github.com/matzehuels/smoothdeps/pkg/history"
	"github.com/matzehuels/smoothdeps/pkg/installer"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// installOpts holds the flags of "deps install".
type installOpts struct {
	kind           string
	source         string
	env            string
	dir            string
	fromCache      string
	report         string
	noCache        bool
	noDeps         bool
	offline        bool
	failOnConflict bool
}

// installCommand creates the install command.
func (c *CLI) installCommand() *cobra.Command {
	var opts installOpts

	cmd := &cobra.Command{
		Use:   "install [package[==version]...]",
		Short: "Install packages through the healthiest mirror",
		Long: `Install packages through the healthiest mirror, failing over to the next one
when a mirror breaks. Cached artifacts are installed without touching the
network. Without package arguments the environment manifest is installed
(requirements*.txt for pip, package.json for npm).

Exit codes: 0 success, 10 package error, 30 every mirror exhausted,
1 on conflicts when --fail-on-conflict is set.`,
		Example: `  deps install requests==2.31.0
  deps install --kind npm react@^18 --env dev
  deps install --env test
  deps install flask --source pypi-tsinghua`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runInstall(cmd.Context(), args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "", "installer kind: pip or npm (default: detected from the manifest, else pip)")
	cmd.Flags().StringVarP(&opts.source, "source", "s", "", "use this source only (disables failover)")
	cmd.Flags().StringVarP(&opts.env, "env", "e", "prod", "environment: dev, test or prod")
	cmd.Flags().StringVarP(&opts.dir, "dir", "C", ".", "project directory")
	cmd.Flags().StringVar(&opts.fromCache, "from-cache", "", "import an exported cache directory and install offline from it")
	cmd.Flags().StringVar(&opts.report, "report", "", "write a JSON conflict report to this file")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "neither read nor write the artifact cache")
	cmd.Flags().BoolVar(&opts.noDeps, "no-deps", false, "do not install dependencies of the requested packages")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "install from the artifact cache only")
	cmd.Flags().BoolVar(&opts.failOnConflict, "fail-on-conflict", false, "exit 1 when a version conflict is detected")
	cmd.MarkFlagsMutuallyExclusive("no-cache", "offline")
	cmd.MarkFlagsMutuallyExclusive("no-cache", "from-cache")

	return cmd
}

func (c *CLI) runInstall(ctx context.Context, args []string, opts installOpts) error {
	env, err := deps.ParseEnvironment(opts.env)
	if err != nil {
		return smerrors.Wrap(smerrors.ErrCodeInvalidInput, err, "%v", err)
	}
	kind, err := resolveKind(opts.kind, opts.dir, env, len(args) > 0)
	if err != nil {
		return err
	}
	reqs, manifest, err := requirements(kind, opts.dir, env, args)
	if err != nil {
		return err
	}
	if manifest != "" {
		printInfo("Installing %d packages from %s", len(reqs), manifest)
	}

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.artifacts(opts.noCache)
	if err != nil {
		return err
	}
	offline := opts.offline
	if opts.fromCache != "" {
		n, err := cache.Import(ctx, store, opts.fromCache)
		if err != nil {
			return fmt.Errorf("import %s: %w", opts.fromCache, err)
		}
		printInfo("Imported %d cached artifacts from %s", n, opts.fromCache)
		offline = true
	}

	inst, err := a.installer(store)
	if err != nil {
		return err
	}
	res, err := inst.Install(ctx, installer.Request{
		Packages:    reqs,
		Kind:        kind,
		Source:      opts.source,
		Environment: env,
		Dir:         opts.dir,
		NoDeps:      opts.noDeps,
		Offline:     offline,
	})
	if err != nil {
		return err
	}

	c.journal(ctx, a, res, opts.dir)
	return c.finishInstall(res, opts.report, opts.failOnConflict)
}

// finishInstall prints the outcome of an install and turns it into the
// command's exit status.
func (c *CLI) finishInstall(res *installer.Result, reportPath string, failOnConflict bool) error {
	printInstallResult(res, c.verbose())

	if report := conflict.Analyze(res); report != nil {
		printConflictReport(report)
		if reportPath != "" {
			if err := report.WriteFile(reportPath); err != nil {
				return err
			}
			printFile(reportPath)
		}
		if failOnConflict && res.OK() {
			return &ExitError{Code: ExitFailure, Err: smerrors.New(smerrors.ErrCodeVersionConflict, "version conflicts detected")}
		}
	}

	if err := res.Err(); err != nil {
		return &ExitError{Code: ExitCode(err), Err: err}
	}
	return nil
}

// journal appends res to the install history. Failures only warn: the
// packages are installed either way.
func (c *CLI) journal(ctx context.Context, a *app, res *installer.Result, dir string) {
	if len(res.Succeeded) == 0 {
		return
	}
	store, err := a.history(ctx)
	if err == nil {
		err = store.Append(ctx, history.FromResult(res, absDir(dir), time.Now()))
	}
	if err != nil {
		c.Logger.Warn("could not record install history", "err", err)
	}
}

// resolveKind parses the --kind flag. Without it, a manifest install
// detects the kind from the files present and package arguments default to
// pip.
func resolveKind(flag, dir string, env deps.Environment, haveArgs bool) (source.Kind, error) {
	if flag != "" {
		return source.ParseKind(flag)
	}
	if haveArgs {
		return source.KindPip, nil
	}
	for _, lang := range languages.All {
		if _, err := lang.FindManifest(dir, env); err == nil {
			return lang.Kind, nil
		}
	}
	return "", smerrors.New(smerrors.ErrCodeFileNotFound, "no manifest for %s found in %s", env, dir)
}

// requirements parses package arguments, or loads the manifest when there
// are none. manifest is the file read, if any.
func requirements(kind source.Kind, dir string, env deps.Environment, args []string) (reqs []deps.Requirement, manifest string, err error) {
	lang, err := languages.For(kind)
	if err != nil {
		return nil, "", err
	}
	if len(args) == 0 {
		path, reqs, err := lang.LoadManifest(dir, env)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", smerrors.Wrap(smerrors.ErrCodeFileNotFound, err, "%v", err)
		}
		if err != nil {
			return nil, "", smerrors.Wrap(smerrors.ErrCodeInvalidManifest, err, "%v", err)
		}
		if len(reqs) == 0 {
			return nil, "", smerrors.New(smerrors.ErrCodeInvalidManifest, "%s lists no packages", path)
		}
		return reqs, path, nil
	}
	for _, arg := range args {
		req, err := lang.ParseRequirement(arg)
		if err != nil {
			return nil, "", err
		}
		reqs = append(reqs, req)
	}
	return reqs, "", nil
}

// absDir returns dir as an absolute path, the form history records use.
func absDir(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// =============================================================================
// Output
// =============================================================================

func printInstallResult(res *installer.Result, verbose bool) {
	for _, w := range res.Warnings {
		printWarning("%s", w)
	}
	for _, pkg := range res.Succeeded {
		from := pkg.Source
		if pkg.FromCache {
			from = styleCached.Render(iconCached)
		}
		printSuccess("%s %s %s", pkg.Name, StyleNumber.Render(pkg.Version), StyleDim.Render("from "+from))
	}
	for _, f := range res.Failed {
		printError("%s: %s", f.Package, f.Message)
	}
	printInstallStats(res)

	if verbose {
		printNewline()
		printInfo("Attempts")
		for _, at := range res.Attempts {
			line := fmt.Sprintf("%s via %s try %d: %s (%s)", at.Package, at.Source, at.Try, at.Outcome, at.Latency.Round(time.Millisecond))
			if at.Error != "" {
				line += " " + at.Error
			}
			printDetail("%s", line)
		}
	}
}

func printConflictReport(r *conflict.Report) {
	printNewline()
	printWarning("Version conflicts for %s", strings.Join(r.Packages(), ", "))
	for _, pkg := range r.Packages() {
		for _, cf := range r.ByPackage(pkg) {
			printDetail("%s requires %s %s", cf.RequiredBy, pkg, cf.Constraint)
		}
	}
	for _, s := range r.Suggestions {
		printNextStep("Suggestion", s)
	}
}
