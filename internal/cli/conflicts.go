package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/smoothdeps/pkg/conflict"
	"github.com/matzehuels/smoothdeps/pkg/deps"
	"github.com/matzehuels/smoothdeps/pkg/fsutil"
	"github.com/matzehuels/smoothdeps/pkg/graph"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

type conflictsOpts struct {
	kind    string
	env     string
	dir     string
	source  string
	report  string
	graph   string
	refresh bool
}

// checkConflictsCommand creates the check-conflicts command.
func (c *CLI) checkConflictsCommand() *cobra.Command {
	var opts conflictsOpts

	cmd := &cobra.Command{
		Use:   "check-conflicts",
		Short: "Report version conflicts in an environment manifest",
		Long: `Walk the requirement graph of an environment manifest using registry
metadata from the healthiest mirror, and report every package whose
requirements have no version in common. Nothing is installed.

Exits 0 when there are no conflicts and 1 when there are.

--graph writes the requirement graph with conflicts highlighted. The format
follows the extension: .svg (rendered), .dot or .json.`,
		Example: `  deps check-conflicts
  deps check-conflicts --env dev --report conflicts.json
  deps check-conflicts --kind npm --graph conflicts.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCheckConflicts(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "", "installer kind: pip or npm (default: detected from the manifest)")
	cmd.Flags().StringVarP(&opts.env, "env", "e", "prod", "environment: dev, test or prod")
	cmd.Flags().StringVarP(&opts.dir, "dir", "C", ".", "project directory")
	cmd.Flags().StringVarP(&opts.source, "source", "s", "", "read metadata from this source")
	cmd.Flags().StringVar(&opts.report, "report", "", "write a JSON conflict report to this file")
	cmd.Flags().StringVar(&opts.graph, "graph", "", "write the requirement graph (.svg, .dot or .json)")
	cmd.Flags().BoolVar(&opts.refresh, "refresh", false, "bypass the metadata cache")

	return cmd
}

func (c *CLI) runCheckConflicts(ctx context.Context, opts conflictsOpts) error {
	env, err := deps.ParseEnvironment(opts.env)
	if err != nil {
		return err
	}
	kind, err := resolveKind(opts.kind, opts.dir, env, false)
	if err != nil {
		return err
	}

	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.walker(opts.refresh)
	if err != nil {
		return err
	}

	prog := newProgress(c.Logger)
	spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Walking %s requirements...", kind))
	spinner.Start()
	g, err := w.Walk(ctx, kind, opts.dir, env, opts.source)
	if err != nil {
		spinner.StopWithError("Walk failed")
		return err
	}
	spinner.Stop()
	prog.done(fmt.Sprintf("Resolved %d packages", g.NodeCount()-1))

	report := conflict.AnalyzeGraph(g, requestedSpec(g))

	if opts.graph != "" {
		if err := writeConflictGraph(ctx, opts.graph, g, report); err != nil {
			return err
		}
	}

	if report == nil {
		printSuccess("No conflicts in %s %s requirements %s", env, kind, StyleDim.Render(fmt.Sprintf("(%d packages)", g.NodeCount()-1)))
		if opts.graph != "" {
			printFile(opts.graph)
		}
		return nil
	}

	printConflictReport(report)
	if opts.graph != "" {
		printFile(opts.graph)
	}
	if opts.report != "" {
		if err := report.WriteFile(opts.report); err != nil {
			return err
		}
		printFile(opts.report)
	}
	return &ExitError{Code: ExitFailure, Err: fmt.Errorf("%d conflicting packages", len(report.Packages()))}
}

// requestedSpec lists the root requirements of g.
func requestedSpec(g *graph.Graph) string {
	var parts []string
	for _, e := range g.OutgoingEdges(graph.RootID) {
		parts = append(parts, strings.TrimSpace(e.To+" "+e.Constraint))
	}
	return strings.Join(parts, ", ")
}

func writeConflictGraph(ctx context.Context, path string, g *graph.Graph, r *conflict.Report) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		svg, err := conflict.RenderSVG(ctx, g, r)
		if err != nil {
			return fmt.Errorf("render graph: %w", err)
		}
		return fsutil.WriteAtomic(path, svg, 0o644)
	case ".dot", ".gv":
		return fsutil.WriteAtomic(path, []byte(conflict.DOT(g, r)), 0o644)
	case ".json":
		return graph.WriteGraphFile(g, path)
	}
	return fmt.Errorf("unsupported graph format %q (want .svg, .dot or .json)", filepath.Ext(path))
}

// kindArg parses an optional kind; "" means every kind.
func kindArg(s string) (source.Kind, error) {
	if s == "" {
		return "", nil
	}
	return source.ParseKind(s)
}
