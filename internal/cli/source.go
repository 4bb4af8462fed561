package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/smoothdeps/pkg/health"
	"github.com/matzehuels/smoothdeps/pkg/selector"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// sourceCommand creates the source administration command group.
func (c *CLI) sourceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "source",
		Aliases: []string{"sources"},
		Short:   "Manage package mirrors",
		Long: `Manage the registry of package mirrors. Without a registry file the built-in
presets are used; the first edit writes them out so they can be changed.`,
	}

	cmd.AddCommand(c.sourceListCommand())
	cmd.AddCommand(c.sourceAddCommand())
	cmd.AddCommand(c.sourceRemoveCommand())
	cmd.AddCommand(c.sourceProbeCommand())
	cmd.AddCommand(c.sourceToggleCommand("enable", false))
	cmd.AddCommand(c.sourceToggleCommand("disable", true))
	cmd.AddCommand(c.sourcePriorityCommand())
	cmd.AddCommand(c.sourceWatchCommand())

	return cmd
}

func (c *CLI) sourceListCommand() *cobra.Command {
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List mirrors in selection order with their health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := kindArg(kindFlag)
			if err != nil {
				return err
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			printTable(sourceHeaders, sourceRows(a.registry.List(kind), a.health, time.Now()), "No sources configured")
			printDetail("registry: %s", a.registry.Path())
			return nil
		},
	}
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "only list sources of this kind")
	return cmd
}

func (c *CLI) sourceAddCommand() *cobra.Command {
	var src source.Source
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "add NAME URL",
		Short: "Register a mirror",
		Example: `  deps source add corp https://pypi.corp.example/simple --priority 10
  deps source add corp-npm https://npm.corp.example --kind npm`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := source.ParseKind(kindFlag)
			if err != nil {
				return err
			}
			src.Name, src.URL, src.Kind = args[0], args[1], kind

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.registry.Add(src); err != nil {
				return err
			}
			printSuccess("Added %s source %s", kind, StyleHighlight.Render(src.Name))
			printFile(a.registry.Path())
			printNextStep("Check it", fmt.Sprintf("%s source probe --kind %s", appName, kind))
			return nil
		},
	}
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "pip", "installer kind: pip or npm")
	cmd.Flags().IntVarP(&src.Priority, "priority", "p", 100, "rank; lower is preferred")
	cmd.Flags().StringVar(&src.Region, "region", "", "region label")
	cmd.Flags().StringVar(&src.Description, "description", "", "free-form description")
	cmd.Flags().BoolVar(&src.Disabled, "disabled", false, "register without enabling automatic selection")
	return cmd
}

func (c *CLI) sourceRemoveCommand() *cobra.Command {
	var kindFlag string

	cmd := &cobra.Command{
		Use:     "remove NAME",
		Aliases: []string{"rm"},
		Short:   "Remove a mirror and its health data",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind, err := source.ParseKind(kindFlag)
			if err != nil {
				return err
			}
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			src, err := a.registry.Get(args[0], kind)
			if err != nil {
				return err
			}
			if err := a.registry.Remove(src.Name, kind); err != nil {
				return err
			}
			a.prober.Forget(ctx, src)
			printSuccess("Removed %s source %s", kind, src.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "pip", "installer kind: pip or npm")
	return cmd
}

func (c *CLI) sourceToggleCommand(verb string, disabled bool) *cobra.Command {
	var kindFlag string

	short := "Allow automatic selection of a mirror"
	if disabled {
		short = "Exclude a mirror from automatic selection"
	}
	cmd := &cobra.Command{
		Use:   verb + " NAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := source.ParseKind(kindFlag)
			if err != nil {
				return err
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.registry.SetDisabled(args[0], kind, disabled); err != nil {
				return err
			}
			printSuccess("%s %s source %s", pastTense(verb), kind, args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "pip", "installer kind: pip or npm")
	return cmd
}

func pastTense(verb string) string {
	return strings.ToUpper(verb[:1]) + verb[1:] + "d"
}

func (c *CLI) sourcePriorityCommand() *cobra.Command {
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "priority NAME N",
		Short: "Change the rank of a mirror (lower is preferred)",
		Example: `  # Switch pip installs to the Tsinghua mirror
  deps source priority pypi-tsinghua 1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := source.ParseKind(kindFlag)
			if err != nil {
				return err
			}
			prio, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("priority %q: not a number", args[1])
			}
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.registry.SetPriority(args[0], kind, prio); err != nil {
				return err
			}
			printSuccess("%s source %s now has priority %d", kind, args[0], prio)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "pip", "installer kind: pip or npm")
	return cmd
}

func (c *CLI) sourceProbeCommand() *cobra.Command {
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probe every mirror now and show the ranking",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind, err := kindArg(kindFlag)
			if err != nil {
				return err
			}
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			return c.probe(ctx, a, kind)
		},
	}
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "only probe sources of this kind")
	return cmd
}

func (c *CLI) probe(ctx context.Context, a *app, kind source.Kind) error {
	srcs := a.registry.List(kind)
	spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Probing %d sources...", len(srcs)))
	spinner.Start()
	recs, err := a.prober.ProbeAll(ctx, kind)
	if err != nil {
		spinner.StopWithError("Probe cancelled")
		return err
	}
	spinner.Stop()

	down := 0
	for _, r := range recs {
		if r.Down() {
			down++
		}
	}
	printTable(sourceHeaders, sourceRows(srcs, a.health, time.Now()), "No sources configured")
	if down > 0 {
		printWarning("%d of %d sources down", down, len(recs))
	} else {
		printSuccess("%d sources reachable", len(recs))
	}

	for _, k := range kinds(kind) {
		if best := a.selector.Candidates(k); len(best) > 0 && best[0].Status != health.StatusDown {
			printKeyValue(k.String(), best[0].Source.Name)
		}
	}
	return nil
}

// kinds expands an optional kind into the kinds it covers.
func kinds(kind source.Kind) []source.Kind {
	if kind != "" {
		return []source.Kind{kind}
	}
	return []source.Kind{source.KindPip, source.KindNpm}
}

// =============================================================================
// Source table
// =============================================================================

var sourceHeaders = []string{"Kind", "Name", "Priority", "Status", "Latency", "Probed", "URL"}

func sourceRows(srcs []source.Source, m *health.Map, now time.Time) [][]string {
	rows := make([][]string, 0, len(srcs))
	for _, s := range srcs {
		rec, ok := m.Get(s.Key())
		rows = append(rows, []string{
			s.Kind.String(),
			s.Name,
			strconv.Itoa(s.Priority),
			statusCell(s, rec, ok),
			latencyCell(rec),
			probedCell(rec, now),
			s.URL,
		})
	}
	return rows
}

func candidateRows(cands []selector.Candidate, m *health.Map, now time.Time) [][]string {
	rows := make([][]string, 0, len(cands))
	for i, cand := range cands {
		rec, ok := m.Get(cand.Source.Key())
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			cand.Source.Kind.String(),
			cand.Source.Name,
			strconv.Itoa(cand.Source.Priority),
			statusCell(cand.Source, rec, ok),
			latencyCell(rec),
			probedCell(rec, now),
		})
	}
	return rows
}

func statusCell(s source.Source, rec health.Record, ok bool) string {
	switch {
	case s.Disabled:
		return StyleDim.Render("disabled")
	case !ok:
		return StyleDim.Render("unknown")
	}
	return statusStyle(rec.Status).Render(rec.Status.String())
}

func latencyCell(rec health.Record) string {
	if d, ok := rec.Latency(); ok {
		return d.Round(time.Millisecond).String()
	}
	return "-"
}

func probedCell(rec health.Record, now time.Time) string {
	if rec.LastProbe.IsZero() {
		return "never"
	}
	return formatRelativeTime(rec.LastProbe, now)
}
