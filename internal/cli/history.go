package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/smoothdeps/pkg/deps"
	"github.com/matzehuels/smoothdeps/pkg/history"
)

// historyCommand creates the history command.
func (c *CLI) historyCommand() *cobra.Command {
	var envFlag, kindFlag, dir string
	var limit int
	var all bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent installs",
		Example: `  deps history
  deps history --env dev --limit 5
  deps history --all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			q := history.Query{Limit: limit}
			if envFlag != "" {
				env, err := deps.ParseEnvironment(envFlag)
				if err != nil {
					return err
				}
				q.Environment = env
			}
			kind, err := kindArg(kindFlag)
			if err != nil {
				return err
			}
			q.Kind = kind
			if !all {
				q.Dir = absDir(dir)
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
			records, err := store.List(ctx, q)
			if err != nil {
				return err
			}
			printTable(historyHeaders(all), historyRows(records, all), "No installs recorded")
			return nil
		},
	}

	cmd.Flags().StringVarP(&envFlag, "env", "e", "", "only show this environment")
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "only show this installer kind")
	cmd.Flags().StringVarP(&dir, "dir", "C", ".", "project directory")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "show at most this many installs (0 for all)")
	cmd.Flags().BoolVar(&all, "all", false, "show installs of every project")

	return cmd
}

func historyHeaders(withDir bool) []string {
	h := []string{"Time", "Kind", "Env", "Packages", "Sources", "Cached", "Took"}
	if withDir {
		h = append(h, "Dir")
	}
	return h
}

// historyRows renders records newest first.
func historyRows(records []history.Record, withDir bool) [][]string {
	rows := make([][]string, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		pkgs := make([]string, 0, len(r.Installed))
		for _, p := range r.Installed {
			pkgs = append(pkgs, p.Name+"=="+p.Version)
		}
		if n := len(r.Failed); n > 0 {
			pkgs = append(pkgs, fmt.Sprintf("(%d failed)", n))
		}
		row := []string{
			r.Time.Local().Format("2006-01-02 15:04"),
			r.Kind.String(),
			r.Environment.String(),
			truncate(strings.Join(pkgs, " "), 48),
			strings.Join(r.Sources, ", "),
			strconv.Itoa(r.CacheHits),
			r.Duration.Round(time.Millisecond).String(),
		}
		if withDir {
			row = append(row, r.Dir)
		}
		rows = append(rows, row)
	}
	return rows
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
