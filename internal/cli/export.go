package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/matzehuels/smoothdeps/pkg/cache"
)

// exportCommand creates the export command.
func (c *CLI) exportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the artifact cache for offline installs",
		Long: `Copy every cached artifact and a manifest to a directory or an S3 bucket.
Install from a directory elsewhere with "deps install --from-cache DIR", or
fetch from S3 with "deps cache pull s3://bucket/prefix".`,
		Example: `  deps export --output ./offline
  deps export --output s3://artifacts/smoothdeps`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runExport(cmd.Context(), output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "target directory or s3://bucket/prefix")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func (c *CLI) runExport(ctx context.Context, output string) error {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.artifacts(false)
	if err != nil {
		return err
	}

	prog := newProgress(c.Logger)
	var n int
	if strings.HasPrefix(output, "s3://") {
		remote, err := a.s3Remote(output)
		if err != nil {
			return err
		}
		spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Uploading to %s...", remote))
		spinner.Start()
		n, err = remote.Push(ctx, store)
		spinner.Stop()
		if err != nil && n == 0 {
			return err
		}
		reportPartial(err)
	} else {
		n, err = cache.Export(ctx, store, output)
		if err != nil && n == 0 {
			return err
		}
		reportPartial(err)
	}
	prog.done(fmt.Sprintf("Exported %d artifacts", n))

	printSuccess("Exported %d artifacts", n)
	printFile(output)
	if !strings.HasPrefix(output, "s3://") {
		printNextStep("Install offline", fmt.Sprintf("%s install --from-cache %s", appName, output))
	}
	return nil
}

// reportPartial warns about entries that failed while others succeeded.
func reportPartial(err error) {
	if err == nil {
		return
	}
	printWarning("Some artifacts were skipped")
	for _, e := range multierr.Errors(err) {
		printDetail("%s", e)
	}
}

// s3Remote opens the bucket named by url with the configured credentials.
func (a *app) s3Remote(url string) (*cache.S3Remote, error) {
	cfg, err := a.cfg.S3Config(url)
	if err != nil {
		return nil, err
	}
	return cache.NewS3Remote(cfg, a.logger)
}
