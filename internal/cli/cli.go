// Package cli implements the deps command-line interface.
//
// Commands install packages through ranked mirrors, check and report
// version conflicts, write and restore lock files, administer the source
// registry, and manage the local artifact cache. "deps serve" runs the
// resident daemon from package daemon.
//
// All commands support --verbose (-v) for debug-level logging and --config
// for an explicit configuration file.
package cli

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/smoothdeps/pkg/buildinfo"
	"github.com/matzehuels/smoothdeps/pkg/installer"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the binary name used in help and completion text.
const appName = "deps"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	runner     installer.Runner // nil runs real package managers
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// verbose reports whether debug output is enabled.
func (c *CLI) verbose() bool {
	return c.Logger.GetLevel() <= log.DebugLevel
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "deps installs pip and npm packages through healthy mirrors",
		Long: `deps installs pip and npm packages through a ranked set of mirrors. It probes
mirror health, fails over when a mirror breaks, caches artifacts by content,
reports version conflicts, and writes lock files per environment.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/smoothdeps/config.toml)")

	// Register all subcommands
	root.AddCommand(c.installCommand())
	root.AddCommand(c.checkConflictsCommand())
	root.AddCommand(c.lockCommand())
	root.AddCommand(c.restoreCommand())
	root.AddCommand(c.outdatedCommand())
	root.AddCommand(c.updateCommand())
	root.AddCommand(c.uninstallCommand())
	root.AddCommand(c.sourceCommand())
	root.AddCommand(c.exportCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.historyCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.completionCommand())

	return root
}
