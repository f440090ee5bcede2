// Package cli implements the sheetlens command line.
package cli

import (
	"context"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
	"github.com/bryanwahyu/datasheet-lens/internal/wire"
)

type rootOptions struct {
	configPath string
	version    string
}

// NewRootCmd assembles the command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{version: version}
	root := &cobra.Command{
		Use:     "sheetlens",
		Short:   "Datasheet Lens - turns component datasheets into design checklists",
		Version: version,
		Long: `Datasheet Lens watches a folder for component datasheets (PDF, PNG, JPEG),
renders their pages, asks a vision model for key parameters, a summary and
design verification checkpoints, and keeps the results in a local database.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to config file (default $CONFIG_PATH or ./config.yaml)")

	root.AddCommand(serveCmd(opts))
	root.AddCommand(analyzeCmd(opts))
	root.AddCommand(listCmd(opts))
	root.AddCommand(summaryCmd(opts))
	root.AddCommand(showCmd(opts))
	root.AddCommand(requeueCmd(opts))
	root.AddCommand(configCmd(opts))
	return root
}

// open builds the application for a single command. Logs go to stderr so
// command output stays clean.
func (o *rootOptions) open(ctx context.Context) (*wire.App, error) {
	cfg, err := wire.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	return wire.Build(ctx, cfg, wire.NewLogger(cfg, os.Stderr), o.version)
}

func statusText(s records.Status) string {
	switch s {
	case records.StatusFinished:
		return color.New(color.FgGreen).Sprint(s)
	case records.StatusFailed:
		return color.New(color.FgRed).Sprint(s)
	case records.StatusProcessing:
		return color.New(color.FgYellow).Sprint(s)
	}
	return color.New(color.FgCyan).Sprint(s)
}
