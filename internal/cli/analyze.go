package cli

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
)

func analyzeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <file>...",
		Short: "Analyze datasheet files now and store the results",
		Long: `Analyze runs the full pipeline on each file in the foreground. Files
already known are analyzed again. Do not run it against a database that a
running "serve" is using for the same files.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			failed := 0
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				if !records.Supported(path) {
					return fmt.Errorf("%s: unsupported file type (want one of %v)", arg, records.SupportedExtensions)
				}

				rec, err := app.Analysis.ProcessFile(ctx, path)
				if err != nil {
					return fmt.Errorf("failed to analyze %s: %w", arg, err)
				}
				fmt.Fprintf(out, "%s %s (%s)\n", statusText(rec.Status), rec.Name(), rec.ID)
				if rec.Status == records.StatusFailed {
					failed++
					fmt.Fprintf(out, "  %s: %s\n", rec.ErrorKind, rec.Error)
					continue
				}
				printTags(cmd, rec.Tags)
				fmt.Fprintf(out, "  %d checkpoint(s)\n", len(rec.Checkpoints))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) failed", failed, len(args))
			}
			return nil
		},
	}
}

func printTags(cmd *cobra.Command, tags map[string]string) {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s\n", k, tags[k])
	}
}
