package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bryanwahyu/datasheet-lens/internal/domain/records"
)

func listCmd(opts *rootOptions) *cobra.Command {
	var (
		f      records.Filter
		tag    string
		status string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List analysis records, newest first",
		Example: `  sheetlens list --manufacturer "texas instruments"
  sheetlens list --tag part_number:LM25 --page 2 --page-size 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tag != "" {
				key, value, ok := strings.Cut(tag, ":")
				if !ok || key == "" {
					return fmt.Errorf("--tag must look like key:value")
				}
				f.TagKey, f.TagValue = key, value
			}
			if status != "" {
				f.Status = records.Status(status)
				if !f.Status.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
			}

			ctx := cmd.Context()
			app, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			page, err := app.Analysis.List(ctx, f)
			if err != nil {
				return fmt.Errorf("failed to list records: %w", err)
			}
			out := cmd.OutOrStdout()
			if page.Total == 0 {
				fmt.Fprintln(out, "No records found")
				return nil
			}
			fmt.Fprintf(out, "Found %d record(s), page %d of %d:\n\n", page.Total, page.Page, max(page.TotalPages, 1))
			for _, rec := range page.Data {
				fmt.Fprintf(out, "%-36s  %-10s  %s\n", rec.ID, rec.Status, rec.FilePath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.TagValue, "manufacturer", "", "only records whose manufacturer tag contains this text")
	cmd.Flags().StringVar(&tag, "tag", "", "only records whose tag matches key:value (substring, any case)")
	cmd.Flags().StringVar(&status, "status", "", "only records in this status")
	cmd.Flags().IntVar(&f.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&f.PageSize, "page-size", records.DefaultPageSize, "records per page")
	cmd.MarkFlagsMutuallyExclusive("manufacturer", "tag")
	return cmd
}

func summaryCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count records by status, manufacturer and part number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			sum, err := app.Analysis.Summary(ctx)
			if err != nil {
				return fmt.Errorf("failed to summarize records: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			}

			fmt.Fprintf(out, "Records: %d\n", sum.Total)
			if sum.LatestAt != nil {
				fmt.Fprintf(out, "Latest:  %s\n", sum.LatestAt.Local().Format("2006-01-02 15:04:05"))
			}
			fmt.Fprintln(out, "\nBy status:")
			for _, st := range []records.Status{records.StatusPending, records.StatusProcessing, records.StatusFinished, records.StatusFailed} {
				fmt.Fprintf(out, "  %-10s %d\n", statusText(st), sum.ByStatus[st])
			}
			printCounts(out, "By manufacturer:", sum.ByManufacturer)
			printCounts(out, "By part number:", sum.ByPartNumber)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func printCounts(out io.Writer, title string, counts []records.TagCount) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s\n", title)
	for _, c := range counts {
		fmt.Fprintf(out, "  %-24s %d\n", c.Value, c.Count)
	}
}

func showCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id|file>",
		Short: "Show one analysis record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			var rec *records.AnalysisRecord
			if _, perr := uuid.Parse(args[0]); perr == nil {
				rec, err = app.Analysis.Record(ctx, "", args[0])
			} else {
				path, aerr := filepath.Abs(args[0])
				if aerr != nil {
					return aerr
				}
				rec, err = app.Analysis.Record(ctx, path, "")
			}
			if err != nil {
				return fmt.Errorf("record %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}

			bold := color.New(color.Bold)
			fmt.Fprintf(out, "%s (%s)\n", bold.Sprint(rec.Name()), rec.ID)
			fmt.Fprintf(out, "File:    %s\n", rec.FilePath)
			fmt.Fprintf(out, "Status:  %s\n", statusText(rec.Status))
			fmt.Fprintf(out, "Pages:   %d\n", rec.PageCount)
			fmt.Fprintf(out, "Updated: %s\n", rec.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
			if rec.Error != "" {
				fmt.Fprintf(out, "Error:   %s: %s\n", rec.ErrorKind, rec.Error)
			}
			if len(rec.Tags) > 0 {
				fmt.Fprintln(out, "\nTags:")
				printTags(cmd, rec.Tags)
			}
			if rec.Summary != "" {
				fmt.Fprintf(out, "\nSummary:\n%s\n", rec.Summary)
			}
			if len(rec.Checkpoints) > 0 {
				fmt.Fprintf(out, "\nCheckpoints (%d):\n", len(rec.Checkpoints))
				for _, cp := range rec.Checkpoints {
					fmt.Fprintf(out, "  [%s] %s\n", cp.Category, cp.Description)
				}
			}
			if rec.VerificationSnippet != "" {
				fmt.Fprintf(out, "\nVerification snippet:\n%s\n", rec.VerificationSnippet)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")
	return cmd
}

func requeueCmd(opts *rootOptions) *cobra.Command {
	var now bool
	cmd := &cobra.Command{
		Use:   "requeue <id>",
		Short: "Mark a record for re-analysis",
		Long: `Requeue sets the record back to pending. A running "serve" picks pending
records up on its next start; pass --now to analyze it immediately instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			rec, err := app.Analysis.Requeue(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to requeue %s: %w", args[0], err)
			}
			out := cmd.OutOrStdout()
			if !now {
				fmt.Fprintf(out, "✓ %s is %s\n", rec.Name(), statusText(rec.Status))
				return nil
			}
			rec, err = app.Analysis.ProcessFile(ctx, rec.FilePath)
			if err != nil {
				return fmt.Errorf("failed to analyze %s: %w", args[0], err)
			}
			fmt.Fprintf(out, "%s %s (%s)\n", statusText(rec.Status), rec.Name(), rec.ID)
			if rec.Status == records.StatusFailed {
				return fmt.Errorf("%s: %s", rec.ErrorKind, rec.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "analyze right away instead of waiting for the server")
	return cmd
}
