package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/endodetect/endodetect/internal/export"
	"github.com/endodetect/endodetect/internal/history"
	"github.com/endodetect/endodetect/internal/images"
	"github.com/endodetect/endodetect/internal/listing"
	"github.com/endodetect/endodetect/internal/render"
	"github.com/spf13/cobra"
)

// loadPages refreshes l and then loads pages until count pages are loaded,
// or every page when count is zero or less.
func loadPages[T listing.Keyed](ctx context.Context, l *listing.List[T], count int) error {
	if err := l.Refresh(ctx); err != nil {
		return err
	}
	for loaded := 1; l.HasMore() && (count <= 0 || loaded < count); loaded++ {
		if err := l.LoadMore(ctx); err != nil {
			if errors.Is(err, listing.ErrNoMorePages) {
				return nil
			}
			return err
		}
	}
	return nil
}

// selectRecords selects ids explicitly, or every visible record when all is set.
func selectRecords[T listing.Keyed](l *listing.List[T], ids []string, all bool) {
	if all {
		l.ToggleAllVisible()
	}
	for _, id := range ids {
		if !l.IsSelected(id) {
			l.Toggle(id)
		}
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse and manage your past uploads",
	}
	cmd.AddCommand(
		newHistoryListCmd(a),
		newHistoryShowCmd(a),
		newHistoryDeleteCmd(a),
		newHistoryExportCmd(a),
	)
	return cmd
}

func newHistoryListCmd(a *app) *cobra.Command {
	var (
		filter string
		pages  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your uploads, newest first",
		Long: `Lists your uploads, newest first, a page at a time.

--filter matches patient name or patient ID (case-insensitive) among the
pages loaded; use --pages 0 to search your whole history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			flow := history.New(a.client)
			if err := loadPages(cmd.Context(), flow.List, pages); err != nil {
				return userError(err)
			}
			flow.SetFilter(filter)
			visible := flow.Visible()

			return a.emit(cmd.OutOrStdout(), visible, func() string {
				out := render.HistoryTable(visible, nil)
				if flow.HasMore() {
					out += "\n" + render.Muted(fmt.Sprintf("More uploads available: rerun with --pages %d", pages+1))
				}
				return out
			})
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Only show records whose patient name or ID contains this text")
	cmd.Flags().IntVar(&pages, "pages", 1, "Number of pages to load (0 loads all)")
	return cmd
}

func newHistoryShowCmd(a *app) *cobra.Command {
	var saveDir string

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show the detection result of one upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			flow := history.New(a.client)
			if _, err := flow.All(cmd.Context()); err != nil {
				return userError(err)
			}
			rec, ok := flow.Find(args[0])
			if !ok {
				return fmt.Errorf("no upload with id %s", args[0])
			}
			if saveDir != "" {
				pair, err := images.NewFetcher().FetchRecord(cmd.Context(), rec, saveDir)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved processed image to %s\n", pair.ProcessedPath)
			}
			return a.emit(cmd.OutOrStdout(), rec, func() string {
				header := fmt.Sprintf("%s  %s (%s)  %s",
					render.FormatTime(rec.Datetime), render.Text(rec.PatientName), render.Text(rec.PatientID), render.Text(rec.ModelUsed))
				return render.Title(header) + "\n" +
					"Original:  " + render.Text(rec.OriginalURL) + "\n" +
					"Processed: " + render.Text(rec.ProcessedURL) + "\n" +
					"Notes:     " + render.Text(rec.Notes) + "\n" +
					render.Result(rec.Result)
			})
		},
	}
	cmd.Flags().StringVar(&saveDir, "save", "", "Download the original and processed images into this directory")
	return cmd
}

func newHistoryDeleteCmd(a *app) *cobra.Command {
	var (
		filter string
		all    bool
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "delete [ID...]",
		Short: "Permanently delete uploads and their stored images",
		Example: `  endodetect history delete 6650f1... 6650f2...
  endodetect history delete --all --filter P-104`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			ctx := cmd.Context()
			flow := history.New(a.client)
			if err := loadPages(ctx, flow.List, 0); err != nil {
				return userError(err)
			}
			flow.SetFilter(filter)
			selectRecords(flow.List, args, all)

			requested := len(flow.Selected())
			n, err := flow.DeleteSelected(ctx, newConfirmer(cmd, yes))
			switch {
			case errors.Is(err, listing.ErrEmptySelection):
				return errors.New("nothing selected: pass record IDs or --all")
			case errors.Is(err, listing.ErrNotConfirmed):
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			case err != nil:
				return userError(err)
			}
			printDeleted(cmd.OutOrStdout(), n, requested)
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Restrict --all to records matching this text")
	cmd.Flags().BoolVar(&all, "all", false, "Select every record matching --filter")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newHistoryExportCmd(a *app) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Export your upload history to .parquet, .yaml or .jsonl",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			if _, err := export.FormatFor(args[0]); err != nil {
				return err
			}
			flow := history.New(a.client)
			if _, err := flow.All(cmd.Context()); err != nil {
				return userError(err)
			}
			flow.SetFilter(filter)
			records := flow.Visible()
			if err := export.WriteFile(args[0], records); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d record(s) to %s\n", len(records), args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Only export records whose patient name or ID contains this text")
	return cmd
}
