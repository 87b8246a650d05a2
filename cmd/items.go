package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pricewatch/internal/monitor"
	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

func newInsertCmd() *cobra.Command {
	var description, rawURL string
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Adds a product URL to the watchlist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			item, err := appInstance.Monitor().Insert(cmd.Context(), description, rawURL)
			if err != nil {
				return fmt.Errorf("insert: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "inserted %s %s\n", item.ID, item.URL)
			return err
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "item description")
	cmd.Flags().StringVarP(&rawURL, "url", "u", "", "product URL")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Prints the watchlist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			items, err := appInstance.Monitor().List(cmd.Context())
			if err != nil {
				return err
			}
			return printItems(cmd.OutOrStdout(), items)
		},
	}
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [ID...]",
		Short: "Refreshes the given items, or every stale monitored item",
		RunE: func(cmd *cobra.Command, ids []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			svc := appInstance.Monitor()
			items, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}
			view := watchlist.NewView(items)

			var results []monitor.Result
			if len(ids) == 0 {
				results, err = svc.RefreshStale(cmd.Context())
				if err != nil {
					return err
				}
			} else {
				results = svc.RefreshMany(cmd.Context(), ids)
			}

			failed := 0
			for _, r := range results {
				if r.Item != nil {
					view.Apply(*r.Item)
					continue
				}
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", r.ID, r.Outcome, r.Error)
			}
			if err := printItems(cmd.OutOrStdout(), view.Items()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d of %d\n", len(results)-failed, len(results))
			if len(ids) > 0 && failed > 0 {
				return fmt.Errorf("%d of %d refreshes failed", failed, len(results))
			}
			return nil
		},
	}
}

func printItems(out io.Writer, items []watchlist.Item) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDESCRIPTION\tCURRENT\tLOWEST\tDISCOUNT\tUPDATED\tMONITORING")
	for _, item := range items {
		updated := "-"
		if item.DateUpdated != nil {
			updated = *item.DateUpdated
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			item.ID,
			item.Description,
			watchlist.FormatPrice(item.CurrentPrice),
			watchlist.FormatPrice(item.LowestPrice),
			watchlist.FormatPrice(item.CurrentDiscount),
			updated,
			item.KeepMonitoring,
		)
	}
	return tw.Flush()
}
