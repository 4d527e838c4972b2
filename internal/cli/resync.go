package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/PengC8899/didi-bot/internal/lifecycle"
	"github.com/PengC8899/didi-bot/internal/order"
)

// NewResyncCommand creates the resync command.
func NewResyncCommand(opts *RootOptions) *cobra.Command {
	var failed bool

	cmd := &cobra.Command{
		Use:   "resync [order-id]",
		Short: "Re-send channel posts (admin)",
		Long: `Re-render and re-send an order's channel post, or with --failed every
order that was never published or whose last sync failed.

Example:
  orderbot --as 1001 resync 7
  orderbot --as 1001 resync --failed`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				if failed == (len(args) == 1) {
					return order.NewInvalidInput("give an order id or --failed, not both")
				}
				if failed {
					return reconcile(ctx, a, actor)
				}

				id, err := parseID(args[0], "order id")
				if err != nil {
					return err
				}
				if err := a.engine.ForceResync(ctx, actor, id); err != nil {
					return err
				}
				result := map[string]int64{"order_id": id}
				return a.out.Result(result, func(w io.Writer) { fmt.Fprintf(w, "Order #%d resynced\n", id) })
			})
		},
	}

	cmd.Flags().BoolVar(&failed, "failed", false, "resync every unpublished or failed order")
	return cmd
}

func reconcile(ctx context.Context, a *app, actor order.Actor) error {
	report, err := a.engine.Reconcile(ctx, actor)
	if err != nil {
		return err
	}
	if err := a.out.Result(report, func(w io.Writer) { writeReconcileReport(w, report) }); err != nil {
		return err
	}
	if len(report.Failures) > 0 {
		exitErr := NewExitError(ExitSyncFailure, fmt.Sprintf("%d of %d orders could not be synced", len(report.Failures), report.Checked))
		exitErr.Reported = true
		return exitErr
	}
	return nil
}

func writeReconcileReport(w io.Writer, r lifecycle.ReconcileReport) {
	fmt.Fprintf(w, "Checked %d, synced %d, failed %d\n", r.Checked, r.Synced, len(r.Failures))
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  #%d %s\n", f.OrderID, f.Error)
	}
}
