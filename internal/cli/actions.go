package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/PengC8899/didi-bot/internal/lifecycle"
	"github.com/PengC8899/didi-bot/internal/order"
)

// NewApplyCommand creates the apply command.
func NewApplyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <order-id>",
		Short: "Apply to claim a NEW order",
		Long: `Apply to claim a NEW order. Applying again returns the existing
application; an admin approves one applicant.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				id, err := parseID(args[0], "order id")
				if err != nil {
					return err
				}
				res, err := a.engine.Apply(ctx, actor, id)
				if err != nil {
					return err
				}
				return a.out.Result(res, func(w io.Writer) { writeApplyResult(w, res) })
			})
		},
	}
}

// NewApproveCommand creates the approve command.
func NewApproveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <order-id> <application-id>",
		Short: "Approve an application; the order moves to IN_PROGRESS (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				orderID, appID, err := parseOrderApplication(args)
				if err != nil {
					return err
				}
				o, err := a.engine.Approve(ctx, actor, orderID, appID)
				if err != nil {
					return err
				}
				return a.out.Result(o, func(w io.Writer) { writeOrderLine(w, o) })
			})
		},
	}
}

// NewRejectCommand creates the reject command.
func NewRejectCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <order-id> <application-id>",
		Short: "Reject an application (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				orderID, appID, err := parseOrderApplication(args)
				if err != nil {
					return err
				}
				app, err := a.engine.Reject(ctx, actor, orderID, appID)
				if err != nil {
					return err
				}
				return a.out.Result(app, func(w io.Writer) { writeApplication(w, app) })
			})
		},
	}
}

// NewDoneCommand creates the done command.
func NewDoneCommand(opts *RootOptions) *cobra.Command {
	return newTransitionCommand(opts, "done", "Mark an IN_PROGRESS order done (claimant or admin)",
		func(ctx context.Context, e *lifecycle.Engine, actor order.Actor, id int64, note string) (order.Order, error) {
			return e.MarkDone(ctx, actor, id, note)
		})
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(opts *RootOptions) *cobra.Command {
	return newTransitionCommand(opts, "cancel", "Cancel an order that is not finished (admin)",
		func(ctx context.Context, e *lifecycle.Engine, actor order.Actor, id int64, note string) (order.Order, error) {
			return e.Cancel(ctx, actor, id, note)
		})
}

type transitionFunc func(ctx context.Context, e *lifecycle.Engine, actor order.Actor, id int64, note string) (order.Order, error)

func newTransitionCommand(opts *RootOptions, name, short string, run transitionFunc) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   name + " <order-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				id, err := parseID(args[0], "order id")
				if err != nil {
					return err
				}
				o, err := run(ctx, a.engine, actor, id, note)
				if err != nil {
					return err
				}
				return a.out.Result(o, func(w io.Writer) { writeOrderLine(w, o) })
			})
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "note stored in the status history")
	return cmd
}

// NewCallbackCommand creates the callback command.
func NewCallbackCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "callback <data>",
		Short: "Handle raw control data as if a channel button was pressed",
		Long: `Handle raw control data as if a channel button was pressed.

Example:
  orderbot --as 42 callback apply:7
  orderbot --as 1001 callback approve:7:3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				out, err := a.engine.HandleControl(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return a.out.Result(out, func(w io.Writer) { writeOutcome(w, out) })
			})
		},
	}
}

func writeOutcome(w io.Writer, out lifecycle.Outcome) {
	switch {
	case out.Apply != nil:
		writeApplyResult(w, *out.Apply)
	case out.Application != nil:
		writeApplication(w, *out.Application)
	case out.Order != nil:
		writeOrderLine(w, *out.Order)
	default:
		fmt.Fprintln(w, "OK")
	}
}

func parseOrderApplication(args []string) (int64, int64, error) {
	orderID, err := parseID(args[0], "order id")
	if err != nil {
		return 0, 0, err
	}
	appID, err := parseID(args[1], "application id")
	if err != nil {
		return 0, 0, err
	}
	return orderID, appID, nil
}
