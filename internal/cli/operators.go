package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/PengC8899/didi-bot/internal/order"
)

// NewOperatorCommand creates the operator command group.
func NewOperatorCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Grant and revoke the operator role (admin)",
		Long: `Grant and revoke the operator role at runtime. Grants are stored in
the database and add to the operators listed in the config file; configured
operators can only be changed there.

Example:
  orderbot --as 1001 operator add 42 --username bob
  orderbot --as 1001 operator remove 42
  orderbot --as 1001 operator list`,
	}
	cmd.AddCommand(newOperatorAddCommand(opts))
	cmd.AddCommand(newOperatorRemoveCommand(opts))
	cmd.AddCommand(newOperatorListCommand(opts))
	return cmd
}

// operatorChange is the result of add and remove.
type operatorChange struct {
	UserID  int64 `json:"user_id"`
	Changed bool  `json:"changed"`
}

func newOperatorAddCommand(opts *RootOptions) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "add <user-id>",
		Short: "Grant the operator role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				id, err := parseID(args[0], "user id")
				if err != nil {
					return err
				}
				added, err := a.engine.AddOperator(ctx, actor, order.Actor{ID: id, Username: username})
				if err != nil {
					return err
				}
				res := operatorChange{UserID: id, Changed: added}
				return a.out.Result(res, func(w io.Writer) {
					if added {
						fmt.Fprintf(w, "User #%d is now an operator\n", id)
					} else {
						fmt.Fprintf(w, "User #%d is already an operator\n", id)
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Telegram username, for display")
	return cmd
}

func newOperatorRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <user-id>",
		Short: "Revoke a granted operator role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				id, err := parseID(args[0], "user id")
				if err != nil {
					return err
				}
				removed, err := a.engine.RemoveOperator(ctx, actor, id)
				if err != nil {
					return err
				}
				res := operatorChange{UserID: id, Changed: removed}
				return a.out.Result(res, func(w io.Writer) {
					if removed {
						fmt.Fprintf(w, "User #%d is no longer an operator\n", id)
					} else {
						fmt.Fprintf(w, "User #%d was not an operator\n", id)
					}
				})
			})
		},
	}
}

func newOperatorListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured and granted operators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				entries, err := a.engine.Operators(ctx, actor)
				if err != nil {
					return err
				}
				return a.out.Result(entries, func(w io.Writer) { writeOperators(w, entries) })
			})
		},
	}
}
