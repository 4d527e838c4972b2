package cli

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/PengC8899/didi-bot/internal/lifecycle"
	"github.com/PengC8899/didi-bot/internal/order"
	"github.com/PengC8899/didi-bot/internal/store"
)

// NewOrderCommand creates the order command group.
func NewOrderCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Create and inspect orders",
	}
	cmd.AddCommand(newOrderCreateCommand(opts))
	cmd.AddCommand(newOrderPublishCommand(opts))
	cmd.AddCommand(newOrderListCommand(opts))
	cmd.AddCommand(newOrderShowCommand(opts))
	cmd.AddCommand(newOrderMineCommand(opts))
	cmd.AddCommand(newOrderHistoryCommand(opts))
	cmd.AddCommand(newOrderApplicationsCommand(opts))
	cmd.AddCommand(newOrderStatsCommand(opts))
	return cmd
}

// CreateOptions holds flags for "order create".
type CreateOptions struct {
	*RootOptions
	Title     string
	Body      string
	Amount    string
	Photos    []string
	Documents []string
	Draft     bool
}

func newOrderCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an order and publish it to the channel",
		Long: `Create a NEW order and publish it to the channel. With --draft the
order is stored but stays off the channel until "order publish".

Requires operator or admin.

Example:
  orderbot --as 1001 order create --title "Fix sink" --body "Kitchen sink leaks" --amount 40
  orderbot --as 1001 order create --title "Paint" --body "Two coats" --photo AgACAgIAAxk
  orderbot --as 1001 order create --title "Roof" --body "Check tiles" --draft`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app, actor order.Actor) error {
				in, err := opts.input()
				if err != nil {
					return err
				}
				o, err := a.engine.CreateOrder(ctx, actor, in)
				if err != nil {
					return err
				}
				return a.out.Result(o, func(w io.Writer) { writeOrderLine(w, o) })
			})
		},
	}

	cmd.Flags().StringVar(&opts.Title, "title", "", "order title (required)")
	cmd.Flags().StringVar(&opts.Body, "body", "", "order description (required)")
	cmd.Flags().StringVar(&opts.Amount, "amount", "", "payment amount, e.g. 40 or 12.50")
	cmd.Flags().StringArrayVar(&opts.Photos, "photo", nil, "photo file id (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Documents, "document", nil, "document file id (repeatable)")
	cmd.Flags().BoolVar(&opts.Draft, "draft", false, "store the order without posting it")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("body")

	return cmd
}

func (opts *CreateOptions) input() (lifecycle.CreateInput, error) {
	in := lifecycle.CreateInput{Title: opts.Title, Body: opts.Body, Draft: opts.Draft}
	if opts.Amount != "" {
		amount, err := order.ParseAmount(opts.Amount)
		if err != nil {
			return in, order.NewInvalidInput("--amount: %v", err)
		}
		in.Amount = &amount
	}
	for _, ref := range opts.Photos {
		in.Media = append(in.Media, store.NewMedia{Kind: order.MediaPhoto, Ref: ref})
	}
	for _, ref := range opts.Documents {
		in.Media = append(in.Media, store.NewMedia{Kind: order.MediaDocument, Ref: ref})
	}
	return in, nil
}

func newOrderPublishCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <order-id>",
		Short: "Post a draft order to the channel (creator or admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				id, err := parseID(args[0], "order id")
				if err != nil {
					return err
				}
				o, err := a.engine.PublishDraft(ctx, actor, id)
				if err != nil {
					return err
				}
				return a.out.Result(o, func(w io.Writer) { writeOrderLine(w, o) })
			})
		},
	}
}

func newOrderListCommand(opts *RootOptions) *cobra.Command {
	var (
		status string
		filter lifecycle.ListFilter
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				if status != "" {
					s, err := order.ParseStatus(status)
					if err != nil {
						return order.NewInvalidInput("--status: %v", err)
					}
					filter.Status = &s
				}
				orders, err := a.engine.List(ctx, actor, filter)
				if err != nil {
					return err
				}
				return a.out.Result(orders, func(w io.Writer) { writeOrders(w, orders) })
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only orders in this status (NEW|IN_PROGRESS|DONE|CANCELED)")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "skip this many orders")
	cmd.Flags().IntVar(&filter.Limit, "limit", store.DefaultListLimit, "maximum number of orders")

	return cmd
}

func newOrderShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <order-id>",
		Short: "Show an order with its media",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				id, err := parseID(args[0], "order id")
				if err != nil {
					return err
				}
				detail, err := a.engine.Get(ctx, actor, id)
				if err != nil {
					return err
				}
				return a.out.Result(detail, func(w io.Writer) { writeOrderDetail(w, detail) })
			})
		},
	}
}

func newOrderMineCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "List orders you created or claimed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				orders, err := a.engine.UserOrders(ctx, actor)
				if err != nil {
					return err
				}
				return a.out.Result(orders, func(w io.Writer) { writeOrders(w, orders) })
			})
		},
	}
}

func newOrderHistoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <order-id>",
		Short: "Show an order's status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				id, err := parseID(args[0], "order id")
				if err != nil {
					return err
				}
				history, err := a.engine.History(ctx, actor, id)
				if err != nil {
					return err
				}
				return a.out.Result(history, func(w io.Writer) { writeHistory(w, history) })
			})
		},
	}
}

func newOrderApplicationsCommand(opts *RootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "applications <order-id>",
		Short: "List applications for an order (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				id, err := parseID(args[0], "order id")
				if err != nil {
					return err
				}
				var filter *order.ApplicationStatus
				if status != "" {
					s, err := order.ParseApplicationStatus(status)
					if err != nil {
						return order.NewInvalidInput("--status: %v", err)
					}
					filter = &s
				}
				apps, err := a.engine.Applications(ctx, actor, id, filter)
				if err != nil {
					return err
				}
				return a.out.Result(apps, func(w io.Writer) { writeApplications(w, apps) })
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only applications in this status (PENDING|APPROVED|REJECTED)")
	return cmd
}

func newOrderStatsCommand(opts *RootOptions) *cobra.Command {
	var from, to string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count orders and amounts per status (admin)",
		Long: `Count orders and sum their amounts per status, over orders created in
[--from, --to). Dates are YYYY-MM-DD in UTC. The default range is the last
30 days up to and including today.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app, actor order.Actor) error {
				start, end, err := statsRange(from, to, a.now())
				if err != nil {
					return err
				}
				stats, err := a.engine.Stats(ctx, actor, start, end)
				if err != nil {
					return err
				}
				report := newStatsReport(start, end, stats)
				return a.out.Result(report, func(w io.Writer) { writeStats(w, report) })
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first day, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day, exclusive (YYYY-MM-DD)")
	return cmd
}

func statsRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	today := now.UTC().Truncate(24 * time.Hour)
	end := today.Add(24 * time.Hour)
	start := end.AddDate(0, 0, -30)

	var err error
	if to != "" {
		if end, err = time.Parse(time.DateOnly, to); err != nil {
			return start, end, order.NewInvalidInput("--to: %q is not a YYYY-MM-DD date", to)
		}
	}
	if from != "" {
		if start, err = time.Parse(time.DateOnly, from); err != nil {
			return start, end, order.NewInvalidInput("--from: %q is not a YYYY-MM-DD date", from)
		}
	}
	return start, end, nil
}
