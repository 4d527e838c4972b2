package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/PengC8899/didi-bot/internal/lifecycle"
	"github.com/PengC8899/didi-bot/internal/order"
	"github.com/PengC8899/didi-bot/internal/store"
)

const timeLayout = "2006-01-02 15:04"

func writeOrderLine(w io.Writer, o order.Order) {
	fmt.Fprintf(w, "#%d [%s] %s", o.ID, o.Status, o.Title)
	if o.Draft {
		fmt.Fprint(w, " (draft)")
	}
	if o.Amount != nil {
		fmt.Fprintf(w, " (%s)", o.Amount)
	}
	if o.Claimant != nil {
		fmt.Fprintf(w, " claimed by %s", o.Claimant.Display())
	}
	if o.SyncFailure != nil {
		fmt.Fprintf(w, " !sync %s", o.SyncFailure.Kind)
	}
	fmt.Fprintln(w)
}

func writeOrders(w io.Writer, orders []order.Order) {
	if len(orders) == 0 {
		fmt.Fprintln(w, "No orders.")
		return
	}
	for _, o := range orders {
		writeOrderLine(w, o)
	}
}

func writeOrderDetail(w io.Writer, d lifecycle.OrderDetail) {
	o := d.Order
	fmt.Fprintf(w, "Order #%d  %s  (version %d)\n", o.ID, o.Status, o.Version)
	fmt.Fprintf(w, "Title:    %s\n", o.Title)
	fmt.Fprintf(w, "Body:     %s\n", o.Body)
	if o.Amount != nil {
		fmt.Fprintf(w, "Amount:   %s\n", o.Amount)
	}
	fmt.Fprintf(w, "Creator:  %s\n", o.Creator.Display())
	if o.Claimant != nil {
		fmt.Fprintf(w, "Claimant: %s\n", o.Claimant.Display())
	}
	fmt.Fprintf(w, "Created:  %s\n", o.CreatedAt.UTC().Format(timeLayout))
	fmt.Fprintf(w, "Updated:  %s\n", o.UpdatedAt.UTC().Format(timeLayout))
	if o.Published() {
		fmt.Fprintf(w, "Post:     %s\n", o.MessageRef)
	} else if o.Draft {
		fmt.Fprintln(w, "Post:     draft, not published")
	} else {
		fmt.Fprintln(w, "Post:     not published")
	}
	if f := o.SyncFailure; f != nil {
		fmt.Fprintf(w, "Sync:     %s failure at %s: %s\n", f.Kind, f.At.UTC().Format(timeLayout), f.Reason)
	}
	for _, m := range d.Media {
		fmt.Fprintf(w, "Media %d:  %s %s\n", m.Position, m.Kind, m.Ref)
	}
}

func writeHistory(w io.Writer, entries []order.HistoryEntry) {
	for _, h := range entries {
		from := "-"
		if h.From != nil {
			from = string(*h.From)
		}
		fmt.Fprintf(w, "%s  %s -> %s  by #%d", h.CreatedAt.UTC().Format(timeLayout), from, h.To, h.ActorID)
		if h.Note != "" {
			fmt.Fprintf(w, "  %q", h.Note)
		}
		fmt.Fprintln(w)
	}
}

func writeApplication(w io.Writer, app order.Application) {
	fmt.Fprintf(w, "Application #%d on order #%d by %s: %s\n", app.ID, app.OrderID, app.Applicant.Display(), app.Status)
}

func writeApplications(w io.Writer, apps []order.Application) {
	if len(apps) == 0 {
		fmt.Fprintln(w, "No applications.")
		return
	}
	for _, app := range apps {
		writeApplication(w, app)
	}
}

func writeApplyResult(w io.Writer, res lifecycle.ApplyResult) {
	if res.Existing {
		fmt.Fprintf(w, "Already applied: application #%d is %s\n", res.Application.ID, res.Application.Status)
	} else {
		fmt.Fprintf(w, "Applied: application #%d is %s\n", res.Application.ID, res.Application.Status)
	}
	if res.OperatorLink != "" {
		fmt.Fprintf(w, "Contact the operator: %s\n", res.OperatorLink)
	}
	if res.BotLink != "" {
		fmt.Fprintf(w, "Continue in private chat: %s\n", res.BotLink)
	}
}

func writeOperators(w io.Writer, entries []lifecycle.OperatorEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No operators.")
		return
	}
	for _, op := range entries {
		name := order.Actor{ID: op.ID, Username: op.Username}.Display()
		if op.Configured {
			fmt.Fprintf(w, "%s  configured\n", name)
			continue
		}
		fmt.Fprintf(w, "%s  added by #%d at %s\n", name, op.AddedBy, op.AddedAt.UTC().Format(timeLayout))
	}
}

// StatsReport is the output of "order stats".
type StatsReport struct {
	From  time.Time          `json:"from"`
	To    time.Time          `json:"to"`
	Stats []store.StatusStat `json:"stats"`
	Count int                `json:"count"`
	Total order.Amount       `json:"total"`
}

func newStatsReport(from, to time.Time, stats []store.StatusStat) StatsReport {
	r := StatsReport{From: from, To: to, Stats: stats}
	for _, s := range stats {
		r.Count += s.Count
		r.Total += s.Total
	}
	return r
}

func writeStats(w io.Writer, r StatsReport) {
	fmt.Fprintf(w, "Orders created %s to %s\n", r.From.UTC().Format("2006-01-02"), r.To.UTC().Format("2006-01-02"))
	for _, s := range r.Stats {
		fmt.Fprintf(w, "  %-12s %4d  %s\n", s.Status, s.Count, s.Total)
	}
	fmt.Fprintf(w, "  %-12s %4d  %s\n", "TOTAL", r.Count, r.Total)
}
