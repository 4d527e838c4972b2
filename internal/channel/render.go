package channel

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/PengC8899/didi-bot/internal/order"
)

// Button labels.
const (
	LabelApply   = "Apply"
	LabelDone    = "Done"
	LabelCancel  = "Cancel"
	LabelContact = "Contact operator"
)

// Renderer turns orders into channel payloads. The zero value renders
// without contact links.
type Renderer struct {
	Links Links
}

// Channel content limits, in characters.
const (
	MaxTextLen    = 4096
	MaxCaptionLen = 1024
)

// Render produces the payload for o. media must be in position order; the
// first photo becomes the post image.
//
// Rendering is a pure function of its inputs: equal orders and media give
// byte-identical payloads, which keeps PayloadHash stable. The text always
// fits the channel limit for its kind (caption for photo posts); only the
// body is shortened, so the status, claimant and order lines survive.
func (r Renderer) Render(o order.Order, media []order.MediaItem) Payload {
	var p Payload
	for _, m := range media {
		if m.Kind == order.MediaPhoto {
			p.Photo = m.Ref
			break
		}
	}

	var tail strings.Builder
	if o.Amount != nil {
		fmt.Fprintf(&tail, "Amount: %s\n", o.Amount)
	}
	fmt.Fprintf(&tail, "Status: %s\n", o.Status)
	if o.Claimant != nil && (o.Status == order.StatusInProgress || o.Status == order.StatusDone) {
		fmt.Fprintf(&tail, "Claimant: %s\n", o.Claimant.Display())
	}
	fmt.Fprintf(&tail, "Order #%d", o.ID)

	title := norm.NFC.String(strings.TrimSpace(o.Title))
	body := norm.NFC.String(strings.TrimSpace(o.Body))
	limit := MaxTextLen
	if p.Photo != "" {
		limit = MaxCaptionLen
	}
	budget := limit - utf8.RuneCountInString(title) - utf8.RuneCountInString(tail.String()) - len("\n\n\n\n")
	p.Text = title + "\n\n" + shorten(body, budget) + "\n\n" + tail.String()

	switch o.Status {
	case order.StatusNew:
		p.Controls = append(p.Controls, []Control{
			{Label: LabelApply, Data: order.EncodeAction(order.Apply{OrderID: o.ID})},
		})
	case order.StatusInProgress:
		p.Controls = append(p.Controls, []Control{
			{Label: LabelDone, Data: order.EncodeAction(order.Done{OrderID: o.ID})},
			{Label: LabelCancel, Data: order.EncodeAction(order.Cancel{OrderID: o.ID})},
		})
	}
	if link := r.Links.Operator(); link != "" {
		p.Controls = append(p.Controls, []Control{{Label: LabelContact, URL: link}})
	}
	return p
}

// shorten cuts s to at most n runes, marking the cut with an ellipsis.
func shorten(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
