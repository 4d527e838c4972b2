package channel

import (
	"fmt"
	"net/url"
	"strings"
)

// Payload is the rendered form of an order as sent to the channel.
type Payload struct {
	// Text is the message text, or the caption when Photo is set.
	Text string `cbor:"1,keyasint" json:"text"`

	// Photo is the media reference attached to the post, if any.
	Photo string `cbor:"2,keyasint,omitempty" json:"photo,omitempty"`

	// Controls are rows of inline buttons.
	Controls [][]Control `cbor:"3,keyasint,omitempty" json:"controls,omitempty"`
}

// Control is one inline button. Exactly one of Data and URL is set.
type Control struct {
	Label string `cbor:"1,keyasint" json:"label"`
	Data  string `cbor:"2,keyasint,omitempty" json:"data,omitempty"`
	URL   string `cbor:"3,keyasint,omitempty" json:"url,omitempty"`
}

// Links builds contact deep links for the operator and the bot.
type Links struct {
	// OperatorUsername is the operator's public handle, without "@".
	OperatorUsername string

	// OperatorUserID is used when the operator has no public handle.
	OperatorUserID int64

	// BotUsername is the bot's handle, without "@".
	BotUsername string
}

// Operator returns a link that opens a chat with the operator, or "" when
// no operator is configured. A handle takes precedence over a user id.
func (l Links) Operator() string {
	if u := strings.TrimPrefix(l.OperatorUsername, "@"); u != "" {
		return "https://t.me/" + url.PathEscape(u)
	}
	if l.OperatorUserID != 0 {
		return fmt.Sprintf("tg://user?id=%d", l.OperatorUserID)
	}
	return ""
}

// ApplyStart returns the bot deep link that starts a private chat about
// an order, or "" when the bot username is unknown.
func (l Links) ApplyStart(orderID int64) string {
	b := strings.TrimPrefix(l.BotUsername, "@")
	if b == "" {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s?start=apply_%d", url.PathEscape(b), orderID)
}
