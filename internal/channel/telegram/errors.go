package telegram

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PengC8899/didi-bot/internal/channel"
)

// APIError is an unsuccessful Bot API response.
type APIError struct {
	Method      string
	Code        int
	Description string
	// RetryAfter is the server-requested wait in seconds for 429 answers.
	RetryAfter int
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %ds)", e.RetryAfter)
	}
	return msg
}

// RetryDelay is the wait Telegram asked for before the next attempt. It
// satisfies the hint channel.RetryDelay looks for.
func (e *APIError) RetryDelay() time.Duration {
	return time.Duration(e.RetryAfter) * time.Second
}

// NotModified reports the answer Telegram gives when an edit would leave
// the message unchanged.
func (e *APIError) NotModified() bool {
	return e.Code == 400 && strings.Contains(e.Description, "message is not modified")
}

// classify wraps e as transient (429, 5xx) or fatal (everything else). A
// not-modified answer is returned unwrapped for Edit to absorb.
func classify(e *APIError) error {
	switch {
	case e.NotModified():
		return e
	case e.Code == 429 || e.Code >= 500:
		return &channel.TransientError{Reason: e.Method, Err: e}
	default:
		return &channel.FatalError{Reason: e.Method, Err: e}
	}
}

// unwrapURLError drops the *url.Error layer, whose message embeds the
// request URL and therefore the bot token.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
