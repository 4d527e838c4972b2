// Package telegram is a channel.Transport over the Telegram Bot API.
//
// Only the handful of methods the synchronizer needs are implemented:
// sendMessage, sendPhoto, editMessageText, editMessageCaption and
// getChatMember. Responses are classified into channel.TransientError and
// channel.FatalError so the synchronizer can decide whether to retry.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PengC8899/didi-bot/internal/channel"
	"github.com/PengC8899/didi-bot/internal/order"
)

// DefaultBaseURL is the public Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 1 << 20

// Config holds configuration for creating a Client.
type Config struct {
	// Token is the bot token issued by BotFather. Required.
	Token string
	// ChatID is the target channel: a numeric id or "@channelname". Required.
	ChatID string
	// BaseURL overrides DefaultBaseURL (tests point it at httptest).
	BaseURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client posts and edits channel messages.
type Client struct {
	baseURL    string
	token      string
	chatID     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for one channel.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram: chat id is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      cfg.Token,
		chatID:     cfg.ChatID,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendRequest struct {
	ChatID      string       `json:"chat_id"`
	MessageID   int64        `json:"message_id,omitempty"`
	Text        string       `json:"text,omitempty"`
	Photo       string       `json:"photo,omitempty"`
	Caption     string       `json:"caption,omitempty"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type message struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

// Publish sends p as a text message, or as a captioned photo when p has a
// photo. The returned reference is "<chat_id>:<message_id>".
func (c *Client) Publish(ctx context.Context, p channel.Payload) (order.MessageRef, error) {
	req := sendRequest{ChatID: c.chatID, ReplyMarkup: markup(p.Controls)}
	method := "sendMessage"
	if p.Photo != "" {
		method = "sendPhoto"
		req.Photo = p.Photo
		req.Caption = truncate(p.Text, channel.MaxCaptionLen)
	} else {
		req.Text = truncate(p.Text, channel.MaxTextLen)
	}

	var msg message
	if err := c.call(ctx, method, req, &msg); err != nil {
		return "", err
	}
	chat := c.chatID
	if msg.Chat.ID != 0 {
		chat = strconv.FormatInt(msg.Chat.ID, 10)
	}
	return order.MessageRef(chat + ":" + strconv.FormatInt(msg.MessageID, 10)), nil
}

// Edit replaces the text (or caption, for photo posts) and buttons of ref.
// Telegram's "message is not modified" answer counts as success.
func (c *Client) Edit(ctx context.Context, ref order.MessageRef, p channel.Payload) error {
	chat, id, err := ParseRef(ref)
	if err != nil {
		return &channel.FatalError{Reason: "invalid message ref", Err: err}
	}

	req := sendRequest{ChatID: chat, MessageID: id, ReplyMarkup: markup(p.Controls)}
	method := "editMessageText"
	if p.Photo != "" {
		method = "editMessageCaption"
		req.Caption = truncate(p.Text, channel.MaxCaptionLen)
	} else {
		req.Text = truncate(p.Text, channel.MaxTextLen)
	}

	err = c.call(ctx, method, req, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.NotModified() {
		c.logger.Debug("telegram edit was a no-op", "message_ref", ref)
		return nil
	}
	return err
}

// IsMember reports whether userID is a member of the channel. It backs the
// optional membership guard on apply.
func (c *Client) IsMember(ctx context.Context, userID int64) (bool, error) {
	req := struct {
		ChatID string `json:"chat_id"`
		UserID int64  `json:"user_id"`
	}{c.chatID, userID}

	var member struct {
		Status   string `json:"status"`
		IsMember bool   `json:"is_member"`
	}
	if err := c.call(ctx, "getChatMember", req, &member); err != nil {
		return false, err
	}
	switch member.Status {
	case "creator", "administrator", "member":
		return true, nil
	case "restricted":
		return member.IsMember, nil
	}
	return false, nil
}

// ParseRef splits a reference produced by Publish.
func ParseRef(ref order.MessageRef) (chat string, messageID int64, err error) {
	s := string(ref)
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return "", 0, fmt.Errorf("malformed message ref %q", s)
	}
	messageID, err = strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil || messageID <= 0 {
		return "", 0, fmt.Errorf("malformed message id in ref %q", s)
	}
	return s[:i], messageID, nil
}

// call POSTs a JSON request to method and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return &channel.FatalError{Reason: "encode request", Err: err}
	}

	endpoint := c.baseURL + "/bot" + c.token + "/" + method
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return &channel.FatalError{Reason: "build request", Err: err}
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		// Network failures and deadlines. The URL carries the token, so
		// only the method is reported.
		return &channel.TransientError{Reason: method + " request failed", Err: unwrapURLError(err)}
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return &channel.TransientError{Reason: method + " read response", Err: err}
	}

	var decoded apiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		if response.StatusCode >= 500 {
			return &channel.TransientError{Reason: fmt.Sprintf("%s: HTTP %d", method, response.StatusCode)}
		}
		return &channel.FatalError{Reason: fmt.Sprintf("%s: HTTP %d with undecodable body", method, response.StatusCode)}
	}

	if !decoded.OK {
		apiErr := &APIError{Method: method, Code: decoded.ErrorCode, Description: decoded.Description}
		if apiErr.Code == 0 {
			apiErr.Code = response.StatusCode
		}
		if decoded.Parameters != nil {
			apiErr.RetryAfter = decoded.Parameters.RetryAfter
		}
		return classify(apiErr)
	}

	if out != nil {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return &channel.FatalError{Reason: method + " decode result", Err: err}
		}
	}
	return nil
}

func markup(rows [][]channel.Control) *replyMarkup {
	if len(rows) == 0 {
		// An empty keyboard removes buttons from an edited message.
		return &replyMarkup{InlineKeyboard: [][]inlineButton{}}
	}
	m := &replyMarkup{InlineKeyboard: make([][]inlineButton, 0, len(rows))}
	for _, row := range rows {
		buttons := make([]inlineButton, 0, len(row))
		for _, ctl := range row {
			buttons = append(buttons, inlineButton{Text: ctl.Label, CallbackData: ctl.Data, URL: ctl.URL})
		}
		m.InlineKeyboard = append(m.InlineKeyboard, buttons)
	}
	return m
}

// truncate cuts s to at most n runes, marking the cut with an ellipsis.
// Rendered payloads already fit; this guards hand-built ones.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
