package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PengC8899/didi-bot/internal/channel"
	"github.com/PengC8899/didi-bot/internal/order"
)

// fakeBotAPI records requests and answers with a scripted body.
type fakeBotAPI struct {
	mu       sync.Mutex
	methods  []string
	bodies   []map[string]any
	status   int
	response string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.Split(r.URL.Path, "/")
	f.methods = append(f.methods, parts[len(parts)-1])
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.bodies = append(f.bodies, body)

	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, f.response)
}

func newTestClient(t *testing.T, api *fakeBotAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		Token:   "123:secret",
		ChatID:  "-100777",
		BaseURL: srv.URL,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{ChatID: "1"})
	assert.Error(t, err)
	_, err = NewClient(Config{Token: "t"})
	assert.Error(t, err)
}

func TestPublish_Text(t *testing.T) {
	api := &fakeBotAPI{response: `{"ok":true,"result":{"message_id":55,"chat":{"id":-100777}}}`}
	c := newTestClient(t, api)

	ref, err := c.Publish(context.Background(), channel.Payload{
		Text:     "Fix sink",
		Controls: [][]channel.Control{{{Label: "Apply", Data: "apply:1"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, order.MessageRef("-100777:55"), ref)

	require.Equal(t, []string{"sendMessage"}, api.methods)
	body := api.bodies[0]
	assert.Equal(t, "-100777", body["chat_id"])
	assert.Equal(t, "Fix sink", body["text"])
	keyboard := body["reply_markup"].(map[string]any)["inline_keyboard"].([]any)
	button := keyboard[0].([]any)[0].(map[string]any)
	assert.Equal(t, "Apply", button["text"])
	assert.Equal(t, "apply:1", button["callback_data"])
}

func TestPublish_PhotoUsesCaption(t *testing.T) {
	api := &fakeBotAPI{response: `{"ok":true,"result":{"message_id":9,"chat":{"id":-100777}}}`}
	c := newTestClient(t, api)

	_, err := c.Publish(context.Background(), channel.Payload{Text: "caption", Photo: "file-1"})
	require.NoError(t, err)

	require.Equal(t, []string{"sendPhoto"}, api.methods)
	assert.Equal(t, "file-1", api.bodies[0]["photo"])
	assert.Equal(t, "caption", api.bodies[0]["caption"])
	assert.Nil(t, api.bodies[0]["text"])
}

func TestEdit_NotModifiedIsSuccess(t *testing.T) {
	api := &fakeBotAPI{
		status:   http.StatusBadRequest,
		response: `{"ok":false,"error_code":400,"description":"Bad Request: message is not modified"}`,
	}
	c := newTestClient(t, api)

	err := c.Edit(context.Background(), "-100777:55", channel.Payload{Text: "same"})
	require.NoError(t, err)
	assert.Equal(t, []string{"editMessageText"}, api.methods)
	assert.Equal(t, float64(55), api.bodies[0]["message_id"])
}

func TestEdit_PhotoEditsCaption(t *testing.T) {
	api := &fakeBotAPI{response: `{"ok":true,"result":true}`}
	c := newTestClient(t, api)

	err := c.Edit(context.Background(), "-100777:55", channel.Payload{Text: "new", Photo: "file-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"editMessageCaption"}, api.methods)
	assert.Equal(t, "new", api.bodies[0]["caption"])
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		fatal  bool
	}{
		{"rate limited", 429, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`, false},
		{"server error", 502, `{"ok":false,"error_code":502,"description":"Bad Gateway"}`, false},
		{"html gateway page", 503, `<html>unavailable</html>`, false},
		{"message deleted", 400, `{"ok":false,"error_code":400,"description":"Bad Request: message to edit not found"}`, true},
		{"bot kicked", 403, `{"ok":false,"error_code":403,"description":"Forbidden: bot is not a member of the channel chat"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeBotAPI{status: tt.status, response: tt.body}
			c := newTestClient(t, api)

			err := c.Edit(context.Background(), "-100777:1", channel.Payload{Text: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.fatal, channel.IsFatal(err))
			assert.NotContains(t, err.Error(), "secret")
		})
	}
}

func TestRateLimited_CarriesRetryDelay(t *testing.T) {
	api := &fakeBotAPI{
		status:   http.StatusTooManyRequests,
		response: `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 7","parameters":{"retry_after":7}}`,
	}
	c := newTestClient(t, api)

	_, err := c.Publish(context.Background(), channel.Payload{Text: "x"})
	require.Error(t, err)
	assert.False(t, channel.IsFatal(err))
	assert.Equal(t, 7*time.Second, channel.RetryDelay(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 7*time.Second, apiErr.RetryDelay())
}

func TestServerError_HasNoRetryDelay(t *testing.T) {
	api := &fakeBotAPI{status: 502, response: `{"ok":false,"error_code":502,"description":"Bad Gateway"}`}
	c := newTestClient(t, api)

	err := c.Edit(context.Background(), "-100777:1", channel.Payload{Text: "x"})
	require.Error(t, err)
	assert.Zero(t, channel.RetryDelay(err))
}

func TestCall_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reading the body lets the server notice the client hanging up.
		io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	c, err := NewClient(Config{Token: "123:secret", ChatID: "1", BaseURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Publish(ctx, channel.Payload{Text: "x"})

	var transient *channel.TransientError
	require.ErrorAs(t, err, &transient)
	assert.NotContains(t, err.Error(), "secret")
}

func TestEdit_MalformedRefIsFatal(t *testing.T) {
	c := newTestClient(t, &fakeBotAPI{})

	for _, ref := range []order.MessageRef{"", "nochat", "chat:", ":5", "chat:abc"} {
		err := c.Edit(context.Background(), ref, channel.Payload{Text: "x"})
		assert.True(t, channel.IsFatal(err), "ref %q", ref)
	}
}

func TestIsMember(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{`{"ok":true,"result":{"status":"member"}}`, true},
		{`{"ok":true,"result":{"status":"administrator"}}`, true},
		{`{"ok":true,"result":{"status":"restricted","is_member":false}}`, false},
		{`{"ok":true,"result":{"status":"left"}}`, false},
	}
	for _, tt := range tests {
		c := newTestClient(t, &fakeBotAPI{response: tt.body})
		got, err := c.IsMember(context.Background(), 42)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.body)
	}
}

func TestParseRef(t *testing.T) {
	chat, id, err := ParseRef("@orders:17")
	require.NoError(t, err)
	assert.Equal(t, "@orders", chat)
	assert.Equal(t, int64(17), id)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abcd", 3))
	assert.Equal(t, 1024, len([]rune(truncate(strings.Repeat("é", 2000), 1024))))
}
