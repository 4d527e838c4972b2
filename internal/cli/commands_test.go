package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PengC8899/didi-bot/internal/channel"
	"github.com/PengC8899/didi-bot/internal/clock"
	"github.com/PengC8899/didi-bot/internal/testutil"
)

// cliEnv runs commands against one database and one in-memory channel, the
// way repeated invocations of the binary share a database file.
type cliEnv struct {
	configPath string
	env        map[string]string
	transport  *channel.MemoryTransport
	clock      *clock.FakeClock
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "orderbot.yaml")
	content := fmt.Sprintf(`
telegram:
  bot_username: orderbot
  operator_username: ops_desk
access:
  admins: [1]
  operators: [2]
store:
  path: %q
`, filepath.Join(dir, "orders.db"))
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	return &cliEnv{
		configPath: configPath,
		env:        map[string]string{},
		transport:  channel.NewMemoryTransport(),
		clock:      testutil.NewClock(),
	}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	opts := &RootOptions{
		Env: func(key string) (string, bool) {
			v, ok := e.env[key]
			return v, ok
		},
		Transport:     e.transport,
		Clock:         e.clock,
		FlowGenerator: testutil.NewSequenceFlowGenerator("flow"),
	}
	cmd := newRootCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	require.NoError(t, err, out)
	return out
}

func TestCLI_OrderLifecycle(t *testing.T) {
	e := newCLIEnv(t)

	out := e.mustRun(t, "--as", "2", "order", "create", "--title", "Fix sink", "--body", "Kitchen sink leaks", "--amount", "40")
	assert.Equal(t, "#1 [NEW] Fix sink (40.00)\n", out)

	out = e.mustRun(t, "--as", "42", "--as-username", "bob", "apply", "1")
	assert.Contains(t, out, "Applied: application #1 is PENDING")
	assert.Contains(t, out, "https://t.me/ops_desk")
	assert.Contains(t, out, "https://t.me/orderbot?start=apply_1")

	out = e.mustRun(t, "--as", "42", "callback", "apply:1")
	assert.Contains(t, out, "Already applied: application #1 is PENDING")

	out = e.mustRun(t, "--as", "1", "approve", "1", "1")
	assert.Equal(t, "#1 [IN_PROGRESS] Fix sink (40.00) claimed by @bob\n", out)

	out = e.mustRun(t, "--as", "42", "done", "1", "--note", "fixed")
	assert.Equal(t, "#1 [DONE] Fix sink (40.00) claimed by @bob\n", out)

	out = e.mustRun(t, "--as", "1", "order", "history", "1")
	assert.Contains(t, out, "- -> NEW  by #2")
	assert.Contains(t, out, "NEW -> IN_PROGRESS  by #1")
	assert.Contains(t, out, `IN_PROGRESS -> DONE  by #42  "fixed"`)

	assert.Equal(t, 1, e.transport.Publishes())
	assert.Equal(t, 2, e.transport.Edits())
}

func TestCLI_JSONOutput(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun(t, "--as", "2", "order", "create", "--title", "Paint", "--body", "Two coats", "--photo", "photo-1")

	out := e.mustRun(t, "--format", "json", "--as", "42", "order", "show", "1")

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Order struct {
				ID      int64  `json:"id"`
				Status  string `json:"status"`
				Version int64  `json:"version"`
			} `json:"order"`
			Media []struct {
				Kind string `json:"kind"`
				Ref  string `json:"ref"`
			} `json:"media"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(1), resp.Data.Order.ID)
	assert.Equal(t, "NEW", resp.Data.Order.Status)
	require.Len(t, resp.Data.Media, 1)
	assert.Equal(t, "photo-1", resp.Data.Media[0].Ref)
}

func TestCLI_ErrorsMapToExitCodes(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun(t, "--as", "2", "order", "create", "--title", "Mow", "--body", "Lawn")

	tests := []struct {
		name string
		args []string
		exit int
		code string
	}{
		{"missing actor", []string{"order", "list"}, ExitCommandError, ErrCodeGeneric},
		{"not an id", []string{"--as", "42", "apply", "abc"}, ExitCommandError, "INVALID_INPUT"},
		{"unknown order", []string{"--as", "42", "order", "show", "99"}, ExitNotFound, "NOT_FOUND"},
		{"member approves", []string{"--as", "42", "approve", "1", "1"}, ExitDenied, "UNAUTHORIZED"},
		{"done while NEW", []string{"--as", "1", "done", "1"}, ExitFailure, "INVALID_TRANSITION"},
		{"bad control data", []string{"--as", "42", "callback", "apply:x"}, ExitCommandError, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.run(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.exit, GetExitCode(err))
			assert.Contains(t, out, "Error ["+tt.code+"]")
		})
	}
}

func TestCLI_ListAndStats(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun(t, "--as", "2", "order", "create", "--title", "One", "--body", "b", "--amount", "10")
	e.mustRun(t, "--as", "2", "order", "create", "--title", "Two", "--body", "b", "--amount", "2.50")
	e.mustRun(t, "--as", "1", "cancel", "2")

	out := e.mustRun(t, "--as", "42", "order", "list")
	assert.Equal(t, "#2 [CANCELED] Two (2.50)\n#1 [NEW] One (10.00)\n", out)

	out = e.mustRun(t, "--as", "42", "order", "list", "--status", "NEW")
	assert.Equal(t, "#1 [NEW] One (10.00)\n", out)

	out = e.mustRun(t, "--as", "2", "order", "mine")
	assert.Contains(t, out, "#1 [NEW] One")

	out = e.mustRun(t, "--as", "1", "order", "stats")
	assert.Contains(t, out, "TOTAL")
	assert.Contains(t, out, "12.50")

	_, err := e.run(t, "--as", "42", "order", "stats")
	assert.Equal(t, ExitDenied, GetExitCode(err))
}

func TestCLI_Resync(t *testing.T) {
	e := newCLIEnv(t)
	e.mustRun(t, "--as", "2", "order", "create", "--title", "Fix", "--body", "b")

	out := e.mustRun(t, "--as", "1", "resync", "1")
	assert.Equal(t, "Order #1 resynced\n", out)
	assert.Equal(t, 1, e.transport.Edits())

	e.transport.Delete("mem:1")
	_, err := e.run(t, "--as", "1", "resync", "1")
	assert.Equal(t, ExitSyncFailure, GetExitCode(err))

	out, err = e.run(t, "--as", "1", "resync", "--failed")
	assert.Equal(t, ExitSyncFailure, GetExitCode(err))
	assert.Contains(t, out, "Checked 1, synced 0, failed 1")
	assert.NotContains(t, out, "Error [", "a reported reconcile failure is printed once")

	_, err = e.run(t, "--as", "1", "resync")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCLI_DraftThenPublish(t *testing.T) {
	e := newCLIEnv(t)

	out := e.mustRun(t, "--as", "2", "order", "create", "--title", "Roof", "--body", "Check tiles", "--draft")
	assert.Equal(t, "#1 [NEW] Roof (draft)\n", out)
	assert.Empty(t, e.transport.Calls())

	out = e.mustRun(t, "--as", "2", "order", "show", "1")
	assert.Contains(t, out, "Post:     draft, not published")

	_, err := e.run(t, "--as", "42", "apply", "1")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out = e.mustRun(t, "--as", "2", "order", "publish", "1")
	assert.Equal(t, "#1 [NEW] Roof\n", out)
	assert.Equal(t, 1, e.transport.Publishes())

	_, err = e.run(t, "--as", "2", "order", "publish", "1")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestCLI_OperatorManagement(t *testing.T) {
	e := newCLIEnv(t)

	_, err := e.run(t, "--as", "42", "order", "create", "--title", "T", "--body", "b")
	assert.Equal(t, ExitDenied, GetExitCode(err))

	out := e.mustRun(t, "--as", "1", "operator", "add", "42", "--username", "bob")
	assert.Equal(t, "User #42 is now an operator\n", out)
	out = e.mustRun(t, "--as", "1", "operator", "add", "42")
	assert.Equal(t, "User #42 is already an operator\n", out)

	e.mustRun(t, "--as", "42", "order", "create", "--title", "T", "--body", "b")

	out = e.mustRun(t, "--as", "1", "operator", "list")
	assert.Contains(t, out, "#2  configured")
	assert.Contains(t, out, "@bob  added by #1")

	_, err = e.run(t, "--as", "2", "operator", "add", "43")
	assert.Equal(t, ExitDenied, GetExitCode(err))
	_, err = e.run(t, "--as", "1", "operator", "remove", "2")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out = e.mustRun(t, "--as", "1", "--format", "json", "operator", "remove", "42")
	var resp struct {
		Data operatorChange `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, operatorChange{UserID: 42, Changed: true}, resp.Data)

	_, err = e.run(t, "--as", "42", "order", "create", "--title", "T", "--body", "b")
	assert.Equal(t, ExitDenied, GetExitCode(err))
}

func TestCLI_ConfigRedactsToken(t *testing.T) {
	e := newCLIEnv(t)
	e.env["BOT_TOKEN"] = "123:secret"
	e.env["CHANNEL_ID"] = "-1001234"

	out := e.mustRun(t, "config")
	assert.Contains(t, out, redacted)
	assert.NotContains(t, out, "secret")
	assert.Contains(t, out, "channel_id: \"-1001234\"")

	out = e.mustRun(t, "--format", "json", "config")
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestCLI_ConfigInvalid(t *testing.T) {
	e := newCLIEnv(t)
	e.env["LOG_LEVEL"] = "chatty"

	_, err := e.run(t, "config")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
