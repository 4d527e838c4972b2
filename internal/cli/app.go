package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/PengC8899/didi-bot/internal/channel"
	"github.com/PengC8899/didi-bot/internal/channel/telegram"
	"github.com/PengC8899/didi-bot/internal/clock"
	"github.com/PengC8899/didi-bot/internal/config"
	"github.com/PengC8899/didi-bot/internal/lifecycle"
	"github.com/PengC8899/didi-bot/internal/order"
	"github.com/PengC8899/didi-bot/internal/ratelimit"
	"github.com/PengC8899/didi-bot/internal/store"
)

// app is everything one command invocation needs, built from config.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	sync   *channel.Synchronizer
	engine *lifecycle.Engine
	clock  clock.Clock
	out    *OutputFormatter

	worker     *channel.Worker
	workerDone chan error
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	env := opts.Env
	if env == nil {
		env = os.LookupEnv
	}
	cfg, err := config.LoadWithEnv(opts.ConfigPath, env)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}
	return cfg, nil
}

func newLogger(opts *RootOptions, cfg *config.Config, w io.Writer) *slog.Logger {
	level := cfg.Level()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// openApp loads config, opens the store and wires the channel and engine.
// The caller must Close the app.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(opts, cfg, cmd.ErrOrStderr())

	logger.Debug("opening database", "path", cfg.Store.Path)
	st, err := store.Open(cfg.Store.Path, store.WithTimeout(cfg.Store.Timeout.Std()))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	transport, membership, err := newTransport(opts, cfg, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	syncer := channel.NewSynchronizer(st, transport,
		channel.WithRenderer(channel.Renderer{Links: cfg.Links()}),
		channel.WithClock(clk),
		channel.WithLogger(logger),
		channel.WithCallTimeout(cfg.Sync.CallTimeout.Std()),
		channel.WithBackoff(cfg.Sync.BackoffDurations()...),
	)

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		sync:   syncer,
		clock:  clk,
		out:    newFormatter(opts, cmd),
	}

	var dispatcher channel.Dispatcher = channel.Inline{Syncer: syncer, Logger: logger}
	if cfg.Sync.Async {
		// Close drains the queue, so the worker outlives a cancelled command.
		runCtx := context.WithoutCancel(commandContext(cmd))
		a.worker = channel.NewWorker(syncer, logger)
		a.workerDone = make(chan error, 1)
		go func() { a.workerDone <- a.worker.Run(runCtx) }()
		dispatcher = a.worker
	}

	engineOpts := []lifecycle.EngineOption{
		lifecycle.WithRoles(lifecycle.NewRoles(cfg.Access.Admins, cfg.Access.Operators)),
		lifecycle.WithLimiter(ratelimit.NewWindow(cfg.RateLimit.Window.Std(), cfg.RateLimit.Limit, ratelimit.WithClock(clk))),
		lifecycle.WithSync(dispatcher, syncer),
		lifecycle.WithLinks(cfg.Links()),
		lifecycle.WithClock(clk),
		lifecycle.WithLogger(logger),
		lifecycle.WithCreatorCancel(cfg.Access.AllowCreatorCancel),
	}
	if membership != nil {
		engineOpts = append(engineOpts, lifecycle.WithMembership(membership))
	}
	if opts.FlowGenerator != nil {
		engineOpts = append(engineOpts, lifecycle.WithFlowGenerator(opts.FlowGenerator))
	}
	a.engine = lifecycle.New(st, engineOpts...)
	return a, nil
}

// newTransport picks the channel transport: the test override, dry-run
// without a token, or the Telegram client. The membership checker is
// returned only when configured and backed by Telegram.
func newTransport(opts *RootOptions, cfg *config.Config, logger *slog.Logger) (channel.Transport, lifecycle.MembershipChecker, error) {
	if opts.Transport != nil {
		return opts.Transport, nil, nil
	}
	if cfg.DryRun() {
		logger.Info("no bot token configured, channel posts are logged only")
		return channel.DryRun{Logger: logger}, nil, nil
	}
	client, err := telegram.NewClient(telegram.Config{
		Token:   cfg.Telegram.Token,
		ChatID:  cfg.Telegram.ChannelID,
		BaseURL: cfg.Telegram.BaseURL,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to create telegram client", err)
	}
	if cfg.Telegram.CheckMembership {
		return client, client, nil
	}
	return client, nil, nil
}

// Close drains queued syncs and closes the store.
func (a *app) Close() {
	if a.worker != nil {
		a.worker.Stop()
		if err := <-a.workerDone; err != nil {
			a.logger.Warn("sync worker stopped", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

func (a *app) now() time.Time {
	return a.clock.Now()
}

// actor returns the user the command acts as.
func (opts *RootOptions) actor() (order.Actor, error) {
	if opts.ActorID <= 0 {
		return order.Actor{}, NewExitError(ExitCommandError, "--as is required: the Telegram user id to act as")
	}
	return order.Actor{ID: opts.ActorID, Username: opts.ActorName}, nil
}

// withApp opens the app, runs fn and closes the app. Errors from fn are
// reported through the formatter.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, a *app, actor order.Actor) error) error {
	actor, err := opts.actor()
	if err != nil {
		return newFormatter(opts, cmd).Fail(err)
	}
	a, err := openApp(cmd, opts)
	if err != nil {
		return newFormatter(opts, cmd).Fail(err)
	}
	defer a.Close()

	if err := fn(commandContext(cmd), a, actor); err != nil {
		return a.out.Fail(err)
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, order.NewInvalidInput("%s: %q is not a positive integer", what, s)
	}
	return id, nil
}
