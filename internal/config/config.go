// Package config loads orderbot settings from a YAML file, overlays the
// deployment environment variables and validates the result against an
// embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/PengC8899/didi-bot/internal/channel"
	"github.com/PengC8899/didi-bot/internal/ratelimit"
	"github.com/PengC8899/didi-bot/internal/store"
)

//go:embed schema.cue
var schemaSource []byte

// DefaultStorePath is used when neither the file nor DATABASE_PATH names a
// database.
const DefaultStorePath = "orderbot.db"

// Config is the full bot configuration.
type Config struct {
	Telegram  Telegram  `yaml:"telegram"`
	Access    Access    `yaml:"access"`
	RateLimit RateLimit `yaml:"ratelimit"`
	Sync      Sync      `yaml:"sync"`
	Store     Store     `yaml:"store"`
	LogLevel  string    `yaml:"log_level"`
}

// Telegram holds the bot credentials and the channel it posts to. An empty
// token selects the dry-run channel.
type Telegram struct {
	Token            string `yaml:"token"`
	ChannelID        string `yaml:"channel_id"`
	BotUsername      string `yaml:"bot_username"`
	OperatorUsername string `yaml:"operator_username"`
	OperatorUserID   int64  `yaml:"operator_user_id"`
	BaseURL          string `yaml:"base_url"`
	CheckMembership  bool   `yaml:"check_membership"`
}

// Access lists privileged users by Telegram id.
type Access struct {
	Admins             []int64 `yaml:"admins"`
	Operators          []int64 `yaml:"operators"`
	AllowCreatorCancel bool    `yaml:"allow_creator_cancel"`
}

// RateLimit is the per-actor, per-class quota.
type RateLimit struct {
	Window Duration `yaml:"window"`
	Limit  int      `yaml:"limit"`
}

// Sync tunes the channel synchronizer.
type Sync struct {
	CallTimeout Duration   `yaml:"call_timeout"`
	Backoff     []Duration `yaml:"backoff"`
	// Async queues syncs on a background worker instead of running them
	// inline after each commit.
	Async bool `yaml:"async"`
}

// Store locates the database.
type Store struct {
	Path    string   `yaml:"path"`
	Timeout Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	backoff := make([]Duration, len(channel.DefaultBackoff))
	for i, d := range channel.DefaultBackoff {
		backoff[i] = Duration(d)
	}
	return &Config{
		RateLimit: RateLimit{
			Window: Duration(ratelimit.DefaultWindow),
			Limit:  ratelimit.DefaultLimit,
		},
		Sync: Sync{
			CallTimeout: Duration(channel.DefaultCallTimeout),
			Backoff:     backoff,
		},
		Store: Store{
			Path:    DefaultStorePath,
			Timeout: Duration(store.DefaultTimeout),
		},
		LogLevel: "info",
	}
}

// Load reads path (if non-empty), applies environment overrides from the
// process environment and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates it. The environment
// is not consulted.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := decode(bytes.NewReader(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overlays the variables the bot has always been deployed with.
// ALLOWED_USER_IDS replaces the admin list.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("BOT_TOKEN", &cfg.Telegram.Token)
	str("CHANNEL_ID", &cfg.Telegram.ChannelID)
	str("BOT_USERNAME", &cfg.Telegram.BotUsername)
	str("OPERATOR_USERNAME", &cfg.Telegram.OperatorUsername)
	str("DATABASE_PATH", &cfg.Store.Path)
	str("LOG_LEVEL", &cfg.LogLevel)

	if v, ok := lookup("OPERATOR_USER_ID"); ok && v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("OPERATOR_USER_ID: %q is not an integer", v)
		}
		cfg.Telegram.OperatorUserID = id
	}
	if v, ok := lookup("ALLOWED_USER_IDS"); ok && v != "" {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("ALLOWED_USER_IDS: %w", err)
		}
		cfg.Access.Admins = ids
	}
	return nil
}

// normalize accepts handles written with a leading @ and log levels in
// any case.
func (c *Config) normalize() {
	c.Telegram.BotUsername = strings.TrimPrefix(c.Telegram.BotUsername, "@")
	c.Telegram.OperatorUsername = strings.TrimPrefix(c.Telegram.OperatorUsername, "@")
	c.LogLevel = strings.ToLower(c.LogLevel)
}

func parseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Validate checks cfg against the embedded schema and the cross-field
// rules the schema cannot express.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c.view()))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Problems: problems(err)}
	}

	var errs []string
	if c.Telegram.Token != "" && c.Telegram.ChannelID == "" {
		errs = append(errs, "telegram.channel_id is required with a bot token")
	}
	if c.Telegram.CheckMembership && c.Telegram.Token == "" {
		errs = append(errs, "telegram.check_membership needs a bot token")
	}
	if len(errs) > 0 {
		return &ValidationError{Problems: errs}
	}
	return nil
}

// view flattens cfg into the plain values the schema constrains. Empty
// optional fields are left out.
func (c *Config) view() map[string]any {
	tg := map[string]any{"check_membership": c.Telegram.CheckMembership}
	optional := map[string]string{
		"token":             c.Telegram.Token,
		"channel_id":        c.Telegram.ChannelID,
		"bot_username":      c.Telegram.BotUsername,
		"operator_username": c.Telegram.OperatorUsername,
		"base_url":          c.Telegram.BaseURL,
	}
	for k, v := range optional {
		if v != "" {
			tg[k] = v
		}
	}
	if c.Telegram.OperatorUserID != 0 {
		tg["operator_user_id"] = c.Telegram.OperatorUserID
	}

	backoff := make([]float64, len(c.Sync.Backoff))
	for i, d := range c.Sync.Backoff {
		backoff[i] = d.Std().Seconds()
	}
	return map[string]any{
		"telegram": tg,
		"access": map[string]any{
			"admins":               orEmpty(c.Access.Admins),
			"operators":            orEmpty(c.Access.Operators),
			"allow_creator_cancel": c.Access.AllowCreatorCancel,
		},
		"ratelimit": map[string]any{
			"window": c.RateLimit.Window.Std().Seconds(),
			"limit":  c.RateLimit.Limit,
		},
		"sync": map[string]any{
			"call_timeout": c.Sync.CallTimeout.Std().Seconds(),
			"backoff":      backoff,
			"async":        c.Sync.Async,
		},
		"store": map[string]any{
			"path":    c.Store.Path,
			"timeout": c.Store.Timeout.Std().Seconds(),
		},
		"log_level": c.LogLevel,
	}
}

func orEmpty(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func problems(err error) []string {
	var out []string
	for _, e := range cueerrors.Errors(err) {
		out = append(out, e.Error())
	}
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Level returns the configured slog level. Unknown names fall back to info.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// BackoffDurations returns the retry delays as time.Durations.
func (s Sync) BackoffDurations() []time.Duration {
	out := make([]time.Duration, len(s.Backoff))
	for i, d := range s.Backoff {
		out[i] = d.Std()
	}
	return out
}

// Links returns the channel links derived from the Telegram settings.
func (c *Config) Links() channel.Links {
	return channel.Links{
		OperatorUsername: c.Telegram.OperatorUsername,
		OperatorUserID:   c.Telegram.OperatorUserID,
		BotUsername:      c.Telegram.BotUsername,
	}
}

// DryRun reports whether no bot token is configured, in which case channel
// posts go to an in-memory transport.
func (c *Config) DryRun() bool {
	return c.Telegram.Token == ""
}
