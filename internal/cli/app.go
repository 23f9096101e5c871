package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/flowgate/internal/compiler"
	"github.com/roach88/flowgate/internal/config"
	"github.com/roach88/flowgate/internal/engine"
	"github.com/roach88/flowgate/internal/identity"
	"github.com/roach88/flowgate/internal/ir"
	"github.com/roach88/flowgate/internal/mail"
	"github.com/roach88/flowgate/internal/schema"
	"github.com/roach88/flowgate/internal/store"
)

// App is everything a resource command needs, built from configuration.
type App struct {
	Config     *config.Config
	Definition *schema.SystemDefinition
	Store      store.DataStore
	Outbox     store.Outbox // nil when the store keeps none
	Mailer     mail.Sender
	Engine     *engine.Engine
	Logger     *slog.Logger

	closers []func() error
}

// Close releases the store. Closers run in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Definition != "" {
		cfg.Definition = opts.Definition
	}
	if opts.Store != "" {
		cfg.Store.Driver = opts.Store
	}
	if opts.DB != "" {
		cfg.Store.Path = opts.DB
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger writes text logs at the configured level to w.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// loadDefinition compiles the configured definition file.
func loadDefinition(cfg *config.Config) (*schema.SystemDefinition, error) {
	if cfg.Definition == "" {
		return nil, errors.New("no definition: pass --definition or set definition in the config")
	}
	return compiler.LoadFile(cfg.Definition)
}

// openStore opens the configured store. The outbox is nil for redis.
func openStore(ctx context.Context, cfg *config.Config) (store.DataStore, store.Outbox, []func() error, error) {
	var (
		ds      store.DataStore
		ob      store.Outbox
		closers []func() error
	)

	switch cfg.Store.Driver {
	case config.StoreSQLite:
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening %s: %w", cfg.Store.Path, err)
		}
		ds, ob = st, st
		closers = append(closers, st.Close)
	case config.StoreMemory:
		m := store.NewMemory()
		ds, ob = m, m
	case config.StoreRedis:
		r, err := store.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		ds = r
		closers = append(closers, r.Close)
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Cache.Enabled {
		cc := store.DefaultCacheConfig()
		cc.MaxCost = cfg.Cache.MaxCost
		cc.NumCounters = cfg.Cache.MaxCost * 10
		cc.TTL = cfg.Cache.TTL
		cached, err := store.NewCachedStore(ds, cc)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, nil, fmt.Errorf("creating cache: %w", err)
		}
		ds = cached
		closers = append(closers, func() error {
			cached.Close()
			return nil
		})
	}
	return ds, ob, closers, nil
}

// deliverySender is what actually hands messages over: the log, throttled
// when a rate is configured.
func deliverySender(cfg *config.Config, logger *slog.Logger) mail.Sender {
	var s mail.Sender = mail.LogSender{Logger: logger}
	if cfg.Mail.Rate > 0 {
		s = mail.NewRateLimited(s, cfg.Mail.Rate, cfg.Mail.Burst)
	}
	return s
}

// newMailer picks the sender the engine dispatches sendEmail effects to.
func newMailer(cfg *config.Config, ob store.Outbox, logger *slog.Logger) (mail.Sender, error) {
	switch cfg.Mail.Driver {
	case config.MailLog:
		return deliverySender(cfg, logger), nil
	case config.MailOutbox:
		if ob == nil {
			return nil, fmt.Errorf("the %s store has no outbox", cfg.Store.Driver)
		}
		return mail.OutboxSender{Outbox: ob, Now: time.Now}, nil
	}
	return nil, fmt.Errorf("unknown mail driver %q", cfg.Mail.Driver)
}

// openApp builds the App for a command. Failures are reported through f
// and returned as command errors.
func openApp(cmd *cobra.Command, opts *RootOptions, f *OutputFormatter) (*App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	def, err := loadDefinition(cfg)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeDefinition, "loading definition", err)
	}

	ds, ob, closers, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeStore, "opening store", err)
	}
	app := &App{
		Config:     cfg,
		Definition: def,
		Store:      ds,
		Outbox:     ob,
		Logger:     logger,
		closers:    closers,
	}
	if app.Mailer, err = newMailer(cfg, ob, logger); err != nil {
		_ = app.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "configuring mail", err)
	}
	app.Engine = engine.New(def, ds, app.Mailer, engine.WithLogger(logger))

	logger.Debug("app ready",
		"definition", cfg.Definition,
		"store", cfg.Store.Driver,
		"mail", cfg.Mail.Driver,
		"cache", cfg.Cache.Enabled,
	)
	return app, nil
}

// resolveUser returns the user named by --token or --as. A token wins
// when both are given.
func resolveUser(opts *RootOptions, cfg *config.Config) (*ir.User, error) {
	switch {
	case opts.Token != "":
		tm, err := identity.NewTokenManager(cfg.Auth.Secret, identity.WithIssuer(cfg.Auth.Issuer))
		if err != nil {
			return nil, err
		}
		return tm.Verify(opts.Token)
	case opts.As != "":
		return identity.ParseAs(opts.As)
	}
	return nil, errors.New("no user: pass --as uid:role1,role2 or --token")
}

// userFor resolves the acting user, reporting failures through f.
func userFor(opts *RootOptions, app *App, f *OutputFormatter) (*ir.User, error) {
	u, err := resolveUser(opts, app.Config)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeUser, "resolving user", err)
	}
	return u, nil
}

// parseObject decodes a JSON object flag. An empty string is an empty
// object.
func parseObject(flag, raw string, f *OutputFormatter) (ir.Object, error) {
	if raw == "" {
		return ir.Object{}, nil
	}
	obj, err := ir.ParseObjectJSON([]byte(raw))
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeInput, fmt.Sprintf("--%s must be a JSON object", flag), err)
	}
	return obj, nil
}

// engineError reports an error returned by the engine itself.
func engineError(f *OutputFormatter, err error) error {
	if engine.IsUnknownType(err) || engine.IsUnknownAction(err) {
		return f.Fail(ExitCommandError, ErrCodeEngine, "invalid request", err)
	}
	return f.Fail(ExitFailure, ErrCodeEngine, "engine error", err)
}
