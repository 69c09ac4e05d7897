package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	kiddoalert "github.com/johnnydev0/front-kiddo-alert"
	"github.com/johnnydev0/front-kiddo-alert/internal/config"
)

// app is one bootstrapped session of the mirror.
type app struct {
	cfg    *config.Config
	store  kiddoalert.Store
	r      *kiddoalert.Reconciler
	logger *slog.Logger
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens the mirror backend selected by cfg and describes where it lives.
func openStore(ctx context.Context, cfg *config.Config) (kiddoalert.Store, string, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		rc := cfg.Store.Redis
		store, err := kiddoalert.NewRedisStore(ctx, kiddoalert.RedisConfig{
			Addr:     rc.Addr(),
			Password: rc.Password,
			DB:       rc.DB,
			Prefix:   rc.Prefix,
		})
		if err != nil {
			return nil, "", err
		}
		return store, "redis://" + rc.Addr() + "/" + rc.Prefix, nil
	default:
		store, err := kiddoalert.NewFileStore(cfg.Store.Path)
		if err != nil {
			return nil, "", err
		}
		return store, cfg.Store.Path, nil
	}
}

// openApp loads configuration, opens both stores and bootstraps a reconciler.
// notifier may be nil. The returned app must be closed.
func openApp(cmd *cobra.Command, notifier kiddoalert.Notifier) (*app, error) {
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), logLevel)

	store, _, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	tokens, err := kiddoalert.NewSecureStore(cfg.Secure.Path, cfg.Secure.Passphrase)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open credentials: %w", err)
	}

	r, err := kiddoalert.New(cfg.Library(), kiddoalert.Options{
		Store:       store,
		Tokens:      tokens,
		Logger:      logger,
		Notifier:    notifier,
		SubjectName: subjectName,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := r.Bootstrap(ctx); err != nil {
		_ = r.Close()
		_ = store.Close()
		return nil, err
	}
	// Let the session check and initial sync settle so commands see final state.
	r.Wait()

	logger.Debug("mirror ready",
		slog.String("backend", cfg.Store.Backend),
		slog.String("auth", r.Session().Status.String()),
		slog.Int("children", len(r.Children())),
	)
	return &app{cfg: cfg, store: store, r: r, logger: logger}, nil
}

// Close waits for background remote calls, then releases the reconciler and store.
func (a *app) Close() error {
	a.r.Wait()
	_ = a.r.Close()
	return a.store.Close()
}

// withApp runs fn against a freshly opened app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cmd, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(commandContext(cmd), a)
}
