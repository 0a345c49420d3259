package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"netaccess/internal/config"
	"netaccess/internal/credentials"
	"netaccess/internal/history"
	"netaccess/internal/logging"
	"netaccess/internal/paths"
	"netaccess/internal/portal"
	"netaccess/internal/storage"
	"netaccess/internal/storage/sqlite"
	pkgerrors "netaccess/pkg/errors"
)

// DBFileName is the history database name inside the data directory.
const DBFileName = "history.db"

// App represents the application context
type App struct {
	Config      *config.Config
	ConfigPath  string
	Logger      *logrus.Logger
	Storage     storage.Storage
	Portal      *portal.Client
	Credentials *credentials.Store
	Resolver    *credentials.Resolver
}

// Options selects the config file and logging overrides from the command line.
type Options struct {
	ConfigPath string
	LogLevel   string
	LogFile    string
}

// New creates a new application instance
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogFile != "" {
		cfg.Log.File = opts.LogFile
	}

	logger, err := logging.New(logging.Options{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
		JSON:  cfg.Log.JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dataDir, err := paths.DataDir()
		if err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dbPath = filepath.Join(dataDir, DBFileName)
	}
	store, err := sqlite.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	paths.ChownToRealUser(dbPath)

	client, err := portal.NewClient(portal.ClientConfig{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize portal client: %w", err)
	}

	keyring := credentials.NewStore()
	resolver := &credentials.Resolver{Keyring: keyring, Logger: logger}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		resolver.Prompter = credentials.NewTerminalPrompter()
	}

	return &App{
		Config:      cfg,
		ConfigPath:  opts.ConfigPath,
		Logger:      logger,
		Storage:     store,
		Portal:      client,
		Credentials: keyring,
		Resolver:    resolver,
	}, nil
}

// Close closes the application and releases resources
func (a *App) Close() error {
	if a.Storage != nil {
		return a.Storage.Close()
	}
	return nil
}

// User resolves the portal user. The name comes from the flag, then the
// config or environment, then the last name used, then a prompt.
func (a *App) User(ctx context.Context, flagName string) (portal.User, error) {
	name := flagName
	if name == "" {
		name = a.Config.Username
	}
	if name == "" {
		last, err := a.Storage.GetSetting(ctx, storage.SettingLastUsername)
		if err != nil && !errors.Is(err, pkgerrors.ErrSettingNotFound) {
			a.Logger.WithError(err).Debug("last username lookup failed")
		}
		name = last
	}

	user, err := a.Resolver.Resolve(name, a.Config.Password)
	if err != nil {
		return portal.User{}, err
	}
	if err := a.Storage.SetSetting(ctx, storage.SettingLastUsername, user.Name()); err != nil {
		a.Logger.WithError(err).Warn("failed to remember username")
	}
	return user, nil
}

// Recorder wraps the portal client so that every action lands in the history.
func (a *App) Recorder(opts ...history.Option) *history.Recorder {
	opts = append([]history.Option{history.WithLogger(a.Logger)}, opts...)
	return history.NewRecorder(a.Portal, a.Storage, opts...)
}
