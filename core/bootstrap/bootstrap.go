package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/visionbot/core/classifier"
	coreconfig "github.com/m3rciful/visionbot/core/config"
	coredatabase "github.com/m3rciful/visionbot/core/database"
	"github.com/m3rciful/visionbot/core/engine"
	"github.com/m3rciful/visionbot/core/history"
	"github.com/m3rciful/visionbot/core/imagestore"
	"github.com/m3rciful/visionbot/core/logger"
	"github.com/m3rciful/visionbot/core/metrics"
	"github.com/m3rciful/visionbot/core/session"
	"github.com/m3rciful/visionbot/core/shutdown"
	coretelegram "github.com/m3rciful/visionbot/core/telegram"
	tgsender "github.com/m3rciful/visionbot/core/telegram/sender"
)

// Options control the bootstrap pipeline. Function fields replace the
// default step when set.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(coreconfig.DatabaseConfig) (*sqlx.DB, error)
	Migrate    func(coreconfig.DatabaseConfig) error
	Images     func(ctx context.Context, cfg *coreconfig.Config) (imagestore.Store, error)
	Classifier classifier.Classifier
}

// App exposes infrastructure initialized by the bootstrap pipeline.
type App struct {
	Config     *coreconfig.Config
	DB         *sqlx.DB
	History    *history.Repository
	Images     imagestore.Store
	Janitor    *imagestore.Janitor
	Classifier classifier.Classifier
	Sessions   *session.Registry
	Shutdown   *shutdown.Signal
	Metrics    *metrics.Metrics
}

// Run initializes the logger, the optional history database, the image
// store and the classifier client.
func Run(ctx context.Context, opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	cfg := opts.Config

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	app := &App{
		Config:   cfg,
		Sessions: session.NewRegistry(),
		Shutdown: shutdown.New(),
		Metrics:  metrics.New(),
	}

	if cfg.Database.Enabled() {
		if err := app.openHistory(opts); err != nil {
			return nil, err
		}
	} else {
		logger.Info(ctx, "app", "history.disabled")
	}

	images := opts.Images
	if images == nil {
		images = BuildImageStore
	}
	store, err := images(ctx, cfg)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("bootstrap: image store: %w", err)
	}
	app.Images = store

	if cfg.Images.JanitorSchedule != "" {
		j, err := imagestore.NewJanitor(store, cfg.Images.TTL, cfg.Images.JanitorSchedule)
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		app.Janitor = j
	}

	app.Classifier = opts.Classifier
	if app.Classifier == nil {
		c, err := classifier.NewHTTP(classifier.HTTPOptions{
			URL:     cfg.Classifier.URL,
			Timeout: cfg.Classifier.Timeout,
			Retries: cfg.Classifier.Retries,
		})
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		app.Classifier = c
	}

	logger.Info(ctx, "app", "bootstrap",
		slog.String("images", cfg.Images.Backend),
		slog.Bool("history", app.History != nil),
		slog.Bool("janitor", app.Janitor != nil),
	)
	return app, nil
}

func (a *App) openHistory(opts Options) error {
	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(a.Config.Database)
	if err != nil {
		return fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(a.Config.Database); err != nil {
		_ = db.Close()
		return fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	a.DB = db
	a.History = history.NewRepository(db)
	return nil
}

// BuildImageStore returns the backend selected by images.backend.
func BuildImageStore(ctx context.Context, cfg *coreconfig.Config) (imagestore.Store, error) {
	switch cfg.Images.Backend {
	case coreconfig.ImagesMinio:
		initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		return imagestore.NewMinio(initCtx, imagestore.MinioOptions{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
		})
	case coreconfig.ImagesMemory, "":
		return imagestore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown images backend %q", cfg.Images.Backend)
	}
}

// NewEngine wires the conversation engine to sender.
func (a *App) NewEngine(sender engine.Sender) (*engine.Engine, error) {
	opts := engine.Options{
		Sessions:        a.Sessions,
		Images:          a.Images,
		Classifier:      a.Classifier,
		Sender:          sender,
		Shutdown:        a.Shutdown,
		Metrics:         a.Metrics,
		TopK:            a.Config.Classifier.TopK,
		ClassifyTimeout: a.Config.Classifier.Timeout,
		MaxImageBytes:   a.Config.Images.MaxBytes,
		DrainTimeout:    a.Config.Engine.DrainTimeout,
	}
	if a.History != nil {
		opts.Recorder = a.History
	}
	return engine.New(opts)
}

// TelegramRunOptions returns the transport options for this app.
func (a *App) TelegramRunOptions() coretelegram.RunOptions {
	cfg := a.Config
	return coretelegram.RunOptions{
		Config:  cfg,
		Metrics: a.Metrics,
		BuildEngine: func(rt coretelegram.Runtime) (*engine.Engine, error) {
			return a.NewEngine(rt.Sender)
		},
		DispatcherOptions: tgsender.Options{
			QueueSize:    cfg.Sender.QueueSize,
			Workers:      cfg.Sender.Workers,
			MaxRetries:   cfg.Sender.MaxRetries,
			RetryBackoff: cfg.Sender.RetryBackoff,
		},
		OnStart: func(context.Context, coretelegram.Runtime) error {
			if a.Janitor != nil {
				a.Janitor.Start()
			}
			return nil
		},
		OnStop: func(ctx context.Context, rt coretelegram.Runtime) error {
			if a.Janitor != nil {
				a.Janitor.Stop()
			}
			if a.Config.Telegram.AdminID != 0 && rt.Sender != nil {
				reason := a.Shutdown.Reason()
				if reason == "" {
					reason = "signal"
				}
				_ = rt.Sender.Send(ctx, a.Config.Telegram.AdminID, engine.Reply{
					Text: "visionbot stopped: " + reason,
				})
			}
			return nil
		},
	}
}

// Close releases the database handle.
func (a *App) Close() error {
	var errs []error
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
