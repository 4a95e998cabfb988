package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coreconfig "github.com/m3rciful/visionbot/core/config"
	"github.com/m3rciful/visionbot/core/engine"
	"github.com/m3rciful/visionbot/core/logger"
	"github.com/m3rciful/visionbot/core/metrics"
	"github.com/m3rciful/visionbot/core/netutil"
	tgsender "github.com/m3rciful/visionbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Middleware describes a global bot middleware to be registered via bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// RunOptions controls the behaviour of RunTelegram.
type RunOptions struct {
	Config   *coreconfig.Config
	Registry *Registry
	Metrics  *metrics.Metrics

	// BuildEngine receives the runtime once the bot and the outbound
	// dispatcher exist and returns the engine fed by the bot.
	BuildEngine func(rt Runtime) (*engine.Engine, error)

	DispatcherOptions tgsender.Options
	Dispatcher        *tgsender.Dispatcher

	// Poller replaces the poller derived from Config when set.
	Poller tele.Poller

	// Middlewares replaces DefaultMiddlewares when non-nil.
	Middlewares []Middleware

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes runtime components to lifecycle hooks.
type Runtime struct {
	Bot        *tele.Bot
	Dispatcher *tgsender.Dispatcher
	Sender     engine.Sender
	Registry   *Registry
	Engine     *engine.Engine
}

// RunTelegram composes and runs the bot until ctx is done or the engine
// signals shutdown, then drains the engine and flushes outbound messages.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return fmt.Errorf("telegram: nil config provided")
	}
	if opts.BuildEngine == nil {
		return fmt.Errorf("telegram: nil engine builder")
	}

	cfg := opts.Config
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}

	poller := opts.Poller
	if poller == nil {
		poller = BuildPoller(PollerOptionsFrom(cfg))
	}

	pollTimeout := defaultLongPollTimeout
	if lp, ok := poller.(*tele.LongPoller); ok {
		pollTimeout = lp.Timeout
	}
	settings := tele.Settings{
		URL:    cfg.Telegram.APIURL,
		Token:  cfg.Telegram.Token,
		Poller: poller,
		Client: netutil.BuildHTTPClient(netutil.ClientOptions{
			Timeout:         pollTimeout + 20*time.Second,
			ResponseTimeout: pollTimeout + 10*time.Second,
		}),
		Synchronous: true,
		OnError: func(err error, _ tele.Context) {
			logger.Error(logger.Background(), "tg", "handler.error",
				slog.String("error", err.Error()),
			)
		},
	}

	buildStart := time.Now()
	bot, err := tele.NewBot(settings)
	if err != nil {
		return fmt.Errorf("telegram: bot initialization failed: %w", err)
	}
	buildTook := time.Since(buildStart)

	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dOpts := opts.DispatcherOptions
		if dOpts.OnFailure == nil {
			dOpts.OnFailure = func(error) { opts.Metrics.SendFailure() }
		}
		dispatcher = tgsender.NewDispatcher(dOpts)
	}

	rt := Runtime{
		Bot:        bot,
		Dispatcher: dispatcher,
		Sender:     tgsender.NewReplies(bot, dispatcher, opts.Metrics),
		Registry:   reg,
	}
	eng, err := opts.BuildEngine(rt)
	if err != nil {
		dispatcher.Close()
		return fmt.Errorf("telegram: build engine: %w", err)
	}
	rt.Engine = eng

	logMode(ctx, bot, poller, pollTimeout, buildTook)

	mws := opts.Middlewares
	if mws == nil {
		mws = DefaultMiddlewares(cfg, opts.Metrics, nil)
	}
	for _, mw := range mws {
		if mw.Use == nil {
			continue
		}
		bot.Use(mw.Use)
	}

	adapter := NewAdapter(eng, bot)
	bot.Handle(tele.OnText, adapter.OnText)
	bot.Handle(tele.OnPhoto, adapter.OnPhoto)
	RegisterConversation(reg, adapter)
	SetupCommands(bot, reg)

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			dispatcher.Close()
			return err
		}
	}

	engDone := make(chan error, 1)
	go func() { engDone <- eng.Run(ctx) }()

	runDone := make(chan struct{})
	go func() {
		bot.Start()
		close(runDone)
	}()

	reason := ""
	select {
	case <-ctx.Done():
		reason = "context"
	case <-eng.Shutdown().Done():
		reason = eng.Shutdown().Reason()
	case <-runDone:
		reason = "poller_stopped"
		eng.Shutdown().Request(reason)
	}
	logger.TG.Info("stopping",
		slog.String("event", "stop"),
		slog.String("reason", reason),
	)

	select {
	case <-runDone:
	default:
		bot.Stop()
		<-runDone
	}

	drainErr := <-engDone
	if drainErr != nil {
		logger.TG.Warn("engine drain incomplete",
			slog.String("event", "drain"),
			slog.String("err", drainErr.Error()),
		)
	}

	var stopErr error
	if opts.OnStop != nil {
		stopErr = opts.OnStop(context.WithoutCancel(ctx), rt)
	}

	dispatcher.Close()

	if stopErr != nil {
		return stopErr
	}
	if drainErr != nil && !errors.Is(drainErr, engine.ErrDrainTimeout) {
		return drainErr
	}
	return nil
}

func logMode(ctx context.Context, bot *tele.Bot, poller tele.Poller, pollTimeout, took time.Duration) {
	switch p := poller.(type) {
	case *tele.Webhook:
		logger.TG.LogAttrs(ctx, slog.LevelInfo, "webhook mode",
			slog.String("event", "mode"),
			slog.String("mode", coreconfig.RunModeWebhook),
			slog.String("listen", p.Listen),
			slog.String("public_url", p.Endpoint.PublicURL),
			slog.Duration("duration", logger.RoundMS(took)),
		)
	default:
		logger.TG.LogAttrs(ctx, slog.LevelInfo, "polling mode",
			slog.String("event", "mode"),
			slog.String("mode", coreconfig.RunModeLongpoll),
			slog.Int("timeout_seconds", int(pollTimeout/time.Second)),
			slog.Duration("duration", logger.RoundMS(took)),
		)
		err := bot.RemoveWebhook()
		logger.TG.LogAttrs(ctx, levelFor(err), "webhook cleanup",
			slog.String("event", "delete_webhook"),
			slog.String("status", logger.Status(err)),
		)
	}
}

func levelFor(err error) slog.Level {
	if err != nil {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
