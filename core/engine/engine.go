// Package engine drives per-user conversations: it resolves the session,
// applies the transition table, performs the required side effect and emits
// replies through a Sender.
package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/visionbot/core/classifier"
	"github.com/m3rciful/visionbot/core/history"
	"github.com/m3rciful/visionbot/core/imagestore"
	"github.com/m3rciful/visionbot/core/logger"
	"github.com/m3rciful/visionbot/core/metrics"
	"github.com/m3rciful/visionbot/core/session"
	"github.com/m3rciful/visionbot/core/shutdown"
)

var (
	// ErrStorageFailure wraps download and image store errors.
	ErrStorageFailure = errors.New("engine: storage failure")
	// ErrNoImageFound is returned when recognition is requested without a stored image.
	ErrNoImageFound = errors.New("engine: no image found")
	// ErrClassificationFailure wraps classifier errors and timeouts.
	ErrClassificationFailure = errors.New("engine: classification failure")
	// ErrClosed is returned by Dispatch once shutdown was requested.
	ErrClosed = errors.New("engine: closed")
)

const (
	defaultClassifyTimeout = 30 * time.Second
	defaultDrainTimeout    = 30 * time.Second
)

// Keyboard selects the reply keyboard attached to an outbound message.
type Keyboard int

const (
	KeyboardNone Keyboard = iota
	KeyboardMain
	KeyboardRemove
)

func (k Keyboard) String() string {
	switch k {
	case KeyboardMain:
		return "main"
	case KeyboardRemove:
		return "remove"
	default:
		return "none"
	}
}

// Reply is one outbound message.
type Reply struct {
	Text     string
	Keyboard Keyboard
}

// Sender delivers replies to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, r Reply) error
}

// PhotoSource yields the bytes of an inbound photo. Downloading happens on Open.
type PhotoSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// PhotoFunc adapts a function to PhotoSource.
type PhotoFunc func(ctx context.Context) (io.ReadCloser, error)

func (f PhotoFunc) Open(ctx context.Context) (io.ReadCloser, error) { return f(ctx) }

// PhotoBytes is an in-memory PhotoSource.
type PhotoBytes []byte

func (b PhotoBytes) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// Event is one inbound message translated by the transport.
type Event struct {
	UserID   int64
	ChatID   int64
	UpdateID int
	Kind     session.EventKind
	Text     string
	Photo    PhotoSource
}

// Recorder persists answered recognitions.
type Recorder interface {
	Record(ctx context.Context, rec history.Record) error
}

// Options wires an Engine. Sessions, Images, Classifier and Sender are required.
type Options struct {
	Sessions   *session.Registry
	Images     imagestore.Store
	Classifier classifier.Classifier
	Sender     Sender
	Shutdown   *shutdown.Signal
	Recorder   Recorder
	Metrics    *metrics.Metrics

	TopK            int
	ClassifyTimeout time.Duration
	MaxImageBytes   int64
	DrainTimeout    time.Duration
	Now             func() time.Time
}

type queued struct {
	ctx context.Context
	ev  Event
}

type mailbox struct {
	queue   []queued
	running bool
}

// Engine is safe for concurrent use. Events of one user are serialized.
type Engine struct {
	sessions   *session.Registry
	images     imagestore.Store
	classifier classifier.Classifier
	sender     Sender
	shutdown   *shutdown.Signal
	recorder   Recorder
	metrics    *metrics.Metrics

	topK            int
	classifyTimeout time.Duration
	maxImageBytes   int64
	drainTimeout    time.Duration
	now             func() time.Time

	mu        sync.Mutex
	mailboxes map[int64]*mailbox
	closed    bool
	inflight  sync.WaitGroup
	pending   atomic.Int64
}

// New validates opts and returns an Engine.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Sessions == nil:
		return nil, errors.New("engine: nil session registry")
	case opts.Images == nil:
		return nil, errors.New("engine: nil image store")
	case opts.Classifier == nil:
		return nil, errors.New("engine: nil classifier")
	case opts.Sender == nil:
		return nil, errors.New("engine: nil sender")
	}
	e := &Engine{
		sessions:        opts.Sessions,
		images:          opts.Images,
		classifier:      opts.Classifier,
		sender:          opts.Sender,
		shutdown:        opts.Shutdown,
		recorder:        opts.Recorder,
		metrics:         opts.Metrics,
		topK:            opts.TopK,
		classifyTimeout: opts.ClassifyTimeout,
		maxImageBytes:   opts.MaxImageBytes,
		drainTimeout:    opts.DrainTimeout,
		now:             opts.Now,
		mailboxes:       make(map[int64]*mailbox),
	}
	if e.shutdown == nil {
		e.shutdown = shutdown.New()
	}
	if e.topK <= 0 {
		e.topK = 1
	}
	if e.classifyTimeout <= 0 {
		e.classifyTimeout = defaultClassifyTimeout
	}
	if e.drainTimeout <= 0 {
		e.drainTimeout = defaultDrainTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Shutdown returns the signal observed by Run.
func (e *Engine) Shutdown() *shutdown.Signal {
	return e.shutdown
}

// Handle processes ev synchronously. It holds the user's lock for the whole
// event, so calls for one user never overlap. The returned error is already
// reported to the user and logged; it is returned for callers that inspect it.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	unlock := e.sessions.Lock(ev.UserID)
	defer unlock()

	ctx = logger.WithUpdateMeta(ctx, ev.UpdateID, ev.UserID, ev.ChatID)
	sess, ok := e.sessions.Get(ev.UserID)
	if ok {
		ctx = logger.WithSession(ctx, sess.CorrelationID)
	}
	next, action := session.Transition(sess.State, ev.Kind)

	if action == session.ActionNone {
		logger.Debug(ctx, "engine", "event.ignored",
			slog.String("status", "ignored"),
			slog.String("kind", string(ev.Kind)),
			slog.String("state", string(sess.State)),
		)
		e.metrics.Event(string(ev.Kind), action.String())
		return nil
	}

	start := time.Now()
	var err error
	switch action {
	case session.ActionGreet:
		err = e.onStart(ctx, ev)
	case session.ActionStoreImage:
		err = e.onPhoto(ctx, ev, sess, next)
	case session.ActionClassify:
		err = e.onText(ctx, ev, sess, next)
	case session.ActionFarewell:
		err = e.onCancel(ctx, ev)
	case session.ActionShutdown:
		err = e.onStop(ctx, ev)
	}

	e.metrics.Event(string(ev.Kind), action.String())
	e.metrics.SetActiveSessions(e.sessions.Len())

	after := e.sessions.State(ev.UserID)
	attrs := []slog.Attr{
		slog.String("status", logger.Status(err)),
		slog.String("kind", string(ev.Kind)),
		slog.String("state", string(sess.State)),
		slog.String("next_state", string(after)),
		slog.String("action", action.String()),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		e.metrics.EventError(string(ev.Kind), errorKind(err))
		logger.Warn(ctx, "engine", "transition", append(attrs, slog.String("error", err.Error()))...)
		return err
	}
	logger.Info(ctx, "engine", "transition", attrs...)
	return nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrStorageFailure):
		return "storage"
	case errors.Is(err, ErrNoImageFound):
		return "no_image"
	case errors.Is(err, ErrClassificationFailure):
		return "classification"
	default:
		return "other"
	}
}

func (e *Engine) reply(ctx context.Context, ev Event, text string, kb Keyboard) {
	if err := e.sender.Send(ctx, ev.ChatID, Reply{Text: text, Keyboard: kb}); err != nil {
		logger.Warn(ctx, "engine", "reply",
			slog.String("status", "fail"),
			slog.String("error", err.Error()),
		)
	}
}
