package telegram

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/m3rciful/visionbot/core/logger"
	"github.com/m3rciful/visionbot/core/session"
	"github.com/m3rciful/visionbot/core/telegram/commands"

	tele "gopkg.in/telebot.v4"
)

// Registry holds bot commands.
type Registry struct {
	commands map[string]commands.Command
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]commands.Command)}
}

// RegisterCommand adds a new command.
func (r *Registry) RegisterCommand(name string, cmd commands.Command) {
	if r == nil || name == "" || cmd.Handler == nil || cmd.Description == "" {
		logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, "register.command.skip",
			slog.String("name", name),
			slog.String("reason", "invalid"),
		)
		return
	}
	if name[0] != '/' {
		logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, "register.command.skip",
			slog.String("name", name),
			slog.String("reason", "no_slash_prefix"),
		)
		return
	}
	if _, exists := r.commands[name]; exists {
		logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, "register.command.duplicate",
			slog.String("name", name),
		)
		return
	}
	r.commands[name] = cmd
}

// ListCommands returns the commands sorted by name.
func (r *Registry) ListCommands() []tele.Command {
	list := make([]tele.Command, 0, len(r.commands))
	for cmd, meta := range r.commands {
		list = append(list, tele.Command{Text: strings.TrimPrefix(cmd, "/"), Description: meta.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

// RegisterConversation adds /start and /cancel bound to a.
func RegisterConversation(r *Registry, a *Adapter) {
	r.RegisterCommand("/start", commands.Command{
		Handler:     a.Command(session.EventStart),
		Description: "Start a new session",
	})
	r.RegisterCommand("/cancel", commands.Command{
		Handler:     a.Command(session.EventCancel),
		Description: "Stop the current session",
	})
}

type handlerBinder interface {
	Handle(endpoint interface{}, h tele.HandlerFunc, m ...tele.MiddlewareFunc)
}

func bindCommands(b handlerBinder, r *Registry) int {
	n := 0
	for name, cmd := range r.commands {
		b.Handle(name, cmd.Handler)
		n++
	}
	return n
}

// SetupCommands binds registered commands to bot and publishes the command menu.
func SetupCommands(bot *tele.Bot, r *Registry) {
	n := bindCommands(bot, r)
	logger.TWire.LogAttrs(context.Background(), slog.LevelDebug, "register.commands",
		slog.Int("handlers", n),
	)
	InitBotCommands(bot, r)
}

// InitBotCommands sets the Telegram bot commands shown in the command menu.
func InitBotCommands(bot *tele.Bot, reg *Registry) {
	if err := bot.SetCommands(reg.ListCommands()); err != nil {
		logger.TWire.LogAttrs(context.Background(), slog.LevelError, "register.commands.set_failed",
			slog.String("err", err.Error()),
		)
	}
}
