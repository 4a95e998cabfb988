package commands

import tele "gopkg.in/telebot.v4"

// Command is a bot command shown in the Telegram menu.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
}
