package engine

import (
	"fmt"
	"strings"

	"github.com/m3rciful/visionbot/core/classifier"
	"github.com/m3rciful/visionbot/core/session"
)

// Outbound texts.
const (
	MsgGreeting        = "Send me an image!"
	MsgDownloading     = "[INFO] Downloading the image... "
	MsgPreprocessing   = "[INFO] Preprocessing..."
	MsgRecognizing     = "[INFO] Recognizing..."
	MsgSendAnother     = "Send me another image or /cancel for stop conversation"
	MsgFarewell        = "Bye! Text me /start for new session"
	MsgStorageFailure  = "Sorry, I could not save your image. Please send it again."
	MsgNoImage         = "Sorry, I have no image from you. Please send a photo first."
	MsgClassifyFailure = "Sorry, I could not recognize the image. Send it again or /cancel."
)

// Reply keyboard buttons.
const (
	ButtonRecognize = "Recognize"
	ButtonCancel    = "/cancel"
	ButtonStop      = "Stop the bot"
)

// MainKeyboard is the button layout offered with the greeting and after each prediction.
var MainKeyboard = [][]string{{ButtonRecognize, ButtonCancel, ButtonStop}}

// KindForText maps a text message to an event kind. Unknown slash commands
// and blank texts are not events.
func KindForText(text string) (session.EventKind, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return "", false
	}
	if t == ButtonStop {
		return session.EventStop, true
	}
	if !strings.HasPrefix(t, "/") {
		return session.EventText, true
	}

	cmd := strings.Fields(t)[0][1:]
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	switch strings.ToLower(cmd) {
	case "start":
		return session.EventStart, true
	case "cancel":
		return session.EventCancel, true
	}
	return "", false
}

// FormatPredictions renders the top prediction line followed by the runners-up, if any.
func FormatPredictions(preds []classifier.Prediction) string {
	if len(preds) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Predicted: %s with %.2f%% accuracy", preds[0].Label, preds[0].Confidence*100)
	for i, p := range preds[1:] {
		fmt.Fprintf(&b, "\n%d. %s (%.2f%%)", i+2, p.Label, p.Confidence*100)
	}
	return b.String()
}
