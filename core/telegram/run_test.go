package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/visionbot/core/classifier"
	coreconfig "github.com/m3rciful/visionbot/core/config"
	"github.com/m3rciful/visionbot/core/engine"
	"github.com/m3rciful/visionbot/core/imagestore"
	"github.com/m3rciful/visionbot/core/metrics"
	"github.com/m3rciful/visionbot/core/session"
	"github.com/m3rciful/visionbot/core/shutdown"

	tele "gopkg.in/telebot.v4"
)

const testToken = "1:test"

// botAPI is an in-process Bot API that records every sendMessage per chat.
type botAPI struct {
	mu    sync.Mutex
	texts map[string][]string
	seq   int
}

func newBotAPI(t *testing.T) (*botAPI, *httptest.Server) {
	t.Helper()
	api := &botAPI{texts: make(map[string][]string)}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, srv
}

func (a *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if id, ok := strings.CutPrefix(r.URL.Path, "/file/bot"+testToken+"/photos/"); ok {
		_, _ = w.Write([]byte(strings.TrimSuffix(id, ".jpg")))
		return
	}
	method := strings.TrimPrefix(r.URL.Path, "/bot"+testToken+"/")
	w.Header().Set("Content-Type", "application/json")

	switch method {
	case "getMe":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"vision","username":"visionbot"}}`))
	case "getFile":
		var p map[string]string
		_ = json.NewDecoder(r.Body).Decode(&p)
		fmt.Fprintf(w, `{"ok":true,"result":{"file_id":%q,"file_path":"photos/%s.jpg"}}`, p["file_id"], p["file_id"])
	case "sendMessage":
		var p map[string]string
		_ = json.NewDecoder(r.Body).Decode(&p)
		a.mu.Lock()
		a.seq++
		seq := a.seq
		a.texts[p["chat_id"]] = append(a.texts[p["chat_id"]], p["text"])
		a.mu.Unlock()
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":%s,"type":"private"},"text":%q}}`,
			seq, p["chat_id"], p["text"])
	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}
}

func (a *botAPI) chat(id int64) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts[fmt.Sprint(id)]...)
}

// feedPoller hands queued updates to the bot until it is stopped.
type feedPoller struct{ updates chan tele.Update }

func (p *feedPoller) Poll(_ *tele.Bot, dest chan tele.Update, stop chan struct{}) {
	for {
		select {
		case upd := <-p.updates:
			select {
			case dest <- upd:
			case <-stop:
				return
			}
		case <-stop:
			return
		}
	}
}

func photoUpdate(id int, user int64, fileID string) tele.Update {
	return tele.Update{ID: id, Message: &tele.Message{
		Sender: &tele.User{ID: user},
		Chat:   &tele.Chat{ID: user, Type: tele.ChatPrivate},
		Photo:  &tele.Photo{File: tele.File{FileID: fileID}},
	}}
}

func TestRunTelegramStopDrainsInFlightRecognition(t *testing.T) {
	const (
		slowUser int64 = 200
		stopUser int64 = 100
	)
	api, srv := newBotAPI(t)
	feed := &feedPoller{updates: make(chan tele.Update, 16)}

	classifyStarted := make(chan struct{})
	releaseClassify := make(chan struct{})
	model := classifier.Func(func(ctx context.Context, image []byte, _ int) ([]classifier.Prediction, error) {
		if string(image) == "slow" {
			close(classifyStarted)
			select {
			case <-releaseClassify:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return []classifier.Prediction{{Label: "tabby", Confidence: 0.9}}, nil
	})

	signal := shutdown.New()
	var stopHookRan bool
	opts := RunOptions{
		Config: &coreconfig.Config{
			Telegram: coreconfig.TelegramConfig{Token: testToken, APIURL: srv.URL},
		},
		Metrics: metrics.New(),
		Poller:  feed,
		BuildEngine: func(rt Runtime) (*engine.Engine, error) {
			return engine.New(engine.Options{
				Sessions:        session.NewRegistry(),
				Images:          imagestore.NewMemory(),
				Classifier:      model,
				Sender:          rt.Sender,
				Shutdown:        signal,
				ClassifyTimeout: 10 * time.Second,
				MaxImageBytes:   1 << 20,
				DrainTimeout:    10 * time.Second,
			})
		},
		OnStop: func(context.Context, Runtime) error {
			stopHookRan = true
			return nil
		},
	}

	runErr := make(chan error, 1)
	go func() { runErr <- RunTelegram(context.Background(), opts) }()

	feed.updates <- message(1, slowUser, "/start")
	feed.updates <- photoUpdate(2, slowUser, "slow")
	feed.updates <- message(3, slowUser, "Recognize")
	select {
	case <-classifyStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("recognition never started")
	}

	feed.updates <- message(4, stopUser, "/start")
	feed.updates <- photoUpdate(5, stopUser, "fast")
	feed.updates <- message(6, stopUser, "Stop the bot")
	select {
	case <-signal.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stop was never requested")
	}

	select {
	case err := <-runErr:
		t.Fatalf("RunTelegram returned %v while a recognition was in flight", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(releaseClassify)
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("RunTelegram: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("RunTelegram did not return after the drain")
	}

	want := []string{
		engine.MsgGreeting,
		engine.MsgDownloading,
		engine.MsgPreprocessing,
		engine.MsgRecognizing,
		"Predicted: tabby with 90.00% accuracy",
		engine.MsgSendAnother,
	}
	if got := api.chat(slowUser); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("slow user got %q, want %q", got, want)
	}
	if n := signal.Requests(); n != 1 {
		t.Fatalf("shutdown requests = %d, want 1", n)
	}
	if signal.Reason() != fmt.Sprintf("stop requested by user %d", stopUser) {
		t.Fatalf("reason = %q", signal.Reason())
	}
	if !stopHookRan {
		t.Fatal("OnStop did not run")
	}
}

func TestRunTelegramRequiresEngineBuilder(t *testing.T) {
	err := RunTelegram(context.Background(), RunOptions{Config: &coreconfig.Config{}})
	if err == nil || !strings.Contains(err.Error(), "engine builder") {
		t.Fatalf("err = %v", err)
	}
}
