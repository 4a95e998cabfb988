package sender

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func TestDispatcherKeepsPerKeyOrder(t *testing.T) {
	d := NewDispatcher(Options{Workers: 4, QueueSize: 64})

	var (
		mu  sync.Mutex
		got = map[int64][]int{}
	)
	for i := 0; i < 20; i++ {
		for _, key := range []int64{1, 2, 3} {
			key, i := key, i
			err := d.Enqueue(context.Background(), key, "send.text", "sendMessage", func() error {
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
		}
	}
	d.Close()

	for key, seq := range got {
		if len(seq) != 20 {
			t.Fatalf("key %d ran %d jobs", key, len(seq))
		}
		for i, v := range seq {
			if v != i {
				t.Fatalf("key %d out of order: %v", key, seq)
			}
		}
	}
}

func TestDispatcherRetriesTransientErrors(t *testing.T) {
	var failures atomic.Int32
	d := NewDispatcher(Options{
		Workers:      1,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		OnFailure:    func(error) { failures.Add(1) },
	})

	var calls atomic.Int32
	_ = d.Enqueue(context.Background(), 1, "send.text", "sendMessage", func() error {
		if calls.Add(1) < 3 {
			return &net.OpError{Op: "dial", Err: errors.New("refused")}
		}
		return nil
	})
	_ = d.Enqueue(context.Background(), 1, "send.text", "sendMessage", func() error {
		return errors.New("telegram: chat not found (400)")
	})
	d.Close()

	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	if d.ErrorCount() != 1 || failures.Load() != 1 {
		t.Fatalf("errors = %d, failures = %d", d.ErrorCount(), failures.Load())
	}
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := NewDispatcher(Options{Workers: 1})
	d.Close()
	d.Close()
	if err := d.Enqueue(context.Background(), 1, "a", "b", func() error { return nil }); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
}

func TestClassifyAndSanitize(t *testing.T) {
	if got := classifyError(context.DeadlineExceeded); got != "timeout" {
		t.Fatalf("classify deadline = %q", got)
	}
	if got := classifyError(&tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}); got != "http_4xx" {
		t.Fatalf("classify api error = %q", got)
	}
	msg := sanitizeErrorMessage(errors.New(`Post "https://api.telegram.org/bot123456:AA-bb_CC/sendMessage": EOF`))
	if want := `Post "https://api.telegram.org/bot<redacted>/sendMessage": EOF`; msg != want {
		t.Fatalf("sanitize = %q", msg)
	}
}
