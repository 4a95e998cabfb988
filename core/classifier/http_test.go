package classifier

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPClassify(t *testing.T) {
	var (
		gotTopK string
		gotBody string
		gotType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		gotTopK = r.URL.Query().Get("top_k")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"predictions":[{"label":"tabby","confidence":0.87},{"label":"tiger cat","confidence":0.1},{"label":"lynx","confidence":0.01}]}`)
	}))
	defer srv.Close()

	c, err := NewHTTP(HTTPOptions{URL: srv.URL + "/v1/classify", Client: srv.Client()})
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	preds, err := c.Classify(context.Background(), []byte("\x89PNG\r\n\x1a\nrest"), 2)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if gotTopK != "2" {
		t.Fatalf("top_k = %q", gotTopK)
	}
	if gotType != "image/png" {
		t.Fatalf("content type = %q", gotType)
	}
	if !strings.HasSuffix(gotBody, "rest") {
		t.Fatalf("body = %q", gotBody)
	}
	if len(preds) != 2 || preds[0].Label != "tabby" || preds[0].Confidence != 0.87 {
		t.Fatalf("preds = %+v", preds)
	}
}

func TestHTTPClassifyErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		is     error
	}{
		{"server error", http.StatusInternalServerError, `boom`, nil},
		{"bad json", http.StatusOK, `{"predictions":`, nil},
		{"empty", http.StatusOK, `{"predictions":[]}`, ErrEmptyResult},
		{"out of range", http.StatusOK, `{"predictions":[{"label":"x","confidence":1.5}]}`, nil},
		{"no label", http.StatusOK, `{"predictions":[{"label":"","confidence":0.5}]}`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			c, _ := NewHTTP(HTTPOptions{URL: srv.URL, Client: srv.Client()})
			_, err := c.Classify(context.Background(), []byte("img"), 1)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.is != nil && !errors.Is(err, tc.is) {
				t.Fatalf("err = %v, want %v", err, tc.is)
			}
		})
	}
}

func TestHTTPClassifyHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, _ := NewHTTP(HTTPOptions{URL: srv.URL, Client: srv.Client()})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Classify(ctx, []byte("img"), 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestNewHTTPRejectsBadURL(t *testing.T) {
	if _, err := NewHTTP(HTTPOptions{URL: "not a url"}); err == nil {
		t.Fatal("expected error")
	}
}
