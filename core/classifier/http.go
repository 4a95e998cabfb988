package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/m3rciful/visionbot/core/logger"
	"github.com/m3rciful/visionbot/core/netutil"
)

const (
	maxResponseBytes = 1 << 20
	defaultTimeout   = 30 * time.Second
)

// HTTPOptions configures the model-serving client.
type HTTPOptions struct {
	URL     string
	Timeout time.Duration
	Retries int
	// Client overrides the default retrying client; tests use it.
	Client *http.Client
}

// HTTP posts raw image bytes to a model-serving endpoint.
type HTTP struct {
	endpoint *url.URL
	client   *http.Client
}

type httpResponse struct {
	Predictions []Prediction `json:"predictions"`
}

// NewHTTP validates the endpoint and builds the client.
func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	u, err := url.Parse(opts.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("classifier: invalid url %q", opts.URL)
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		retries := opts.Retries
		if retries == 0 {
			retries = -1
		}
		client = netutil.BuildHTTPClient(netutil.ClientOptions{
			Timeout:         timeout,
			ResponseTimeout: timeout,
			Retries:         retries,
		})
	}
	return &HTTP{endpoint: u, client: client}, nil
}

// Classify sends the image and returns validated predictions.
func (c *HTTP) Classify(ctx context.Context, image []byte, topK int) ([]Prediction, error) {
	if topK <= 0 {
		topK = 1
	}
	u := *c.endpoint
	q := u.Query()
	q.Set("top_k", strconv.Itoa(topK))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("classifier: build request: %w", err)
	}
	req.Header.Set("Content-Type", http.DetectContentType(image))
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		logger.Warn(ctx, "classifier", "request",
			slog.String("status", "fail"),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return nil, fmt.Errorf("classifier: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("classifier: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("classifier: status %d: %s", resp.StatusCode, logger.SanitizeLimit(string(body), 200))
	}

	var out httpResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("classifier: decode response: %w", err)
	}
	if err := Validate(out.Predictions); err != nil {
		return nil, err
	}
	if len(out.Predictions) > topK {
		out.Predictions = out.Predictions[:topK]
	}

	logger.Debug(ctx, "classifier", "request",
		slog.String("status", "ok"),
		slog.Int("bytes", len(image)),
		slog.Int("top_k", topK),
		slog.Duration("duration", time.Since(start)),
	)
	return out.Predictions, nil
}
