package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/leadswipe/leadswipe-api/pkg/resilience"
)

// Ack is the ingestion endpoint's reply.
type Ack struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// Sink accepts a batch of opportunities.
type Sink interface {
	Ingest(ctx context.Context, b Batch) (Ack, error)
}

// Webhook posts batches as JSON to an HTTP endpoint. Consecutive failures
// open a circuit breaker so a dead endpoint is not hammered every run.
type Webhook struct {
	url     string
	client  *http.Client
	breaker *resilience.Breaker
}

// NewWebhook creates a webhook sink.
func NewWebhook(url string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	opts := resilience.DefaultBreakerOpts
	opts.OnStateChange = func(from, to resilience.State) {
		logger.Warn("ingestion webhook breaker", "from", from.String(), "to", to.String())
	}
	return &Webhook{
		url: url,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: resilience.NewBreaker(opts),
	}
}

// Ingest implements Sink. The run id is sent as the Idempotency-Key so the
// endpoint can discard replays.
func (w *Webhook) Ingest(ctx context.Context, b Batch) (Ack, error) {
	var ack Ack
	err := w.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		ack, err = w.post(ctx, b)
		return err
	})
	return ack, err
}

func (w *Webhook) post(ctx context.Context, b Batch) (Ack, error) {
	body, err := json.Marshal(b)
	if err != nil {
		return Ack{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return Ack{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if b.RunID != "" {
		req.Header.Set("Idempotency-Key", b.RunID)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return Ack{}, fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return Ack{}, fmt.Errorf("webhook: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var ack Ack
	if len(bytes.TrimSpace(data)) > 0 {
		// A 2xx with an unexpected body still counts as delivered.
		_ = json.Unmarshal(data, &ack)
	}
	return ack, nil
}
