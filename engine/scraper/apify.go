// Package scraper fetches raw posts from community groups through the Apify
// Facebook groups actor and normalizes them into domain posts.
package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/leadswipe/leadswipe-api/engine/domain"
	"github.com/leadswipe/leadswipe-api/pkg/fn"
)

// Provider fetches up to perSource recent raw items from each source.
type Provider interface {
	Fetch(ctx context.Context, sources []domain.Source, perSource int) ([]domain.RawItem, error)
}

// Config configures the Apify client.
type Config struct {
	Token   string
	Actor   string
	BaseURL string
	// Timeout bounds one synchronous actor run.
	Timeout time.Duration
	Retry   fn.RetryOpts
}

// DefaultConfig returns the production actor settings.
func DefaultConfig() Config {
	return Config{
		Actor:   "apify/facebook-groups-scraper",
		BaseURL: "https://api.apify.com/v2",
		Timeout: 5 * time.Minute,
		Retry: fn.RetryOpts{
			MaxAttempts: 3,
			InitialWait: 5 * time.Second,
			MaxWait:     30 * time.Second,
			Jitter:      true,
		},
	}
}

// Apify runs the actor synchronously and reads its dataset in one call.
type Apify struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewApify creates an Apify provider. Zero fields in cfg take defaults.
func NewApify(cfg Config, logger *slog.Logger) *Apify {
	def := DefaultConfig()
	if cfg.Actor == "" {
		cfg.Actor = def.Actor
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = def.Retry
	}
	cfg.Retry.Retryable = isTransient
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "apify")
	cfg.Retry.OnRetry = func(attempt int, err error) {
		logger.Warn("actor run failed, retrying", "attempt", attempt, "err", err)
	}
	return &Apify{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

type startURL struct {
	URL string `json:"url"`
}

type actorInput struct {
	StartURLs    []startURL `json:"startUrls"`
	ResultsLimit int        `json:"resultsLimit"`
	Sort         string     `json:"sort"`
}

// statusError is a non-2xx reply from the Apify API.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("apify: status %d: %s", e.code, e.body)
}

func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// Fetch implements Provider.
func (a *Apify) Fetch(ctx context.Context, sources []domain.Source, perSource int) ([]domain.RawItem, error) {
	if a.cfg.Token == "" {
		return nil, errors.New("apify: no API token configured")
	}
	if len(sources) == 0 {
		return nil, nil
	}
	in := actorInput{ResultsLimit: perSource, Sort: "recent"}
	for _, s := range sources {
		in.StartURLs = append(in.StartURLs, startURL{URL: s.URL})
	}
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	a.logger.Info("starting actor run", "actor", a.cfg.Actor, "sources", len(sources), "per_source", perSource)
	items, err := fn.Retry(ctx, a.cfg.Retry, func(ctx context.Context) fn.Result[[]map[string]any] {
		return fn.FromPair(a.runSync(ctx, body))
	}).Unwrap()
	if err != nil {
		return nil, err
	}

	out := make([]domain.RawItem, 0, len(items))
	for _, it := range items {
		out = append(out, decodeItem(it))
	}
	a.logger.Info("actor run complete", "items", len(out))
	return out, nil
}

func (a *Apify) runSync(ctx context.Context, body []byte) ([]map[string]any, error) {
	endpoint := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?%s",
		strings.TrimRight(a.cfg.BaseURL, "/"),
		strings.ReplaceAll(a.cfg.Actor, "/", "~"),
		url.Values{"token": {a.cfg.Token}}.Encode(),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}

	var items []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("apify decode: %w", err)
	}
	return items, nil
}
