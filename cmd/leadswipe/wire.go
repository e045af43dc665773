package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/leadswipe/leadswipe-api/engine/classify"
	"github.com/leadswipe/leadswipe-api/engine/delivery"
	"github.com/leadswipe/leadswipe-api/engine/pipeline"
	"github.com/leadswipe/leadswipe-api/engine/scraper"
	"github.com/leadswipe/leadswipe-api/engine/sources"
	"github.com/leadswipe/leadswipe-api/pkg/metrics"
	"github.com/leadswipe/leadswipe-api/pkg/natsutil"
	"github.com/leadswipe/leadswipe-api/pkg/ollama"
	"github.com/leadswipe/leadswipe-api/pkg/resilience"
)

// app is the wired service.
type app struct {
	ctl        *pipeline.Controller
	dispatcher *delivery.Dispatcher
	registry   *metrics.Registry
	logger     *slog.Logger
	cfg        Config

	nc *nats.Conn
}

func (a *app) Close() {
	if a.nc != nil {
		a.nc.Drain()
	}
}

func newCompleter(cfg Config) classify.Completer {
	temperature := classify.DefaultOpenAIConfig().Temperature
	if cfg.ClassifierBackend == backendOllama {
		return ollama.New(cfg.OllamaURL, cfg.OllamaModel, temperature)
	}
	return classify.NewOpenAIClient(classify.OpenAIConfig{
		APIKey:      cfg.OpenAIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIModel,
		Temperature: temperature,
	})
}

func buildApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.warnings(logger)

	reg := metrics.New()
	svc := metrics.NewService(reg)

	provider := scraper.NewApify(scraper.Config{
		Token: cfg.ApifyToken,
		Actor: cfg.ApifyActor,
	}, logger)

	llm := newCompleter(cfg)
	logger.Info("classifier configured", "backend", cfg.ClassifierBackend)
	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.ClassifyRPS, Burst: 1})
	classifier := classify.New(llm, limiter, logger)
	classifier.Observe = svc.ObserveClassify

	a := &app{registry: reg, logger: logger, cfg: cfg}

	var (
		sink   delivery.Sink
		sender delivery.PushSender
		events delivery.EventPublisher
	)
	if cfg.IngestURL != "" {
		sink = delivery.NewWebhook(cfg.IngestURL, logger)
	}
	if cfg.FirebaseJSON != "" || cfg.FirebasePath != "" {
		fcm, err := delivery.NewFCM(ctx, []byte(cfg.FirebaseJSON), cfg.FirebasePath)
		if err != nil {
			return nil, err
		}
		sender = fcm
		logger.Info("firebase push enabled")
	}
	if cfg.NATSURL != "" {
		nc, err := natsutil.Connect(cfg.NATSURL, "leadswipe-api", logger)
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		a.nc = nc
		events = delivery.NewNATSPublisher(nc, cfg.NATSSubject)
		logger.Info("run events enabled", "url", cfg.NATSURL)
	}
	a.dispatcher = delivery.NewDispatcher(sink, sender, events, nil, logger)

	a.ctl = pipeline.NewController(pipeline.Deps{
		Catalog:    sources.File{Path: cfg.GroupsConfig},
		Provider:   provider,
		Classifier: classifier,
		Dispatcher: a.dispatcher,
		Metrics:    svc,
		Logger:     logger,
		Workers:    cfg.ClassifyWorkers,
	})
	return a, nil
}
