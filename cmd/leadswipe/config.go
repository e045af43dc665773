package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/leadswipe/leadswipe-api/engine/pipeline"
)

// DefaultSchedule runs at noon and 7pm.
const DefaultSchedule = "0 12,19 * * *"

// Classifier backends.
const (
	backendOpenAI = "openai"
	backendOllama = "ollama"
)

// Config holds all environment-based configuration.
type Config struct {
	Port         string
	GroupsConfig string
	CORSOrigin   string

	ApifyToken string
	ApifyActor string

	ClassifierBackend string

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	OllamaURL   string
	OllamaModel string

	IngestURL string

	FirebaseJSON string
	FirebasePath string

	NATSURL     string
	NATSSubject string

	ClassifyWorkers int
	ClassifyRPS     float64

	Schedule string
	Timezone string
}

// loadEnvFile reads a dotenv file into the environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func loadConfig() Config {
	return Config{
		Port:              envOr("PORT", "5001"),
		GroupsConfig:      envOr("GROUPS_CONFIG", "config/groups.json"),
		CORSOrigin:        envOr("CORS_ORIGIN", "*"),
		ApifyToken:        os.Getenv("APIFY_TOKEN"),
		ApifyActor:        os.Getenv("APIFY_ACTOR"),
		ClassifierBackend: envOr("CLASSIFIER_BACKEND", backendOpenAI),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:       os.Getenv("OPENAI_MODEL"),
		OllamaURL:         envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:       os.Getenv("OLLAMA_MODEL"),
		IngestURL:         os.Getenv("INGEST_WEBHOOK_URL"),
		FirebaseJSON:      os.Getenv("FIREBASE_CREDENTIALS_JSON"),
		FirebasePath:      os.Getenv("FIREBASE_CREDENTIALS_PATH"),
		NATSURL:           os.Getenv("NATS_URL"),
		NATSSubject:       os.Getenv("NATS_SUBJECT"),
		ClassifyWorkers:   envInt("CLASSIFY_WORKERS", pipeline.DefaultWorkers),
		ClassifyRPS:       envFloat("CLASSIFY_RPS", 5),
		Schedule:          envOr("SCHEDULE", DefaultSchedule),
		Timezone:          envOr("SCHEDULE_TZ", "America/Toronto"),
	}
}

// validate reports settings a run cannot do without.
func (c Config) validate() error {
	var errs []error
	if c.ApifyToken == "" {
		errs = append(errs, errors.New("APIFY_TOKEN is required"))
	}
	switch c.ClassifierBackend {
	case backendOpenAI:
		if c.OpenAIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required"))
		}
	case backendOllama:
	default:
		errs = append(errs, fmt.Errorf("CLASSIFIER_BACKEND must be %q or %q, got %q", backendOpenAI, backendOllama, c.ClassifierBackend))
	}
	return errors.Join(errs...)
}

// warnings logs optional integrations that are switched off.
func (c Config) warnings(logger *slog.Logger) {
	if c.IngestURL == "" {
		logger.Warn("INGEST_WEBHOOK_URL not set, opportunities will not be delivered")
	}
	if c.FirebaseJSON == "" && c.FirebasePath == "" {
		logger.Warn("firebase credentials not set, push notifications disabled")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && f >= 0 {
		return f
	}
	return fallback
}
