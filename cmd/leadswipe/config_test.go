package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leadswipe/leadswipe-api/engine/classify"
	"github.com/leadswipe/leadswipe-api/engine/delivery"
	"github.com/leadswipe/leadswipe-api/pkg/ollama"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "GROUPS_CONFIG", "CLASSIFY_WORKERS", "CLASSIFY_RPS", "SCHEDULE", "CLASSIFIER_BACKEND"} {
		t.Setenv(k, "")
	}
	cfg := loadConfig()
	if cfg.Port != "5001" || cfg.GroupsConfig != "config/groups.json" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ClassifyWorkers != 4 || cfg.ClassifyRPS != 5 || cfg.Schedule != DefaultSchedule || cfg.ClassifierBackend != backendOpenAI {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("CLASSIFY_WORKERS", "8")
	t.Setenv("CLASSIFY_RPS", "0.5")
	cfg := loadConfig()
	if cfg.Port != "8080" || cfg.ClassifyWorkers != 8 || cfg.ClassifyRPS != 0.5 {
		t.Fatalf("cfg = %+v", cfg)
	}

	t.Setenv("CLASSIFY_WORKERS", "-2")
	t.Setenv("CLASSIFY_RPS", "fast")
	cfg = loadConfig()
	if cfg.ClassifyWorkers != 4 || cfg.ClassifyRPS != 5 {
		t.Fatalf("invalid values not ignored: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	err := Config{ClassifierBackend: backendOpenAI}.validate()
	if err == nil || !strings.Contains(err.Error(), "APIFY_TOKEN") || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("err = %v", err)
	}
	if err := (Config{ApifyToken: "a", OpenAIKey: "b", ClassifierBackend: backendOpenAI}).validate(); err != nil {
		t.Fatalf("err = %v", err)
	}
	if err := (Config{ApifyToken: "a", ClassifierBackend: backendOllama}).validate(); err != nil {
		t.Fatalf("ollama needs no api key: %v", err)
	}
	if err := (Config{ApifyToken: "a", ClassifierBackend: "bard"}).validate(); err == nil {
		t.Fatal("expected unknown backend error")
	}
}

func TestNewCompleter(t *testing.T) {
	if _, ok := newCompleter(Config{ClassifierBackend: backendOllama}).(*ollama.Client); !ok {
		t.Fatal("ollama backend not selected")
	}
	if _, ok := newCompleter(Config{ClassifierBackend: backendOpenAI, OpenAIKey: "k"}).(*classify.OpenAIClient); !ok {
		t.Fatal("openai backend not selected")
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file: %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("LEADSWIPE_TEST_VAR=from-file\nPORT=9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7000")
	t.Setenv("LEADSWIPE_TEST_VAR", "")
	os.Unsetenv("LEADSWIPE_TEST_VAR")

	if err := loadEnvFile(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("LEADSWIPE_TEST_VAR"); got != "from-file" {
		t.Fatalf("LEADSWIPE_TEST_VAR = %q", got)
	}
	if got := os.Getenv("PORT"); got != "7000" {
		t.Fatalf("existing PORT overridden: %q", got)
	}
}

func TestGroupsCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "groups.json")
	data := `{"groups": [{"name": "Entrepreneurs QC", "url": "https://facebook.com/groups/1"}], "settings": {"posts_per_group": 25}}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd(nil)
	var out strings.Builder
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"groups", "--groups", path, "--env-file", ""})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "group_1") || !strings.Contains(out.String(), "1 groups, 25 posts per group") {
		t.Fatalf("output:\n%s", out.String())
	}
}

func TestNewScheduler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sched, err := newScheduler(Config{}, nil, logger)
	if err != nil || sched != nil {
		t.Fatalf("disabled schedule: %v %v", sched, err)
	}
	if _, err := newScheduler(Config{Schedule: DefaultSchedule, Timezone: "Mars/Olympus"}, nil, logger); err == nil {
		t.Fatal("expected timezone error")
	}
	if _, err := newScheduler(Config{Schedule: "twice a day"}, nil, logger); err == nil {
		t.Fatal("expected schedule error")
	}
	sched, err = newScheduler(Config{Schedule: DefaultSchedule, Timezone: "America/Toronto"}, nil, logger)
	if err != nil {
		t.Fatal(err)
	}
	if jobs := sched.ListJobs(); len(jobs) != 1 || jobs[0].Name != "scrape" {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestServeRejectsBadScheduleBeforeListening(t *testing.T) {
	cfg := Config{
		Port:              "0",
		ApifyToken:        "tok",
		ClassifierBackend: backendOllama,
		Schedule:          "not a cron spec",
	}
	done := make(chan error, 1)
	go func() { done <- serve(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))) }()
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "schedule") {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve kept running with an invalid schedule")
	}
}

func TestPrintEvent(t *testing.T) {
	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	var out strings.Builder
	printEvent(&out, delivery.RunEvent{SessionID: "s1", State: "succeeded", Sources: []string{"a", "b"}, TotalItems: 7, Opportunities: 2, Cost: 0.055, At: at})
	printEvent(&out, delivery.RunEvent{SessionID: "s2", State: "failed", Error: "provider down", At: at})
	want := "2026-10-16T12:00:00Z s1 succeeded groups=2 posts=7 opportunities=2 cost=$0.0550\n" +
		"2026-10-16T12:00:00Z s2 failed groups=0 posts=0 opportunities=0 cost=$0.0000 error=\"provider down\"\n"
	if out.String() != want {
		t.Fatalf("got:\n%s\nwant:\n%s", out.String(), want)
	}
}

func TestWatchRequiresNATSURL(t *testing.T) {
	t.Setenv("NATS_URL", "")
	cmd := newRootCmd(nil)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"watch", "--env-file", ""})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "NATS_URL") {
		t.Fatalf("err = %v", err)
	}
}
