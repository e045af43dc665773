package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leadswipe/leadswipe-api/engine/classify"
	"github.com/leadswipe/leadswipe-api/engine/delivery"
	"github.com/leadswipe/leadswipe-api/engine/domain"
	"github.com/leadswipe/leadswipe-api/engine/pipeline"
	"github.com/leadswipe/leadswipe-api/engine/session"
	"github.com/leadswipe/leadswipe-api/engine/sources"
	"github.com/leadswipe/leadswipe-api/pkg/metrics"
)

type stubCatalog struct {
	cat sources.Catalog
	err error
}

func (s stubCatalog) Load() (sources.Catalog, error) { return s.cat, s.err }

type gatedProvider struct {
	gate chan struct{}
}

func (p *gatedProvider) Fetch(ctx context.Context, _ []domain.Source, _ int) ([]domain.RawItem, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []domain.RawItem{
		{ProviderID: "1", Text: "Nous voulons automatiser notre service à la clientèle", Author: "Julie"},
		{ProviderID: "2", Text: "Bonne fin de semaine à tous les membres du groupe!", Author: "Marc"},
	}, nil
}

type stubModel struct{}

func (stubModel) Complete(_ context.Context, _, user string) (string, error) {
	if strings.Contains(user, "automatiser") {
		return `{"is_opportunity": true, "opportunity_type": "automation", "confidence": 0.8, "category": "Support"}`, nil
	}
	return `{"is_opportunity": false}`, nil
}

type stubSender struct {
	mu    sync.Mutex
	calls int
}

func (s *stubSender) Send(context.Context, string, delivery.Notification) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return nil
}

type testServer struct {
	srv      *server
	handler  http.Handler
	provider *gatedProvider
}

func newTestServer(t *testing.T, cat stubCatalog, sender delivery.PushSender) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := &gatedProvider{}
	disp := delivery.NewDispatcher(nil, sender, nil, nil, logger)
	reg := metrics.New()
	ctl := pipeline.NewController(pipeline.Deps{
		Catalog:    cat,
		Provider:   provider,
		Classifier: classify.New(stubModel{}, nil, logger),
		Dispatcher: disp,
		Metrics:    metrics.NewService(reg),
		Logger:     logger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ctl.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	s := &server{
		ctl:        ctl,
		dispatcher: disp,
		metrics:    reg,
		logger:     logger,
		now:        func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) },
	}
	return &testServer{srv: s, handler: newHandler(s, "*"), provider: provider}
}

func catalog() stubCatalog {
	return stubCatalog{cat: sources.Catalog{
		Sources: []domain.Source{
			{ID: "group_1", Name: "Entrepreneurs QC", URL: "https://facebook.com/groups/1"},
			{ID: "group_2", Name: "PME Montréal", URL: "https://facebook.com/groups/2"},
		},
		PostsPerSource: 50,
	}}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func waitTerminal(t *testing.T, ts *testServer) session.Snapshot {
	t.Helper()
	sess := ts.srv.ctl.Current()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pipeline.Wait(ctx, sess); err != nil {
		t.Fatal(err)
	}
	return sess.Snapshot()
}

func TestRoot(t *testing.T) {
	ts := newTestServer(t, catalog(), nil)
	rec := ts.do(t, "GET", "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[rootResponse](t, rec)
	if body.Status != "healthy" || body.FirebaseEnabled || body.Endpoints["scrape"] != "POST /scrape" {
		t.Fatalf("body = %+v", body)
	}
	if rec := ts.do(t, "GET", "/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, catalog(), nil)
	body := decodeBody[map[string]string](t, ts.do(t, "GET", "/health", ""))
	if body["status"] != "ok" || body["timestamp"] != "2026-10-16T12:00:00Z" {
		t.Fatalf("body = %v", body)
	}
}

func TestGroups(t *testing.T) {
	ts := newTestServer(t, catalog(), nil)
	rec := ts.do(t, "GET", "/groups", "")
	body := decodeBody[groupsResponse](t, rec)
	if !body.Success || body.Total != 2 || body.Groups[1].ID != "group_2" || body.Groups[1].Name != "PME Montréal" {
		t.Fatalf("body = %+v", body)
	}
}

func TestGroupsConfigError(t *testing.T) {
	ts := newTestServer(t, stubCatalog{err: fmt.Errorf("%w: missing file", domain.ErrConfiguration)}, nil)
	rec := ts.do(t, "GET", "/groups", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody[errorResponse](t, rec); body.Success || !strings.Contains(body.Error, "configuration") {
		t.Fatalf("body = %+v", body)
	}
}

func TestScrapeAndStatus(t *testing.T) {
	ts := newTestServer(t, catalog(), nil)

	idle := decodeBody[session.Snapshot](t, ts.do(t, "GET", "/status", ""))
	if idle.State != session.StateIdle {
		t.Fatalf("initial state = %s", idle.State)
	}

	rec := ts.do(t, "POST", "/scrape", `{"group_ids": "all"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[ScrapeResponse](t, rec)
	if !resp.Success || resp.SessionID == "" || resp.StatusURL != "/status" {
		t.Fatalf("resp = %+v", resp)
	}

	waitTerminal(t, ts)
	snap := decodeBody[session.Snapshot](t, ts.do(t, "GET", "/status", ""))
	if snap.SessionID != resp.SessionID || snap.State != session.StateSucceeded || snap.Progress != 100 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Result == nil || snap.Result.TotalItems != 2 || snap.Result.OpportunitiesFound != 1 {
		t.Fatalf("result = %+v", snap.Result)
	}
	if len(snap.Sources) != 2 || len(snap.Logs) == 0 {
		t.Fatalf("sources %v, %d logs", snap.Sources, len(snap.Logs))
	}
}

func TestScrapeDefaultsToAllGroups(t *testing.T) {
	ts := newTestServer(t, catalog(), nil)
	if rec := ts.do(t, "POST", "/scrape", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	if snap := waitTerminal(t, ts); len(snap.Sources) != 2 {
		t.Fatalf("sources = %v", snap.Sources)
	}
}

func TestScrapeConflict(t *testing.T) {
	ts := newTestServer(t, catalog(), nil)
	ts.provider.gate = make(chan struct{})

	first := decodeBody[ScrapeResponse](t, ts.do(t, "POST", "/scrape", `{"group_ids": ["group_1"]}`))
	rec := ts.do(t, "POST", "/scrape", `{"group_ids": "all"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody[errorResponse](t, rec); body.SessionID != first.SessionID {
		t.Fatalf("conflict session = %q, want %q", body.SessionID, first.SessionID)
	}
	close(ts.provider.gate)
	waitTerminal(t, ts)
}

func TestScrapeBadRequests(t *testing.T) {
	ts := newTestServer(t, catalog(), nil)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown id", `{"group_ids": ["group_1", "group_7"]}`, "group_7"},
		{"empty list", `{"group_ids": []}`, "must not be empty"},
		{"bad string", `{"group_ids": "some"}`, "invalid request body"},
		{"not json", `group_ids=all`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, "POST", "/scrape", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Fatalf("body %s does not mention %q", rec.Body.String(), tt.want)
			}
		})
	}
	if snap := ts.srv.ctl.Snapshot(); snap.State != session.StateIdle {
		t.Fatalf("rejected requests started a run: %s", snap.State)
	}
}

func TestDeviceRegistry(t *testing.T) {
	ts := newTestServer(t, catalog(), nil)

	if rec := ts.do(t, "POST", "/register-device", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing token status = %d", rec.Code)
	}

	body := decodeBody[map[string]any](t, ts.do(t, "POST", "/register-device", `{"fcm_token": "tok-1", "device_name": "pixel"}`))
	if body["message"] != "Device registered" || body["total_devices"] != float64(1) {
		t.Fatalf("register = %v", body)
	}
	body = decodeBody[map[string]any](t, ts.do(t, "POST", "/register-device", `{"fcm_token": "tok-1"}`))
	if body["message"] != "Device already registered" || body["total_devices"] != float64(1) {
		t.Fatalf("re-register = %v", body)
	}

	body = decodeBody[map[string]any](t, ts.do(t, "POST", "/unregister-device", `{"fcm_token": "tok-1"}`))
	if body["message"] != "Device unregistered" || body["total_devices"] != float64(0) {
		t.Fatalf("unregister = %v", body)
	}
	body = decodeBody[map[string]any](t, ts.do(t, "POST", "/unregister-device", `{"fcm_token": "tok-1"}`))
	if body["message"] != "Device was not registered" {
		t.Fatalf("second unregister = %v", body)
	}
}

func TestTestNotification(t *testing.T) {
	disabled := newTestServer(t, catalog(), nil)
	if rec := disabled.do(t, "POST", "/test-notification", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("disabled status = %d", rec.Code)
	}

	sender := &stubSender{}
	ts := newTestServer(t, catalog(), sender)
	if rec := ts.do(t, "POST", "/test-notification", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("no devices status = %d", rec.Code)
	}

	ts.do(t, "POST", "/register-device", `{"fcm_token": "tok-1"}`)
	rec := ts.do(t, "POST", "/test-notification", `{"title": "Hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["success"] != true || body["sent"] != float64(1) || sender.calls != 1 {
		t.Fatalf("body = %v, calls %d", body, sender.calls)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, catalog(), nil)
	ts.do(t, "POST", "/scrape", "")
	waitTerminal(t, ts)

	rec := ts.do(t, "GET", "/metrics", "")
	for _, want := range []string{
		"leadswipe_items_scraped_total 2",
		"leadswipe_opportunities_total 1",
		`leadswipe_runs_total{state="succeeded"} 1`,
	} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, catalog(), nil)
	rec := ts.do(t, http.MethodOptions, "/scrape", "")
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("status %d, headers %v", rec.Code, rec.Header())
	}
}

func TestScheduledRunSkipsWhileBusy(t *testing.T) {
	ts := newTestServer(t, catalog(), nil)
	ts.provider.gate = make(chan struct{})
	ts.do(t, "POST", "/scrape", "")

	err := scheduledRun(ts.srv.ctl)(context.Background())
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v", err)
	}
	close(ts.provider.gate)
	waitTerminal(t, ts)
}
