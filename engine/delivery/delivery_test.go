package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/leadswipe/leadswipe-api/engine/domain"
)

var started = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func opportunity(id string) domain.Post {
	return domain.Post{
		ID:   id,
		Text: "Je cherche un vidéaste",
		Analysis: &domain.ClassificationResult{
			IsOpportunity: true,
			Type:          domain.OpportunityHiring,
			Confidence:    0.9,
		},
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		sources []string
		want    string
	}{
		{[]string{"Entrepreneurs du Québec et d'ailleurs"}, "Entrepreneurs du Qué - 16 Oct"},
		{[]string{"PME Laval"}, "PME Laval - 16 Oct"},
		{[]string{"A", "B", "C"}, "Scrape 3 groups - 16 Oct"},
		{nil, "Scrape 0 groups - 16 Oct"},
	}
	for _, tt := range tests {
		if got := Title(tt.sources, started); got != tt.want {
			t.Errorf("Title(%v) = %q, want %q", tt.sources, got, tt.want)
		}
	}
}

func TestBuildBatchDeterministic(t *testing.T) {
	opps := []domain.Post{opportunity("a"), opportunity("b")}
	b1 := BuildBatch("run-1", []string{"A", "B"}, started, opps, 0.055)
	b2 := BuildBatch("run-1", []string{"A", "B"}, started, opps, 0.055)
	j1, _ := json.Marshal(b1)
	j2, _ := json.Marshal(b2)
	if string(j1) != string(j2) {
		t.Fatal("batch payload is not deterministic")
	}
	var m map[string]any
	json.Unmarshal(j1, &m)
	for _, key := range []string{"session_title", "groups_scraped", "started_at", "opportunities", "cost"} {
		if _, ok := m[key]; !ok {
			t.Errorf("payload missing %q", key)
		}
	}
}

func TestWebhookIngest(t *testing.T) {
	var gotKey string
	var got Batch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":"2 opportunities ingested","session_id":"remote-42"}`))
	}))
	defer srv.Close()

	b := BuildBatch("run-1", []string{"A"}, started, []domain.Post{opportunity("a"), opportunity("b")}, 0.01)
	ack, err := NewWebhook(srv.URL, nil).Ingest(context.Background(), b)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if ack.SessionID != "remote-42" {
		t.Fatalf("ack = %+v", ack)
	}
	if gotKey != "run-1" {
		t.Fatalf("Idempotency-Key = %q", gotKey)
	}
	if len(got.Opportunities) != 2 || got.SessionTitle != "A - 16 Oct" || got.Cost != 0.01 {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestWebhookNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := BuildBatch("run-1", []string{"A"}, started, []domain.Post{opportunity("a")}, 0.01)
	if _, err := NewWebhook(srv.URL, nil).Ingest(context.Background(), b); err == nil {
		t.Fatal("expected error")
	}
}

type fakeSink struct {
	batches []Batch
	err     error
}

func (f *fakeSink) Ingest(_ context.Context, b Batch) (Ack, error) {
	f.batches = append(f.batches, b)
	return Ack{SessionID: "remote"}, f.err
}

func TestDeliver(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(sink, nil, nil, nil, nil)

	out := d.Deliver(context.Background(), BuildBatch("r", nil, started, nil, 0))
	if out.Attempted || len(sink.batches) != 0 {
		t.Fatal("empty batch must not be sent")
	}

	out = d.Deliver(context.Background(), BuildBatch("r", []string{"A"}, started, []domain.Post{opportunity("a")}, 0))
	if !out.Delivered || out.Ack.SessionID != "remote" {
		t.Fatalf("outcome = %+v", out)
	}

	sink.err = errors.New("connection refused")
	out = d.Deliver(context.Background(), BuildBatch("r", []string{"A"}, started, []domain.Post{opportunity("a")}, 0))
	if out.Delivered || !out.Attempted || !errors.Is(out.Err, domain.ErrDelivery) {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestDeliverWithoutSink(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil, nil)
	out := d.Deliver(context.Background(), BuildBatch("r", []string{"A"}, started, []domain.Post{opportunity("a")}, 0))
	if out.Attempted || out.Delivered {
		t.Fatalf("outcome = %+v", out)
	}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	errs map[string]error
}

func (f *fakeSender) Send(_ context.Context, token string, _ Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[token]; err != nil {
		return err
	}
	f.sent = append(f.sent, token)
	return nil
}

func TestNotifyPrunesInvalidTokens(t *testing.T) {
	reg := NewRegistry()
	for _, tok := range []string{"good-1", "stale", "good-2", "flaky"} {
		reg.Add(tok)
	}
	sender := &fakeSender{errs: map[string]error{
		"stale": fmt.Errorf("%w: unregistered", ErrInvalidToken),
		"flaky": errors.New("503 from push service"),
	}}
	d := NewDispatcher(nil, sender, nil, reg, nil)

	out := d.Notify(context.Background(), CompletionNotification("s1", 2))
	want := NotifyOutcome{Enabled: true, Sent: 2, Failed: 2, Pruned: 1}
	if out != want {
		t.Fatalf("outcome = %+v, want %+v", out, want)
	}
	if got := reg.Tokens(); !reflect.DeepEqual(got, []string{"good-1", "good-2", "flaky"}) {
		t.Fatalf("tokens = %v", got)
	}
	sort.Strings(sender.sent)
	if !reflect.DeepEqual(sender.sent, []string{"good-1", "good-2"}) {
		t.Fatalf("sent = %v", sender.sent)
	}
}

func TestNotifyDisabled(t *testing.T) {
	reg := NewRegistry()
	reg.Add("tok")
	d := NewDispatcher(nil, nil, nil, reg, nil)
	if out := d.Notify(context.Background(), TestNotification("", "")); out.Enabled || out.Sent != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if d.PushEnabled() {
		t.Fatal("push should be disabled")
	}
}

type fakeEvents struct {
	got []RunEvent
	err error
}

func (f *fakeEvents) PublishRun(_ context.Context, ev RunEvent) error {
	f.got = append(f.got, ev)
	return f.err
}

func TestPublish(t *testing.T) {
	ev := &fakeEvents{err: errors.New("no responders")}
	d := NewDispatcher(nil, nil, ev, nil, nil)
	d.Publish(context.Background(), RunEvent{SessionID: "s1", State: "succeeded"})
	if len(ev.got) != 1 || ev.got[0].SessionID != "s1" {
		t.Fatalf("events = %+v", ev.got)
	}
	NewDispatcher(nil, nil, nil, nil, nil).Publish(context.Background(), RunEvent{})
}

func TestCompletionNotification(t *testing.T) {
	tests := []struct {
		n    int
		body string
	}{
		{0, "No new opportunities this time"},
		{1, "1 new opportunity found"},
		{3, "3 new opportunities found"},
	}
	for _, tt := range tests {
		n := CompletionNotification("s1", tt.n)
		if n.Body != tt.body {
			t.Errorf("body(%d) = %q, want %q", tt.n, n.Body, tt.body)
		}
		if n.Data["type"] != "scrape_complete" || n.Data["session_id"] != "s1" || n.Data["opportunities_count"] != fmt.Sprint(tt.n) {
			t.Errorf("data(%d) = %v", tt.n, n.Data)
		}
	}
}

func TestTestNotificationDefaults(t *testing.T) {
	n := TestNotification("", "")
	if n.Title != "LeadSwipe test" || n.Body != "This is a test notification!" {
		t.Fatalf("got %+v", n)
	}
	n = TestNotification("Hi", "there")
	if n.Title != "Hi" || n.Body != "there" {
		t.Fatalf("got %+v", n)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if !r.Add("a") || !r.Add("b") || !r.Add("c") {
		t.Fatal("first adds should be new")
	}
	if r.Add("b") {
		t.Fatal("duplicate add should report false")
	}
	if !r.Remove("a") || r.Remove("a") {
		t.Fatal("remove semantics wrong")
	}
	if !r.Remove("c") {
		t.Fatal("remove c")
	}
	if got := r.Tokens(); !reflect.DeepEqual(got, []string{"b"}) || r.Len() != 1 {
		t.Fatalf("tokens = %v", got)
	}
	r.Add("d")
	if !r.Remove("b") || !reflect.DeepEqual(r.Tokens(), []string{"d"}) {
		t.Fatalf("index not maintained: %v", r.Tokens())
	}
}
