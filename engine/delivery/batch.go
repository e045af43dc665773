// Package delivery hands a finished run to the outside world: the batch of
// opportunities goes to the ingestion webhook, registered devices get a push
// notification, and a run event is published on NATS. Every side effect is
// best-effort; failures are reported in outcomes, never returned as errors
// that could fail the run.
package delivery

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/leadswipe/leadswipe-api/engine/domain"
)

// maxTitleSource bounds how much of a source name goes into a batch title.
const maxTitleSource = 20

// Batch is the payload posted to the ingestion webhook.
type Batch struct {
	RunID         string        `json:"run_id"`
	SessionTitle  string        `json:"session_title"`
	GroupsScraped []string      `json:"groups_scraped"`
	StartedAt     time.Time     `json:"started_at"`
	Opportunities []domain.Post `json:"opportunities"`
	Cost          float64       `json:"cost"`
}

// BuildBatch assembles the payload for a run. It depends only on its
// arguments, so rebuilding it for the same run yields the same payload.
func BuildBatch(runID string, sources []string, startedAt time.Time, opportunities []domain.Post, cost float64) Batch {
	if sources == nil {
		sources = []string{}
	}
	if opportunities == nil {
		opportunities = []domain.Post{}
	}
	return Batch{
		RunID:         runID,
		SessionTitle:  Title(sources, startedAt),
		GroupsScraped: sources,
		StartedAt:     startedAt,
		Opportunities: opportunities,
		Cost:          cost,
	}
}

// Title names a batch after its single source, or after the source count.
func Title(sources []string, startedAt time.Time) string {
	day := startedAt.Format("02 Jan")
	if len(sources) == 1 {
		name := sources[0]
		if utf8.RuneCountInString(name) > maxTitleSource {
			name = string([]rune(name)[:maxTitleSource])
		}
		return fmt.Sprintf("%s - %s", name, day)
	}
	return fmt.Sprintf("Scrape %d groups - %s", len(sources), day)
}
