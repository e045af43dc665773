package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/leadswipe/leadswipe-api/engine/cost"
	"github.com/leadswipe/leadswipe-api/engine/dates"
	"github.com/leadswipe/leadswipe-api/engine/delivery"
	"github.com/leadswipe/leadswipe-api/engine/domain"
	"github.com/leadswipe/leadswipe-api/engine/keywords"
	"github.com/leadswipe/leadswipe-api/engine/scraper"
	"github.com/leadswipe/leadswipe-api/engine/session"
	"github.com/leadswipe/leadswipe-api/pkg/fn"
)

const (
	// staleAfterDays flags opportunities older than this in the run log.
	staleAfterDays = 14
	// previewCount is how many opportunities the run log lists.
	previewCount = 3
	// previewAuthorLen bounds author names in the preview.
	previewAuthorLen = 20
)

var errNoItems = errors.New("provider returned no items")

// run executes the stages of one run in order. Only configuration and
// provider failures are returned; everything after the fetch degrades.
func (c *Controller) run(ctx context.Context, j job) (domain.RunResult, error) {
	s := j.sess
	srcNames := names(j.sources)

	s.Advance(2, "Loading configuration")
	if len(j.sources) == 0 {
		return domain.RunResult{}, domain.NewStageError("config", domain.ErrConfiguration, errors.New("no groups selected"))
	}
	s.Logf("Starting scrape of %d groups", len(j.sources))
	for _, src := range j.sources {
		s.Logf("  - %s", src.Name)
	}
	s.Advance(5, "")

	s.Advance(8, "Connecting to scraping provider")
	s.Logf("Requesting up to %d posts per group", j.perSource)
	s.Advance(10, "")

	s.Advance(35, "Scraping groups")
	raw, err := fn.Run(ctx, "run.fetch", func(ctx context.Context) ([]domain.RawItem, error) {
		return c.deps.Provider.Fetch(ctx, j.sources, j.perSource)
	}, attribute.Int("run.groups", len(j.sources))).Unwrap()
	if err != nil {
		return domain.RunResult{}, domain.NewStageError("fetch", domain.ErrProvider, err)
	}
	if len(raw) == 0 {
		return domain.RunResult{}, domain.NewStageError("fetch", domain.ErrProvider, errNoItems)
	}
	c.deps.Metrics.ItemsScraped.Add(int64(len(raw)))
	runCost := cost.Estimate(len(raw))
	s.Advance(60, "Scrape complete")
	s.Logf("Scraped %d items (estimated cost $%.4f)", len(raw), runCost)

	s.Advance(62, "Transforming posts")
	posts := scraper.Transform(raw, c.deps.Now())
	s.Logf("Kept %d posts with text, dropped %d", len(posts), len(raw)-len(posts))
	s.Advance(65, "")

	s.Advance(68, "Matching keywords")
	matched := 0
	for i := range posts {
		posts[i].MatchedKeywords = keywords.FindMatches(posts[i].Text, c.deps.Keywords)
		if len(posts[i].MatchedKeywords) > 0 {
			matched++
		}
	}
	s.Logf("%d posts matched keywords", matched)

	s.Advance(70, "Classifying posts")
	s.Logf("Classifying %d posts", len(posts))
	s.Advance(75, "")
	verdicts := c.deps.Classifier.ClassifyAll(ctx, posts, c.deps.Workers)
	for i := range posts {
		posts[i].Analysis = &verdicts[i]
	}
	opps := fn.Filter(posts, domain.Post.IsOpportunity)
	c.deps.Metrics.Opportunities.Add(int64(len(opps)))
	s.Advance(85, "Classification complete")
	s.Logf("Found %d opportunities among %d posts", len(opps), len(posts))
	c.preview(s, opps)
	s.Advance(88, "")

	s.Advance(90, "Delivering opportunities")
	batch := delivery.BuildBatch(s.ID(), srcNames, s.StartedAt(), opps, runCost)
	s.Advance(92, "")
	res := domain.RunResult{
		SessionID:          s.ID(),
		TotalItems:         len(posts),
		OpportunitiesFound: len(opps),
		SourcesScraped:     srcNames,
		Cost:               runCost,
	}
	out := c.deps.Dispatcher.Deliver(ctx, batch)
	switch {
	case !out.Attempted:
		s.Logf("Delivery skipped")
	case out.Err != nil:
		c.deps.Metrics.DeliveryFailures.Inc()
		res.DeliveryError = out.Err.Error()
		s.Logf("Delivery failed: %v", out.Err)
	default:
		res.Delivered = true
		s.Logf("Delivered %d opportunities (remote session %s)", len(opps), out.Ack.SessionID)
	}
	s.Advance(98, "Sending notifications")

	note := c.deps.Dispatcher.Notify(ctx, delivery.CompletionNotification(s.ID(), len(opps)))
	res.NotificationsSent = note.Sent
	c.deps.Metrics.PushSent.Add(int64(note.Sent))
	if note.Enabled {
		s.Logf("Notified %d devices (%d failed, %d pruned)", note.Sent, note.Failed, note.Pruned)
	} else {
		s.Logf("Push notifications disabled")
	}

	res.CompletedAt = c.deps.Now()
	s.Logf("Run complete: %d opportunities from %d posts", len(opps), len(posts))
	return res, nil
}

// preview logs the first opportunities and flags stale ones.
func (c *Controller) preview(s *session.Session, opps []domain.Post) {
	now := c.deps.Now()
	for i, p := range opps {
		if days, ok := dates.AgeDays(p.TimestampText, now); ok && days > staleAfterDays {
			s.Logf("Opportunity from %s is %s old", clip(p.Author, previewAuthorLen), dates.FormatAge(days))
		}
		if i < previewCount {
			s.Logf("#%d [%s] %s", i+1, p.Analysis.Category, clip(p.Author, previewAuthorLen))
		}
	}
	if len(opps) > previewCount {
		s.Logf("... and %d more", len(opps)-previewCount)
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Wait blocks until s finishes or ctx is done.
func Wait(ctx context.Context, s *session.Session) error {
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for session %s: %w", s.ID(), ctx.Err())
	}
}
