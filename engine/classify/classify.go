// Package classify asks a language model whether a post is a business
// opportunity and normalizes whatever comes back into a ClassificationResult.
//
// Classification never fails a run: short posts are answered locally, and
// transport errors or malformed replies degrade to a non-opportunity.
package classify

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/leadswipe/leadswipe-api/engine/domain"
	"github.com/leadswipe/leadswipe-api/pkg/fn"
	"github.com/leadswipe/leadswipe-api/pkg/resilience"
)

// Completer sends one system + user exchange to a chat model and returns the
// raw text of the reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Classifier classifies posts through a Completer.
type Classifier struct {
	llm     Completer
	limiter *resilience.Limiter
	logger  *slog.Logger

	// Observe, if set, receives the duration of every model call.
	Observe func(time.Duration)
}

// New creates a Classifier. limiter may be nil.
func New(llm Completer, limiter *resilience.Limiter, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{llm: llm, limiter: limiter, logger: logger.With("component", "classify")}
}

// Classify returns the verdict for one post.
func (c *Classifier) Classify(ctx context.Context, p domain.Post) domain.ClassificationResult {
	return c.stage()(ctx, p).UnwrapOrElse(func(err error) domain.ClassificationResult {
		c.logger.Warn("classification call failed", "post_id", p.ID, "err", err)
		return Failed(err)
	})
}

// ClassifyAll classifies posts with at most workers concurrent model calls.
// out[i] is the verdict for posts[i].
func (c *Classifier) ClassifyAll(ctx context.Context, posts []domain.Post, workers int) []domain.ClassificationResult {
	return fn.ParMap(ctx, posts, workers, c.Classify)
}

func (c *Classifier) stage() fn.Stage[domain.Post, domain.ClassificationResult] {
	call := resilience.LimiterStageWait[domain.Post, domain.ClassificationResult](c.limiter, func(ctx context.Context, p domain.Post) fn.Result[domain.ClassificationResult] {
		start := time.Now()
		raw, err := c.llm.Complete(ctx, SystemPrompt, UserPrompt(p))
		if c.Observe != nil {
			c.Observe(time.Since(start))
		}
		if err != nil {
			return fn.Err[domain.ClassificationResult](err)
		}
		res, err := parse(raw)
		if err != nil {
			c.logger.Warn("unparseable classifier reply", "post_id", p.ID, "err", err)
		}
		return fn.Ok(res)
	})
	return func(ctx context.Context, p domain.Post) fn.Result[domain.ClassificationResult] {
		if TooShort(p.Text) {
			return fn.Ok(Insufficient())
		}
		return fn.TracedStage("classify.post", call, attribute.String("post.id", p.ID))(ctx, p)
	}
}
