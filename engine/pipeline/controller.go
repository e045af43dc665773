// Package pipeline owns the run lifecycle: it resolves the requested
// sources, enforces single-flight, and executes fetch, transform, keyword,
// classify, deliver and notify stages on one background worker.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadswipe/leadswipe-api/engine/classify"
	"github.com/leadswipe/leadswipe-api/engine/delivery"
	"github.com/leadswipe/leadswipe-api/engine/domain"
	"github.com/leadswipe/leadswipe-api/engine/keywords"
	"github.com/leadswipe/leadswipe-api/engine/scraper"
	"github.com/leadswipe/leadswipe-api/engine/session"
	"github.com/leadswipe/leadswipe-api/engine/sources"
	"github.com/leadswipe/leadswipe-api/pkg/fn"
	"github.com/leadswipe/leadswipe-api/pkg/metrics"
)

// DefaultWorkers bounds concurrent classification calls.
const DefaultWorkers = 4

// Deps holds the collaborators of a run.
type Deps struct {
	Catalog    sources.Loader
	Provider   scraper.Provider
	Classifier *classify.Classifier
	Dispatcher *delivery.Dispatcher
	Metrics    *metrics.Service
	Logger     *slog.Logger

	Keywords []string
	Workers  int

	Now   func() time.Time
	NewID func() string
}

type job struct {
	sess      *session.Session
	sources   []domain.Source
	perSource int
}

// Controller starts runs and reports on the current one.
type Controller struct {
	deps Deps
	jobs chan job

	mu      sync.Mutex
	current *session.Session
}

// NewController fills in defaults for unset Deps fields.
func NewController(deps Deps) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "pipeline")
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewService(metrics.New())
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = delivery.NewDispatcher(nil, nil, nil, nil, deps.Logger)
	}
	if deps.Keywords == nil {
		deps.Keywords = keywords.DefaultKeywords
	}
	if deps.Workers <= 0 {
		deps.Workers = DefaultWorkers
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	return &Controller{deps: deps, jobs: make(chan job, 1)}
}

// Groups returns the configured sources.
func (c *Controller) Groups() ([]domain.Source, error) {
	cat, err := c.deps.Catalog.Load()
	if err != nil {
		return nil, err
	}
	return cat.Sources, nil
}

// Start validates sel and queues a new run. It returns a *domain.ConflictError
// while another run is in progress, a *domain.UnknownSourceError for ids
// missing from the catalog, and an error wrapping domain.ErrConfiguration
// when the catalog cannot be loaded. The run itself executes on Run's worker.
func (c *Controller) Start(ctx context.Context, sel sources.Selection) (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.State() == session.StateRunning {
		return nil, &domain.ConflictError{SessionID: c.current.ID()}
	}

	cat, err := c.deps.Catalog.Load()
	if err != nil {
		return nil, err
	}
	selected, err := cat.Select(sel.IDList())
	if err != nil {
		return nil, err
	}

	sess := session.New(c.deps.NewID(), c.deps.Logger,
		session.WithClock(c.deps.Now),
		session.WithSources(selected),
	)
	select {
	case c.jobs <- job{sess: sess, sources: selected, perSource: cat.PostsPerSource}:
	default:
		// The previous job is still waiting for the worker.
		id := ""
		if c.current != nil {
			id = c.current.ID()
		}
		return nil, &domain.ConflictError{SessionID: id}
	}
	c.current = sess
	c.deps.Logger.InfoContext(ctx, "run queued", "session_id", sess.ID(), "groups", len(selected))
	return sess, nil
}

// Current returns the most recent session, or nil before the first run.
func (c *Controller) Current() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Snapshot reports the most recent session, or an idle snapshot.
func (c *Controller) Snapshot() session.Snapshot {
	if s := c.Current(); s != nil {
		return s.Snapshot()
	}
	return session.IdleSnapshot()
}

// Run is the worker loop. It executes queued runs one at a time until ctx
// is done. A run in flight when ctx ends observes the cancellation through
// its stage contexts.
func (c *Controller) Run(ctx context.Context) error {
	c.deps.Logger.Info("run worker started")
	for {
		select {
		case <-ctx.Done():
			c.deps.Logger.Info("run worker stopped")
			return nil
		case j := <-c.jobs:
			c.execute(ctx, j)
		}
	}
}

func (c *Controller) execute(ctx context.Context, j job) {
	m := c.deps.Metrics
	m.InProgress.Set(1)
	defer m.InProgress.Set(0)

	defer func() {
		if r := recover(); r != nil {
			j.sess.Fail(fmt.Errorf("internal error: %v", r))
			m.RunFinished(string(session.StateFailed))
		}
	}()

	res, err := c.run(ctx, j)
	ev := delivery.RunEvent{
		SessionID: j.sess.ID(),
		Sources:   names(j.sources),
		At:        c.deps.Now(),
	}
	if err != nil {
		ev.State, ev.Error = string(session.StateFailed), err.Error()
	} else {
		ev.State = string(session.StateSucceeded)
		ev.TotalItems, ev.Opportunities, ev.Cost = res.TotalItems, res.OpportunitiesFound, res.Cost
	}
	// Publish before the terminal transition; Done waiters see the event.
	c.deps.Dispatcher.Publish(ctx, ev)

	if err != nil {
		j.sess.Fail(err)
	} else {
		j.sess.Succeed(res)
	}
	m.RunFinished(ev.State)
}

func names(srcs []domain.Source) []string {
	return fn.Map(srcs, func(s domain.Source) string { return s.Name })
}
