package metrics

import "time"

// Service bundles the metrics recorded by scraping runs.
type Service struct {
	reg *Registry

	ItemsScraped     *Counter
	Opportunities    *Counter
	DeliveryFailures *Counter
	PushSent         *Counter
	InProgress       *Gauge
	ClassifyDuration *Histogram
}

// NewService registers the run metrics on reg.
func NewService(reg *Registry) *Service {
	return &Service{
		reg:              reg,
		ItemsScraped:     reg.Counter("leadswipe_items_scraped_total", "Raw items returned by the scraping provider."),
		Opportunities:    reg.Counter("leadswipe_opportunities_total", "Posts classified as opportunities."),
		DeliveryFailures: reg.Counter("leadswipe_delivery_failures_total", "Failed ingestion webhook deliveries."),
		PushSent:         reg.Counter("leadswipe_push_sent_total", "Push notifications accepted by the push service."),
		InProgress:       reg.Gauge("leadswipe_run_in_progress", "1 while a run is executing."),
		ClassifyDuration: reg.Histogram("leadswipe_classify_duration_seconds", "Latency of one classification call.", nil),
	}
}

// RunFinished counts a terminal run under its state label.
func (s *Service) RunFinished(state string) {
	s.reg.Counter(WithLabels("leadswipe_runs_total", "state", state), "Runs by terminal state.").Inc()
}

// ObserveClassify records one classification latency.
func (s *Service) ObserveClassify(d time.Duration) { s.ClassifyDuration.ObserveDuration(d) }
