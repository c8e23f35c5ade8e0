package pipeline

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"riskgraph/internal/anomaly"
	"riskgraph/internal/correlate"
	"riskgraph/internal/features"
	"riskgraph/internal/ingest"
	"riskgraph/internal/ingest/redisqueue"
	"riskgraph/internal/logger"
	"riskgraph/internal/metrics"
	"riskgraph/internal/playbook"
	"riskgraph/internal/risk"
	"riskgraph/internal/rules"
	"riskgraph/internal/store"
	"riskgraph/internal/ueba"
	"riskgraph/pkg/models"
)

// Config controls pipeline concurrency and batching.
type Config struct {
	Workers       int
	QueueSize     int
	FlushInterval time.Duration
}

// Options carries the pipeline's collaborators. Consumer and Writer are
// optional.
type Options struct {
	Buffer     *ingest.Buffer
	Consumer   *redisqueue.Consumer
	Rules      rules.Engine
	Features   *features.Aggregator
	Anomaly    *anomaly.Scorer
	UEBA       *ueba.Tracker
	Correlator *correlate.Engine
	Risk       *risk.Scorer
	Selector   *playbook.Selector
	Store      *store.Memory
	Writer     IncidentWriter
}

type entityResult struct {
	event     *models.Event
	anomaly   models.AnomalySignal
	deviation models.UEBADeviation
}

// Pipeline runs the scoring flow: accepted events are sharded by entity
// hash onto workers that compute features, anomaly scores, and baseline
// deviations; a single correlation goroutine groups events into
// incidents, scores them, assigns playbooks, and hands finalized
// incidents to the sink. All channels are bounded, so a slow stage
// backpressures ingestion instead of dropping events.
type Pipeline struct {
	cfg  Config
	opts Options

	shards  []chan *models.Event
	results chan entityResult

	mu    sync.Mutex
	state corrState

	stopOnce sync.Once
	stopped  chan struct{}
}

// corrState is the correlation stage's accumulated view. It is only
// touched under the pipeline mutex.
type corrState struct {
	pending    []*models.Event
	anomalies  map[string]models.AnomalySignal
	deviations map[string]models.UEBADeviation
	// emitted maps a deterministic incident ID to the event count it was
	// finalized with, so an unchanged regrouping is not re-emitted.
	emitted map[string]int
}

// New creates a pipeline.
func New(cfg Config, opts Options) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}

	p := &Pipeline{
		cfg:     cfg,
		opts:    opts,
		results: make(chan entityResult, cfg.QueueSize),
		stopped: make(chan struct{}),
		state: corrState{
			anomalies:  make(map[string]models.AnomalySignal),
			deviations: make(map[string]models.UEBADeviation),
			emitted:    make(map[string]int),
		},
	}
	p.shards = make([]chan *models.Event, cfg.Workers)
	for i := range p.shards {
		p.shards[i] = make(chan *models.Event, cfg.QueueSize)
	}
	return p
}

// Run starts the pipeline loops and blocks until the context ends.
func (p *Pipeline) Run(ctx context.Context) error {
	logger.Infof("pipeline started: %d shard workers, queue size %d", p.cfg.Workers, p.cfg.QueueSize)

	var wg sync.WaitGroup

	for i := range p.shards {
		shard := p.shards[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-shard:
					res := p.scoreEvent(ev)
					select {
					case p.results <- res:
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.correlationLoop(ctx)
	}()

	if p.opts.Consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.consumeLoop(ctx)
		}()
	}

	// Shard channels are never closed: submitters may still be sending
	// when the context ends, and a close would panic them. Workers exit
	// on the context and pending sends abort on the stopped channel.
	<-ctx.Done()
	p.stopOnce.Do(func() { close(p.stopped) })
	wg.Wait()
	return ctx.Err()
}

// Close releases the pipeline's sink and input resources.
func (p *Pipeline) Close() error {
	if p.opts.Writer != nil {
		if err := p.opts.Writer.Close(); err != nil {
			logger.Errorf("failed to close incident writer: %v", err)
		}
	}
	if p.opts.Consumer != nil {
		return p.opts.Consumer.Close()
	}
	return nil
}

// Submit ingests a batch of records and queues accepted events for
// scoring. Rejections report per-record admission failures; accepted
// events from the same batch still proceed.
func (p *Pipeline) Submit(records []models.Record) []models.Rejection {
	timer := prometheus.NewTimer(metrics.StageDuration.WithLabelValues("ingest"))
	events, rejections := p.opts.Buffer.Ingest(records)
	timer.ObserveDuration()

	for _, ev := range events {
		p.enqueue(ev)
	}
	return rejections
}

func (p *Pipeline) enqueue(ev *models.Event) {
	if p.opts.Rules != nil {
		ev.RuleTags = p.opts.Rules.Apply(ev)
	}
	p.opts.Correlator.Observe(ev)

	select {
	case p.shards[shardFor(ev.EntityID, len(p.shards))] <- ev:
	case <-p.stopped:
	}
}

// ProcessSync runs a batch through the full flow inline: ingest, score,
// correlate, assign, persist. It shares correlation state with the
// running pipeline and is the path for callers that need incidents
// before replying.
func (p *Pipeline) ProcessSync(ctx context.Context, records []models.Record) ([]*models.Incident, []models.Rejection) {
	events, rejections := p.opts.Buffer.Ingest(records)

	for _, ev := range events {
		if p.opts.Rules != nil {
			ev.RuleTags = p.opts.Rules.Apply(ev)
		}
		p.opts.Correlator.Observe(ev)
		res := p.scoreEvent(ev)
		p.mu.Lock()
		p.state.absorb(res)
		p.mu.Unlock()
	}

	incidents := p.Flush(ctx)
	return incidents, rejections
}

// Flush correlates all pending events now and returns the finalized
// incidents.
func (p *Pipeline) Flush(ctx context.Context) []*models.Incident {
	p.mu.Lock()
	incidents := p.flushLocked(ctx)
	p.mu.Unlock()

	p.write(ctx, incidents)
	return incidents
}

// scoreEvent computes the per-entity analytics for one event: feature
// vector over the trailing window, anomaly score against the baseline
// snapshot, then the baseline deviation with score-then-update ordering.
func (p *Pipeline) scoreEvent(ev *models.Event) entityResult {
	timer := prometheus.NewTimer(metrics.StageDuration.WithLabelValues("entity_scoring"))
	defer timer.ObserveDuration()

	window := p.opts.Features.Window()
	history := p.opts.Buffer.Snapshot(ev.EntityID, ev.Timestamp.Add(-window), ev.Timestamp)
	fv := p.opts.Features.Aggregate(ev.EntityID, ev.Timestamp, history)

	baseline := p.opts.UEBA.BaselineFor(ev.EntityID)
	a := p.opts.Anomaly.Score(fv, baseline)
	d := p.opts.UEBA.EvaluateAndObserve(fv)

	return entityResult{event: ev, anomaly: a, deviation: d}
}

func (p *Pipeline) correlationLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		p.mu.Lock()
		incidents := p.flushLocked(ctx)
		p.mu.Unlock()
		p.write(ctx, incidents)
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		case res := <-p.results:
			p.mu.Lock()
			p.state.absorb(res)
			p.mu.Unlock()
		}
	}
}

// flushLocked correlates pending events into incidents and runs each new
// or grown group through scoring, playbook assignment, and the store.
// Groups whose event set has not changed since finalization are skipped;
// grown groups of a finalized incident become linked follow-up incidents.
func (p *Pipeline) flushLocked(ctx context.Context) []*models.Incident {
	if len(p.state.pending) == 0 {
		return nil
	}

	timer := prometheus.NewTimer(metrics.StageDuration.WithLabelValues("correlate"))
	groups := p.opts.Correlator.Correlate(p.state.pending)
	timer.ObserveDuration()

	out := make([]*models.Incident, 0, len(groups))
	for _, in := range groups {
		origID := in.IncidentID
		if n, ok := p.state.emitted[origID]; ok && len(in.Events) <= n {
			continue
		}

		p.attachSignals(in)
		p.opts.Risk.Score(in)

		// A finalized incident never mutates: new related events open a
		// linked follow-up instead.
		for {
			prev, ok := p.opts.Store.Get(in.IncidentID)
			if !ok || prev.Status != models.StatusFinalized {
				break
			}
			in.LinkedTo = in.IncidentID
			in.IncidentID = correlate.SuccessorID(in.IncidentID)
		}

		if err := p.opts.Selector.Assign(ctx, in); err != nil {
			logger.Errorf("playbook assignment for incident %s: %v", in.IncidentID, err)
			continue
		}

		// Correlate rebuilds the same groups every flush; an incident
		// counts as opened only the first time it is persisted.
		if _, exists := p.opts.Store.Get(in.IncidentID); !exists {
			metrics.IncidentsOpened.Inc()
		}
		p.opts.Store.Upsert(in)
		p.state.emitted[origID] = len(in.Events)
		out = append(out, in)
	}

	p.state.prune(p.opts.Correlator.Window())
	return out
}

// attachSignals copies the latest per-entity analytics onto the incident.
func (p *Pipeline) attachSignals(in *models.Incident) {
	for _, entityID := range in.EntityIDs {
		if a, ok := p.state.anomalies[entityID]; ok {
			in.AnomalySignals = append(in.AnomalySignals, a)
		}
		if d, ok := p.state.deviations[entityID]; ok {
			in.UEBADeviations = append(in.UEBADeviations, d)
		}
	}
}

func (p *Pipeline) write(ctx context.Context, incidents []*models.Incident) {
	if p.opts.Writer == nil || len(incidents) == 0 {
		return
	}
	timer := prometheus.NewTimer(metrics.StageDuration.WithLabelValues("sink"))
	defer timer.ObserveDuration()

	if err := p.opts.Writer.WriteIncidents(incidents); err != nil {
		if ctx.Err() == nil {
			logger.Errorf("failed to write %d incidents: %v", len(incidents), err)
		}
	}
}

func (p *Pipeline) consumeLoop(ctx context.Context) {
	for {
		records, err := p.opts.Consumer.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("failed to pop queue message: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if len(records) == 0 {
			continue
		}
		p.Submit(records)
	}
}

func (s *corrState) absorb(res entityResult) {
	s.pending = append(s.pending, res.event)
	s.anomalies[res.event.EntityID] = res.anomaly
	s.deviations[res.event.EntityID] = res.deviation
}

// prune drops pending events that can no longer link to anything new.
// An event stays eligible for one correlation window past the newest
// pending timestamp.
func (s *corrState) prune(window time.Duration) {
	if len(s.pending) == 0 {
		return
	}
	var newest time.Time
	for _, ev := range s.pending {
		if ev.Timestamp.After(newest) {
			newest = ev.Timestamp
		}
	}
	cutoff := newest.Add(-window)

	kept := s.pending[:0]
	for _, ev := range s.pending {
		if !ev.Timestamp.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	s.pending = kept
}

func shardFor(entityID string, shards int) int {
	h := fnv.New32a()
	h.Write([]byte(entityID))
	return int(h.Sum32() % uint32(shards))
}
