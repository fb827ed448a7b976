package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"fleetwatch/internal/correlate"
	"fleetwatch/internal/enrich"
	"fleetwatch/internal/incident"
	"fleetwatch/internal/ingest"
	inputredis "fleetwatch/internal/input/redis"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/rules"
	"fleetwatch/internal/scoring"
	"fleetwatch/internal/suppress"
	"fleetwatch/internal/window"
	"fleetwatch/pkg/models"
)

// IncidentWriter is the outbound sink contract.
type IncidentWriter interface {
	WriteIncidents(incidents []models.Incident) error
	Close() error
}

// Pipeline wires the correlation core: consume, score, window, correlate,
// suppress, build, publish.
type Pipeline struct {
	consumer   *inputredis.Consumer
	control    *inputredis.Consumer
	parser     *ingest.Parser
	engine     rules.Engine
	scorer     *scoring.Scorer
	windows    *window.Manager
	correlator *correlate.Correlator
	suppressor *suppress.Suppressor
	incidents  *incident.Manager
	writer     IncidentWriter
	enricher   *enrich.Client

	workers       int
	batchSize     int
	flushInterval time.Duration

	closedCh chan *window.Window
	outCh    chan models.Incident
	enrichWG sync.WaitGroup
}

// Options carries the pipeline collaborators and tuning knobs.
type Options struct {
	Consumer      *inputredis.Consumer
	Control       *inputredis.Consumer
	Parser        *ingest.Parser
	Engine        rules.Engine
	Scorer        *scoring.Scorer
	WindowConfig  window.Config
	Correlator    *correlate.Correlator
	Suppressor    *suppress.Suppressor
	Writer        IncidentWriter
	Enricher      *enrich.Client
	Workers       int
	BatchSize     int
	FlushInterval time.Duration
}

// New creates a pipeline. The window manager and incident manager are owned
// here so their lifecycles match the pipeline's.
func New(opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	if opts.Engine == nil {
		opts.Engine = &rules.NoopEngine{}
	}

	p := &Pipeline{
		consumer:      opts.Consumer,
		control:       opts.Control,
		parser:        opts.Parser,
		engine:        opts.Engine,
		scorer:        opts.Scorer,
		correlator:    opts.Correlator,
		suppressor:    opts.Suppressor,
		writer:        opts.Writer,
		enricher:      opts.Enricher,
		workers:       opts.Workers,
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		closedCh:      make(chan *window.Window, opts.Workers*4),
		outCh:         make(chan models.Incident, opts.Workers*4),
	}
	p.windows = window.NewManager(opts.WindowConfig, func(w *window.Window) {
		p.closedCh <- w
	})
	p.incidents = incident.NewManager(p.suppressor.MarkResolved)
	return p
}

// Incidents exposes the incident manager for the control surface and tests.
func (p *Pipeline) Incidents() *incident.Manager {
	return p.incidents
}

// Run starts the pipeline loops and blocks until the context is cancelled.
// Shutdown drains in stage order: readers stop, workers finish admitting,
// remaining windows flush through correlation, the writer flushes its batch.
func (p *Pipeline) Run(ctx context.Context) error {
	logger.Infof("Correlation pipeline started: workers=%d", p.workers)

	msgCh := make(chan []byte, p.workers*4)

	var workerWG sync.WaitGroup
	var auxWG sync.WaitGroup

	go func() {
		p.readLoop(ctx, msgCh)
		close(msgCh)
	}()

	for i := 0; i < p.workers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			p.workerLoop(ctx, msgCh)
		}()
	}

	// The sweeper gets its own cancellation so remaining windows flush only
	// after the workers stop admitting.
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		p.windows.Run(sweepCtx)
		close(sweepDone)
	}()

	auxWG.Add(1)
	go func() {
		defer auxWG.Done()
		p.suppressor.Cache().Run(ctx)
	}()

	correlateDone := make(chan struct{})
	go func() {
		p.correlateLoop()
		close(correlateDone)
	}()

	writeDone := make(chan struct{})
	go func() {
		p.writeLoop(ctx)
		close(writeDone)
	}()

	if p.control != nil {
		auxWG.Add(1)
		go func() {
			defer auxWG.Done()
			p.controlLoop(ctx)
		}()
	}

	<-ctx.Done()
	workerWG.Wait()
	sweepCancel()
	<-sweepDone
	close(p.closedCh)
	<-correlateDone
	p.enrichWG.Wait()
	auxWG.Wait()
	close(p.outCh)
	<-writeDone
	return ctx.Err()
}

// Close releases pipeline resources.
func (p *Pipeline) Close() error {
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			logger.Errorf("Failed to close incident writer: %v", err)
		}
	}
	if p.control != nil {
		if err := p.control.Close(); err != nil {
			logger.Errorf("Failed to close control consumer: %v", err)
		}
	}
	if p.consumer != nil {
		return p.consumer.Close()
	}
	return nil
}

func (p *Pipeline) readLoop(ctx context.Context, out chan<- []byte) {
	for {
		payload, err := p.consumer.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop event message: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if payload == nil {
			continue
		}
		metrics.EventsIngested.Inc()
		select {
		case out <- payload:
		case <-ctx.Done():
			return
		}
	}
}

// workerLoop runs the non-blocking stages: parse, tag, score, admit. A
// malformed message is counted and skipped, never fatal.
func (p *Pipeline) workerLoop(ctx context.Context, in <-chan []byte) {
	for payload := range in {
		event, err := p.parser.Parse(ctx, payload)
		if err != nil {
			metrics.EventsMalformed.Inc()
			logger.Warnf("Failed to parse event: %v", err)
			continue
		}

		if tags := p.engine.Apply(event); len(tags) > 0 {
			event.CorrelationTags = mergeTags(event.CorrelationTags, tags)
		}

		scored := p.scorer.Score(event)
		p.windows.Admit(scored)
	}
}

func (p *Pipeline) correlateLoop() {
	for w := range p.closedCh {
		started := time.Now()
		for _, candidate := range p.correlator.Correlate(w) {
			c := candidate
			p.dispatch(&c)
		}
		metrics.EmitLatency.Observe(time.Since(started).Seconds())
	}
}

// dispatch applies the suppression decision to one candidate.
func (p *Pipeline) dispatch(c *models.Candidate) {
	decision := p.suppressor.Evaluate(c)
	metrics.CandidatesEmitted.WithLabelValues(decision.Action).Inc()

	switch decision.Action {
	case suppress.ActionSuppress:
		// Nothing is emitted downstream; only the fingerprint cache moved.
		logger.Debugf("Candidate suppressed: correlation=%s asset=%s", c.CorrelationID, c.AssetID)

	case suppress.ActionMerge:
		inc, ok := p.incidents.Merge(decision.IncidentID, c)
		if !ok {
			return
		}
		p.emit(inc)

	default:
		inc := p.incidents.Open(c)
		p.suppressor.BindIncident(c, inc.IncidentID)
		p.emit(inc)
		if p.enricher != nil {
			p.enrichWG.Add(1)
			go func(id string) {
				defer p.enrichWG.Done()
				p.enrichIncident(id)
			}(inc.IncidentID)
		}
	}
}

// emit blocks on writer backlog rather than dropping; incidents are the product.
func (p *Pipeline) emit(inc models.Incident) {
	p.outCh <- inc
}

// enrichIncident attaches explanation text after the incident is committed.
// Unavailable enrichment is a normal outcome: the incident already shipped.
// The client timeout bounds the call, so a fresh context is fine here.
func (p *Pipeline) enrichIncident(incidentID string) {
	inc, ok := p.incidents.Get(incidentID)
	if !ok {
		return
	}
	res := p.enricher.Explain(context.Background(), &inc)
	if res.Status != enrich.StatusEnriched {
		return
	}
	updated, ok := p.incidents.AttachExplanation(incidentID, res.Explanation)
	if !ok {
		return
	}
	p.emit(updated)
}

func (p *Pipeline) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	var batch []models.Incident

	flush := func() {
		if len(batch) == 0 {
			return
		}
		for {
			if err := p.writer.WriteIncidents(batch); err != nil {
				logger.Errorf("Failed to write incidents: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(1 * time.Second):
				}
				continue
			}
			batch = nil
			break
		}
	}

	// Exit is driven by outCh closing so late emitters never hit a dead sink.
	for {
		select {
		case <-ticker.C:
			flush()
		case inc, ok := <-p.outCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, inc)
			if len(batch) >= p.batchSize {
				flush()
			}
		}
	}
}

// controlLoop consumes acknowledge/resolve commands from the lifecycle
// control surface. Unknown incident IDs are tolerated: commands may race
// with eviction of old in-memory state.
func (p *Pipeline) controlLoop(ctx context.Context) {
	for {
		payload, err := p.control.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("Failed to pop control command: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if payload == nil {
			continue
		}

		var cmd models.LifecycleCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			logger.Warnf("Failed to parse lifecycle command: %v", err)
			continue
		}

		switch strings.ToLower(strings.TrimSpace(cmd.Action)) {
		case "acknowledge", "ack":
			if inc, ok := p.incidents.Acknowledge(cmd.IncidentID, cmd.Reason); ok {
				p.emit(inc)
			}
		case "resolve":
			if inc, ok := p.incidents.Resolve(cmd.IncidentID, cmd.Reason); ok {
				p.emit(inc)
			}
		default:
			logger.Warnf("Unknown lifecycle action %q for incident %s", cmd.Action, cmd.IncidentID)
		}
	}
}

func mergeTags(existing, extra []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(extra))
	out := make([]string, 0, len(existing)+len(extra))
	for _, t := range existing {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range extra {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
