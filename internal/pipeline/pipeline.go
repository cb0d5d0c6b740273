// Package pipeline runs one ingestion pass: fetch, drop items already
// delivered, format, send to every target, record.
//
// Each item is committed on its own: once every target has been attempted
// the item is recorded as seen, whatever the delivery outcome. Nothing is
// rolled back and Run never returns an error; problems are logged and
// summarized in the RunReport.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"newsbot/internal/dedup"
	"newsbot/internal/dispatch"
	"newsbot/internal/eventbus"
	"newsbot/internal/failure"
	"newsbot/internal/fetcher"
	"newsbot/internal/format"
	"newsbot/internal/news"
	"newsbot/pkg/logx"
)

const (
	DefaultMaxPerRun     = 5
	DefaultRecordTimeout = 5 * time.Second
)

type Formatter interface {
	Format(it news.Item) format.Message
}

type Dispatcher interface {
	SendAll(ctx context.Context, msg format.Message) []dispatch.DeliveryResult
}

type Config struct {
	MaxPerRun int
	// RecordTimeout bounds a store write. Writes are detached from the run
	// context so an attempted item is recorded even during shutdown.
	RecordTimeout time.Duration
}

type RunReport struct {
	RunID     string
	Started   time.Time
	Took      time.Duration
	Fetched   int
	Fresh     int
	Delivered int // items that reached at least one target
	Recorded  int
	FetchErr  error
	Failures  []error
}

// OK reports a run without fetch, delivery or persistence failures.
func (r RunReport) OK() bool { return r.FetchErr == nil && len(r.Failures) == 0 }

type Pipeline struct {
	log   logx.Logger
	cfg   Config
	fetch fetcher.Fetcher
	store dedup.Store
	fmt   Formatter
	disp  Dispatcher
	bus   eventbus.Bus

	newID func() string
	now   func() time.Time

	mu   sync.Mutex
	last *RunReport
}

func New(cfg Config, f fetcher.Fetcher, store dedup.Store, fm Formatter, d Dispatcher, bus eventbus.Bus, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.MaxPerRun <= 0 {
		cfg.MaxPerRun = DefaultMaxPerRun
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = DefaultRecordTimeout
	}
	return &Pipeline{
		log:   log.With(logx.String("comp", "pipeline")),
		cfg:   cfg,
		fetch: f,
		store: store,
		fmt:   fm,
		disp:  d,
		bus:   bus,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// Run performs one pass. It is not safe to call concurrently; the
// scheduler serializes runs.
func (p *Pipeline) Run(ctx context.Context) RunReport {
	rep := RunReport{RunID: p.newID(), Started: p.now()}
	log := p.log.With(logx.String("run", rep.RunID))
	defer func() {
		rep.Took = p.now().Sub(rep.Started)
		p.finish(log, rep)
	}()

	items, err := p.fetch.Fetch(ctx)
	rep.Fetched = len(items)
	if err != nil {
		rep.FetchErr = err
		log.Warn("fetch failed", logx.Err(err))
		return rep
	}
	if len(items) == 0 {
		log.Info("no items from provider")
		return rep
	}

	fresh := p.selectFresh(items)
	rep.Fresh = len(fresh)
	if len(fresh) == 0 {
		log.Info("nothing new", logx.Int("fetched", rep.Fetched))
		return rep
	}

	for _, it := range fresh {
		if ctx.Err() != nil {
			log.Info("run interrupted; remaining items left for the next run", logx.String("next_item", it.ID))
			break
		}
		msg := p.fmt.Format(it)

		reached := false
		for _, res := range p.disp.SendAll(ctx, msg) {
			if res.OK() {
				reached = true
				continue
			}
			rep.Failures = append(rep.Failures, res.Err)
		}
		if reached {
			rep.Delivered++
		}

		if err := p.record(ctx, it.ID); err != nil {
			rep.Failures = append(rep.Failures, err)
			log.Warn("item not persisted as seen", logx.String("item", it.ID), logx.Err(err))
			continue
		}
		rep.Recorded++
	}
	return rep
}

// selectFresh keeps provider order, drops IDs already stored or repeated
// within the batch, and caps the result at MaxPerRun.
func (p *Pipeline) selectFresh(items []news.Item) []news.Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]news.Item, 0, min(len(items), p.cfg.MaxPerRun))
	for _, it := range items {
		if len(out) >= p.cfg.MaxPerRun {
			break
		}
		if it.ID == "" {
			continue
		}
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		if p.store.Contains(it.ID) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func (p *Pipeline) record(ctx context.Context, id string) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RecordTimeout)
	defer cancel()
	err := p.store.Record(rctx, id)
	if err == nil {
		return nil
	}
	var fe *failure.Error
	if errors.As(err, &fe) {
		return err
	}
	return failure.Persistence("dedup.record", err)
}

func (p *Pipeline) finish(log logx.Logger, rep RunReport) {
	p.mu.Lock()
	r := rep
	p.last = &r
	p.mu.Unlock()

	fields := []logx.Field{
		logx.Int("fetched", rep.Fetched),
		logx.Int("fresh", rep.Fresh),
		logx.Int("delivered", rep.Delivered),
		logx.Int("recorded", rep.Recorded),
		logx.Int("failures", len(rep.Failures)),
		logx.Duration("took", rep.Took),
	}
	if rep.OK() {
		log.Info("run finished", fields...)
	} else {
		log.Warn("run finished with failures", fields...)
	}
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: eventbus.TypeRunFinished, Data: rep})
	}
}

// LastReport returns the most recent run summary.
func (p *Pipeline) LastReport() (RunReport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return RunReport{}, false
	}
	return *p.last, true
}

// Latest fetches and formats up to n items for an on-demand reply. It does
// not consult or modify the dedup store.
func (p *Pipeline) Latest(ctx context.Context, n int) ([]format.Message, error) {
	if n <= 0 {
		n = p.cfg.MaxPerRun
	}
	items, err := p.fetch.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]format.Message, 0, min(n, len(items)))
	for _, it := range items {
		if len(out) >= n {
			break
		}
		if _, dup := seen[it.ID]; dup || it.ID == "" {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, p.fmt.Format(it))
	}
	return out, nil
}
