package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"SignalSentinel/internal/lifecycle"
	"SignalSentinel/internal/metrics"
	"SignalSentinel/internal/model"
	"SignalSentinel/internal/notifier"
	"SignalSentinel/internal/report"
	"SignalSentinel/internal/snapshot"
	"SignalSentinel/internal/strategy"
	"SignalSentinel/internal/tenant"
)

// Job names, also used as metric labels.
const (
	JobRefresh = "refresh"
	JobSweep   = "sweep"
	JobTrack   = "track"
	JobHourly  = "report_hourly"
	JobDaily   = "report_daily"
	JobWeekly  = "report_weekly"
)

// Specs holds the cron expression (with seconds) of every job.
type Specs struct {
	Refresh string
	Sweep   string
	Track   string
	Hourly  string
	Daily   string
	Weekly  string
}

// Deps are the components the scheduler drives.
type Deps struct {
	Symbols    []string
	Refresher  *snapshot.Refresher
	Snapshots  snapshot.Store
	Detectors  *strategy.Registry
	Lifecycle  *lifecycle.Manager
	Tenants    *tenant.Registry
	Dispatcher *notifier.Dispatcher
	Reports    *report.Aggregator
	Workers    int
}

// Scheduler manages all cron jobs. Each job never overlaps with itself,
// whether started by cron or manually; different jobs may run concurrently.
type Scheduler struct {
	Cron *cron.Cron
	Ctx  context.Context

	deps    Deps
	log     zerolog.Logger
	metrics *metrics.Recorder

	mu     sync.Mutex
	guards map[string]*sync.Mutex
}

// NewScheduler creates a new Scheduler. Jobs run with ctx and stop starting
// new work once it is cancelled.
func NewScheduler(ctx context.Context, deps Deps, log zerolog.Logger, rec *metrics.Recorder) *Scheduler {
	if deps.Workers <= 0 {
		deps.Workers = 4
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		Ctx:     ctx,
		deps:    deps,
		log:     log,
		metrics: rec,
		guards:  make(map[string]*sync.Mutex),
	}
}

// RegisterAll registers every job. An empty spec leaves that job unscheduled.
func (s *Scheduler) RegisterAll(specs Specs) error {
	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{JobRefresh, specs.Refresh, func() { s.RunRefresh() }},
		{JobSweep, specs.Sweep, func() { s.RunSweep() }},
		{JobTrack, specs.Track, func() { s.RunTrack() }},
		{JobHourly, specs.Hourly, func() { s.RunReport(model.CadenceHourly) }},
		{JobDaily, specs.Daily, func() { s.RunReport(model.CadenceDaily) }},
		{JobWeekly, specs.Weekly, func() { s.RunReport(model.CadenceWeekly) }},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := s.Cron.AddFunc(j.spec, j.fn); err != nil {
			return fmt.Errorf("register %s job %q: %v: %w", j.name, j.spec, err, model.ErrConfiguration)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Int("jobs", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) guard(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[name]
	if !ok {
		g = &sync.Mutex{}
		s.guards[name] = g
	}
	return g
}

// run executes fn unless the same job is already running. It reports whether
// fn ran.
func (s *Scheduler) run(name string, fn func(ctx context.Context) error) bool {
	g := s.guard(name)
	if !g.TryLock() {
		s.metrics.RecordSkippedJob(name)
		s.log.Warn().Str("job", name).Msg("previous run still in progress, skipping")
		return false
	}
	defer g.Unlock()

	if s.Ctx.Err() != nil {
		return false
	}
	start := time.Now()
	err := fn(s.Ctx)
	took := time.Since(start)
	s.metrics.RecordJob(name, took, err)
	if err != nil {
		s.log.Error().Err(err).Str("job", name).Dur("took", took).Msg("job failed")
	} else {
		s.log.Debug().Str("job", name).Dur("took", took).Msg("job finished")
	}
	return true
}

// RunRefresh rebuilds every snapshot.
func (s *Scheduler) RunRefresh() bool {
	return s.run(JobRefresh, func(ctx context.Context) error {
		res := s.deps.Refresher.RefreshAll(ctx, s.deps.Symbols)
		if len(res.Updated) == 0 && len(res.Failed) > 0 {
			return fmt.Errorf("all %d symbols failed: %w", len(res.Failed), model.ErrDataUnavailable)
		}
		return nil
	})
}

// RunSweep evaluates every detector on every snapshot and opens opportunities.
func (s *Scheduler) RunSweep() bool {
	return s.run(JobSweep, s.sweep)
}

// RunTrack advances active opportunities and delivers their events.
func (s *Scheduler) RunTrack() bool {
	return s.run(JobTrack, func(ctx context.Context) error {
		events, err := s.deps.Lifecycle.Track(ctx)
		for _, ev := range events {
			s.notify(ctx, ev)
		}
		return err
	})
}

// RunReport builds and delivers the report of one cadence.
func (s *Scheduler) RunReport(c model.Cadence) bool {
	return s.run("report_"+string(c), func(ctx context.Context) error {
		r, err := s.deps.Reports.InstantReport(ctx, c)
		if err != nil {
			return err
		}
		s.notify(ctx, model.Event{Type: model.EventReport, Cadence: c, Text: report.Render(r)})
		return nil
	})
}

// RunOnStart performs one refresh followed by one sweep.
func (s *Scheduler) RunOnStart() {
	s.log.Info().Msg("running initial refresh and sweep")
	s.RunRefresh()
	s.RunSweep()
}

// RunJob runs a job by name, for manual triggers.
func (s *Scheduler) RunJob(name string) (bool, error) {
	switch name {
	case JobRefresh:
		return s.RunRefresh(), nil
	case JobSweep:
		return s.RunSweep(), nil
	case JobTrack:
		return s.RunTrack(), nil
	case JobHourly:
		return s.RunReport(model.CadenceHourly), nil
	case JobDaily:
		return s.RunReport(model.CadenceDaily), nil
	case JobWeekly:
		return s.RunReport(model.CadenceWeekly), nil
	default:
		return false, fmt.Errorf("unknown job %q: %w", name, model.ErrNotFound)
	}
}

func (s *Scheduler) sweep(ctx context.Context) error {
	var (
		mu     sync.Mutex
		events []model.Event
		failed int
	)
	forEach(ctx, s.deps.Symbols, s.deps.Workers, func(sym string) {
		evs, err := s.sweepSymbol(ctx, sym)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failed++
		}
		events = append(events, evs...)
	})
	for _, ev := range events {
		s.notify(ctx, ev)
	}
	s.log.Info().
		Int("symbols", len(s.deps.Symbols)).
		Int("created", len(events)).
		Int("failed", failed).
		Msg("detection sweep complete")
	return nil
}

func (s *Scheduler) sweepSymbol(ctx context.Context, sym string) ([]model.Event, error) {
	snap, err := s.deps.Snapshots.Get(ctx, sym)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.log.Warn().Err(err).Str("symbol", sym).Msg("snapshot read failed")
			return nil, err
		}
		return nil, nil
	}

	var events []model.Event
	for _, det := range s.deps.Detectors.EvaluateAll(snap) {
		if !det.Triggered {
			continue
		}
		s.metrics.RecordDetection(det.Strategy)
		opp, err := s.deps.Lifecycle.Create(ctx, sym, det.Strategy, det.SuggestedEntry, snap)
		if errors.Is(err, model.ErrActiveExists) {
			s.log.Debug().Str("symbol", sym).Str("strategy", det.Strategy).Msg("opportunity already active")
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("symbol", sym).Str("strategy", det.Strategy).Msg("create opportunity failed")
			continue
		}
		events = append(events, model.Event{Type: model.EventNewOpportunity, Opportunity: opp})
	}
	return events, nil
}

// notify broadcasts ev to every tenant. Handles of original alerts are
// stored so follow-ups can edit them; follow-up handles are not.
func (s *Scheduler) notify(ctx context.Context, ev model.Event) {
	candidates, err := s.deps.Tenants.List(ctx)
	if err != nil {
		s.log.Error().Err(err).Str("event", string(ev.Type)).Msg("list tenants failed")
		return
	}
	rep := s.deps.Dispatcher.Broadcast(ctx, ev, candidates)
	if ev.Opportunity == nil || ev.Type != model.EventNewOpportunity {
		return
	}
	if err := s.deps.Lifecycle.RecordAlerts(ctx, ev.Opportunity.ID, rep.Refs()); err != nil {
		s.log.Warn().Err(err).
			Str("opportunity", ev.Opportunity.ID).
			Int("handles", len(rep.Delivered)).
			Msg("alert refs not stored")
	}
}

// forEach runs fn for every item with at most workers goroutines.
func forEach(ctx context.Context, items []string, workers int, fn func(string)) {
	workCh := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workCh {
				fn(item)
			}
		}()
	}
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		workCh <- item
	}
	close(workCh)
	wg.Wait()
}

// cronLogger routes cron's own logging, including recovered panics, to zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
