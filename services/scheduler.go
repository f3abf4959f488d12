package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"estate-harvester/config"
	"estate-harvester/utils"
)

// ErrUnknownTrigger is returned by TriggerNow for an unregistered name.
var ErrUnknownTrigger = errors.New("unknown trigger")

// TriggerInfo describes one registered trigger.
type TriggerInfo struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	Sources    []string  `json:"sources"`
	FullRescan bool      `json:"fullRescan"`
	NextRun    time.Time `json:"nextRun"`
}

type scheduledTrigger struct {
	cfg      config.TriggerConfig
	schedule cron.Schedule
	entryID  cron.EntryID
}

// Scheduler fires configured triggers on their calendar. A missed
// occurrence is skipped, never caught up.
type Scheduler struct {
	starter JobStarter
	cron    *cron.Cron
	logger  utils.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	triggers map[string]*scheduledTrigger
	started  bool
}

// NewScheduler validates and registers triggers. Schedules use the
// standard five-field format; descriptors such as @hourly are accepted.
func NewScheduler(starter JobStarter, triggers []config.TriggerConfig, logger utils.Logger) (*Scheduler, error) {
	logger = logger.With(utils.Component("scheduler"))
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{z: utils.Zap(logger).Sugar()}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		starter:  starter,
		cron:     cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cl)), cron.WithLogger(cl)),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		triggers: make(map[string]*scheduledTrigger, len(triggers)),
	}

	for _, t := range triggers {
		t.Name = strings.TrimSpace(t.Name)
		switch {
		case t.Name == "":
			cancel()
			return nil, errors.New("scheduler: trigger without a name")
		case s.triggers[t.Name] != nil:
			cancel()
			return nil, fmt.Errorf("scheduler: duplicate trigger %q", t.Name)
		case len(normaliseCodes(t.Sources)) == 0:
			cancel()
			return nil, fmt.Errorf("scheduler: trigger %q has no sources", t.Name)
		}

		schedule, err := parser.Parse(t.Schedule)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("scheduler: trigger %q: parse schedule %q: %w", t.Name, t.Schedule, err)
		}

		name := t.Name
		st := &scheduledTrigger{cfg: t, schedule: schedule}
		st.entryID = s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(name) }))
		s.triggers[name] = st

		logger.Info("Trigger registered",
			utils.String("trigger", name),
			utils.String("schedule", t.Schedule),
			utils.Strings("sources", t.Sources),
			utils.Bool("full_rescan", t.FullRescan),
			utils.String("next_run", schedule.Next(time.Now()).Format(time.RFC3339)))
	}
	return s, nil
}

// Start begins firing triggers.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("Scheduler started", utils.Int("triggers", len(s.triggers)))
}

// Stop halts the calendar and waits for in-progress firings, which only
// start jobs and never wait on them.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// TriggerNow starts the job of the named trigger immediately.
func (s *Scheduler) TriggerNow(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	st, ok := s.triggers[name]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTrigger, name)
	}

	jobID, err := s.starter.StartJob(ctx, requestFor(st.cfg))
	if err != nil {
		return "", err
	}
	s.logger.Info("Trigger run manually", utils.String("trigger", name), utils.String("job_id", jobID))
	return jobID, nil
}

// Triggers lists the registered triggers by name.
func (s *Scheduler) Triggers() []TriggerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := make([]TriggerInfo, 0, len(s.triggers))
	for name, st := range s.triggers {
		next := s.cron.Entry(st.entryID).Next
		if next.IsZero() {
			next = st.schedule.Next(now)
		}
		out = append(out, TriggerInfo{
			Name:       name,
			Schedule:   st.cfg.Schedule,
			Sources:    st.cfg.Sources,
			FullRescan: st.cfg.FullRescan,
			NextRun:    next,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	st := s.triggers[name]
	s.mu.Unlock()

	jobID, err := s.starter.StartJob(s.ctx, requestFor(st.cfg))
	if err != nil {
		s.logger.Error("Scheduled trigger failed to start job", utils.String("trigger", name), utils.Err(err))
		return
	}
	s.logger.Info("Scheduled trigger fired", utils.String("trigger", name), utils.String("job_id", jobID))
}

func requestFor(t config.TriggerConfig) JobRequest {
	return JobRequest{SourceCodes: t.Sources, FullRescan: t.FullRescan, Trigger: t.Name}
}

// cronLogger adapts cron's logger onto zap.
type cronLogger struct {
	z *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.z.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.z.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
