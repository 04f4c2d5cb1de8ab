// Package maintenance runs the cron-driven background work: retry sweeps
// over failed jobs, retention cleanup of the job table, and any document
// syncs configured on a schedule.
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"contentsync/internal/delivery"
	csync "contentsync/internal/sync"
	logx "contentsync/pkg/logx"
)

// Orchestrator is the slice of the sync service this package drives.
type Orchestrator interface {
	Submit(req csync.SubmitRequest) (*csync.Job, error)
	RetryFailedJobs(maxAge time.Duration) []string
	CleanupOldJobs(retention time.Duration) int
}

type ScheduledSync struct {
	Document string
	Channels []delivery.Channel
	Schedule string
}

type Config struct {
	Enabled  bool
	Timezone string

	// RetrySchedule re-submits failed/partial jobs created within
	// RetryMaxAge. Empty disables the sweep.
	RetrySchedule string
	RetryMaxAge   time.Duration

	// CleanupSchedule drops terminal jobs older than Retention.
	CleanupSchedule string
	Retention       time.Duration

	Syncs []ScheduledSync
}

func (c Config) withDefaults() Config {
	if c.RetryMaxAge <= 0 {
		c.RetryMaxAge = time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	return c
}

type Service struct {
	cfg    Config
	log    logx.Logger
	orch   Orchestrator
	parser cron.Parser

	mu  sync.Mutex
	c   *cron.Cron
	loc *time.Location
}

func New(cfg Config, orch Orchestrator, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:  cfg.withDefaults(),
		log:  log,
		orch: orch,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// validate rejects bad cron specs up front so a typo surfaces at startup,
// not at the first missed trigger.
func (s *Service) validate() error {
	if !s.cfg.Enabled {
		return nil
	}
	if spec := strings.TrimSpace(s.cfg.RetrySchedule); spec != "" {
		if _, err := s.parser.Parse(spec); err != nil {
			return fmt.Errorf("retry schedule %q: %w", spec, err)
		}
	}
	if spec := strings.TrimSpace(s.cfg.CleanupSchedule); spec != "" {
		if _, err := s.parser.Parse(spec); err != nil {
			return fmt.Errorf("cleanup schedule %q: %w", spec, err)
		}
	}
	for _, sc := range s.cfg.Syncs {
		if strings.TrimSpace(sc.Document) == "" {
			return fmt.Errorf("scheduled sync: document is required")
		}
		if _, err := s.parser.Parse(strings.TrimSpace(sc.Schedule)); err != nil {
			return fmt.Errorf("sync schedule %q: %w", sc.Schedule, err)
		}
	}
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone %q: %w", tz, err)
		}
	}
	return nil
}

func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))

	n := s.registerLocked()
	s.c.Start()
	s.log.Info("maintenance started", logx.String("tz", loc.String()), logx.Int("schedules", n))
}

func (s *Service) registerLocked() int {
	n := 0
	if spec := strings.TrimSpace(s.cfg.RetrySchedule); spec != "" {
		if _, err := s.c.AddFunc(spec, s.runRetry); err == nil {
			n++
		} else {
			s.log.Warn("retry schedule rejected", logx.String("spec", spec), logx.Err(err))
		}
	}
	if spec := strings.TrimSpace(s.cfg.CleanupSchedule); spec != "" {
		if _, err := s.c.AddFunc(spec, s.runCleanup); err == nil {
			n++
		} else {
			s.log.Warn("cleanup schedule rejected", logx.String("spec", spec), logx.Err(err))
		}
	}
	for _, sc := range s.cfg.Syncs {
		sc := sc
		spec := strings.TrimSpace(sc.Schedule)
		if _, err := s.c.AddFunc(spec, func() { s.runSync(sc) }); err == nil {
			n++
		} else {
			s.log.Warn("sync schedule rejected", logx.String("spec", spec), logx.String("document", sc.Document), logx.Err(err))
		}
	}
	return n
}

// Scheduled reports how many cron entries are registered. Zero when the
// service is stopped or disabled.
func (s *Service) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return 0
	}
	return len(s.c.Entries())
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	// Wait for in-flight triggers, bounded by ctx.
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("maintenance stopped")
}

// Apply swaps the configuration and restarts the cron runtime when the
// service was running.
func (s *Service) Apply(cfg Config) error {
	next := &Service{cfg: cfg.withDefaults(), parser: s.parser}
	if err := next.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	running := s.c != nil
	s.cfg = next.cfg
	s.mu.Unlock()

	if running {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Stop(ctx)
		s.Start(ctx)
	}
	return nil
}

func (s *Service) runRetry() {
	ids := s.orch.RetryFailedJobs(s.retryMaxAge())
	if len(ids) > 0 {
		s.log.Info("retry sweep", logx.Int("resubmitted", len(ids)))
	}
}

func (s *Service) runCleanup() {
	removed := s.orch.CleanupOldJobs(s.retention())
	if removed > 0 {
		s.log.Info("cleanup sweep", logx.Int("removed", removed))
	}
}

func (s *Service) runSync(sc ScheduledSync) {
	job, err := s.orch.Submit(csync.SubmitRequest{
		DocumentID: sc.Document,
		Channels:   append([]delivery.Channel(nil), sc.Channels...),
	})
	if err != nil {
		s.log.Warn("scheduled sync rejected", logx.String("document", sc.Document), logx.Err(err))
		return
	}
	s.log.Debug("scheduled sync submitted", logx.String("document", sc.Document), logx.String("job", job.ID))
}

func (s *Service) retryMaxAge() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.RetryMaxAge
}

func (s *Service) retention() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Retention
}
