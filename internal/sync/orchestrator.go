package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"contentsync/internal/delivery"
	"contentsync/internal/eventbus"
	rtsup "contentsync/internal/runtime/supervisor"
	"contentsync/internal/source"
	"contentsync/internal/store"
	logx "contentsync/pkg/logx"
)

// Service is the content sync orchestrator. It owns the in-memory job
// table, the per-document version (dedup) table, and a fixed pool of
// workers bounded by Config.MaxConcurrentJobs.
type Service struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	fetch   source.Fetcher
	senders *delivery.Registry
	store   store.Store // nil when persistence is disabled

	mu       sync.Mutex
	jobs     map[string]*Job
	versions map[string]*ContentVersion
	active   int

	// docLocks serializes execution per document so two in-flight jobs for
	// the same document cannot race the version write past the dedup check.
	docMu    sync.Mutex
	docLocks map[string]*docLock

	q        chan *Job
	stopCh   chan struct{}
	stopDone chan struct{}
	sup      *rtsup.Supervisor

	idSeq uint64

	now func() time.Time
}

func New(cfg Config, fetch source.Fetcher, senders *delivery.Registry, st store.Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		log:      log,
		bus:      bus,
		fetch:    fetch,
		senders:  senders,
		store:    st,
		jobs:     map[string]*Job{},
		versions: map[string]*ContentVersion{},
		docLocks: map[string]*docLock{},
		now:      time.Now,
	}
}

// Start spins up the worker pool. It is idempotent while running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}

	s.q = make(chan *Job, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh
	queue := s.q
	workers := s.cfg.MaxConcurrentJobs

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "sync"))),
		// A bad job must never take the orchestrator down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	s.warmVersions(ctx)

	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			s.worker(c, stopCh, queue)
			// Clean exits happen only on shutdown.
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		})
	}

	s.log.Info("orchestrator started",
		logx.Int("workers", workers),
		logx.Int("queue", cap(queue)),
		logx.Int("versions", len(s.versions)),
	)
}

// Stop drains the pool. Queued-but-unstarted jobs stay pending; scheduled
// jobs are dropped with the process (there is no cancellation API).
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}

	go func() {
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("orchestrator stopped")
	case <-ctx.Done():
		s.log.Warn("orchestrator stop timed out", logx.Err(ctx.Err()))
	}
}

// Submit creates a pending job and either enqueues it immediately or, for
// a future ScheduleTime, parks a deferred task that enqueues it when due.
// Submission itself never blocks on the queue.
func (s *Service) Submit(req SubmitRequest) (*Job, error) {
	docID := strings.TrimSpace(req.DocumentID)
	if docID == "" {
		return nil, ErrNoDocument
	}

	channels := req.Channels
	if len(channels) == 0 {
		channels = s.senders.Channels()
	}
	channels = append([]delivery.Channel(nil), channels...)

	corr := strings.TrimSpace(req.CorrelationID)
	if corr == "" {
		corr = uuid.NewString()
	}

	now := s.now()
	job := &Job{
		ID:            s.newJobID(now, docID),
		CreatedAt:     now,
		Status:        StatusPending,
		DocumentID:    docID,
		Channels:      channels,
		CorrelationID: corr,
	}
	deferred := !req.ScheduleTime.IsZero() && req.ScheduleTime.After(now)
	if deferred {
		t := req.ScheduleTime
		job.ScheduledFor = &t
	}

	s.mu.Lock()
	q := s.q
	stopCh := s.stopCh
	stopping := s.stopDone != nil
	sup := s.sup
	if q == nil || stopCh == nil || stopping {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	s.jobs[job.ID] = job
	s.mu.Unlock()

	if deferred {
		delay := job.ScheduledFor.Sub(now)
		s.log.Debug("job scheduled",
			logx.String("job", job.ID),
			logx.String("document", docID),
			logx.Duration("in", delay),
		)
		sup.Go("deferred."+job.ID, func(ctx context.Context) error {
			tmr := time.NewTimer(delay)
			defer tmr.Stop()
			select {
			case <-ctx.Done():
				return nil
			case <-stopCh:
				return nil
			case <-tmr.C:
			}
			if err := s.enqueue(job, q, stopCh); err != nil {
				s.log.Warn("deferred enqueue failed", logx.String("job", job.ID), logx.Err(err))
			}
			return nil
		})
		return job.clone(), nil
	}

	if err := s.enqueue(job, q, stopCh); err != nil {
		s.mu.Lock()
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		return nil, err
	}
	return job.clone(), nil
}

func (s *Service) enqueue(job *Job, q chan *Job, stopCh <-chan struct{}) error {
	select {
	case <-stopCh:
		return ErrStopped
	case q <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) newJobID(now time.Time, docID string) string {
	seq := atomic.AddUint64(&s.idSeq, 1)
	return fmt.Sprintf("sync-%x-%s-%x", now.UnixNano(), docPrefix(docID), seq)
}

// docPrefix derives a short, log-friendly tag from the document id.
func docPrefix(docID string) string {
	var b strings.Builder
	for _, r := range docID {
		if b.Len() >= 8 {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	if b.Len() == 0 {
		return "doc"
	}
	return b.String()
}

// warmVersions restores the dedup table from the store so a restart does
// not re-deliver unchanged content.
func (s *Service) warmVersions(ctx context.Context) {
	if s.store == nil {
		return
	}
	versions, err := s.store.Versions(ctx)
	if err != nil {
		s.log.Warn("version warm-load failed", logx.Err(err))
		return
	}
	s.mu.Lock()
	for _, v := range versions {
		cv := &ContentVersion{
			VersionID:         v.VersionID,
			DocumentID:        v.DocumentID,
			Hash:              v.Hash,
			CreatedAt:         v.CreatedAt,
			ChannelsPublished: map[delivery.Channel]time.Time{},
		}
		for ch, at := range v.ChannelsPublished {
			cv.ChannelsPublished[delivery.Channel(ch)] = at
		}
		s.versions[v.DocumentID] = cv
	}
	s.mu.Unlock()
}

// docLock is a ref-counted per-document mutex. The table entry is dropped
// when the last holder releases, so the map stays bounded by in-flight
// jobs rather than by every document id ever seen.
type docLock struct {
	mu   sync.Mutex
	refs int
}

func (s *Service) lockDocument(docID string) *docLock {
	s.docMu.Lock()
	l := s.docLocks[docID]
	if l == nil {
		l = &docLock{}
		s.docLocks[docID] = l
	}
	l.refs++
	s.docMu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Service) unlockDocument(docID string, l *docLock) {
	l.mu.Unlock()

	s.docMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.docLocks, docID)
	}
	s.docMu.Unlock()
}
