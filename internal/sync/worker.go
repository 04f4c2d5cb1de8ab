package sync

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"contentsync/internal/delivery"
	"contentsync/internal/eventbus"
	"contentsync/internal/resilience"
	"contentsync/internal/source"
	"contentsync/internal/store"
	logx "contentsync/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan *Job) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case job, ok := <-queue:
			if !ok {
				return
			}
			s.execute(ctx, job)
		}
	}
}

// execute runs one job to a terminal state. Exactly one worker ever owns a
// job; everything the job traverses here is caught and folded into job
// state so nothing escapes to kill the worker loop.
func (s *Service) execute(ctx context.Context, job *Job) {
	start := s.now()

	s.mu.Lock()
	job.Status = StatusInProgress
	s.active++
	s.mu.Unlock()

	log := s.log.With(
		logx.String("job", job.ID),
		logx.String("document", job.DocumentID),
		logx.String("correlation_id", job.CorrelationID),
	)
	log.Debug("job started", logx.Any("channels", job.Channels))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventJobStarted, Time: start, Data: JobEvent{
			JobID:         job.ID,
			DocumentID:    job.DocumentID,
			CorrelationID: job.CorrelationID,
			Status:        StatusInProgress,
		}})
	}

	// Serialize same-document execution: the dedup check below is only
	// correct when at most one job per document is in flight.
	lock := s.lockDocument(job.DocumentID)

	defer func() {
		s.unlockDocument(job.DocumentID, lock)

		// Completion bookkeeping runs even when fetch or a panic aborted
		// the job, so duration is always recorded.
		if r := recover(); r != nil {
			log.Error("job panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			s.mu.Lock()
			job.Errors = append(job.Errors, fmt.Sprintf("panic: %v", r))
			job.Status = StatusFailed
			s.mu.Unlock()
		}

		end := s.now()
		ok, failed := 0, 0
		s.mu.Lock()
		if !job.Status.Terminal() {
			job.Status = StatusFailed
		}
		job.CompletedAt = &end
		for _, r := range job.Results {
			if r.Error == "" {
				ok++
			} else {
				failed++
			}
		}
		ev := JobEvent{
			JobID:         job.ID,
			DocumentID:    job.DocumentID,
			CorrelationID: job.CorrelationID,
			Status:        job.Status,
			DurationMS:    end.Sub(start).Milliseconds(),
			Succeeded:     ok,
			Failed:        failed,
			Skipped:       job.Metadata["skipped"] == "true",
		}
		firstErr := ""
		if len(job.Errors) > 0 {
			firstErr = job.Errors[0]
		}
		s.active--
		s.mu.Unlock()

		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: EventJobFinished, Time: end, Data: ev})
		}
		s.appendJobLog(ev, end, firstErr)

		if ev.Status == StatusCompleted {
			log.Debug("job finished", logx.String("status", string(ev.Status)), logx.Int64("took_ms", ev.DurationMS), logx.Bool("skipped", ev.Skipped))
		} else {
			log.Warn("job finished with failures",
				logx.String("status", string(ev.Status)),
				logx.Int64("took_ms", ev.DurationMS),
				logx.Int("succeeded", ev.Succeeded),
				logx.Int("failed", ev.Failed),
			)
		}
	}()

	// Step 1: fetch. Any fetch error fails the whole job; no channel is
	// attempted. The fetch call is the one place the orchestrator applies
	// its own timeout guard.
	var doc source.Document
	err := resilience.WithTimeout(ctx, s.cfg.FetchTimeout, func(ctx context.Context) error {
		d, err := s.fetch.Fetch(ctx, job.DocumentID)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		s.mu.Lock()
		job.Errors = append(job.Errors, fmt.Sprintf("fetch: %v", err))
		job.Status = StatusFailed
		s.mu.Unlock()
		return
	}

	// Step 2: dedup. Unchanged content completes without touching any
	// channel, which is what makes re-submission idempotent.
	hash := source.Fingerprint(doc)
	s.mu.Lock()
	prev := s.versions[job.DocumentID]
	unchanged := prev != nil && prev.Hash == hash
	if unchanged {
		job.Content = doc
		job.Status = StatusCompleted
		if job.Metadata == nil {
			job.Metadata = map[string]string{}
		}
		job.Metadata["skipped"] = "true"
	} else {
		job.Content = doc
	}
	s.mu.Unlock()
	if unchanged {
		return
	}

	// Step 3: fan out sequentially, continuing past individual failures.
	results := make(map[delivery.Channel]Result, len(job.Channels))
	for _, ch := range job.Channels {
		res := s.sendOne(ctx, ch, doc, job.CorrelationID)
		results[ch] = res

		s.mu.Lock()
		if job.Results == nil {
			job.Results = map[delivery.Channel]Result{}
		}
		job.Results[ch] = res
		if res.Error != "" {
			job.Errors = append(job.Errors, fmt.Sprintf("%s: %s", ch, res.Error))
		}
		s.mu.Unlock()
	}

	// Step 4: derive the terminal status from the outcome set.
	ok, failed := 0, 0
	for _, r := range results {
		if r.Error == "" {
			ok++
		} else {
			failed++
		}
	}
	status := StatusCompleted
	switch {
	case ok == 0:
		status = StatusFailed
	case failed > 0:
		status = StatusPartial
	}

	s.mu.Lock()
	job.Status = status
	s.mu.Unlock()

	// Step 5: any success overwrites the document's version record.
	if ok > 0 {
		s.recordVersion(ctx, job.DocumentID, hash, results)
	}
}

func (s *Service) sendOne(ctx context.Context, ch delivery.Channel, doc source.Document, correlationID string) Result {
	at := s.now()
	sender := s.senders.Sender(ch)
	if sender == nil {
		return Result{Error: fmt.Sprintf("no sender configured for channel %q", ch), At: at}
	}

	payload := delivery.Render(doc, ch, correlationID)
	receipt, err := sender.Send(ctx, payload)
	if err != nil {
		return Result{Error: err.Error(), At: at}
	}
	return Result{Receipt: receipt, At: at}
}

func (s *Service) recordVersion(ctx context.Context, docID, hash string, results map[delivery.Channel]Result) {
	now := s.now()
	published := map[delivery.Channel]time.Time{}
	for ch, r := range results {
		if r.Error == "" {
			published[ch] = now
		}
	}

	cv := &ContentVersion{
		VersionID:         uuid.NewString(),
		DocumentID:        docID,
		Hash:              hash,
		CreatedAt:         now,
		ChannelsPublished: published,
	}

	s.mu.Lock()
	s.versions[docID] = cv
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	sv := store.Version{
		VersionID:         cv.VersionID,
		DocumentID:        cv.DocumentID,
		Hash:              cv.Hash,
		CreatedAt:         cv.CreatedAt,
		ChannelsPublished: map[string]time.Time{},
	}
	for ch, t := range published {
		sv.ChannelsPublished[string(ch)] = t
	}
	if err := s.store.SaveVersion(ctx, sv); err != nil {
		s.log.Warn("version persist failed", logx.String("document", docID), logx.Err(err))
	}
}

func (s *Service) appendJobLog(ev JobEvent, at time.Time, firstErr string) {
	if s.store == nil {
		return
	}
	entry := store.JobLogEntry{
		At:            at,
		JobID:         ev.JobID,
		DocumentID:    ev.DocumentID,
		CorrelationID: ev.CorrelationID,
		Status:        string(ev.Status),
		Succeeded:     ev.Succeeded,
		Failed:        ev.Failed,
		DurationMS:    ev.DurationMS,
		Skipped:       ev.Skipped,
		Error:         firstErr,
	}
	// Best-effort: a full disk must not fail the job.
	cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.AppendJobLog(cctx, entry); err != nil {
		s.log.Debug("job log append failed", logx.Err(err))
	}
}
