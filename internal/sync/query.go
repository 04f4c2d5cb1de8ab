package sync

import (
	"fmt"
	"sort"
	"time"

	"contentsync/internal/delivery"
	logx "contentsync/pkg/logx"
)

// Job returns a snapshot copy of a job, or ErrNotFound.
func (s *Service) Job(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	return j.clone(), nil
}

// Version returns the last successfully published version of a document,
// or ErrNotFound when the document was never published.
func (s *Service) Version(documentID string) (*ContentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[documentID]
	if !ok {
		return nil, fmt.Errorf("document %q: %w", documentID, ErrNotFound)
	}
	cp := *v
	cp.ChannelsPublished = make(map[delivery.Channel]time.Time, len(v.ChannelsPublished))
	for ch, t := range v.ChannelsPublished {
		cp.ChannelsPublished[ch] = t
	}
	return &cp, nil
}

// JobFilter narrows RecentJobs. Zero values match everything.
type JobFilter struct {
	Status  Status
	Channel delivery.Channel
}

// RecentJobs returns up to limit job snapshots, newest first. limit <= 0
// means no limit.
func (s *Service) RecentJobs(limit int, filter JobFilter) []*Job {
	s.mu.Lock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Channel != "" && !hasChannel(j.Channels, filter.Channel) {
			continue
		}
		out = append(out, j.clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func hasChannel(chs []delivery.Channel, want delivery.Channel) bool {
	for _, ch := range chs {
		if ch == want {
			return true
		}
	}
	return false
}

// Statistics aggregates the current job table. The success rate counts
// terminal jobs only, so a burst of pending work does not drag it down.
func (s *Service) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Statistics{
		ByStatus:   map[Status]int{},
		ByChannel:  map[delivery.Channel]ChannelStats{},
		ActiveJobs: s.active,
		Documents:  len(s.versions),
	}
	if s.q != nil {
		st.QueueLen = len(s.q)
	}

	terminal, completed := 0, 0
	for _, j := range s.jobs {
		st.TotalJobs++
		st.ByStatus[j.Status]++
		if j.Status.Terminal() {
			terminal++
			if j.Status == StatusCompleted {
				completed++
			}
		}
		for ch, r := range j.Results {
			cs := st.ByChannel[ch]
			if r.Error == "" {
				cs.Succeeded++
			} else {
				cs.Failed++
			}
			st.ByChannel[ch] = cs
		}
	}
	if terminal > 0 {
		st.SuccessRate = float64(completed) / float64(terminal)
	}
	return st
}

// RetryJob submits a fresh job covering the same document and channels as
// a finished one. Only failed and partial jobs can be retried.
func (s *Service) RetryJob(id string) (*Job, error) {
	s.mu.Lock()
	orig, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	if orig.Status != StatusFailed && orig.Status != StatusPartial {
		status := orig.Status
		s.mu.Unlock()
		return nil, fmt.Errorf("job %q is %s: %w", id, status, ErrInvalidState)
	}
	req := SubmitRequest{
		DocumentID:    orig.DocumentID,
		Channels:      append([]delivery.Channel(nil), orig.Channels...),
		CorrelationID: "retry_" + orig.CorrelationID,
	}
	s.mu.Unlock()

	return s.Submit(req)
}

// RetryFailedJobs re-submits every failed or partial job created within
// maxAge. It returns the ids of the new jobs.
func (s *Service) RetryFailedJobs(maxAge time.Duration) []string {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	candidates := make([]string, 0)
	for id, j := range s.jobs {
		if j.Status != StatusFailed && j.Status != StatusPartial {
			continue
		}
		if j.CreatedAt.Before(cutoff) {
			continue
		}
		candidates = append(candidates, id)
	}
	s.mu.Unlock()

	sort.Strings(candidates)
	retried := make([]string, 0, len(candidates))
	for _, id := range candidates {
		nj, err := s.RetryJob(id)
		if err != nil {
			s.log.Warn("retry failed", logx.String("job", id), logx.Err(err))
			continue
		}
		retried = append(retried, nj.ID)
	}
	if len(retried) > 0 {
		s.log.Info("retried failed jobs", logx.Int("count", len(retried)))
	}
	return retried
}

// CleanupOldJobs drops terminal jobs older than retention from the job
// table. Version records are kept; they are what makes dedup work across
// restarts and cleanups. Returns the number of jobs removed.
func (s *Service) CleanupOldJobs(retention time.Duration) int {
	cutoff := s.now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, j := range s.jobs {
		if !j.Status.Terminal() {
			continue
		}
		if j.CompletedAt != nil && j.CompletedAt.After(cutoff) {
			continue
		}
		delete(s.jobs, id)
		removed++
	}
	if removed > 0 {
		s.log.Info("cleaned up old jobs", logx.Int("removed", removed), logx.Int("remaining", len(s.jobs)))
	}
	return removed
}
