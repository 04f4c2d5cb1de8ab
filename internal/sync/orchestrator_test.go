package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"contentsync/internal/delivery"
	"contentsync/internal/source"
	logx "contentsync/pkg/logx"
)

type fakeSender struct {
	ch delivery.Channel

	mu    sync.Mutex
	calls int
	err   error
	gate  chan struct{} // when set, Send blocks until closed
}

func (f *fakeSender) Channel() delivery.Channel { return f.ch }

func (f *fakeSender) Send(ctx context.Context, p delivery.Payload) (delivery.Receipt, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return delivery.Receipt{}, ctx.Err()
		}
	}
	if err != nil {
		return delivery.Receipt{}, err
	}
	return delivery.Receipt{Delivered: 1, ID: fmt.Sprintf("%s-ok", f.ch)}, nil
}

func (f *fakeSender) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testDoc(body string) source.Document {
	return source.Document{
		"updates": {{Title: "release notes", Body: body, URL: "https://example.com/notes"}},
	}
}

func testRegistry(t *testing.T, senders ...*fakeSender) *delivery.Registry {
	t.Helper()
	all := make([]delivery.Sender, len(senders))
	for i, fs := range senders {
		all[i] = fs
	}
	return delivery.NewRegistry(all...)
}

func startService(t *testing.T, cfg Config, fetch source.Fetcher, reg *delivery.Registry) *Service {
	t.Helper()
	svc := New(cfg, fetch, reg, nil, logx.Nop(), nil)
	svc.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return svc
}

func waitTerminal(t *testing.T, svc *Service, id string) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := svc.Job(id)
		if err != nil {
			t.Fatalf("job %s: %v", id, err)
		}
		// CompletedAt lands in the worker's final bookkeeping section,
		// after the document lock is released; waiting on it rather than
		// on the status means the whole job teardown has run.
		if j.CompletedAt != nil {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", id)
	return nil
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		return testDoc("v1"), nil
	})
	svc := startService(t, Config{}, fetch, testRegistry(t, &fakeSender{ch: delivery.ChannelEmail}))

	if _, err := svc.Submit(SubmitRequest{DocumentID: "   "}); !errors.Is(err, ErrNoDocument) {
		t.Fatalf("blank document id: got %v, want ErrNoDocument", err)
	}
}

func TestSubmitRejectedWhenStopped(t *testing.T) {
	t.Parallel()

	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		return testDoc("v1"), nil
	})
	svc := New(Config{}, fetch, testRegistry(t, &fakeSender{ch: delivery.ChannelEmail}), nil, logx.Nop(), nil)

	if _, err := svc.Submit(SubmitRequest{DocumentID: "doc-1"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("submit before start: got %v, want ErrStopped", err)
	}
}

func TestJobCompletesOnAllChannels(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail}
	web := &fakeSender{ch: delivery.ChannelWebsite}
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		return testDoc("v1"), nil
	})
	svc := startService(t, Config{}, fetch, testRegistry(t, email, web))

	j, err := svc.Submit(SubmitRequest{DocumentID: "doc-1", CorrelationID: "corr-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if j.Status != StatusPending {
		t.Fatalf("fresh job status = %s, want %s", j.Status, StatusPending)
	}

	done := waitTerminal(t, svc, j.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s (errors: %v)", done.Status, StatusCompleted, done.Errors)
	}
	if done.CompletedAt == nil {
		t.Fatal("terminal job has no CompletedAt")
	}
	if len(done.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(done.Results))
	}
	for ch, r := range done.Results {
		if r.Error != "" {
			t.Fatalf("channel %s failed: %s", ch, r.Error)
		}
		if r.Receipt.Delivered != 1 {
			t.Fatalf("channel %s receipt delivered = %d, want 1", ch, r.Receipt.Delivered)
		}
	}

	v, err := svc.Version("doc-1")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v.Hash == "" || v.VersionID == "" {
		t.Fatalf("version record incomplete: %+v", v)
	}
	if len(v.ChannelsPublished) != 2 {
		t.Fatalf("channels published = %d, want 2", len(v.ChannelsPublished))
	}
}

func TestPartialFailureAccounting(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail}
	web := &fakeSender{ch: delivery.ChannelWebsite, err: errors.New("connection refused")}
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		return testDoc("v1"), nil
	})
	svc := startService(t, Config{}, fetch, testRegistry(t, email, web))

	j, err := svc.Submit(SubmitRequest{DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := waitTerminal(t, svc, j.ID)
	if done.Status != StatusPartial {
		t.Fatalf("status = %s, want %s", done.Status, StatusPartial)
	}
	if len(done.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", done.Errors)
	}
	if !strings.Contains(done.Errors[0], "website") {
		t.Fatalf("error %q does not name the failed channel", done.Errors[0])
	}
	if done.Results[delivery.ChannelEmail].Error != "" {
		t.Fatal("email result should be a success")
	}
	if done.Results[delivery.ChannelWebsite].Error == "" {
		t.Fatal("website result should carry the failure")
	}

	// A partial success still advances the version, but only for the
	// channels that actually delivered.
	v, err := svc.Version("doc-1")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if _, ok := v.ChannelsPublished[delivery.ChannelEmail]; !ok {
		t.Fatal("email missing from ChannelsPublished")
	}
	if _, ok := v.ChannelsPublished[delivery.ChannelWebsite]; ok {
		t.Fatal("website must not appear in ChannelsPublished")
	}
}

func TestAllChannelsFailing(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail, err: errors.New("smtp down")}
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		return testDoc("v1"), nil
	})
	svc := startService(t, Config{}, fetch, testRegistry(t, email))

	j, err := svc.Submit(SubmitRequest{DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := waitTerminal(t, svc, j.ID)
	if done.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", done.Status, StatusFailed)
	}
	if _, err := svc.Version("doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no version should exist after a total failure, got err=%v", err)
	}
}

func TestFetchFailureFailsJob(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail}
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		return nil, errors.New("origin unreachable")
	})
	svc := startService(t, Config{}, fetch, testRegistry(t, email))

	j, err := svc.Submit(SubmitRequest{DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := waitTerminal(t, svc, j.ID)
	if done.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", done.Status, StatusFailed)
	}
	if email.sent() != 0 {
		t.Fatalf("no channel should be attempted after a fetch failure, got %d sends", email.sent())
	}
	if len(done.Errors) == 0 || !strings.Contains(done.Errors[0], "fetch") {
		t.Fatalf("errors = %v, want a fetch error", done.Errors)
	}
}

func TestUnchangedContentSkipsDelivery(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail}
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		return testDoc("same body"), nil
	})
	svc := startService(t, Config{}, fetch, testRegistry(t, email))

	first, err := svc.Submit(SubmitRequest{DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTerminal(t, svc, first.ID)
	if got := email.sent(); got != 1 {
		t.Fatalf("first sync: %d sends, want 1", got)
	}

	second, err := svc.Submit(SubmitRequest{DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	done := waitTerminal(t, svc, second.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("skipped job status = %s, want %s", done.Status, StatusCompleted)
	}
	if !done.Skipped() {
		t.Fatal("second sync of unchanged content should be marked skipped")
	}
	if got := email.sent(); got != 1 {
		t.Fatalf("unchanged content re-delivered: %d sends, want 1", got)
	}

	// Version stays at the first run's record.
	v, err := svc.Version("doc-1")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v.Hash != source.Fingerprint(testDoc("same body")) {
		t.Fatal("version hash drifted on a skipped run")
	}
}

func TestChangedContentDeliversAgain(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail}
	var mu sync.Mutex
	body := "v1"
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		mu.Lock()
		defer mu.Unlock()
		return testDoc(body), nil
	})
	svc := startService(t, Config{}, fetch, testRegistry(t, email))

	first, _ := svc.Submit(SubmitRequest{DocumentID: "doc-1"})
	waitTerminal(t, svc, first.ID)

	mu.Lock()
	body = "v2"
	mu.Unlock()

	second, _ := svc.Submit(SubmitRequest{DocumentID: "doc-1"})
	done := waitTerminal(t, svc, second.ID)
	if done.Skipped() {
		t.Fatal("changed content must not be skipped")
	}
	if got := email.sent(); got != 2 {
		t.Fatalf("sends = %d, want 2", got)
	}
}

func TestConcurrencyBound(t *testing.T) {
	t.Parallel()

	const workers = 2
	gate := make(chan struct{})
	email := &fakeSender{ch: delivery.ChannelEmail, gate: gate}
	seq := 0
	var mu sync.Mutex
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		mu.Lock()
		seq++
		n := seq
		mu.Unlock()
		return testDoc(fmt.Sprintf("body-%d", n)), nil
	})
	svc := startService(t, Config{MaxConcurrentJobs: workers}, fetch, testRegistry(t, email))

	ids := make([]string, 0, workers+5)
	for i := 0; i < workers+5; i++ {
		j, err := svc.Submit(SubmitRequest{DocumentID: fmt.Sprintf("doc-%d", i)})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids = append(ids, j.ID)
	}

	// Let the pool pick work up, then check the bound held.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if svc.Statistics().ActiveJobs == workers {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	st := svc.Statistics()
	if st.ActiveJobs != workers {
		t.Fatalf("active = %d, want exactly %d while senders are blocked", st.ActiveJobs, workers)
	}
	if st.ByStatus[StatusInProgress] > workers {
		t.Fatalf("in_progress = %d, exceeds worker bound %d", st.ByStatus[StatusInProgress], workers)
	}

	close(gate)
	for _, id := range ids {
		waitTerminal(t, svc, id)
	}
	if got := svc.Statistics().ActiveJobs; got != 0 {
		t.Fatalf("active after drain = %d, want 0", got)
	}
}

func TestScheduledSubmission(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail}
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		return testDoc("v1"), nil
	})
	svc := startService(t, Config{}, fetch, testRegistry(t, email))

	j, err := svc.Submit(SubmitRequest{
		DocumentID:   "doc-1",
		ScheduleTime: time.Now().Add(50 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if j.ScheduledFor == nil {
		t.Fatal("deferred job should record ScheduledFor")
	}

	got, err := svc.Job(j.ID)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("deferred job status = %s, want %s", got.Status, StatusPending)
	}

	done := waitTerminal(t, svc, j.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", done.Status, StatusCompleted)
	}
	if done.CompletedAt.Before(*j.ScheduledFor) {
		t.Fatal("job completed before its scheduled time")
	}
}

func TestRetryJob(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail, err: errors.New("smtp down")}
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		return testDoc("v1"), nil
	})
	svc := startService(t, Config{}, fetch, testRegistry(t, email))

	orig, err := svc.Submit(SubmitRequest{DocumentID: "doc-1", CorrelationID: "corr-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitTerminal(t, svc, orig.ID)

	// Heal the channel, then retry.
	email.mu.Lock()
	email.err = nil
	email.mu.Unlock()

	retry, err := svc.RetryJob(orig.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.ID == orig.ID {
		t.Fatal("retry must create a new job")
	}
	if retry.CorrelationID != "retry_corr-1" {
		t.Fatalf("correlation id = %q, want retry_corr-1", retry.CorrelationID)
	}
	if retry.DocumentID != orig.DocumentID {
		t.Fatalf("document = %q, want %q", retry.DocumentID, orig.DocumentID)
	}

	done := waitTerminal(t, svc, retry.ID)
	if done.Status != StatusCompleted {
		t.Fatalf("retried job status = %s, want %s", done.Status, StatusCompleted)
	}

	// The original stays terminal and untouched.
	again, _ := svc.Job(orig.ID)
	if again.Status != StatusFailed {
		t.Fatalf("original status = %s, want %s", again.Status, StatusFailed)
	}
}

func TestRetryJobInvalidState(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail}
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		return testDoc("v1"), nil
	})
	svc := startService(t, Config{}, fetch, testRegistry(t, email))

	j, _ := svc.Submit(SubmitRequest{DocumentID: "doc-1"})
	waitTerminal(t, svc, j.ID)

	if _, err := svc.RetryJob(j.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("retrying a completed job: got %v, want ErrInvalidState", err)
	}
	if _, err := svc.RetryJob("no-such-job"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("retrying unknown job: got %v, want ErrNotFound", err)
	}
}

func TestRetryFailedJobs(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail, err: errors.New("smtp down")}
	var mu sync.Mutex
	n := 0
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		mu.Lock()
		n++
		b := fmt.Sprintf("body-%d", n)
		mu.Unlock()
		return testDoc(b), nil
	})
	svc := startService(t, Config{}, fetch, testRegistry(t, email))

	j1, _ := svc.Submit(SubmitRequest{DocumentID: "doc-1"})
	j2, _ := svc.Submit(SubmitRequest{DocumentID: "doc-2"})
	waitTerminal(t, svc, j1.ID)
	waitTerminal(t, svc, j2.ID)

	email.mu.Lock()
	email.err = nil
	email.mu.Unlock()

	retried := svc.RetryFailedJobs(time.Hour)
	if len(retried) != 2 {
		t.Fatalf("retried %d jobs, want 2", len(retried))
	}
	for _, id := range retried {
		done := waitTerminal(t, svc, id)
		if done.Status != StatusCompleted {
			t.Fatalf("retry %s status = %s, want %s", id, done.Status, StatusCompleted)
		}
	}

	// A second sweep finds nothing new to retry within the window
	// because the originals are outside it once we shrink maxAge to zero.
	if again := svc.RetryFailedJobs(0); len(again) != 0 {
		t.Fatalf("zero-window sweep retried %d jobs, want 0", len(again))
	}
}

func TestRetryFailedJobsAgeIsCreationTime(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail, err: errors.New("smtp down")}
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		return testDoc("v1"), nil
	})
	svc := startService(t, Config{}, fetch, testRegistry(t, email))

	j, _ := svc.Submit(SubmitRequest{DocumentID: "doc-1"})
	waitTerminal(t, svc, j.ID)

	// Backdate creation past the window. CompletedAt stays recent; the
	// sweep keys off when the job was created, not when it finished.
	svc.mu.Lock()
	svc.jobs[j.ID].CreatedAt = svc.jobs[j.ID].CreatedAt.Add(-2 * time.Hour)
	svc.mu.Unlock()

	if retried := svc.RetryFailedJobs(time.Hour); len(retried) != 0 {
		t.Fatalf("stale job retried %d times, want 0", len(retried))
	}
}

func TestRecentJobsFilterAndOrder(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail}
	web := &fakeSender{ch: delivery.ChannelWebsite, err: errors.New("boom")}
	var mu sync.Mutex
	n := 0
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		mu.Lock()
		n++
		b := fmt.Sprintf("body-%d", n)
		mu.Unlock()
		return testDoc(b), nil
	})
	svc := startService(t, Config{MaxConcurrentJobs: 1}, fetch, testRegistry(t, email, web))

	a, _ := svc.Submit(SubmitRequest{DocumentID: "doc-a", Channels: []delivery.Channel{delivery.ChannelEmail}})
	waitTerminal(t, svc, a.ID)
	b, _ := svc.Submit(SubmitRequest{DocumentID: "doc-b", Channels: []delivery.Channel{delivery.ChannelWebsite}})
	waitTerminal(t, svc, b.ID)

	all := svc.RecentJobs(0, JobFilter{})
	if len(all) != 2 {
		t.Fatalf("jobs = %d, want 2", len(all))
	}
	if !all[0].CreatedAt.After(all[1].CreatedAt) && !all[0].CreatedAt.Equal(all[1].CreatedAt) {
		t.Fatal("jobs not ordered newest first")
	}

	failed := svc.RecentJobs(0, JobFilter{Status: StatusFailed})
	if len(failed) != 1 || failed[0].ID != b.ID {
		t.Fatalf("failed filter returned %d jobs", len(failed))
	}

	onEmail := svc.RecentJobs(0, JobFilter{Channel: delivery.ChannelEmail})
	if len(onEmail) != 1 || onEmail[0].ID != a.ID {
		t.Fatalf("channel filter returned %d jobs", len(onEmail))
	}

	if limited := svc.RecentJobs(1, JobFilter{}); len(limited) != 1 {
		t.Fatalf("limit 1 returned %d jobs", len(limited))
	}
}

func TestStatistics(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail}
	web := &fakeSender{ch: delivery.ChannelWebsite, err: errors.New("boom")}
	var mu sync.Mutex
	n := 0
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		mu.Lock()
		n++
		b := fmt.Sprintf("body-%d", n)
		mu.Unlock()
		return testDoc(b), nil
	})
	svc := startService(t, Config{MaxConcurrentJobs: 1}, fetch, testRegistry(t, email, web))

	ok, _ := svc.Submit(SubmitRequest{DocumentID: "doc-a", Channels: []delivery.Channel{delivery.ChannelEmail}})
	waitTerminal(t, svc, ok.ID)
	part, _ := svc.Submit(SubmitRequest{DocumentID: "doc-b"})
	waitTerminal(t, svc, part.ID)

	st := svc.Statistics()
	if st.TotalJobs != 2 {
		t.Fatalf("total = %d, want 2", st.TotalJobs)
	}
	if st.ByStatus[StatusCompleted] != 1 || st.ByStatus[StatusPartial] != 1 {
		t.Fatalf("by status = %v", st.ByStatus)
	}
	if st.SuccessRate != 0.5 {
		t.Fatalf("success rate = %v, want 0.5", st.SuccessRate)
	}
	if st.ByChannel[delivery.ChannelEmail].Succeeded != 2 {
		t.Fatalf("email succeeded = %d, want 2", st.ByChannel[delivery.ChannelEmail].Succeeded)
	}
	if st.ByChannel[delivery.ChannelWebsite].Failed != 1 {
		t.Fatalf("website failed = %d, want 1", st.ByChannel[delivery.ChannelWebsite].Failed)
	}
	if st.Documents != 2 {
		t.Fatalf("documents tracked = %d, want 2", st.Documents)
	}
}

func TestCleanupOldJobs(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail}
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		return testDoc("v1"), nil
	})
	svc := startService(t, Config{}, fetch, testRegistry(t, email))

	j, _ := svc.Submit(SubmitRequest{DocumentID: "doc-1"})
	waitTerminal(t, svc, j.ID)

	if removed := svc.CleanupOldJobs(time.Hour); removed != 0 {
		t.Fatalf("fresh job swept: removed = %d, want 0", removed)
	}

	// Move the clock past the retention window.
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if removed := svc.CleanupOldJobs(time.Hour); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := svc.Job(j.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("swept job still queryable: %v", err)
	}

	// The version table is untouched, so dedup still holds.
	if _, err := svc.Version("doc-1"); err != nil {
		t.Fatalf("version swept with job: %v", err)
	}
}

func TestDefaultChannelsFromRegistry(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail}
	web := &fakeSender{ch: delivery.ChannelWebsite}
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		return testDoc("v1"), nil
	})
	svc := startService(t, Config{}, fetch, testRegistry(t, email, web))

	j, err := svc.Submit(SubmitRequest{DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(j.Channels) != 2 {
		t.Fatalf("defaulted channels = %v, want both registered channels", j.Channels)
	}
}

func TestUnknownChannelFailsThatChannelOnly(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail}
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		return testDoc("v1"), nil
	})
	svc := startService(t, Config{}, fetch, testRegistry(t, email))

	j, err := svc.Submit(SubmitRequest{
		DocumentID: "doc-1",
		Channels:   []delivery.Channel{delivery.ChannelEmail, delivery.ChannelTelegram},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	done := waitTerminal(t, svc, j.ID)
	if done.Status != StatusPartial {
		t.Fatalf("status = %s, want %s", done.Status, StatusPartial)
	}
	if done.Results[delivery.ChannelTelegram].Error == "" {
		t.Fatal("unregistered channel should fail its result")
	}
}

func TestDocumentLocksReleased(t *testing.T) {
	t.Parallel()

	email := &fakeSender{ch: delivery.ChannelEmail}
	fetch := source.FetchFunc(func(ctx context.Context, ref string) (source.Document, error) {
		return testDoc("body-" + ref), nil
	})
	svc := startService(t, Config{MaxConcurrentJobs: 2}, fetch, testRegistry(t, email))

	ids := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		j, err := svc.Submit(SubmitRequest{DocumentID: fmt.Sprintf("doc-%d", i)})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, j.ID)
	}
	for _, id := range ids {
		waitTerminal(t, svc, id)
	}

	// Locks are ref-counted; the table must shrink back to zero once no
	// job is in flight, whatever mix of document ids passed through.
	svc.docMu.Lock()
	held := len(svc.docLocks)
	svc.docMu.Unlock()
	if held != 0 {
		t.Fatalf("lock table holds %d entries after drain, want 0", held)
	}
}
