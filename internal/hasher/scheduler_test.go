package hasher_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"lockss-go/internal/digest"
	"lockss-go/internal/hasher"
	"lockss-go/internal/testutil"
)

// funcJob adapts a function to hasher.Job.
type funcJob func(ctx context.Context, t *hasher.Throttle, emit func(hasher.Block)) error

func (f funcJob) Hash(ctx context.Context, t *hasher.Throttle, emit func(hasher.Block)) error {
	return f(ctx, t, emit)
}

func emitting(blocks ...hasher.Block) hasher.Job {
	return funcJob(func(ctx context.Context, t *hasher.Throttle, emit func(hasher.Block)) error {
		for _, b := range blocks {
			emit(b)
		}
		return nil
	})
}

func drain(t *testing.T, run *hasher.Run) []hasher.Block {
	t.Helper()
	var got []hasher.Block
	for b := range run.Blocks() {
		got = append(got, b)
	}
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	return got
}

func TestSchedule_QueueFull(t *testing.T) {
	s := hasher.NewScheduler(hasher.Options{Workers: 1, QueueSize: 1})

	if _, ok := s.Schedule(emitting(), time.Now()); !ok {
		t.Fatal("first Schedule() rejected")
	}
	if _, ok := s.Schedule(emitting(), time.Now()); ok {
		t.Error("Schedule() accepted a job beyond queue capacity")
	}
}

func TestSchedule_AfterStop(t *testing.T) {
	s := hasher.NewScheduler(hasher.Options{Workers: 1, QueueSize: 4})
	s.Start(t.Context())
	s.Stop()

	if _, ok := s.Schedule(emitting(), time.Now()); ok {
		t.Error("Schedule() accepted a job after Stop()")
	}
}

func TestRun_DeliversBlocksAndResult(t *testing.T) {
	clock := testutil.FixedClock()
	s := hasher.NewScheduler(hasher.Options{Workers: 2, QueueSize: 4, Clock: clock})
	s.Start(t.Context())
	defer s.Stop()

	run, ok := s.Schedule(emitting(
		hasher.Block{URL: "a", FilteredBytes: 10},
		hasher.Block{URL: "b", FilteredBytes: 5},
	), clock.Now().Add(time.Hour))
	if !ok {
		t.Fatal("Schedule() rejected")
	}

	blocks := drain(t, run)
	if len(blocks) != 2 || blocks[0].URL != "a" || blocks[1].URL != "b" {
		t.Errorf("blocks = %+v, want a then b", blocks)
	}
	res := run.Result()
	if res.Blocks != 2 || res.Bytes != 15 {
		t.Errorf("Result() = %+v, want 2 blocks and 15 bytes", res)
	}
	if res.Overrun {
		t.Error("Result().Overrun = true, want false")
	}
}

func TestRun_OverrunCompletes(t *testing.T) {
	clock := testutil.FixedClock()
	s := hasher.NewScheduler(hasher.Options{Workers: 1, QueueSize: 1, Clock: clock})
	s.Start(t.Context())
	defer s.Stop()

	job := funcJob(func(ctx context.Context, th *hasher.Throttle, emit func(hasher.Block)) error {
		clock.Advance(time.Minute)
		emit(hasher.Block{URL: "late"})
		return nil
	})
	run, ok := s.Schedule(job, clock.Now().Add(time.Second))
	if !ok {
		t.Fatal("Schedule() rejected")
	}

	blocks := drain(t, run)
	if len(blocks) != 1 {
		t.Errorf("got %d blocks, want 1", len(blocks))
	}
	if !run.Result().Overrun {
		t.Error("Result().Overrun = false, want true")
	}
}

func TestRun_JobError(t *testing.T) {
	s := hasher.NewScheduler(hasher.Options{Workers: 1, QueueSize: 1})
	s.Start(t.Context())
	defer s.Stop()

	boom := errors.New("listing failed")
	run, _ := s.Schedule(funcJob(func(context.Context, *hasher.Throttle, func(hasher.Block)) error {
		return boom
	}), time.Now().Add(time.Hour))

	drain(t, run)
	if !errors.Is(run.Result().Err, boom) {
		t.Errorf("Result().Err = %v, want %v", run.Result().Err, boom)
	}
}

func TestRun_CancelledBlocksNotCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	s := hasher.NewScheduler(hasher.Options{Workers: 1, QueueSize: 1})
	s.Start(ctx)
	defer s.Stop()

	emitted := make(chan struct{})
	job := funcJob(func(ctx context.Context, th *hasher.Throttle, emit func(hasher.Block)) error {
		emit(hasher.Block{URL: "a", FilteredBytes: 10})
		close(emitted)
		<-ctx.Done()
		emit(hasher.Block{URL: "b", FilteredBytes: 20})
		emit(hasher.Block{URL: "c", FilteredBytes: 30})
		return ctx.Err()
	})
	run, ok := s.Schedule(job, time.Now().Add(time.Hour))
	if !ok {
		t.Fatal("Schedule() rejected")
	}

	if b := <-run.Blocks(); b.URL != "a" {
		t.Fatalf("first block = %+v, want a", b)
	}
	<-emitted
	cancel()

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after cancellation")
	}
	res := run.Result()
	if res.Blocks != 1 || res.Bytes != 10 {
		t.Errorf("Result() = %+v, want only the delivered block counted", res)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Errorf("Result().Err = %v, want context.Canceled", res.Err)
	}
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		name  string
		rate  int64
		bytes int64
		want  time.Duration
	}{
		{"rate limited", 1000, 10000, 10 * time.Second},
		{"small floors to minimum", 1000, 10, time.Second},
		{"default speed", 0, 10 * hasher.DefaultSpeed, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := hasher.NewScheduler(hasher.Options{BytesPerSecond: tt.rate})
			if got := s.Estimate(tt.bytes); got != tt.want {
				t.Errorf("Estimate(%d) = %v, want %v", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestContentJob(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	au := testutil.CreateTestAU(t, db, "au-1", "http://example.com/")
	repo, _ := testutil.NewTestRepository(t, db)

	contents := map[string]string{
		"http://example.com/a": "alpha",
		"http://example.com/b": strings.Repeat("beta", 1000),
	}
	for url, c := range contents {
		testutil.CommitVersion(t, repo, au.ID, url, c)
	}
	gone := testutil.CommitVersion(t, repo, au.ID, "http://example.com/gone", "deleted")
	if err := repo.Delete(t.Context(), gone); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	sha1, err := digest.Lookup("SHA-1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}

	s := hasher.NewScheduler(hasher.Options{Workers: 1, QueueSize: 1, StepSize: 128, BytesPerSecond: 1 << 30})
	s.Start(t.Context())
	defer s.Stop()

	run, ok := s.Schedule(&hasher.ContentJob{Store: repo, AU: au, Algorithms: []digest.Algorithm{sha1}}, time.Now().Add(time.Hour))
	if !ok {
		t.Fatal("Schedule() rejected")
	}

	blocks := drain(t, run)
	if len(blocks) != len(contents) {
		t.Fatalf("got %d blocks, want %d", len(blocks), len(contents))
	}
	var total int64
	for _, b := range blocks {
		if b.Err != nil {
			t.Errorf("block %s error = %v", b.URL, b.Err)
			continue
		}
		want := testutil.SHA1Hex([]byte(contents[b.URL]))
		if len(b.Digests) != 1 || b.Digests[0] != want {
			t.Errorf("block %s digests = %v, want [%s]", b.URL, b.Digests, want)
		}
		if b.Version == nil || b.Version.URL != b.URL {
			t.Errorf("block %s has no matching version snapshot", b.URL)
		}
		total += b.FilteredBytes
	}
	if res := run.Result(); res.Bytes != total || res.Err != nil {
		t.Errorf("Result() = %+v, want %d bytes and no error", res, total)
	}
}

func TestThrottle_StepSize(t *testing.T) {
	s := hasher.NewScheduler(hasher.Options{StepSize: 4})
	var step int
	job := funcJob(func(ctx context.Context, th *hasher.Throttle, emit func(hasher.Block)) error {
		r := th.Reader(ctx, strings.NewReader("0123456789"))
		buf := make([]byte, 100)
		n, err := r.Read(buf)
		if err != nil && err != io.EOF {
			return err
		}
		step = n
		return nil
	})
	s.Start(t.Context())
	defer s.Stop()

	run, _ := s.Schedule(job, time.Now().Add(time.Hour))
	drain(t, run)
	if step != 4 {
		t.Errorf("first read returned %d bytes, want 4", step)
	}
}
