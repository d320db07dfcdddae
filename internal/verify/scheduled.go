package verify

import (
	"context"
	"errors"
	"sync"
	"time"

	"lockss-go/internal/digest"
	"lockss-go/internal/hasher"
	"lockss-go/internal/lockss"
)

// HashScheduler runs hash jobs in the background.
type HashScheduler interface {
	Schedule(job hasher.Job, deadline time.Time) (*hasher.Run, bool)
	Estimate(bytes int64) time.Duration
}

// ScheduledOptions configure a ScheduledVerifier.
type ScheduledOptions struct {
	Algorithm        string
	ScheduleFactor   int
	ScheduleAddendum time.Duration

	Store       lockss.ContentStore
	Scheduler   HashScheduler
	PollManager lockss.PollManager
	Reporter    lockss.DamageReporter // optional, told about every mismatched URL
	Recorder    Recorder              // optional
	Clock       lockss.Clock
	Logger      lockss.Logger
}

// ScheduledVerifier submits whole-AU hash runs and escalates the first
// mismatch of each run to a high priority repair poll.
type ScheduledVerifier struct {
	alg      digest.Algorithm
	factor   int
	addendum time.Duration
	store    lockss.ContentStore
	sched    HashScheduler
	polls    lockss.PollManager
	reporter lockss.DamageReporter
	recorder Recorder
	clock    lockss.Clock
	logger   lockss.Logger

	wg sync.WaitGroup
}

// NewScheduledVerifier fails with ErrVerificationUnavailable when the
// algorithm is empty or unsupported.
func NewScheduledVerifier(opts ScheduledOptions) (*ScheduledVerifier, error) {
	alg, err := lookupAlgorithm(opts.Algorithm)
	if err != nil {
		return nil, err
	}
	if opts.Store == nil || opts.Scheduler == nil || opts.PollManager == nil {
		return nil, errors.New("scheduled verifier requires a store, a hash scheduler and a poll manager")
	}

	v := &ScheduledVerifier{
		alg:      alg,
		factor:   opts.ScheduleFactor,
		addendum: opts.ScheduleAddendum,
		store:    opts.Store,
		sched:    opts.Scheduler,
		polls:    opts.PollManager,
		reporter: opts.Reporter,
		recorder: opts.Recorder,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	if v.recorder == nil {
		v.recorder = nopRecorder{}
	}
	if v.clock == nil {
		v.clock = lockss.RealClock{}
	}
	if v.logger == nil {
		v.logger = lockss.NewNopLogger()
	}
	return v, nil
}

// Deadline returns the budget for hashing size bytes, starting now.
func (v *ScheduledVerifier) Deadline(size int64) time.Time {
	estimate := v.sched.Estimate(size)
	return v.clock.Now().Add(estimate*time.Duration(v.factor) + v.addendum)
}

// ScheduleVerification submits a hash run over the AU's current content.
// It returns false when the scheduler refuses the job. The run's blocks are
// consumed on a separate goroutine; Wait blocks until all runs finish.
func (v *ScheduledVerifier) ScheduleVerification(ctx context.Context, au *lockss.ArchivalUnit) (bool, error) {
	size, err := v.store.TreeContentSize(ctx, au.ID, au.BaseURL, lockss.SizeLatestOnly, true)
	if errors.Is(err, lockss.ErrNotFound) {
		size = 0
	} else if err != nil {
		return false, err
	}

	deadline := v.Deadline(size)
	job := &hasher.ContentJob{Store: v.store, AU: au, Algorithms: []digest.Algorithm{v.alg}}
	run, ok := v.sched.Schedule(job, deadline)
	if !ok {
		v.logger.Info("hash scheduler refused verification", "au", au.ID, "size", size)
		return false, nil
	}

	v.logger.Debug("scheduled verification", "au", au.ID, "size", size, "deadline", deadline)
	v.wg.Add(1)
	go v.consume(context.WithoutCancel(ctx), au, run)
	return true, nil
}

// Wait blocks until every accepted run has been consumed.
func (v *ScheduledVerifier) Wait() {
	v.wg.Wait()
}

func (v *ScheduledVerifier) consume(ctx context.Context, au *lockss.ArchivalUnit, run *hasher.Run) {
	defer v.wg.Done()

	var escalate sync.Once
	mismatches := 0
	for b := range run.Blocks() {
		if !v.mismatched(au, b) {
			continue
		}
		mismatches++
		if v.reporter != nil {
			if err := v.reporter.ReportMismatch(ctx, au, b.URL); err != nil {
				v.logger.Warn("failed to record damage", "au", au.ID, "url", b.URL, "error", err)
			}
		}
		escalate.Do(func() {
			err := v.polls.EnqueueRepairPoll(ctx, au, lockss.PriorityHigh)
			v.recorder.RepairEnqueued(au.ID, err)
			if err != nil {
				v.logger.Warn("failed to enqueue repair poll", "au", au.ID, "url", b.URL, "error", err)
				return
			}
			v.logger.Info("enqueued repair poll", "au", au.ID, "url", b.URL)
		})
	}

	<-run.Done()
	res := run.Result()
	v.recorder.RunFinished(au.ID, res.Bytes, res.Overrun)
	if res.Err != nil {
		v.logger.Error("verification run failed", "au", au.ID, "bytes", res.Bytes, "error", res.Err)
		return
	}
	v.logger.Info("verification run finished", "au", au.ID, "blocks", res.Blocks,
		"bytes", res.Bytes, "mismatches", mismatches)
}

// mismatched reports whether a block fails verification. Hashing errors
// count as mismatches; a version without a checksum under the configured
// algorithm makes no claim.
func (v *ScheduledVerifier) mismatched(au *lockss.ArchivalUnit, b hasher.Block) bool {
	if b.Err != nil {
		v.logger.Warn("hashing failed", "au", au.ID, "url", b.URL, "error", b.Err)
		v.recorder.FileVerified(au.ID, false)
		return true
	}
	expected, ok := claimedChecksum(v.alg, b.Version)
	if !ok {
		return false
	}
	match := len(b.Digests) > 0 && digest.Equal(b.Digests[0], expected)
	v.recorder.FileVerified(au.ID, match)
	if !match {
		v.logger.Warn("checksum mismatch", "au", au.ID, "url", b.URL, "version", b.Version.Number,
			"expected", expected, "actual", b.Digests)
	}
	return !match
}
