// Package repair persists the requests this box hands to the poll
// subsystem and the URLs that failed verification.
package repair

import (
	"context"
	"fmt"
	"sync"

	"lockss-go/internal/lockss"
)

// StatePending marks a request not yet taken by a poller.
const StatePending = "pending"

// Queue is a PollManager that records repair poll requests in the
// database for the poll subsystem to pick up.
type Queue struct {
	db         lockss.Database
	maxPending int
	clock      lockss.Clock
	logger     lockss.Logger

	mu sync.Mutex
}

var _ lockss.PollManager = (*Queue)(nil)

// NewQueue creates a Queue. maxPending <= 0 leaves the queue unbounded.
func NewQueue(db lockss.Database, maxPending int, clock lockss.Clock, logger lockss.Logger) *Queue {
	if clock == nil {
		clock = lockss.RealClock{}
	}
	if logger == nil {
		logger = lockss.NewNopLogger()
	}
	return &Queue{db: db, maxPending: maxPending, clock: clock, logger: logger}
}

// EnqueueRepairPoll records a request for a poll on au. An AU keeps at most
// one pending request: a request at the same or lower priority is absorbed,
// a higher one raises the pending request's priority. ErrQueueFull is
// returned once maxPending requests are waiting.
func (q *Queue) EnqueueRepairPoll(ctx context.Context, au *lockss.ArchivalUnit, priority lockss.Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	existing, err := q.db.FindPendingRepairRequest(au.ID)
	if err != nil {
		return fmt.Errorf("finding pending repair poll for %s: %w", au.ID, err)
	}
	if existing != nil {
		if existing.Priority >= priority {
			q.logger.Debug("repair poll already pending", "au", au.ID, "priority", existing.Priority)
			return nil
		}
		if err := q.db.RaiseRepairPriority(existing.ID, priority); err != nil {
			return fmt.Errorf("escalating repair poll for %s: %w", au.ID, err)
		}
		q.logger.Info("repair poll escalated", "au", au.ID, "from", existing.Priority, "to", priority, "request", existing.ID)
		return nil
	}

	if q.maxPending > 0 {
		pending, err := q.db.CountPendingRepairRequests()
		if err != nil {
			return fmt.Errorf("counting repair polls: %w", err)
		}
		if pending >= q.maxPending {
			return fmt.Errorf("repair poll for %s: %d pending: %w", au.ID, pending, lockss.ErrQueueFull)
		}
	}

	req := &lockss.RepairRequest{
		AuID:        au.ID,
		Priority:    priority,
		State:       StatePending,
		RequestedAt: q.clock.Now(),
	}
	if err := q.db.CreateRepairRequest(req); err != nil {
		return fmt.Errorf("recording repair poll for %s: %w", au.ID, err)
	}
	q.logger.Info("repair poll queued", "au", au.ID, "priority", priority, "request", req.ID)
	return nil
}

// List returns up to limit requests, highest priority first.
func (q *Queue) List(limit int) ([]*lockss.RepairRequest, error) {
	return q.db.ListRepairRequests(limit)
}
