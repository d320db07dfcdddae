// Package subscription infers, fetch by fetch, whether a publisher grants
// this box subscriber access from its institutional address or only
// archive access from its CLOCKSS address.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"lockss-go/internal/lockss"
)

// ProbeState tracks which addresses one logical fetch has tried.
type ProbeState int

const (
	ProbeNone ProbeState = iota
	ProbedInstitutional
	ProbedClockss
)

func (s ProbeState) String() string {
	switch s {
	case ProbedInstitutional:
		return "probed_institutional"
	case ProbedClockss:
		return "probed_clockss"
	default:
		return "none"
	}
}

// Recorder receives probe outcomes. Optional.
type Recorder interface {
	ProbeFinished(auID string, status lockss.SubscriptionStatus)
}

// Options configure a Probe. Nil addresses let the system pick the source.
type Options struct {
	DetectionEnabled  bool
	InstitutionalAddr net.IP
	ClockssAddr       net.IP

	Fetcher  lockss.Fetcher
	States   lockss.AuStateStore
	Recorder Recorder
	Clock    lockss.Clock
	Logger   lockss.Logger
}

// Probe wraps a Fetcher with the subscription state machine.
type Probe struct {
	detection     bool
	institutional net.IP
	clockss       net.IP
	fetcher       lockss.Fetcher
	states        lockss.AuStateStore
	recorder      Recorder
	clock         lockss.Clock
	logger        lockss.Logger

	// mu serializes state read-modify-write across concurrent fetches.
	mu sync.Mutex
}

// NewProbe creates a Probe.
func NewProbe(opts Options) (*Probe, error) {
	if opts.Fetcher == nil || opts.States == nil {
		return nil, errors.New("subscription probe requires a fetcher and a state store")
	}
	p := &Probe{
		detection:     opts.DetectionEnabled,
		institutional: opts.InstitutionalAddr,
		clockss:       opts.ClockssAddr,
		fetcher:       opts.Fetcher,
		states:        opts.States,
		recorder:      opts.Recorder,
		clock:         opts.Clock,
		logger:        opts.Logger,
	}
	if p.clock == nil {
		p.clock = lockss.RealClock{}
	}
	if p.logger == nil {
		p.logger = lockss.NewNopLogger()
	}
	return p, nil
}

// next returns the probe state and bind address for the next attempt, or
// false when no attempt remains.
func (p *Probe) next(status lockss.SubscriptionStatus, probe ProbeState) (ProbeState, net.IP, bool) {
	if status == lockss.SubscriptionNo {
		if probe == ProbeNone {
			return ProbedClockss, p.clockss, true
		}
		return probe, nil, false
	}
	switch probe {
	case ProbeNone:
		return ProbedInstitutional, p.institutional, true
	case ProbedInstitutional:
		return ProbedClockss, p.clockss, true
	default:
		return probe, nil, false
	}
}

// Fetch retrieves url for au. Only a permission failure moves on to the
// next address; any other error is returned at once without touching the
// AU's status. On success the status records which address worked; when
// every address is refused it becomes Inaccessible.
func (p *Probe) Fetch(ctx context.Context, au *lockss.ArchivalUnit, url string) (*lockss.FetchResult, error) {
	if !p.detection {
		return p.fetchUnmaintained(ctx, au, url)
	}

	state, err := p.states.LoadAuState(ctx, au.ID)
	if err != nil {
		return nil, fmt.Errorf("loading state of %s: %w", au.ID, err)
	}
	status := state.SubscriptionStatus
	if status == lockss.SubscriptionNotMaintained {
		// Detection was switched on after running without it.
		status = lockss.SubscriptionUnknown
	}

	probe := ProbeNone
	for {
		nextProbe, addr, ok := p.next(status, probe)
		if !ok {
			// Unreachable: the loop returns before exhausting addresses.
			return nil, fmt.Errorf("no address left to fetch %s", url)
		}
		probe = nextProbe

		res, err := p.fetcher.Fetch(ctx, url, addr)
		if err == nil {
			newStatus := lockss.SubscriptionNo
			if probe == ProbedInstitutional {
				newStatus = lockss.SubscriptionYes
			}
			if err := p.setStatus(ctx, au.ID, newStatus); err != nil {
				res.Body.Close()
				return nil, err
			}
			return res, nil
		}
		if !lockss.IsPermissionDenied(err) {
			return nil, err
		}
		if _, _, more := p.next(status, probe); !more {
			if serr := p.setStatus(ctx, au.ID, lockss.SubscriptionInaccessible); serr != nil {
				return nil, errors.Join(err, serr)
			}
			return nil, err
		}
		p.logger.Info("permission denied, retrying from alternate address",
			"au", au.ID, "url", url, "probe", probe, "error", err)
	}
}

func (p *Probe) fetchUnmaintained(ctx context.Context, au *lockss.ArchivalUnit, url string) (*lockss.FetchResult, error) {
	res, err := p.fetcher.Fetch(ctx, url, p.clockss)
	if serr := p.setStatus(ctx, au.ID, lockss.SubscriptionNotMaintained); serr != nil {
		if res != nil {
			res.Body.Close()
		}
		return nil, errors.Join(err, serr)
	}
	return res, err
}

// setStatus persists status when it differs from the stored one.
func (p *Probe) setStatus(ctx context.Context, auID string, status lockss.SubscriptionStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.recorder != nil {
		p.recorder.ProbeFinished(auID, status)
	}

	state, err := p.states.LoadAuState(ctx, auID)
	if err != nil {
		return fmt.Errorf("loading state of %s: %w", auID, err)
	}
	if state.SubscriptionStatus == status {
		return nil
	}

	old := state.SubscriptionStatus
	state.SubscriptionStatus = status
	state.UpdatedAt = p.clock.Now()
	if err := p.states.StoreAuState(ctx, state); err != nil {
		return fmt.Errorf("storing state of %s: %w", auID, err)
	}
	p.logger.Info("subscription status changed", "au", auID, "from", old, "to", status)
	return nil
}
