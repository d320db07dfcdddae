// Package selector places new content on the least full blob collection
// and classifies collections against the warn and full thresholds.
package selector

import (
	"fmt"
	"sync"
	"time"

	"lockss-go/internal/lockss"
)

// Collection is the part of a blob store the selector needs.
type Collection interface {
	Name() string
	DiskUsage() (lockss.DiskUsage, error)
}

// Level classifies a collection's usage against the thresholds.
type Level int

const (
	LevelOK Level = iota
	LevelWarn
	LevelFull
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelFull:
		return "full"
	default:
		return "ok"
	}
}

// Options configure a Selector. WarnPercent and FullPercent are percent used.
type Options struct {
	WarnPercent float64
	FullPercent float64
	// CacheTTL reuses a usage reading for this long. Zero reads every time.
	CacheTTL time.Duration
	Clock    lockss.Clock
	Logger   lockss.Logger
}

type reading struct {
	usage lockss.DiskUsage
	at    time.Time
}

// Selector implements the repository's collection choice.
type Selector struct {
	collections map[string]Collection
	warn, full  float64
	ttl         time.Duration
	clock       lockss.Clock
	logger      lockss.Logger

	mu    sync.Mutex
	cache map[string]reading
}

// New creates a Selector over collections.
func New(opts Options, collections ...Collection) *Selector {
	s := &Selector{
		collections: make(map[string]Collection, len(collections)),
		warn:        opts.WarnPercent,
		full:        opts.FullPercent,
		ttl:         opts.CacheTTL,
		clock:       opts.Clock,
		logger:      opts.Logger,
		cache:       make(map[string]reading),
	}
	if s.clock == nil {
		s.clock = lockss.RealClock{}
	}
	if s.logger == nil {
		s.logger = lockss.NewNopLogger()
	}
	for _, c := range collections {
		s.collections[c.Name()] = c
	}
	return s
}

// Thresholds returns the warn and full percentages.
func (s *Selector) Thresholds() (warn, full float64) {
	return s.warn, s.full
}

// DiskUsage reports usage of the named collection.
func (s *Selector) DiskUsage(name string) (lockss.DiskUsage, error) {
	c, ok := s.collections[name]
	if !ok {
		return lockss.DiskUsage{}, fmt.Errorf("collection %q: %w", name, lockss.ErrNotFound)
	}

	now := s.clock.Now()
	if s.ttl > 0 {
		s.mu.Lock()
		r, ok := s.cache[name]
		s.mu.Unlock()
		if ok && now.Sub(r.at) < s.ttl {
			return r.usage, nil
		}
	}

	usage, err := c.DiskUsage()
	if err != nil {
		return lockss.DiskUsage{}, fmt.Errorf("disk usage of %s: %w", name, err)
	}
	if s.ttl > 0 {
		s.mu.Lock()
		s.cache[name] = reading{usage: usage, at: now}
		s.mu.Unlock()
	}
	return usage, nil
}

// Classify returns the level of a usage reading.
func (s *Selector) Classify(usage lockss.DiskUsage) Level {
	switch {
	case usage.PercentUsed >= s.full:
		return LevelFull
	case usage.PercentUsed >= s.warn:
		return LevelWarn
	default:
		return LevelOK
	}
}

// Status reports the level and usage of the named collection.
func (s *Selector) Status(name string) (Level, lockss.DiskUsage, error) {
	usage, err := s.DiskUsage(name)
	if err != nil {
		return LevelOK, usage, err
	}
	return s.Classify(usage), usage, nil
}

// SelectLeastFull returns the candidate with the lowest percent used.
// Candidates at or above the full threshold, unknown to the selector or
// whose usage cannot be read are never chosen. Ties go to the earlier
// candidate. ErrNoSpace is returned when nothing qualifies.
func (s *Selector) SelectLeastFull(candidates []string) (string, error) {
	best := ""
	bestPercent := 0.0
	for _, name := range candidates {
		usage, err := s.DiskUsage(name)
		if err != nil {
			s.logger.Warn("skipping collection", "collection", name, "error", err)
			continue
		}
		switch s.Classify(usage) {
		case LevelFull:
			s.logger.Warn("collection full", "collection", name, "percent_used", usage.PercentUsed)
			continue
		case LevelWarn:
			s.logger.Info("collection nearly full", "collection", name, "percent_used", usage.PercentUsed)
		}
		if best == "" || usage.PercentUsed < bestPercent {
			best, bestPercent = name, usage.PercentUsed
		}
	}
	if best == "" {
		return "", fmt.Errorf("none of %d candidates below %.1f%% used: %w", len(candidates), s.full, lockss.ErrNoSpace)
	}
	return best, nil
}
