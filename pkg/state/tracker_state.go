package state

import (
	"context"
	"time"

	"github.com/heitortanoue/irhit/pkg/gps"
	"github.com/heitortanoue/irhit/pkg/hit"
)

// LinkStatus describes the uplink as last reported.
type LinkStatus struct {
	LastEvent string    `json:"last_event"`
	LastAt    time.Time `json:"last_at"`
	Joined    bool      `json:"joined"`
	Uplinks   uint64    `json:"uplinks"`
	Failures  uint64    `json:"failures"`
}

// TrackerState is the state shared between the tracker's tasks. Every
// accessor waits at most the lock timeout and then fails with
// ErrLockTimeout.
type TrackerState struct {
	nodeID  string
	lock    *TimedLock
	history int

	fix        gps.Fix
	link       LinkStatus
	cheatUntil time.Time
	hits       []hit.Record
	totalHits  uint64
}

// NewTrackerState keeps the last history hit records.
func NewTrackerState(nodeID string, lockTimeout time.Duration, history int) *TrackerState {
	if history <= 0 {
		history = 50
	}
	return &TrackerState{
		nodeID:  nodeID,
		lock:    NewTimedLock(lockTimeout),
		history: history,
	}
}

// UpdateFix stores the latest GPS fix.
func (s *TrackerState) UpdateFix(ctx context.Context, fix gps.Fix) error {
	if err := s.lock.Lock(ctx); err != nil {
		return err
	}
	defer s.lock.Unlock()

	s.fix = fix
	return nil
}

// Fix returns the latest GPS fix.
func (s *TrackerState) Fix(ctx context.Context) (gps.Fix, error) {
	if err := s.lock.Lock(ctx); err != nil {
		return gps.Fix{}, err
	}
	defer s.lock.Unlock()

	return s.fix, nil
}

// UpdateLink applies fn to the link status under the lock.
func (s *TrackerState) UpdateLink(ctx context.Context, fn func(*LinkStatus)) error {
	if err := s.lock.Lock(ctx); err != nil {
		return err
	}
	defer s.lock.Unlock()

	fn(&s.link)
	return nil
}

// Link returns a copy of the link status.
func (s *TrackerState) Link(ctx context.Context) (LinkStatus, error) {
	if err := s.lock.Lock(ctx); err != nil {
		return LinkStatus{}, err
	}
	defer s.lock.Unlock()

	return s.link, nil
}

// RaiseCheatAlert keeps the cheat flag raised until until.
func (s *TrackerState) RaiseCheatAlert(ctx context.Context, until time.Time) error {
	if err := s.lock.Lock(ctx); err != nil {
		return err
	}
	defer s.lock.Unlock()

	if until.After(s.cheatUntil) {
		s.cheatUntil = until
	}
	return nil
}

// CheatAlert reports whether the cheat flag is raised at now.
func (s *TrackerState) CheatAlert(ctx context.Context, now time.Time) (bool, error) {
	if err := s.lock.Lock(ctx); err != nil {
		return false, err
	}
	defer s.lock.Unlock()

	return now.Before(s.cheatUntil), nil
}

// RecordHit appends rec to the history.
func (s *TrackerState) RecordHit(ctx context.Context, rec hit.Record) error {
	if err := s.lock.Lock(ctx); err != nil {
		return err
	}
	defer s.lock.Unlock()

	s.hits = append(s.hits, rec)
	if len(s.hits) > s.history {
		s.hits = append(s.hits[:0:0], s.hits[len(s.hits)-s.history:]...)
	}
	s.totalHits++
	return nil
}

// RecentHits returns up to limit records, newest last. A limit of zero or
// less returns the whole history.
func (s *TrackerState) RecentHits(ctx context.Context, limit int) ([]hit.Record, error) {
	if err := s.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer s.lock.Unlock()

	start := 0
	if limit > 0 && len(s.hits) > limit {
		start = len(s.hits) - limit
	}
	return append([]hit.Record(nil), s.hits[start:]...), nil
}

// GetStats returns a snapshot for the status API.
func (s *TrackerState) GetStats(ctx context.Context) (map[string]interface{}, error) {
	if err := s.lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer s.lock.Unlock()

	return map[string]interface{}{
		"node_id":     s.nodeID,
		"gps_valid":   s.fix.Valid,
		"satellites":  s.fix.Satellites,
		"total_hits":  s.totalHits,
		"stored_hits": len(s.hits),
		"cheat_until": s.cheatUntil,
		"link":        s.link,
	}, nil
}

// NodeID returns the tracker ID.
func (s *TrackerState) NodeID() string {
	return s.nodeID
}
