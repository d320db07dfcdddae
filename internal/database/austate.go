package database

import (
	"context"
	"fmt"

	"lockss-go/internal/lockss"
)

type auStateStore struct {
	db lockss.Database
}

// NewAuStateStore exposes the au_states table as a lockss.AuStateStore.
func NewAuStateStore(db lockss.Database) lockss.AuStateStore {
	return &auStateStore{db: db}
}

func (s *auStateStore) LoadAuState(_ context.Context, auID string) (*lockss.AuState, error) {
	state, err := s.db.FindAuState(auID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("au state %s: %w", auID, lockss.ErrNotFound)
	}
	return state, nil
}

func (s *auStateStore) StoreAuState(_ context.Context, state *lockss.AuState) error {
	return s.db.SaveAuState(state)
}
