package repair

import (
	"context"
	"fmt"

	"lockss-go/internal/lockss"
)

// DamageLedger is a DamageReporter that records damaged URLs until an
// operator clears them.
type DamageLedger struct {
	db     lockss.Database
	clock  lockss.Clock
	logger lockss.Logger
}

var _ lockss.DamageReporter = (*DamageLedger)(nil)

func NewDamageLedger(db lockss.Database, clock lockss.Clock, logger lockss.Logger) *DamageLedger {
	if clock == nil {
		clock = lockss.RealClock{}
	}
	if logger == nil {
		logger = lockss.NewNopLogger()
	}
	return &DamageLedger{db: db, clock: clock, logger: logger}
}

func (d *DamageLedger) ReportMismatch(ctx context.Context, au *lockss.ArchivalUnit, url string) error {
	if err := d.db.MarkDamaged(au.ID, url, d.clock.Now()); err != nil {
		return fmt.Errorf("recording damage of %s: %w", url, err)
	}
	d.logger.Warn("marked damaged", "au", au.ID, "url", url)
	return nil
}

// List returns damage records for auID, or for every AU when auID is empty.
func (d *DamageLedger) List(auID string) ([]*lockss.DamageRecord, error) {
	return d.db.ListDamaged(auID)
}

// Clear removes the record for url once its content has been repaired.
func (d *DamageLedger) Clear(auID, url string) error {
	if err := d.db.ClearDamaged(auID, url); err != nil {
		return err
	}
	d.logger.Info("cleared damage", "au", auID, "url", url)
	return nil
}
