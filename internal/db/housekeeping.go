package db

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Housekeeper runs periodic database maintenance: pruning old change
// records on a schedule, plus any caller-supplied jobs such as a
// nightly library rescan.
type Housekeeper struct {
	pair      *DBPair
	retention time.Duration
	logger    *log.Logger
	cron      *cron.Cron
}

func NewHousekeeper(pair *DBPair, retention time.Duration, logger *log.Logger) *Housekeeper {
	return &Housekeeper{
		pair:      pair,
		retention: retention,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start schedules the prune job and begins the cron loop.
func (h *Housekeeper) Start(pruneSpec string) error {
	if _, err := h.cron.AddFunc(pruneSpec, func() {
		if err := h.PruneChanges(); err != nil {
			h.logger.Printf("DB: prune changes failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule prune: %w", err)
	}
	h.cron.Start()
	return nil
}

// AddJob schedules an extra maintenance job on the shared cron loop.
func (h *Housekeeper) AddJob(spec string, job func()) error {
	if _, err := h.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}
	return nil
}

// Stop halts the cron loop, waiting for running jobs to finish.
func (h *Housekeeper) Stop() {
	ctx := h.cron.Stop()
	<-ctx.Done()
}

// PruneChanges deletes change records older than the retention window.
func (h *Housekeeper) PruneChanges() error {
	cutoff := time.Now().UTC().Add(-h.retention).Format("2006-01-02 15:04:05")
	res, err := h.pair.Writer().Exec("DELETE FROM player_changes WHERE changed_at < ?", cutoff)
	if err != nil {
		return fmt.Errorf("prune player_changes: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		h.logger.Printf("DB: pruned %d change records older than %s", n, cutoff)
	}
	return nil
}
