// ABOUTME: Poll loop and worker pool for cadence-triggered syncs.
// ABOUTME: Each cycle lists due schedules and runs them with bounded parallelism.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/harperreed/healthsync/internal/models"
	"github.com/harperreed/healthsync/internal/syncerr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyRunning is returned when Start is called on a running poll loop.
	ErrAlreadyRunning = errors.New("orchestrator already running")
)

// RunDue syncs every device whose schedule is due and returns how many syncs ran.
func (o *Orchestrator) RunDue(ctx context.Context) (int, error) {
	now := o.now().UTC()
	due, err := o.store.ListDueSchedules(ctx, now, o.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	ran := make(chan struct{}, len(due))

	for _, sched := range due {
		if o.isSyncing(sched.DeviceID) {
			continue
		}
		dev, err := o.store.GetDevice(ctx, sched.DeviceID)
		if err != nil {
			o.logger.Warn("skip due schedule", zap.String("device_id", sched.DeviceID.String()), zap.Error(err))
			continue
		}
		if !dev.Settings.SyncEnabled {
			o.skipDisabled(ctx, dev, sched, now)
			continue
		}
		marked, err := o.store.SetSyncState(ctx, dev.ID, models.SyncStateScheduled, now)
		if err != nil {
			o.logger.Warn("mark device scheduled", zap.String("device_id", dev.ID.String()), zap.Error(err))
			continue
		}
		if !marked {
			continue
		}

		g.Go(func() error {
			_, err := o.SyncDevice(ctx, sched.UserID, sched.DeviceID, models.TriggerSchedule)
			if syncerr.Has(err, syncerr.SyncFailed) {
				o.logger.Debug("scheduled sync skipped", zap.String("device_id", sched.DeviceID.String()), zap.Error(err))
				return nil
			}
			if err != nil {
				o.logger.Error("scheduled sync failed",
					zap.String("device_id", sched.DeviceID.String()),
					zap.Error(err))
				return nil
			}
			ran <- struct{}{}
			return nil
		})
	}
	_ = g.Wait()
	close(ran)
	return len(ran), nil
}

// skipDisabled pushes a disabled device's schedule forward one cadence without syncing.
func (o *Orchestrator) skipDisabled(ctx context.Context, dev *models.WearableDevice, sched *models.SyncSchedule, now time.Time) {
	sched.Cadence = o.cadence(dev)
	sched.NextSyncAt = now.Add(sched.Cadence)
	sched.UpdatedAt = now
	if err := o.store.UpsertSchedule(ctx, sched); err != nil {
		o.logger.Warn("defer schedule", zap.String("device_id", dev.ID.String()), zap.Error(err))
	}
}

// Start runs the poll loop until Stop is called or ctx is done.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.stoppedC = make(chan struct{})

	o.logger.Info("starting sync scheduler",
		zap.Duration("poll_interval", o.cfg.PollInterval),
		zap.Int("workers", o.cfg.Workers))
	go o.pollLoop(ctx, o.stopCh, o.stoppedC)
	return nil
}

// Stop ends the poll loop and waits for the current cycle, or until ctx is done.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.loopMu.Lock()
	if !o.running {
		o.loopMu.Unlock()
		return nil
	}
	o.running = false
	stopCh, stoppedC := o.stopCh, o.stoppedC
	o.loopMu.Unlock()

	close(stopCh)
	select {
	case <-stoppedC:
		o.logger.Info("sync scheduler stopped")
		return nil
	case <-ctx.Done():
		o.logger.Warn("sync scheduler shutdown timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the poll loop is running.
func (o *Orchestrator) IsRunning() bool {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	return o.running
}

func (o *Orchestrator) pollLoop(ctx context.Context, stopCh <-chan struct{}, stoppedC chan<- struct{}) {
	defer close(stoppedC)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	o.cycle(ctx)
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.cycle(ctx)
		}
	}
}

func (o *Orchestrator) cycle(ctx context.Context) {
	n, err := o.RunDue(ctx)
	if err != nil {
		o.logger.Error("list due schedules failed", zap.Error(err))
		return
	}
	if n > 0 {
		o.logger.Debug("scheduling cycle complete", zap.Int("synced", n))
	}
}
