package worker

import (
	"context"
	"sync/atomic"
	"time"

	"leadpilot/sequence"
	"leadpilot/utils"

	"github.com/sirupsen/logrus"
)

// SweepWorker runs the dispatcher on a fixed interval. A tick that
// arrives while the previous sweep is still running is skipped; the
// next tick picks up whatever is due.
type SweepWorker struct {
	Dispatcher *sequence.Dispatcher
	Interval   time.Duration
	Logger     *logrus.Entry

	running int32
}

func NewSweepWorker(dispatcher *sequence.Dispatcher, interval time.Duration, logger *logrus.Entry) *SweepWorker {
	return &SweepWorker{
		Dispatcher: dispatcher,
		Interval:   interval,
		Logger:     logger,
	}
}

func (sw *SweepWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	select {
	case <-ctx.Done():
		return
	case <-time.After(10 * time.Second):
	}

	sw.Logger.Info("sweep worker started")

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sw.Logger.Info("sweep worker shutting down")
			return
		case <-ticker.C:
			sw.runOnce(ctx)
		}
	}
}

func (sw *SweepWorker) runOnce(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&sw.running, 0, 1) {
		sw.Logger.Warn("previous sweep still running, skipping tick")
		return
	}
	defer atomic.StoreInt32(&sw.running, 0)

	run, err := sw.Dispatcher.Run(ctx, "scheduled")
	if err != nil {
		sw.Logger.WithError(err).Error("scheduled sweep failed")
		return
	}
	sw.Logger.WithFields(logrus.Fields{
		"processed": run.Processed,
		"duration":  utils.FormatDuration(run.FinishedAt.Sub(run.StartedAt)),
	}).Debug("scheduled sweep complete")
}
