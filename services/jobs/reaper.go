// Package jobs holds the scheduled background jobs.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/thejerf/suture/v4"

	"github.com/trezcool/campus/core"
)

const reapTimeout = 4 * time.Minute

// TrashPurger permanently deletes the documents trashed more than retention ago.
type TrashPurger interface {
	PurgeTrash(ctx context.Context, retention time.Duration) (int, error)
}

// TrashReaper purges the document trash on a cron schedule.
type TrashReaper struct {
	purger    TrashPurger
	schedule  string
	retention time.Duration
	logger    core.Logger
}

func NewTrashReaper(purger TrashPurger, conf core.StorageConfig, logger core.Logger) *TrashReaper {
	return &TrashReaper{
		purger:    purger,
		schedule:  conf.ReaperSchedule,
		retention: conf.TrashRetention,
		logger:    logger,
	}
}

func (r *TrashReaper) String() string { return "trash-reaper" }

// RunOnce purges the trash now and returns the number of purged documents.
func (r *TrashReaper) RunOnce(ctx context.Context) (int, error) {
	n, err := r.purger.PurgeTrash(ctx, r.retention)
	if err != nil {
		return 0, errors.Wrap(err, "purging document trash")
	}
	if n > 0 && r.logger != nil {
		r.logger.Info(fmt.Sprintf("purged %d trashed documents", n))
	}
	return n, nil
}

// Serve runs the reaper on its schedule until ctx is done. Meant to be supervised.
func (r *TrashReaper) Serve(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{r.logger})))
	if _, err := c.AddFunc(r.schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, reapTimeout)
		defer cancel()
		if _, err := r.RunOnce(runCtx); err != nil && r.logger != nil {
			r.logger.Error(fmt.Sprintf("trash reaper: %v", err), err)
		}
	}); err != nil {
		if r.logger != nil {
			r.logger.Error(fmt.Sprintf("invalid reaper schedule %q: %v", r.schedule, err), err)
		}
		return errors.Wrapf(suture.ErrDoNotRestart, "invalid reaper schedule %q", r.schedule)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if l.logger != nil {
		l.logger.Debug(fmt.Sprintf("cron: %s %v", msg, keysAndValues))
	}
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if l.logger != nil {
		l.logger.Error(fmt.Sprintf("cron: %s %v: %v", msg, keysAndValues, err), err)
	}
}
