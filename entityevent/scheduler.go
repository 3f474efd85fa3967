package entityevent

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MarcGrol/idmevents/lib/myerrors"
	"github.com/MarcGrol/idmevents/lib/mylog"
)

// Scheduler resumes persisted events whose execute date has passed, on a bounded pool of workers.
// Every event is resumed in a unit of work of its own.
type Scheduler struct {
	engine       *Engine
	workers      int
	batchSize    int
	pollInterval time.Duration
	logger       mylog.Logger
}

func NewScheduler(engine *Engine) *Scheduler {
	config := engine.Config()
	return &Scheduler{
		engine:       engine,
		workers:      max(config.Workers, 1),
		batchSize:    config.BatchSize,
		pollInterval: config.PollInterval,
		logger:       mylog.New("entityevent-scheduler"),
	}
}

// Run polls until the context is cancelled.
func (s *Scheduler) Run(c context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Done():
			return c.Err()
		case <-ticker.C:
			_, err := s.ProcessDue(c)
			if err != nil {
				s.logger.Log(c, "", mylog.SeverityError, "Error processing due events: %s", err)
			}
		}
	}
}

// ProcessDue resumes one batch of executable events and returns how many completed without error.
// Failing events do not stop the batch: their failure is recorded by the Engine.
func (s *Scheduler) ProcessDue(c context.Context) (int, error) {
	records, err := s.engine.store.FindExecutable(c, s.engine.nower.Now(), s.batchSize)
	if err != nil {
		return 0, myerrors.NewInternalError(err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	var succeeded atomic.Int64

	group, ctx := errgroup.WithContext(c)
	group.SetLimit(s.workers)
	for _, record := range records {
		group.Go(func() error {
			err := s.engine.Resume(ctx, record.UID)
			if err != nil {
				s.logger.Log(ctx, record.ContentUID, mylog.SeverityWarn, "Error resuming event %s: %s", record.UID, err)
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	err = group.Wait()
	if err != nil {
		return int(succeeded.Load()), err
	}

	s.logger.Log(c, "", mylog.SeverityInfo, "Resumed %d of %d due events", succeeded.Load(), len(records))

	return int(succeeded.Load()), nil
}
