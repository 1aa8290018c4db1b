package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetentionStore is what the sweeper needs from the backend.
type RetentionStore interface {
	ListViewLogIDsBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteViewLogs(ctx context.Context, ids []string) (int64, error)
}

// SweepReport summarises one retention run.
type SweepReport struct {
	Cutoff        time.Time     `json:"cutoff"`
	Candidates    int           `json:"candidates"`
	Deleted       int64         `json:"deleted"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failedBatches"`
	Duration      time.Duration `json:"duration"`
}

// RetentionSweeper deletes view log entries older than the retention horizon.
type RetentionSweeper struct {
	store   RetentionStore
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
}

func NewRetentionSweeper(st RetentionStore, cfg Config, logger *zap.Logger, metrics *Metrics) *RetentionSweeper {
	return &RetentionSweeper{
		store:   st,
		cfg:     cfg.withDefaults(),
		logger:  named(logger, "jobs.retention"),
		metrics: metrics,
	}
}

// Run deletes every entry strictly older than now minus the horizon, in
// batches. A failed batch is logged and left for the next run.
func (s *RetentionSweeper) Run(ctx context.Context) (*SweepReport, error) {
	start := time.Now()
	cutoff := s.cfg.Now().Add(-s.cfg.RetentionHorizon)

	ids, err := s.store.ListViewLogIDsBefore(ctx, cutoff)
	if err != nil {
		err = fmt.Errorf("retention: select expired view logs: %w", err)
		s.metrics.ObserveRun(JobRetention, start, err)
		s.logger.Error("retention run aborted", zap.Error(err))
		return nil, err
	}

	report := &SweepReport{Cutoff: cutoff, Candidates: len(ids)}
	size := s.cfg.RetentionBatchSize
	var runErr error
	for lo := 0; lo < len(ids); lo += size {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("retention: run interrupted: %w", err)
			break
		}
		hi := lo + size
		if hi > len(ids) {
			hi = len(ids)
		}
		report.Batches++
		n, err := s.store.DeleteViewLogs(ctx, ids[lo:hi])
		if err != nil {
			report.FailedBatches++
			s.logger.Warn("delete batch failed",
				zap.Int("batch", report.Batches),
				zap.Int("size", hi-lo),
				zap.Error(err),
			)
			continue
		}
		report.Deleted += n
	}

	report.Duration = time.Since(start)
	s.metrics.AddRecords(JobRetention, outcomeDeleted, report.Deleted)
	s.metrics.ObserveRun(JobRetention, start, runErr)
	if report.Candidates == 0 {
		s.logger.Debug("no expired view logs", zap.Time("cutoff", cutoff))
	} else {
		s.logger.Info("retention run finished",
			zap.Time("cutoff", cutoff),
			zap.Int("candidates", report.Candidates),
			zap.Int64("deleted", report.Deleted),
			zap.Int("batches", report.Batches),
			zap.Int("failedBatches", report.FailedBatches),
			zap.Duration("duration", report.Duration),
		)
	}
	return report, runErr
}
