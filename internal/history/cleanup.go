package history

import (
	"context"
	"time"
)

const cleanupBatch = 500

// Cleanup deletes transitions older than cutoffMs in batches and returns
// the number of rows removed.
func (s *Store) Cleanup(ctx context.Context, cutoffMs int64) (int64, error) {
	var total int64
	for {
		var ids []int64
		err := s.db.WithContext(ctx).
			Model(&Transition{}).
			Where("timestamp_ms < ?", cutoffMs).
			Limit(cleanupBatch).
			Pluck("id", &ids).Error
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&Transition{})
		if res.Error != nil {
			return total, res.Error
		}
		total += res.RowsAffected
		if len(ids) < cleanupBatch {
			return total, nil
		}
	}
}

// StartCleanupWorker removes transitions older than days once at start and
// then daily until ctx is done.
func (s *Store) StartCleanupWorker(ctx context.Context, days int) {
	if days <= 0 {
		s.log.Info("history cleanup disabled", "days", days)
		return
	}
	s.log.Info("history cleanup worker started", "retain_days", days)

	run := func() {
		cutoff := time.Now().AddDate(0, 0, -days)
		n, err := s.Cleanup(ctx, cutoff.UnixMilli())
		if err != nil {
			s.log.Error("history cleanup failed", "err", err)
			return
		}
		s.log.Info("history cleanup completed", "cutoff_time", cutoff.Format(time.DateTime), "deleted", n)
	}
	run()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
