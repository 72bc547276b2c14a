package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
)

const jobLogRetention = 90 * 24 * time.Hour

// deleteOldJobLogs keeps the job log table to the last 90 days
func (m *CronManager) deleteOldJobLogs(ctx context.Context) (int64, error) {
	cutoff := m.now().Add(-jobLogRetention)
	result := m.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&model.CronJobLog{})
	return result.RowsAffected, result.Error
}

func describeRun(jobName string, affected int64) string {
	switch jobName {
	case JobCleanupEmptySessions:
		return fmt.Sprintf("Deleted %d empty sessions", affected)
	case JobPurgeOrphanedDrafts:
		return fmt.Sprintf("Deleted %d orphaned drafts", affected)
	case JobCleanupJobLogs:
		return fmt.Sprintf("Deleted %d old job logs", affected)
	}
	return fmt.Sprintf("Affected %d rows", affected)
}
