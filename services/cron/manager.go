package cron

import (
	"context"
	"encoding/json"
	"time"

	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// Job status values written to mpcc_cron_job_logs
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const jobTimeout = 5 * time.Minute

// Job names as recorded in the job log
const (
	JobCleanupEmptySessions = "cleanup_empty_sessions"
	JobPurgeOrphanedDrafts  = "purge_orphaned_drafts"
	JobCleanupJobLogs       = "cleanup_job_logs"
)

// SessionCleaner removes sessions that never received a user message
type SessionCleaner interface {
	CleanupEmpty(ctx context.Context) (int64, error)
}

// DraftPurger removes drafts whose session no longer exists
type DraftPurger interface {
	DeleteOrphaned(ctx context.Context) (int64, error)
}

// job is a maintenance task that reports how many rows it removed
type job struct {
	name     string
	schedule string // six fields, seconds first
	run      func(ctx context.Context) (int64, error)
}

// CronManager runs the copilot's maintenance jobs and records each run
type CronManager struct {
	cron     *cron.Cron
	db       *gorm.DB
	sessions SessionCleaner
	drafts   DraftPurger
	log      *utils.Logger
	now      func() time.Time
}

// NewCronManager creates a new cron manager
func NewCronManager(db *gorm.DB, sessions SessionCleaner, drafts DraftPurger, log *utils.Logger) *CronManager {
	return &CronManager{
		cron:     cron.New(cron.WithSeconds()),
		db:       db,
		sessions: sessions,
		drafts:   drafts,
		log:      log,
		now:      time.Now,
	}
}

func (m *CronManager) jobs() []job {
	return []job{
		{name: JobCleanupEmptySessions, schedule: "0 15 * * * *", run: m.sessions.CleanupEmpty},
		{name: JobPurgeOrphanedDrafts, schedule: "0 0 3 * * *", run: m.drafts.DeleteOrphaned},
		{name: JobCleanupJobLogs, schedule: "0 0 4 * * *", run: m.deleteOldJobLogs},
	}
}

// Start registers every job and starts the scheduler
func (m *CronManager) Start() error {
	m.log.Info("Starting cron jobs")

	for _, j := range m.jobs() {
		j := j
		if _, err := m.cron.AddFunc(j.schedule, func() { m.runJob(j) }); err != nil {
			return err
		}
	}
	m.cron.Start()

	m.log.Info("Cron jobs started", "entries", len(m.cron.Entries()))
	return nil
}

// Stop stops all cron jobs and waits for running ones to finish
func (m *CronManager) Stop() {
	m.log.Info("Stopping cron jobs")
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.log.Info("Cron jobs stopped")
}

// RunNow executes the named job immediately
func (m *CronManager) RunNow(name string) bool {
	for _, j := range m.jobs() {
		if j.name == name {
			m.runJob(j)
			return true
		}
	}
	return false
}

// runJob executes j once with a bounded context and logs the outcome
func (m *CronManager) runJob(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	started := m.now()
	logID := m.logJobStart(j, started)

	affected, err := j.run(ctx)
	if err != nil {
		m.logJobError(logID, j.name, started, err)
		return
	}
	m.logJobComplete(logID, j.name, started, affected)
}

// logJobStart records a running job and returns its log row id
func (m *CronManager) logJobStart(j job, started time.Time) uint {
	m.log.Info("Cron job started", "job", j.name)

	meta, _ := json.Marshal(map[string]string{"schedule": j.schedule})
	entry := model.CronJobLog{
		JobName:   j.name,
		Status:    StatusRunning,
		StartedAt: started,
		Metadata:  meta,
	}
	if err := m.db.Create(&entry).Error; err != nil {
		m.log.Warn("Could not record cron job start", "job", j.name, "error", err)
		return 0
	}
	return entry.ID
}

func (m *CronManager) logJobComplete(logID uint, jobName string, started time.Time, affected int64) {
	m.log.Info("Cron job completed", "job", jobName, "affected", affected)
	m.finishJobLog(logID, started, map[string]interface{}{
		"status":   StatusCompleted,
		"affected": affected,
		"message":  describeRun(jobName, affected),
	})
}

func (m *CronManager) logJobError(logID uint, jobName string, started time.Time, err error) {
	m.log.Error("Cron job failed", "job", jobName, "error", err)
	m.finishJobLog(logID, started, map[string]interface{}{
		"status":    StatusFailed,
		"error_msg": err.Error(),
	})
}

func (m *CronManager) finishJobLog(logID uint, started time.Time, updates map[string]interface{}) {
	if logID == 0 {
		return
	}
	finished := m.now()
	updates["completed_at"] = finished
	updates["duration"] = int(finished.Sub(started).Milliseconds())
	if err := m.db.Model(&model.CronJobLog{}).Where("id = ?", logID).Updates(updates).Error; err != nil {
		m.log.Warn("Could not update cron job log", "log_id", logID, "error", err)
	}
}
