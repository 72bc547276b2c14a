package model

import (
	"time"

	"gorm.io/datatypes"
)

// CronJobLog is one run of a maintenance job (empty session cleanup,
// orphaned draft purge, log trimming)
type CronJobLog struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	JobName     string     `gorm:"type:varchar(100);not null;index" json:"job_name"`
	Status      string     `gorm:"type:varchar(20);not null" json:"status"`
	StartedAt   time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	DurationMS  int        `gorm:"column:duration" json:"duration_ms"`
	// Affected counts the rows the job removed
	Affected  int64          `json:"affected"`
	Message   string         `gorm:"type:text" json:"message"`
	ErrorMsg  string         `gorm:"type:text" json:"error_msg"`
	Metadata  datatypes.JSON `json:"metadata"` // job settings in effect, e.g. the grace period
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (CronJobLog) TableName() string {
	return "mpcc_cron_job_logs"
}
