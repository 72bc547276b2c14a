package model

import "time"

// LessonDraft is a lesson body edited in the preview, saved before the course exists
type LessonDraft struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SessionID  string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_mpcc_draft_key,priority:1" json:"session_id"`
	SectionID  string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_mpcc_draft_key,priority:2" json:"section_id"`
	LessonID   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_mpcc_draft_key,priority:3" json:"lesson_id"`
	Content    string    `gorm:"type:text" json:"content"`
	OrderIndex int       `gorm:"default:0" json:"order_index"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName specifies the table name for LessonDraft
func (LessonDraft) TableName() string {
	return "mpcc_lesson_drafts"
}

// DraftKey identifies a draft within a session
type DraftKey struct {
	SectionID string `json:"section_id"`
	LessonID  string `json:"lesson_id"`
}
