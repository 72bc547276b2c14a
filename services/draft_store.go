package services

import (
	"context"
	"errors"

	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DraftStore keeps lesson bodies edited before the course is committed
type DraftStore struct {
	db  *gorm.DB
	log *utils.Logger
}

func NewDraftStore(db *gorm.DB, log *utils.Logger) *DraftStore {
	return &DraftStore{db: db, log: log}
}

// DraftInput is a single draft write
type DraftInput struct {
	SessionID  string
	SectionID  string
	LessonID   string
	Content    string
	OrderIndex int
}

// Save upserts the draft for (session, section, lesson). It reports whether
// anything was written; repeating an identical save is a no-op.
func (s *DraftStore) Save(ctx context.Context, input DraftInput) (bool, error) {
	var existing model.LessonDraft
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND section_id = ? AND lesson_id = ?", input.SessionID, input.SectionID, input.LessonID).
		First(&existing).Error
	switch {
	case err == nil:
		if existing.Content == input.Content && existing.OrderIndex == input.OrderIndex {
			return false, nil
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return false, storageError("load draft", err)
	}

	draft := model.LessonDraft{
		SessionID:  input.SessionID,
		SectionID:  input.SectionID,
		LessonID:   input.LessonID,
		Content:    input.Content,
		OrderIndex: input.OrderIndex,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "section_id"}, {Name: "lesson_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "order_index", "updated_at"}),
	}).Create(&draft).Error
	if err != nil {
		return false, storageError("save draft", err)
	}
	return true, nil
}

// LoadOne returns the draft body and whether one exists
func (s *DraftStore) LoadOne(ctx context.Context, sessionID string, key model.DraftKey) (string, bool, error) {
	var draft model.LessonDraft
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND section_id = ? AND lesson_id = ?", sessionID, key.SectionID, key.LessonID).
		First(&draft).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, storageError("load draft", err)
	}
	return draft.Content, true, nil
}

// LoadAllForSession returns every draft of the session keyed by section and lesson id
func (s *DraftStore) LoadAllForSession(ctx context.Context, sessionID string) (map[model.DraftKey]string, error) {
	var drafts []model.LessonDraft
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("section_id, order_index, lesson_id").
		Find(&drafts).Error
	if err != nil {
		return nil, storageError("load drafts", err)
	}

	out := make(map[model.DraftKey]string, len(drafts))
	for _, d := range drafts {
		out[model.DraftKey{SectionID: d.SectionID, LessonID: d.LessonID}] = d.Content
	}
	return out, nil
}

// DeleteAllForSession removes every draft of the session
func (s *DraftStore) DeleteAllForSession(ctx context.Context, sessionID string) (int64, error) {
	result := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&model.LessonDraft{})
	if result.Error != nil {
		return 0, storageError("delete drafts", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOrphaned removes drafts whose session no longer exists
func (s *DraftStore) DeleteOrphaned(ctx context.Context) (int64, error) {
	sessions := s.db.Model(&model.CopilotSession{}).Select("id")
	result := s.db.WithContext(ctx).
		Where("session_id NOT IN (?)", sessions).
		Delete(&model.LessonDraft{})
	if result.Error != nil {
		return 0, storageError("delete orphaned drafts", result.Error)
	}
	if result.RowsAffected > 0 {
		s.log.Info("Orphaned drafts removed", "count", result.RowsAffected)
	}
	return result.RowsAffected, nil
}
