package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// SessionStore persists conversation sessions, one row per session. The
// history, phase and structure travel together in a single JSON document so
// a save can never leave them out of step.
type SessionStore struct {
	db         *gorm.DB
	log        *utils.Logger
	emptyGrace time.Duration
	now        func() time.Time
}

// NewSessionStore creates a session store. Empty sessions younger than
// emptyGrace survive cleanup.
func NewSessionStore(db *gorm.DB, log *utils.Logger, emptyGrace time.Duration) *SessionStore {
	return &SessionStore{
		db:         db,
		log:        log,
		emptyGrace: emptyGrace,
		now:        time.Now,
	}
}

// NewSessionInput holds the initial data for a session
type NewSessionInput struct {
	UserID   uint
	Title    string
	Metadata model.JSONMap
}

// Create inserts a new session in the initial phase
func (s *SessionStore) Create(ctx context.Context, input NewSessionInput) (*model.Session, error) {
	now := s.now().UTC()
	session := &model.Session{
		ID:        uuid.NewString(),
		UserID:    input.UserID,
		Title:     input.Title,
		CreatedAt: now,
		UpdatedAt: now,
		Document: model.SessionDocument{
			SchemaVersion: model.CurrentSchemaVersion,
			History:       []model.ConversationMessage{},
			Phase:         model.PhaseInitial,
			Metadata:      input.Metadata,
		},
	}

	row, err := toRow(session)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, storageError("create session", err)
	}

	s.log.Debug("Session created", "session_id", session.ID, "user_id", session.UserID)
	return session, nil
}

// Load returns the session or ErrSessionNotFound. Rows whose document cannot be
// decoded are reported as not found.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (*model.Session, error) {
	var row model.CopilotSession
	err := s.db.WithContext(ctx).Where("id = ?", sessionID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, storageError("load session", err)
	}

	session, err := fromRow(&row)
	if err != nil {
		s.log.Warn("Discarding unreadable session document", "session_id", sessionID, "error", err)
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Save replaces the stored row with the session's current state in one statement
func (s *SessionStore) Save(ctx context.Context, session *model.Session) error {
	session.UpdatedAt = s.now().UTC()
	row, err := toRow(session)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&model.CopilotSession{}).
		Where("id = ?", session.ID).
		Updates(map[string]interface{}{
			"title":              row.Title,
			"phase":              row.Phase,
			"user_message_count": row.UserMessageCount,
			"has_course_title":   row.HasCourseTitle,
			"schema_version":     row.SchemaVersion,
			"document":           row.Document,
			"updated_at":         row.UpdatedAt,
		})
	if result.Error != nil {
		return storageError("save session", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Delete removes the session row and its drafts. It returns the number of
// sessions deleted (0 or 1).
func (s *SessionStore) Delete(ctx context.Context, sessionID string) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", sessionID).Delete(&model.CopilotSession{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return tx.Where("session_id = ?", sessionID).Delete(&model.LessonDraft{}).Error
	})
	if err != nil {
		return 0, storageError("delete session", err)
	}
	return deleted, nil
}

// ListForUser returns the user's sessions, most recently updated first
func (s *SessionStore) ListForUser(ctx context.Context, userID uint, limit int) ([]model.SessionSummary, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	var rows []model.CopilotSession
	err := s.db.WithContext(ctx).
		Select("id", "title", "phase", "updated_at").
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Order("id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, storageError("list sessions", err)
	}

	summaries := make([]model.SessionSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, model.SessionSummary{
			ID:          row.ID,
			Title:       row.Title,
			Phase:       model.Phase(row.Phase),
			LastUpdated: row.UpdatedAt,
		})
	}
	return summaries, nil
}

// CleanupEmpty deletes every session with no user message and no course title
func (s *SessionStore) CleanupEmpty(ctx context.Context) (int64, error) {
	return s.cleanupEmpty(ctx, nil)
}

// CleanupEmptyForUser is CleanupEmpty restricted to one user's sessions
func (s *SessionStore) CleanupEmptyForUser(ctx context.Context, userID uint) (int64, error) {
	return s.cleanupEmpty(ctx, &userID)
}

func (s *SessionStore) cleanupEmpty(ctx context.Context, userID *uint) (int64, error) {
	cutoff := s.now().UTC().Add(-s.emptyGrace)

	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Model(&model.CopilotSession{}).
			Where("user_message_count = ? AND has_course_title = ?", 0, false).
			Where("updated_at <= ?", cutoff)
		if userID != nil {
			query = query.Where("user_id = ?", *userID)
		}

		var ids []string
		if err := query.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("session_id IN ?", ids).Delete(&model.LessonDraft{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", ids).Delete(&model.CopilotSession{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, storageError("cleanup empty sessions", err)
	}

	if deleted > 0 {
		s.log.Info("Empty sessions removed", "count", deleted)
	}
	return deleted, nil
}

func toRow(session *model.Session) (*model.CopilotSession, error) {
	doc := session.Document
	doc.SchemaVersion = model.CurrentSchemaVersion
	if doc.History == nil {
		doc.History = []model.ConversationMessage{}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode session document: %w", err)
	}

	return &model.CopilotSession{
		ID:               session.ID,
		UserID:           session.UserID,
		Title:            session.Title,
		Phase:            string(doc.Phase),
		UserMessageCount: doc.UserMessageCount(),
		HasCourseTitle:   doc.Structure.HasTitle(),
		SchemaVersion:    doc.SchemaVersion,
		Document:         raw,
		CreatedAt:        session.CreatedAt,
		UpdatedAt:        session.UpdatedAt,
	}, nil
}

func fromRow(row *model.CopilotSession) (*model.Session, error) {
	if row.SchemaVersion != model.CurrentSchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d", row.SchemaVersion)
	}

	var doc model.SessionDocument
	if err := json.Unmarshal(row.Document, &doc); err != nil {
		return nil, fmt.Errorf("decode session document: %w", err)
	}
	if err := migrateDocument(&doc); err != nil {
		return nil, err
	}

	return &model.Session{
		ID:        row.ID,
		UserID:    row.UserID,
		Title:     row.Title,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
		Document:  doc,
	}, nil
}

// migrateDocument upgrades older documents in place. Only the current version
// exists so far; anything else is rejected rather than guessed at.
func migrateDocument(doc *model.SessionDocument) error {
	switch doc.SchemaVersion {
	case model.CurrentSchemaVersion:
	default:
		return fmt.Errorf("unsupported document schema version %d", doc.SchemaVersion)
	}
	if !doc.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", doc.Phase)
	}
	if doc.History == nil {
		doc.History = []model.ConversationMessage{}
	}
	return nil
}
