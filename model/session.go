package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Phase is the named state of a session's conversation state machine
type Phase string

const (
	PhaseInitial             Phase = "initial"
	PhaseGatheringInfo       Phase = "gathering_info"
	PhaseGeneratingStructure Phase = "generating_structure"
	PhaseReviewing           Phase = "reviewing"
	PhaseRefining            Phase = "refining"
	PhaseCreating            Phase = "creating"
	PhaseCompleted           Phase = "completed"
	PhaseAbandoned           Phase = "abandoned"
)

// IsTerminal reports whether no further transitions leave this phase
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseAbandoned
}

// Valid reports whether p is one of the known phases
func (p Phase) Valid() bool {
	switch p {
	case PhaseInitial, PhaseGatheringInfo, PhaseGeneratingStructure, PhaseReviewing,
		PhaseRefining, PhaseCreating, PhaseCompleted, PhaseAbandoned:
		return true
	}
	return false
}

// CourseFacts are the facts the assistant has extracted from the conversation so far
type CourseFacts struct {
	Topic      string   `json:"topic,omitempty"`
	Audience   string   `json:"audience,omitempty"`
	Level      string   `json:"level,omitempty"`
	Objectives []string `json:"objectives,omitempty"`
}

// Complete reports whether the minimum facts needed to draft a structure are known
func (f CourseFacts) Complete() bool {
	return strings.TrimSpace(f.Topic) != "" && strings.TrimSpace(f.Audience) != ""
}

// Merge overlays the non-empty fields of other onto f
func (f CourseFacts) Merge(other CourseFacts) CourseFacts {
	if s := strings.TrimSpace(other.Topic); s != "" {
		f.Topic = s
	}
	if s := strings.TrimSpace(other.Audience); s != "" {
		f.Audience = s
	}
	if s := strings.TrimSpace(other.Level); s != "" {
		f.Level = s
	}
	if len(other.Objectives) > 0 {
		f.Objectives = append([]string(nil), other.Objectives...)
	}
	return f
}

// Annotation is a user-visible note attached to the session (last commit error,
// rejected fragment, ...)
type Annotation struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// CommitLedger records every WordPress entity created for a session so an
// interrupted commit can resume without creating duplicates
type CommitLedger struct {
	CourseID int64            `json:"course_id"`
	Sections map[string]int64 `json:"sections"` // section client id -> section row id
	Lessons  map[string]int64 `json:"lessons"`  // lesson client id -> lesson post id
}

// NewCommitLedger returns an empty ledger
func NewCommitLedger() *CommitLedger {
	return &CommitLedger{
		Sections: map[string]int64{},
		Lessons:  map[string]int64{},
	}
}

// CurrentSchemaVersion tags every persisted SessionDocument
const CurrentSchemaVersion = 1

// SessionDocument is everything about a session that is persisted as one blob
type SessionDocument struct {
	SchemaVersion     int                   `json:"schema_version"`
	History           []ConversationMessage `json:"history"`
	Phase             Phase                 `json:"phase"`
	Structure         *CourseStructure      `json:"structure,omitempty"`
	Facts             CourseFacts           `json:"facts"`
	Metadata          JSONMap               `json:"metadata,omitempty"`
	LastSequence      int64                 `json:"last_sequence"`
	LastInputHash     string                `json:"last_input_hash,omitempty"`
	LastError         *Annotation           `json:"last_error,omitempty"`
	Ledger            *CommitLedger         `json:"ledger,omitempty"`
	CommittedCourseID int64                 `json:"committed_course_id,omitempty"`
}

// UserMessageCount counts user-authored history entries
func (d *SessionDocument) UserMessageCount() int {
	n := 0
	for _, m := range d.History {
		if m.Role == MessageRoleUser {
			n++
		}
	}
	return n
}

// LastAssistantMessage returns the most recent assistant entry, if any
func (d *SessionDocument) LastAssistantMessage() (ConversationMessage, bool) {
	for i := len(d.History) - 1; i >= 0; i-- {
		if d.History[i].Role == MessageRoleAssistant {
			return d.History[i], true
		}
	}
	return ConversationMessage{}, false
}

// Session is the domain view of a conversation: identity columns plus the document
type Session struct {
	ID        string          `json:"session_id"`
	UserID    uint            `json:"user_id"`
	Title     string          `json:"title"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Document  SessionDocument `json:"document"`
}

// SessionSummary is a list entry for a user's sessions
type SessionSummary struct {
	ID          string    `json:"session_id"`
	Title       string    `json:"title"`
	Phase       Phase     `json:"phase"`
	LastUpdated time.Time `json:"last_updated"`
}

// CopilotSession is the persisted row. Everything except the identity and the
// denormalised summary columns lives in Document.
type CopilotSession struct {
	ID               string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID           uint           `gorm:"not null;index" json:"user_id"`
	Title            string         `gorm:"type:varchar(255)" json:"title"`
	Phase            string         `gorm:"type:varchar(32);not null;index" json:"phase"`
	UserMessageCount int            `gorm:"default:0" json:"user_message_count"`
	HasCourseTitle   bool           `gorm:"default:false" json:"has_course_title"`
	SchemaVersion    int            `gorm:"not null" json:"schema_version"`
	Document         datatypes.JSON `gorm:"not null" json:"-"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `gorm:"index" json:"updated_at"`
}

// TableName specifies the table name for CopilotSession
func (CopilotSession) TableName() string {
	return "mpcc_conversations"
}
