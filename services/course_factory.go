package services

import (
	"context"
	"fmt"

	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
)

// CourseInput is the data for the course post
type CourseInput struct {
	Title       string
	Description string
	AuthorID    uint
	SessionID   string
}

// SectionInput is the data for one section row
type SectionInput struct {
	CourseID    int64
	Title       string
	Description string
	Order       int // 1-based position in the course
}

// LessonInput is the data for one lesson post
type LessonInput struct {
	CourseID        int64
	SectionID       int64 // section row id, not the client id
	Title           string
	Content         string
	Order           int // 1-based position in the section
	DurationMinutes *int
	AuthorID        uint
}

// CoursePublisher creates host-platform entities. Each call creates exactly
// one entity and returns its id.
type CoursePublisher interface {
	CreateCourse(ctx context.Context, input CourseInput) (int64, error)
	CreateSection(ctx context.Context, input SectionInput) (int64, error)
	CreateLesson(ctx context.Context, input LessonInput) (int64, error)
}

// CommitRequest carries everything a commit needs
type CommitRequest struct {
	Structure *model.CourseStructure
	Drafts    map[model.DraftKey]string
	AuthorID  uint
	SessionID string
	// Ledger holds entities created by an earlier, interrupted commit. It is
	// updated in place as entities are created.
	Ledger *model.CommitLedger
	// OnCreated, when set, runs after every entity is added to the ledger.
	// An error stops the commit so nothing exists that was not recorded.
	OnCreated func(ctx context.Context, ledger *model.CommitLedger) error
}

// CommitResult summarises a successful commit
type CommitResult struct {
	CourseID        int64 `json:"course_id"`
	SectionsCreated int   `json:"sections_created"`
	LessonsCreated  int   `json:"lessons_created"`

	// AlreadyCommitted is set when the session had been committed before
	AlreadyCommitted bool                `json:"already_committed,omitempty"`
	Ledger           *model.CommitLedger `json:"-"`
}

// PartialCommitError reports a commit that stopped midway. Nothing is rolled
// back; Ledger lists every entity that exists.
type PartialCommitError struct {
	CourseID int64
	Ledger   *model.CommitLedger
	Step     string
	Err      error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("course partially created (course id %d), failed at %s: %v", e.CourseID, e.Step, e.Err)
}

func (e *PartialCommitError) Unwrap() error {
	return e.Err
}

// CourseFactory turns a working structure into published entities, top-down:
// the course, then each section followed by its lessons.
type CourseFactory struct {
	publisher CoursePublisher
	log       *utils.Logger
}

func NewCourseFactory(publisher CoursePublisher, log *utils.Logger) *CourseFactory {
	return &CourseFactory{publisher: publisher, log: log}
}

// Commit creates every entity missing from the ledger
func (f *CourseFactory) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if !req.Structure.HasTitle() || len(req.Structure.Sections) == 0 {
		return nil, ErrNotReadyToCommit
	}
	ledger := req.Ledger
	if ledger == nil {
		ledger = model.NewCommitLedger()
	}
	if ledger.Sections == nil {
		ledger.Sections = map[string]int64{}
	}
	if ledger.Lessons == nil {
		ledger.Lessons = map[string]int64{}
	}

	result := &CommitResult{Ledger: ledger}
	fail := func(step string, err error) error {
		f.log.Error("Course commit stopped", "session_id", req.SessionID, "course_id", ledger.CourseID, "step", step, "error", err)
		return &PartialCommitError{CourseID: ledger.CourseID, Ledger: ledger, Step: step, Err: err}
	}
	record := func(step string) error {
		if req.OnCreated == nil {
			return nil
		}
		if err := req.OnCreated(ctx, ledger); err != nil {
			return fail("record "+step, err)
		}
		return nil
	}

	if ledger.CourseID == 0 {
		courseID, err := f.publisher.CreateCourse(ctx, CourseInput{
			Title:       req.Structure.Title,
			Description: req.Structure.Description,
			AuthorID:    req.AuthorID,
			SessionID:   req.SessionID,
		})
		if err != nil {
			return nil, fail("course", err)
		}
		ledger.CourseID = courseID
		if err := record("course"); err != nil {
			return nil, err
		}
	}
	result.CourseID = ledger.CourseID

	for si, section := range req.Structure.Sections {
		sectionRowID, ok := ledger.Sections[section.ID]
		if !ok {
			id, err := f.publisher.CreateSection(ctx, SectionInput{
				CourseID:    ledger.CourseID,
				Title:       section.Title,
				Description: section.Description,
				Order:       si + 1,
			})
			if err != nil {
				return nil, fail(fmt.Sprintf("section %q", section.ID), err)
			}
			sectionRowID = id
			ledger.Sections[section.ID] = id
			result.SectionsCreated++
			if err := record(fmt.Sprintf("section %q", section.ID)); err != nil {
				return nil, err
			}
		}

		for li, lesson := range section.Lessons {
			if _, done := ledger.Lessons[lesson.ID]; done {
				continue
			}
			id, err := f.publisher.CreateLesson(ctx, LessonInput{
				CourseID:        ledger.CourseID,
				SectionID:       sectionRowID,
				Title:           lesson.Title,
				Content:         ResolveLessonContent(req.Drafts, section.ID, lesson),
				Order:           li + 1,
				DurationMinutes: lesson.DurationMinutes,
				AuthorID:        req.AuthorID,
			})
			if err != nil {
				return nil, fail(fmt.Sprintf("lesson %q", lesson.ID), err)
			}
			ledger.Lessons[lesson.ID] = id
			result.LessonsCreated++
			if err := record(fmt.Sprintf("lesson %q", lesson.ID)); err != nil {
				return nil, err
			}
		}
	}

	f.log.Info("Course committed",
		"session_id", req.SessionID,
		"course_id", result.CourseID,
		"sections_created", result.SectionsCreated,
		"lessons_created", result.LessonsCreated,
	)
	return result, nil
}

// ResolveLessonContent picks the body for a lesson: the draft if one was
// saved (even an empty one), then the inline content, then "".
func ResolveLessonContent(drafts map[model.DraftKey]string, sectionID string, lesson model.Lesson) string {
	if content, ok := drafts[model.DraftKey{SectionID: sectionID, LessonID: lesson.ID}]; ok {
		return content
	}
	if lesson.Content != nil {
		return *lesson.Content
	}
	return ""
}
