package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/validation"
	"github.com/google/uuid"
)

var (
	// ErrFragmentRejected is returned when a fragment or the tree it produces is invalid
	ErrFragmentRejected = errors.New("course fragment rejected")
	// ErrFragmentNotApplicable is returned when a fragment kind cannot be merged in the current phase
	ErrFragmentNotApplicable = errors.New("course fragment not applicable in current phase")
	// ErrScopeMismatch is returned when a scoped refinement receives a fragment for another node
	ErrScopeMismatch = errors.New("course fragment targets a different node")
)

// fenceLanguages are the info strings that mark a structured payload
var fenceLanguages = []string{"course-json", "json"}

// FragmentKind says which part of the tree a fragment carries
type FragmentKind string

const (
	FragmentFacts   FragmentKind = "facts"
	FragmentCourse  FragmentKind = "course"
	FragmentSection FragmentKind = "section"
	FragmentLesson  FragmentKind = "lesson"
)

// Fragment is one validated structured payload extracted from a reply
type Fragment struct {
	Kind      FragmentKind
	Facts     *model.CourseFacts
	Course    *model.CourseStructure
	Section   *model.Section
	SectionID string // owning section of Lesson
	Lesson    *model.Lesson
}

// ExtractionResult is what Extract found in a reply
type ExtractionResult struct {
	DisplayText   string
	Fragment      *Fragment
	LowConfidence bool  // a fence was present but its body could not be parsed
	Rejected      error // the body parsed but failed validation
}

// ValidationError lists the fields that made a fragment invalid
type ValidationError struct {
	Reason string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Reason
	}
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return fmt.Sprintf("%s (%s)", e.Reason, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrFragmentRejected
}

// RefineScope pins a merge to one section or lesson
type RefineScope struct {
	SectionID string
	LessonID  string // empty for a whole-section refinement
}

// fragmentPayload is the wire shape inside the fence. A bare course object
// (title + sections at the top level) is accepted too.
type fragmentPayload struct {
	Facts     *model.CourseFacts     `json:"facts"`
	Course    *model.CourseStructure `json:"course"`
	Section   *model.Section         `json:"section"`
	SectionID string                 `json:"section_id"`
	Lesson    *model.Lesson          `json:"lesson"`

	Title       string          `json:"title"`
	Description string          `json:"description"`
	Sections    []model.Section `json:"sections"`
}

// StructureExtractor parses structured payloads out of model replies and
// merges them into working structures
type StructureExtractor struct {
	validator *validation.Validator
	newID     func(prefix string) string
}

func NewStructureExtractor(v *validation.Validator) *StructureExtractor {
	return &StructureExtractor{
		validator: v,
		newID: func(prefix string) string {
			return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		},
	}
}

// Extract looks for the first recognised fence. No fence means a purely
// conversational reply.
func (e *StructureExtractor) Extract(text string) ExtractionResult {
	block, ok := utils.FindFencedBlock(text, fenceLanguages...)
	if !ok {
		return ExtractionResult{DisplayText: strings.TrimSpace(text)}
	}

	result := ExtractionResult{DisplayText: utils.RemoveBlock(text, block)}

	var payload fragmentPayload
	if err := utils.ExtractJSONTo(block.Body, &payload); err != nil {
		result.LowConfidence = true
		return result
	}

	fragment, err := e.toFragment(&payload)
	if err != nil {
		if errors.Is(err, ErrFragmentRejected) {
			result.Rejected = err
		} else {
			result.LowConfidence = true
		}
		return result
	}
	result.Fragment = fragment
	return result
}

func (e *StructureExtractor) toFragment(p *fragmentPayload) (*Fragment, error) {
	fragment := &Fragment{}
	if p.Facts != nil {
		facts := model.CourseFacts{}.Merge(*p.Facts)
		fragment.Facts = &facts
	}

	course := p.Course
	if course == nil && p.Section == nil && p.Lesson == nil && (p.Title != "" || len(p.Sections) > 0) {
		course = &model.CourseStructure{Title: p.Title, Description: p.Description, Sections: p.Sections}
	}

	switch {
	case course != nil:
		normalizeCourse(course)
		if err := e.validate(course); err != nil {
			return nil, err
		}
		fragment.Kind = FragmentCourse
		fragment.Course = course
	case p.Section != nil:
		normalizeSection(p.Section)
		if err := e.validate(p.Section); err != nil {
			return nil, err
		}
		fragment.Kind = FragmentSection
		fragment.Section = p.Section
	case p.Lesson != nil:
		normalizeLesson(p.Lesson)
		if err := e.validate(p.Lesson); err != nil {
			return nil, err
		}
		fragment.Kind = FragmentLesson
		fragment.SectionID = strings.TrimSpace(p.SectionID)
		fragment.Lesson = p.Lesson
	case fragment.Facts != nil:
		fragment.Kind = FragmentFacts
	default:
		return nil, errors.New("payload carries no known keys")
	}
	return fragment, nil
}

func (e *StructureExtractor) validate(v interface{}) error {
	if err := e.validator.ValidateStruct(v); err != nil {
		return &ValidationError{Reason: "invalid course fragment", Fields: validation.FormatValidationErrors(err)}
	}
	return nil
}

// Merge applies the fragment to current and returns the new tree. current is
// never modified. A full course is only accepted while generating the
// structure; section and lesson fragments only while refining.
func (e *StructureExtractor) Merge(current *model.CourseStructure, fragment *Fragment, phase model.Phase, scope *RefineScope) (*model.CourseStructure, error) {
	if fragment == nil || fragment.Kind == FragmentFacts {
		return current.Clone(), nil
	}

	var (
		merged *model.CourseStructure
		err    error
	)
	switch fragment.Kind {
	case FragmentCourse:
		if phase != model.PhaseGeneratingStructure {
			return nil, fmt.Errorf("%w: full course while %s", ErrFragmentNotApplicable, phase)
		}
		merged = fragment.Course.Clone()
	case FragmentSection:
		if phase != model.PhaseRefining {
			return nil, fmt.Errorf("%w: section while %s", ErrFragmentNotApplicable, phase)
		}
		merged, err = mergeSection(current, fragment.Section, scope)
	case FragmentLesson:
		if phase != model.PhaseRefining {
			return nil, fmt.Errorf("%w: lesson while %s", ErrFragmentNotApplicable, phase)
		}
		merged, err = mergeLesson(current, fragment.SectionID, fragment.Lesson, scope)
	default:
		return nil, fmt.Errorf("%w: unknown fragment kind %q", ErrFragmentRejected, fragment.Kind)
	}
	if err != nil {
		return nil, err
	}

	if err := e.assignIDs(merged); err != nil {
		return nil, err
	}
	if err := e.validate(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func mergeSection(current *model.CourseStructure, incoming *model.Section, scope *RefineScope) (*model.CourseStructure, error) {
	if current == nil {
		return nil, ErrUnknownTarget
	}
	id := incoming.ID
	if scope != nil {
		if scope.LessonID != "" {
			return nil, fmt.Errorf("%w: section fragment for lesson refinement", ErrScopeMismatch)
		}
		if id == "" {
			id = scope.SectionID
		}
		if id != scope.SectionID {
			return nil, fmt.Errorf("%w: got section %q, want %q", ErrScopeMismatch, id, scope.SectionID)
		}
	}
	if id == "" {
		return nil, &ValidationError{Reason: "section fragment has no id"}
	}

	merged := current.Clone()
	idx := merged.SectionIndex(id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: section %q", ErrUnknownTarget, id)
	}

	existing := merged.Sections[idx]
	next := incoming.Clone()
	next.ID = id
	if next.Lessons == nil {
		next.Lessons = existing.Lessons
	} else {
		for i := range next.Lessons {
			if j := existing.LessonIndex(next.Lessons[i].ID); j >= 0 && next.Lessons[i].ID != "" {
				next.Lessons[i] = overlayLesson(existing.Lessons[j], next.Lessons[i])
			}
		}
	}
	merged.Sections[idx] = next
	return merged, nil
}

func mergeLesson(current *model.CourseStructure, sectionID string, incoming *model.Lesson, scope *RefineScope) (*model.CourseStructure, error) {
	if current == nil {
		return nil, ErrUnknownTarget
	}
	lessonID := incoming.ID
	if scope != nil {
		if sectionID == "" {
			sectionID = scope.SectionID
		}
		if lessonID == "" {
			lessonID = scope.LessonID
		}
		if scope.LessonID == "" || sectionID != scope.SectionID || lessonID != scope.LessonID {
			return nil, fmt.Errorf("%w: got lesson %q/%q, want %q/%q", ErrScopeMismatch, sectionID, lessonID, scope.SectionID, scope.LessonID)
		}
	}
	if sectionID == "" || lessonID == "" {
		return nil, &ValidationError{Reason: "lesson fragment needs section_id and lesson id"}
	}

	merged := current.Clone()
	si := merged.SectionIndex(sectionID)
	if si < 0 {
		return nil, fmt.Errorf("%w: section %q", ErrUnknownTarget, sectionID)
	}
	section := &merged.Sections[si]
	li := section.LessonIndex(lessonID)
	if li < 0 {
		return nil, fmt.Errorf("%w: lesson %q in section %q", ErrUnknownTarget, lessonID, sectionID)
	}

	next := incoming.Clone()
	next.ID = lessonID
	section.Lessons[li] = overlayLesson(section.Lessons[li], next)
	return merged, nil
}

// overlayLesson keeps the existing body and duration when the update omits them
func overlayLesson(existing, update model.Lesson) model.Lesson {
	out := update.Clone()
	if out.Content == nil && existing.Content != nil {
		content := *existing.Content
		out.Content = &content
	}
	if out.DurationMinutes == nil && existing.DurationMinutes != nil {
		d := *existing.DurationMinutes
		out.DurationMinutes = &d
	}
	return out
}

// assignIDs gives every node without an id a fresh one and rejects duplicates.
// Lesson ids are unique across the whole course since the commit ledger keys
// on them.
func (e *StructureExtractor) assignIDs(c *model.CourseStructure) error {
	used := map[string]bool{}
	for _, s := range c.Sections {
		if s.ID == "" {
			continue
		}
		if used[s.ID] {
			return &ValidationError{Reason: "duplicate id", Fields: map[string]string{"id": s.ID}}
		}
		used[s.ID] = true
		for _, l := range s.Lessons {
			if l.ID == "" {
				continue
			}
			if used[l.ID] {
				return &ValidationError{Reason: "duplicate id", Fields: map[string]string{"id": l.ID}}
			}
			used[l.ID] = true
		}
	}

	fresh := func(prefix string) string {
		for {
			id := e.newID(prefix)
			if !used[id] {
				used[id] = true
				return id
			}
		}
	}
	for i := range c.Sections {
		if c.Sections[i].ID == "" {
			c.Sections[i].ID = fresh("section")
		}
		for j := range c.Sections[i].Lessons {
			if c.Sections[i].Lessons[j].ID == "" {
				c.Sections[i].Lessons[j].ID = fresh("lesson")
			}
		}
	}
	return nil
}

func normalizeCourse(c *model.CourseStructure) {
	c.Title = strings.TrimSpace(c.Title)
	c.Description = strings.TrimSpace(c.Description)
	for i := range c.Sections {
		normalizeSection(&c.Sections[i])
	}
}

func normalizeSection(s *model.Section) {
	s.ID = strings.TrimSpace(s.ID)
	s.Title = strings.TrimSpace(s.Title)
	s.Description = strings.TrimSpace(s.Description)
	for i := range s.Lessons {
		normalizeLesson(&s.Lessons[i])
	}
}

func normalizeLesson(l *model.Lesson) {
	l.ID = strings.TrimSpace(l.ID)
	l.Title = strings.TrimSpace(l.Title)
}
