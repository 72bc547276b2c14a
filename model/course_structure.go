package model

import "strings"

// CourseStructure is the working, not-yet-committed course tree held by a session.
// Section and lesson ids are client-stable strings, never database ids.
type CourseStructure struct {
	Title       string    `json:"title" validate:"notblank,max=255"`
	Description string    `json:"description,omitempty"`
	Sections    []Section `json:"sections" validate:"dive"`
}

// Section is an ordered group of lessons
type Section struct {
	ID          string   `json:"id"`
	Title       string   `json:"title" validate:"notblank,max=255"`
	Description string   `json:"description,omitempty"`
	Lessons     []Lesson `json:"lessons" validate:"dive"`
}

// Lesson is a single lesson. Content stays nil until the assistant or the
// user provides a body.
type Lesson struct {
	ID              string  `json:"id"`
	Title           string  `json:"title" validate:"notblank,max=255"`
	Content         *string `json:"content,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty" validate:"omitempty,gte=0,lte=1440"`
}

// Clone returns a deep copy so merges never alias the original tree
func (c *CourseStructure) Clone() *CourseStructure {
	if c == nil {
		return nil
	}
	out := &CourseStructure{
		Title:       c.Title,
		Description: c.Description,
	}
	if c.Sections != nil {
		out.Sections = make([]Section, len(c.Sections))
		for i := range c.Sections {
			out.Sections[i] = c.Sections[i].Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the section
func (s Section) Clone() Section {
	out := s
	if s.Lessons != nil {
		out.Lessons = make([]Lesson, len(s.Lessons))
		for i := range s.Lessons {
			out.Lessons[i] = s.Lessons[i].Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the lesson
func (l Lesson) Clone() Lesson {
	out := l
	if l.Content != nil {
		content := *l.Content
		out.Content = &content
	}
	if l.DurationMinutes != nil {
		d := *l.DurationMinutes
		out.DurationMinutes = &d
	}
	return out
}

// HasTitle reports whether the course has a non-blank title
func (c *CourseStructure) HasTitle() bool {
	return c != nil && strings.TrimSpace(c.Title) != ""
}

// LessonCount returns the number of lessons across all sections
func (c *CourseStructure) LessonCount() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, s := range c.Sections {
		n += len(s.Lessons)
	}
	return n
}

// IsComplete reports a tree that can be reviewed: a title, at least one
// section and at least one lesson.
func (c *CourseStructure) IsComplete() bool {
	return c.HasTitle() && len(c.Sections) > 0 && c.LessonCount() > 0
}

// SectionIndex returns the position of the section with the given id, or -1
func (c *CourseStructure) SectionIndex(id string) int {
	if c == nil {
		return -1
	}
	for i := range c.Sections {
		if c.Sections[i].ID == id {
			return i
		}
	}
	return -1
}

// LessonIndex returns the position of the lesson with the given id, or -1
func (s *Section) LessonIndex(id string) int {
	for i := range s.Lessons {
		if s.Lessons[i].ID == id {
			return i
		}
	}
	return -1
}
