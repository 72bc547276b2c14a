package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/cache"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/validation"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// newTestDB opens a private in-memory database with the copilot tables
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// one connection, since every :memory: connection is its own database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.CopilotSession{}, &model.LessonDraft{}))
	return db
}

func newTestSessionStore(t *testing.T, db *gorm.DB) *SessionStore {
	store := NewSessionStore(db, utils.NewNopLogger(), 10*time.Minute)
	store.now = func() time.Time { return testNow }
	return store
}

func newTestExtractor() *StructureExtractor {
	e := NewStructureExtractor(validation.NewValidator())
	n := 0
	e.newID = func(prefix string) string {
		n++
		return fmt.Sprintf("%s-gen%d", prefix, n)
	}
	return e
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func seqPtr(i int64) *int64   { return &i }

// sampleStructure is a reviewed two-section course
func sampleStructure() *model.CourseStructure {
	return &model.CourseStructure{
		Title:       "Intro to Python",
		Description: "A first course",
		Sections: []model.Section{
			{
				ID:    "s1",
				Title: "Basics",
				Lessons: []model.Lesson{
					{ID: "l1", Title: "Variables", Content: strPtr("<p>Inline variables</p>")},
					{ID: "l2", Title: "Loops", DurationMinutes: intPtr(15)},
				},
			},
			{
				ID:    "s2",
				Title: "Functions",
				Lessons: []model.Lesson{
					{ID: "l3", Title: "Defining functions"},
				},
			},
		},
	}
}

// fakeGateway answers from a queue and records every call
type fakeGateway struct {
	mu      sync.Mutex
	replies []fakeReply
	calls   []fakeCall
}

type fakeReply struct {
	text string
	err  error
}

type fakeCall struct {
	context SessionContext
	intent  PromptIntent
}

func (g *fakeGateway) reply(text string) *fakeGateway {
	g.replies = append(g.replies, fakeReply{text: text})
	return g
}

func (g *fakeGateway) fail(err error) *fakeGateway {
	g.replies = append(g.replies, fakeReply{err: err})
	return g
}

func (g *fakeGateway) Send(ctx context.Context, sc SessionContext, intent PromptIntent) (*GatewayResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, fakeCall{context: sc, intent: intent})
	if len(g.replies) == 0 {
		return nil, &GatewayError{Class: ErrorClassUnknown, Attempts: 1, Err: errors.New("no scripted reply")}
	}
	next := g.replies[0]
	g.replies = g.replies[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &GatewayResponse{Text: next.text, Model: "test-model", TokensUsed: 42, Attempts: 1}, nil
}

// fakePublisher records created entities and can fail at a given call
type fakePublisher struct {
	nextID   int64
	courses  []CourseInput
	sections []SectionInput
	lessons  []LessonInput
	failAt   int // 1-based call number to fail at; 0 never fails
	calls    int
	// before runs ahead of every call with its 1-based number; an error fails the call
	before func(call int) error
}

var errPublishFailed = errors.New("publish failed")

func (p *fakePublisher) step() (int64, error) {
	p.calls++
	if p.before != nil {
		if err := p.before(p.calls); err != nil {
			return 0, err
		}
	}
	if p.failAt != 0 && p.calls == p.failAt {
		return 0, errPublishFailed
	}
	p.nextID++
	return 100 + p.nextID, nil
}

func (p *fakePublisher) CreateCourse(ctx context.Context, input CourseInput) (int64, error) {
	id, err := p.step()
	if err == nil {
		p.courses = append(p.courses, input)
	}
	return id, err
}

func (p *fakePublisher) CreateSection(ctx context.Context, input SectionInput) (int64, error) {
	id, err := p.step()
	if err == nil {
		p.sections = append(p.sections, input)
	}
	return id, err
}

func (p *fakePublisher) CreateLesson(ctx context.Context, input LessonInput) (int64, error) {
	id, err := p.step()
	if err == nil {
		p.lessons = append(p.lessons, input)
	}
	return id, err
}

// memoryCache is an in-process JSONCache
type memoryCache struct {
	items map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: map[string][]byte{}}
}

func (m *memoryCache) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.items[key] = raw
	return nil
}

func (m *memoryCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.items[key]
	if !ok {
		return cache.ErrNotFound
	}
	return json.Unmarshal(raw, dest)
}
