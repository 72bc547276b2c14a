package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/caseproof/memberpress-courses-copilot-sub010/config"
	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser uint = 42

type conversationEnv struct {
	svc       *ConversationService
	sessions  *SessionStore
	drafts    *DraftStore
	gateway   *fakeGateway
	publisher *fakePublisher
}

func newConversationEnv(t *testing.T, cfg ConversationConfig, turnBackend JSONCache) *conversationEnv {
	t.Helper()
	log := utils.NewNopLogger()
	db := newTestDB(t)
	env := &conversationEnv{
		sessions:  newTestSessionStore(t, db),
		drafts:    NewDraftStore(db, log),
		gateway:   &fakeGateway{},
		publisher: &fakePublisher{},
	}
	env.svc = NewConversationService(ConversationDeps{
		Sessions:   env.sessions,
		Drafts:     env.drafts,
		Gateway:    env.gateway,
		Extractor:  NewStructureExtractor(validation.NewValidator()),
		Factory:    NewCourseFactory(env.publisher, log),
		Turns:      NewTurnCache(turnBackend, log),
		References: NewReferenceExtractor(log),
		Log:        log,
	}, cfg)
	env.svc.now = func() time.Time { return testNow }
	return env
}

// seedSession stores a session of testUser directly in the given phase
func (e *conversationEnv) seedSession(t *testing.T, phase model.Phase, structure *model.CourseStructure) *model.Session {
	t.Helper()
	ctx := context.Background()
	session, err := e.sessions.Create(ctx, NewSessionInput{UserID: testUser, Title: "seeded"})
	require.NoError(t, err)
	session.Document.Phase = phase
	session.Document.Structure = structure
	require.NoError(t, e.sessions.Save(ctx, session))
	return session
}

func (e *conversationEnv) load(t *testing.T, id string) *model.Session {
	t.Helper()
	session, err := e.sessions.Load(context.Background(), id)
	require.NoError(t, err)
	return session
}

func TestSendMessage_GuidedCourseCreation(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	env.gateway.
		reply("Great topic! Who is the course for?\n```course-json\n{\"facts\": {\"topic\": \"Python\"}}\n```").
		reply("Thanks.\n```course-json\n{\"facts\": {\"audience\": \"complete beginners\"}}\n```").
		reply(courseReply)

	first, err := env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, Message: "I want to build a course on Python"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.SessionID)
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, model.PhaseGatheringInfo, first.Phase)
	assert.Equal(t, "Great topic! Who is the course for?", first.AssistantText)
	assert.Nil(t, first.Structure)
	assert.False(t, first.ReadyToCommit)
	assert.Empty(t, first.Notices)

	second, err := env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, SessionID: first.SessionID, Message: "Complete beginners"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Sequence)
	assert.Equal(t, model.PhaseGeneratingStructure, second.Phase)

	third, err := env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, SessionID: first.SessionID, Message: "Go ahead"})
	require.NoError(t, err)
	assert.Equal(t, model.PhaseReviewing, third.Phase)
	require.NotNil(t, third.Structure)
	assert.Equal(t, "Intro to Python", third.Structure.Title)
	assert.Len(t, third.Structure.Sections, 2)
	assert.True(t, third.ReadyToCommit)

	require.Len(t, env.gateway.calls, 3)
	assert.Equal(t, IntentConverse, env.gateway.calls[0].intent)
	assert.Equal(t, IntentGenerateStructure, env.gateway.calls[2].intent)
	assert.Equal(t, "complete beginners", env.gateway.calls[2].context.Facts.Audience)
	assert.Len(t, env.gateway.calls[2].context.History, 4, "prior turns are sent")

	session := env.load(t, first.SessionID)
	assert.Equal(t, "Intro to Python", session.Title)
	assert.Equal(t, int64(3), session.Document.LastSequence)
	require.Len(t, session.Document.History, 6)
	assert.Equal(t, model.MessageRoleUser, session.Document.History[4].Role)
	assert.Equal(t, "Go ahead", session.Document.History[4].Text)
	assert.Equal(t, int64(3), session.Document.History[5].Sequence)
	assert.Equal(t, "test-model", session.Document.History[5].ModelUsed)
	assert.Equal(t, 42, session.Document.History[5].TokensUsed)
	assert.Equal(t, "Python", session.Document.Facts.Topic)
}

func TestSendMessage_FullCourseInOneTurn(t *testing.T) {
	env := newConversationEnv(t, ConversationConfig{}, nil)
	env.gateway.reply(courseReply)

	resp, err := env.svc.SendMessage(context.Background(), SendMessageInput{UserID: testUser, Message: "Make me a Python course"})
	require.NoError(t, err)

	assert.Equal(t, model.PhaseReviewing, resp.Phase)
	assert.True(t, resp.ReadyToCommit)
	assert.Equal(t, "Intro to Python", env.load(t, resp.SessionID).Document.Facts.Topic)
}

func TestSendMessage_BeginnerPythonCourse(t *testing.T) {
	env := newConversationEnv(t, ConversationConfig{}, nil)
	env.gateway.reply("Here is a plan for your course.\n```course-json\n" +
		`{"course": {"title": "Python for Beginners", "sections": [` +
		`{"title": "Getting Started", "lessons": [{"title": "Installing Python"}, {"title": "Your first program"}]},` +
		`{"title": "Control Flow", "lessons": [{"title": "If statements"}]}]}}` +
		"\n```")

	resp, err := env.svc.SendMessage(context.Background(), SendMessageInput{UserID: testUser, Message: "Create a beginner Python course"})
	require.NoError(t, err)

	assert.Equal(t, model.PhaseReviewing, resp.Phase)
	assert.Equal(t, "Here is a plan for your course.", resp.AssistantText)
	require.NotNil(t, resp.Structure)
	assert.Equal(t, "Python for Beginners", resp.Structure.Title)
	require.Len(t, resp.Structure.Sections, 2)
	assert.Equal(t, "Getting Started", resp.Structure.Sections[0].Title)
	assert.Equal(t, "Control Flow", resp.Structure.Sections[1].Title)
	assert.Equal(t, "Python for Beginners", env.load(t, resp.SessionID).Title)
}

func TestSendMessage_NewSessionTitleFromMessage(t *testing.T) {
	env := newConversationEnv(t, ConversationConfig{}, nil)
	env.gateway.reply("Tell me more.")
	long := "Help me plan a long course about   sourdough bread baking for people who have never baked before"

	resp, err := env.svc.SendMessage(context.Background(), SendMessageInput{UserID: testUser, Message: long})
	require.NoError(t, err)

	title := env.load(t, resp.SessionID).Title
	assert.True(t, len([]rune(title)) <= maxTitleRunes+3)
	assert.Contains(t, title, "sourdough bread")
	assert.Equal(t, "...", title[len(title)-3:])
}

func TestSendMessage_EmptyMessage(t *testing.T) {
	env := newConversationEnv(t, ConversationConfig{}, nil)

	_, err := env.svc.SendMessage(context.Background(), SendMessageInput{UserID: testUser, Message: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Empty(t, env.gateway.calls)
}

func TestSendMessage_ReplayFromCache(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, newMemoryCache())
	env.gateway.reply("What level?")

	first, err := env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, Message: "A course on knitting", Sequence: seqPtr(1)})
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	again, err := env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, SessionID: first.SessionID, Message: "A course on knitting", Sequence: seqPtr(1)})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.AssistantText, again.AssistantText)
	assert.Equal(t, first.Phase, again.Phase)
	assert.Len(t, env.gateway.calls, 1, "a replay does not call the AI")
	assert.Len(t, env.load(t, first.SessionID).Document.History, 2, "a replay does not append history")
}

func TestSendMessage_ReplayWithoutCache(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	env.gateway.reply("What level?")

	first, err := env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, Message: "A course on knitting"})
	require.NoError(t, err)

	again, err := env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, SessionID: first.SessionID, Message: "  A course on knitting ", Sequence: seqPtr(1)})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, "What level?", again.AssistantText)
	assert.Len(t, env.gateway.calls, 1)
}

func TestSendMessage_RetryWithoutSequence(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	env.gateway.reply("What level?").reply("Great, beginners it is.")

	first, err := env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, Message: "Create a beginner Python course"})
	require.NoError(t, err)

	again, err := env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, SessionID: first.SessionID, Message: "Create a beginner Python course"})
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, int64(1), again.Sequence)
	assert.Equal(t, "What level?", again.AssistantText)
	assert.Len(t, env.gateway.calls, 1)
	assert.Len(t, env.load(t, first.SessionID).Document.History, 2)

	next, err := env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, SessionID: first.SessionID, Message: "Beginners"})
	require.NoError(t, err)
	assert.False(t, next.Replayed)
	assert.Equal(t, int64(2), next.Sequence)
	assert.Len(t, env.gateway.calls, 2)
}

func TestSendMessage_SequenceConflicts(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	env.gateway.reply("one").reply("two")

	first, err := env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, Message: "hello", Sequence: seqPtr(1)})
	require.NoError(t, err)
	_, err = env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, SessionID: first.SessionID, Message: "again", Sequence: seqPtr(2)})
	require.NoError(t, err)

	_, err = env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, SessionID: first.SessionID, Message: "different", Sequence: seqPtr(2)})
	assert.ErrorIs(t, err, ErrSequenceConflict, "same sequence, different input")

	_, err = env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, SessionID: first.SessionID, Message: "hello", Sequence: seqPtr(1)})
	assert.ErrorIs(t, err, ErrSequenceConflict, "stale sequence")

	_, err = env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, SessionID: first.SessionID, Message: "zero", Sequence: seqPtr(0)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	var sessionErr *SessionError
	require.True(t, errors.As(err, &sessionErr))
	assert.Equal(t, first.SessionID, sessionErr.SessionID)
	assert.Len(t, env.gateway.calls, 2)
}

func TestSendMessage_GatewayFailureNewSession(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	env.gateway.fail(&GatewayError{Class: ErrorClassTimeout, Attempts: 3, Err: context.DeadlineExceeded})

	_, err := env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, Message: "A course on chess"})
	require.Error(t, err)

	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, ErrorClassTimeout, gwErr.Class)

	var sessionErr *SessionError
	require.True(t, errors.As(err, &sessionErr))
	session := env.load(t, sessionErr.SessionID)
	assert.Equal(t, model.PhaseInitial, session.Document.Phase)
	assert.Empty(t, session.Document.History)
	assert.Equal(t, int64(0), session.Document.LastSequence)
}

func TestSendMessage_GatewayFailureLeavesSessionUnchanged(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseReviewing, sampleStructure())
	env.gateway.fail(&GatewayError{Class: ErrorClassRateLimited, Attempts: 3, Err: errors.New("429")})

	_, err := env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, SessionID: seeded.ID, Message: "Add a quiz"})
	require.Error(t, err)

	session := env.load(t, seeded.ID)
	assert.Equal(t, model.PhaseReviewing, session.Document.Phase)
	assert.Equal(t, sampleStructure(), session.Document.Structure)
	assert.Empty(t, session.Document.History)

	// the same turn can be retried with the same sequence
	env.gateway.reply("Sure, what kind of quiz?")
	resp, err := env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, SessionID: seeded.ID, Message: "Add a quiz", Sequence: seqPtr(1)})
	require.NoError(t, err)
	assert.False(t, resp.Replayed)
	assert.Equal(t, int64(1), resp.Sequence)
}

func TestSendMessage_OtherUsersSessionIsNotFound(t *testing.T) {
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseGatheringInfo, nil)

	_, err := env.svc.SendMessage(context.Background(), SendMessageInput{UserID: testUser + 1, SessionID: seeded.ID, Message: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSendMessage_TerminalSessionRejected(t *testing.T) {
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseCompleted, sampleStructure())

	_, err := env.svc.SendMessage(context.Background(), SendMessageInput{UserID: testUser, SessionID: seeded.ID, Message: "hi"})
	assert.ErrorIs(t, err, ErrPhaseNotAllowed)
	assert.Empty(t, env.gateway.calls)
}

func TestSendMessage_LowConfidenceAndHint(t *testing.T) {
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseGeneratingStructure, nil)
	env.gateway.reply("Here it is\n```course-json\n{\"course\": {\"title\": \"Broken\"\n```")

	resp, err := env.svc.SendMessage(context.Background(), SendMessageInput{
		UserID: testUser, SessionID: seeded.ID, Message: "generate it", PhaseHint: string(model.PhaseReviewing),
	})
	require.NoError(t, err)

	codes := []string{}
	for _, n := range resp.Notices {
		codes = append(codes, n.Code)
	}
	assert.ElementsMatch(t, []string{NoticePhaseHintMismatch, NoticeLowConfidence}, codes)
	assert.Equal(t, model.PhaseGeneratingStructure, resp.Phase)
	assert.Nil(t, resp.Structure)
}

func TestSendMessage_ChatSectionUpdateWhileReviewing(t *testing.T) {
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseReviewing, sampleStructure())
	env.gateway.reply("```course-json\n{\"section\": {\"id\": \"s2\", \"title\": \"Functions and scope\"}}\n```")

	resp, err := env.svc.SendMessage(context.Background(), SendMessageInput{UserID: testUser, SessionID: seeded.ID, Message: "Rename the second section"})
	require.NoError(t, err)

	assert.Equal(t, model.PhaseReviewing, resp.Phase)
	assert.Equal(t, "Functions and scope", resp.Structure.Sections[1].Title)
	assert.Equal(t, "I've updated the course structure.", resp.AssistantText)
}

func TestRefine_Section(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseReviewing, sampleStructure())
	env.gateway.reply("Expanded it.\n```course-json\n" +
		`{"section": {"title": "Functions in depth", "lessons": [{"id": "l3", "title": "Defining functions"}, {"title": "Return values"}]}}` +
		"\n```")

	resp, err := env.svc.Refine(ctx, RefineInput{UserID: testUser, SessionID: seeded.ID, SectionID: "s2", Instruction: "Add a lesson on return values"})
	require.NoError(t, err)

	assert.Equal(t, model.PhaseReviewing, resp.Phase)
	assert.Equal(t, "Expanded it.", resp.AssistantText)
	assert.Equal(t, sampleStructure().Sections[0], resp.Structure.Sections[0], "other sections untouched")
	assert.Equal(t, "Functions in depth", resp.Structure.Sections[1].Title)
	require.Len(t, resp.Structure.Sections[1].Lessons, 2)
	assert.NotEmpty(t, resp.Structure.Sections[1].Lessons[1].ID)

	require.Len(t, env.gateway.calls, 1)
	call := env.gateway.calls[0]
	assert.Equal(t, IntentRefineSection, call.intent)
	require.NotNil(t, call.context.FocusSection)
	assert.Equal(t, "s2", call.context.FocusSection.ID)
	assert.Nil(t, call.context.FocusLesson)
	assert.Nil(t, call.context.Structure, "only the subtree is sent")
	assert.Equal(t, "Intro to Python", call.context.CourseTitle)

	session := env.load(t, seeded.ID)
	require.Len(t, session.Document.History, 2)
	assert.Equal(t, string(IntentRefineSection), session.Document.History[0].Intent)
}

func TestRefine_Lesson(t *testing.T) {
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseReviewing, sampleStructure())
	env.gateway.reply("```course-json\n{\"lesson\": {\"title\": \"Variables and types\", \"content\": \"<p>Types</p>\"}}\n```")

	resp, err := env.svc.Refine(context.Background(), RefineInput{UserID: testUser, SessionID: seeded.ID, SectionID: "s1", LessonID: "l1", Instruction: "Cover types"})
	require.NoError(t, err)

	lesson := resp.Structure.Sections[0].Lessons[0]
	assert.Equal(t, "l1", lesson.ID)
	assert.Equal(t, "Variables and types", lesson.Title)
	assert.Equal(t, "<p>Types</p>", *lesson.Content)
	assert.Equal(t, IntentRefineLesson, env.gateway.calls[0].intent)
	assert.Equal(t, "l1", env.gateway.calls[0].context.FocusLesson.ID)
}

func TestRefine_OutOfScopeChangeIsRejected(t *testing.T) {
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseReviewing, sampleStructure())
	env.gateway.reply("```course-json\n{\"section\": {\"id\": \"s1\", \"title\": \"Hijacked\"}}\n```")

	resp, err := env.svc.Refine(context.Background(), RefineInput{UserID: testUser, SessionID: seeded.ID, SectionID: "s2", Instruction: "Tighten it"})
	require.NoError(t, err)

	assert.Equal(t, model.PhaseRefining, resp.Phase)
	assert.Equal(t, sampleStructure(), resp.Structure)
	assert.Equal(t, sampleStructure(), env.load(t, seeded.ID).Document.Structure)
	require.Len(t, resp.Notices, 1)
	assert.Equal(t, NoticeFragmentRejected, resp.Notices[0].Code)
}

func TestRefine_NoProposal(t *testing.T) {
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseReviewing, sampleStructure())
	env.gateway.reply("I think the section is fine as it is.")

	resp, err := env.svc.Refine(context.Background(), RefineInput{UserID: testUser, SessionID: seeded.ID, SectionID: "s1", Instruction: "Improve"})
	require.NoError(t, err)

	require.Len(t, resp.Notices, 1)
	assert.Equal(t, NoticeNoChanges, resp.Notices[0].Code)
	assert.Equal(t, sampleStructure(), resp.Structure)
}

func TestRefine_Rejections(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	reviewing := env.seedSession(t, model.PhaseReviewing, sampleStructure())
	gathering := env.seedSession(t, model.PhaseGatheringInfo, nil)

	_, err := env.svc.Refine(ctx, RefineInput{UserID: testUser, SessionID: reviewing.ID, SectionID: "s9", Instruction: "x"})
	assert.ErrorIs(t, err, ErrUnknownTarget)

	_, err = env.svc.Refine(ctx, RefineInput{UserID: testUser, SessionID: reviewing.ID, SectionID: "s1", LessonID: "l3", Instruction: "x"})
	assert.ErrorIs(t, err, ErrUnknownTarget)

	_, err = env.svc.Refine(ctx, RefineInput{UserID: testUser, SessionID: gathering.ID, SectionID: "s1", Instruction: "x"})
	assert.ErrorIs(t, err, ErrPhaseNotAllowed)

	_, err = env.svc.Refine(ctx, RefineInput{UserID: testUser, SessionID: reviewing.ID, SectionID: "s1", Instruction: " "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Empty(t, env.gateway.calls)
}

func TestCommit_PublishesWithDraftPrecedence(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseReviewing, sampleStructure())

	_, err := env.svc.SaveDraft(ctx, testUser, DraftInput{SessionID: seeded.ID, SectionID: "s1", LessonID: "l1", Content: "<p>Edited variables</p>"})
	require.NoError(t, err)

	result, err := env.svc.Commit(ctx, testUser, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(101), result.CourseID)
	assert.Equal(t, 2, result.SectionsCreated)
	assert.Equal(t, 3, result.LessonsCreated)
	assert.False(t, result.AlreadyCommitted)

	require.Len(t, env.publisher.lessons, 3)
	assert.Equal(t, "<p>Edited variables</p>", env.publisher.lessons[0].Content)
	assert.Equal(t, "", env.publisher.lessons[1].Content)
	assert.Equal(t, testUser, env.publisher.courses[0].AuthorID)

	session := env.load(t, seeded.ID)
	assert.Equal(t, model.PhaseCompleted, session.Document.Phase)
	assert.Equal(t, int64(101), session.Document.CommittedCourseID)

	drafts, err := env.drafts.LoadAllForSession(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Empty(t, drafts, "drafts are removed after a commit")

	again, err := env.svc.Commit(ctx, testUser, seeded.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadyCommitted)
	assert.Equal(t, int64(101), again.CourseID)
	assert.Equal(t, 6, env.publisher.calls, "nothing published twice")
}

func TestCommit_PartialFailureThenResume(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseReviewing, sampleStructure())
	env.publisher.failAt = 4

	_, err := env.svc.Commit(ctx, testUser, seeded.ID)
	var partial *PartialCommitError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, int64(101), partial.CourseID)

	session := env.load(t, seeded.ID)
	assert.Equal(t, model.PhaseReviewing, session.Document.Phase)
	require.NotNil(t, session.Document.LastError)
	assert.Equal(t, "commit_failed", session.Document.LastError.Code)
	require.NotNil(t, session.Document.Ledger)
	assert.Equal(t, int64(101), session.Document.Ledger.CourseID)
	assert.Len(t, session.Document.Ledger.Lessons, 1)

	env.publisher.failAt = 0
	result, err := env.svc.Commit(ctx, testUser, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(101), result.CourseID)
	assert.Len(t, env.publisher.courses, 1)
	assert.Len(t, env.publisher.sections, 2)
	assert.Len(t, env.publisher.lessons, 3)

	session = env.load(t, seeded.ID)
	assert.Equal(t, model.PhaseCompleted, session.Document.Phase)
	assert.Nil(t, session.Document.LastError)
}

func TestCommit_LedgerPersistedAsEntitiesAreCreated(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseReviewing, sampleStructure())

	// the process dies while the first lesson is being created
	errCrash := errors.New("process killed")
	var stored *model.Session
	env.publisher.before = func(call int) error {
		if call != 3 {
			return nil
		}
		stored = env.load(t, seeded.ID)
		return errCrash
	}

	_, err := env.svc.Commit(ctx, testUser, seeded.ID)
	require.ErrorIs(t, err, errCrash)

	require.NotNil(t, stored)
	assert.Equal(t, model.PhaseCreating, stored.Document.Phase)
	require.NotNil(t, stored.Document.Ledger)
	assert.Equal(t, int64(101), stored.Document.Ledger.CourseID)
	assert.Equal(t, map[string]int64{"s1": 102}, stored.Document.Ledger.Sections)

	// nothing after the crash point reached storage
	require.NoError(t, env.sessions.Save(ctx, stored))
	env.publisher.before = nil

	result, err := env.svc.Commit(ctx, testUser, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(101), result.CourseID)
	assert.Len(t, env.publisher.courses, 1)
	assert.Len(t, env.publisher.sections, 2)
	assert.Len(t, env.publisher.lessons, 3)
	assert.Equal(t, model.PhaseCompleted, env.load(t, seeded.ID).Document.Phase)
}

func TestPartialCommitFreezesStructure(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseReviewing, sampleStructure())
	env.publisher.failAt = 4

	_, err := env.svc.Commit(ctx, testUser, seeded.ID)
	require.Error(t, err)

	_, err = env.svc.Refine(ctx, RefineInput{UserID: testUser, SessionID: seeded.ID, SectionID: "s1", Instruction: "Shorter"})
	assert.ErrorIs(t, err, ErrCommitUnfinished)
	assert.Empty(t, env.gateway.calls)

	_, err = env.svc.Restart(ctx, testUser, seeded.ID)
	assert.ErrorIs(t, err, ErrCommitUnfinished)
	require.NotNil(t, env.load(t, seeded.ID).Document.Ledger)
	assert.Equal(t, int64(101), env.load(t, seeded.ID).Document.Ledger.CourseID)

	env.gateway.reply("```course-json\n{\"section\": {\"id\": \"s1\", \"title\": \"Renamed\"}}\n```")
	resp, err := env.svc.SendMessage(ctx, SendMessageInput{UserID: testUser, SessionID: seeded.ID, Message: "Rename the first section"})
	require.NoError(t, err)
	assert.Equal(t, model.PhaseReviewing, resp.Phase)
	assert.Equal(t, "Basics", resp.Structure.Sections[0].Title)
	require.Len(t, resp.Notices, 1)
	assert.Equal(t, NoticeFragmentIgnored, resp.Notices[0].Code)

	env.publisher.failAt = 0
	result, err := env.svc.Commit(ctx, testUser, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(101), result.CourseID)
	assert.Equal(t, "Basics", env.publisher.sections[0].Title)
}

func TestCommit_Policy(t *testing.T) {
	ctx := context.Background()

	strict := newConversationEnv(t, ConversationConfig{CommitPolicy: config.CommitPolicyStrict}, nil)
	generating := strict.seedSession(t, model.PhaseGeneratingStructure, sampleStructure())
	_, err := strict.svc.Commit(ctx, testUser, generating.ID)
	assert.ErrorIs(t, err, ErrNotReadyToCommit)
	assert.Equal(t, model.PhaseGeneratingStructure, strict.load(t, generating.ID).Document.Phase)

	empty := strict.seedSession(t, model.PhaseReviewing, &model.CourseStructure{Title: "No sections"})
	_, err = strict.svc.Commit(ctx, testUser, empty.ID)
	assert.ErrorIs(t, err, ErrNotReadyToCommit)

	permissive := newConversationEnv(t, ConversationConfig{CommitPolicy: config.CommitPolicyPermissive}, nil)
	early := permissive.seedSession(t, model.PhaseGeneratingStructure, sampleStructure())
	result, err := permissive.svc.Commit(ctx, testUser, early.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.LessonsCreated)

	abandoned := permissive.seedSession(t, model.PhaseAbandoned, sampleStructure())
	_, err = permissive.svc.Commit(ctx, testUser, abandoned.ID)
	assert.ErrorIs(t, err, ErrPhaseNotAllowed)
}

func TestCommit_DeleteRetention(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{Retention: config.RetentionDelete}, nil)
	seeded := env.seedSession(t, model.PhaseReviewing, sampleStructure())

	_, err := env.svc.Commit(ctx, testUser, seeded.ID)
	require.NoError(t, err)

	_, err = env.sessions.Load(ctx, seeded.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRestart(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseRefining, sampleStructure())
	seeded.Document.History = []model.ConversationMessage{{Role: model.MessageRoleUser, Text: "hi", Sequence: 1, Timestamp: testNow}}
	seeded.Document.Facts = model.CourseFacts{Topic: "Python"}
	require.NoError(t, env.sessions.Save(ctx, seeded))
	_, err := env.drafts.Save(ctx, DraftInput{SessionID: seeded.ID, SectionID: "s1", LessonID: "l1", Content: "x"})
	require.NoError(t, err)

	session, err := env.svc.Restart(ctx, testUser, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseInitial, session.Document.Phase)

	loaded := env.load(t, seeded.ID)
	assert.Nil(t, loaded.Document.Structure)
	assert.Empty(t, loaded.Document.Facts.Topic)
	assert.Len(t, loaded.Document.History, 1, "history is kept")

	drafts, err := env.drafts.LoadAllForSession(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Empty(t, drafts)

	completed := env.seedSession(t, model.PhaseCompleted, sampleStructure())
	_, err = env.svc.Restart(ctx, testUser, completed.ID)
	assert.ErrorIs(t, err, ErrPhaseNotAllowed)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseReviewing, sampleStructure())

	deleted, err := env.svc.Delete(ctx, testUser+1, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted, "another user's session is left alone")
	env.load(t, seeded.ID)

	deleted, err = env.svc.Delete(ctx, testUser, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = env.svc.Delete(ctx, testUser, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
}

func TestDrafts(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	seeded := env.seedSession(t, model.PhaseReviewing, sampleStructure())

	for _, in := range []DraftInput{
		{SessionID: seeded.ID, SectionID: "s2", LessonID: "l3", Content: "three"},
		{SessionID: seeded.ID, SectionID: "s1", LessonID: "l2", Content: "two"},
		{SessionID: seeded.ID, SectionID: "s1", LessonID: "l1", Content: "one"},
	} {
		changed, err := env.svc.SaveDraft(ctx, testUser, in)
		require.NoError(t, err)
		assert.True(t, changed)
	}

	views, err := env.svc.ListDrafts(ctx, testUser, seeded.ID)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, DraftView{SectionID: "s1", LessonID: "l1", Content: "one"}, views[0])
	assert.Equal(t, "l3", views[2].LessonID)

	content, err := env.svc.GetDraft(ctx, testUser, seeded.ID, model.DraftKey{SectionID: "s1", LessonID: "l2"})
	require.NoError(t, err)
	assert.Equal(t, "two", content)

	_, err = env.svc.GetDraft(ctx, testUser, seeded.ID, model.DraftKey{SectionID: "s9", LessonID: "l9"})
	assert.ErrorIs(t, err, ErrDraftNotFound)

	_, err = env.svc.ListDrafts(ctx, testUser+1, seeded.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	completed := env.seedSession(t, model.PhaseCompleted, sampleStructure())
	_, err = env.svc.SaveDraft(ctx, testUser, DraftInput{SessionID: completed.ID, SectionID: "s1", LessonID: "l1", Content: "late"})
	assert.ErrorIs(t, err, ErrPhaseNotAllowed)
}

func TestListAndCleanupSessions(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)
	env.seedSession(t, model.PhaseReviewing, sampleStructure())
	_, err := env.sessions.Create(ctx, NewSessionInput{UserID: testUser})
	require.NoError(t, err)

	list, err := env.svc.ListSessions(ctx, testUser, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	env.sessions.now = func() time.Time { return testNow.Add(time.Hour) }
	deleted, err := env.svc.Cleanup(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestAttachReference_Rejections(t *testing.T) {
	ctx := context.Background()
	env := newConversationEnv(t, ConversationConfig{}, nil)

	active := env.seedSession(t, model.PhaseGatheringInfo, nil)
	_, err := env.svc.AttachReference(ctx, testUser, active.ID, "notes.pdf", []byte("%PDF-1.4 broken"))
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.svc.AttachReference(ctx, testUser, active.ID, "notes.pdf", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.svc.AttachReference(ctx, testUser+1, active.ID, "notes.pdf", []byte("%PDF-1.4"))
	assert.ErrorIs(t, err, ErrSessionNotFound)

	done := env.seedSession(t, model.PhaseCompleted, sampleStructure())
	_, err = env.svc.AttachReference(ctx, testUser, done.ID, "notes.pdf", []byte("%PDF-1.4"))
	assert.ErrorIs(t, err, ErrPhaseNotAllowed)

	_, hasReference := env.load(t, active.ID).Document.Metadata[MetadataReferenceMaterial]
	assert.False(t, hasReference)
}
