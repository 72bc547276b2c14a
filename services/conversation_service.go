package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/caseproof/memberpress-courses-copilot-sub010/config"
	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"golang.org/x/crypto/blake2b"
)

// Notice codes attached to a turn response
const (
	NoticeLowConfidence     = "low_confidence"
	NoticeFragmentRejected  = "fragment_rejected"
	NoticeFragmentIgnored   = "fragment_ignored"
	NoticeIncomplete        = "structure_incomplete"
	NoticeNoChanges         = "no_changes"
	NoticePhaseHintMismatch = "phase_hint_mismatch"
)

const maxTitleRunes = 60

// Gateway is the AI call the conversation depends on
type Gateway interface {
	Send(ctx context.Context, sc SessionContext, intent PromptIntent) (*GatewayResponse, error)
}

// Notice is a non-fatal remark about a turn
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TurnResponse is the answer to one chat or refine turn
type TurnResponse struct {
	SessionID     string                 `json:"session_id"`
	Sequence      int64                  `json:"sequence"`
	AssistantText string                 `json:"assistant_text"`
	Phase         model.Phase            `json:"phase"`
	Structure     *model.CourseStructure `json:"structure"`
	ReadyToCommit bool                   `json:"ready_to_commit"`
	Notices       []Notice               `json:"notices"`
	Replayed      bool                   `json:"replayed"`
}

// SendMessageInput is one user chat message
type SendMessageInput struct {
	UserID    uint
	SessionID string // empty starts a new session
	Message   string
	Sequence  *int64 // nil lets the server assign the next one
	PhaseHint string
}

// RefineInput asks for one section or lesson to be regenerated
type RefineInput struct {
	UserID      uint
	SessionID   string
	SectionID   string
	LessonID    string // empty refines the whole section
	Instruction string
	Sequence    *int64
}

// DraftView is a draft as returned to clients
type DraftView struct {
	SectionID string `json:"section_id"`
	LessonID  string `json:"lesson_id"`
	Content   string `json:"content"`
}

// ConversationConfig holds the behaviour switches read from the environment
type ConversationConfig struct {
	CommitPolicy string
	Retention    string
}

// ConversationDeps are the collaborators of the conversation service
type ConversationDeps struct {
	Sessions   *SessionStore
	Drafts     *DraftStore
	Gateway    Gateway
	Extractor  *StructureExtractor
	Factory    *CourseFactory
	Turns      *TurnCache
	Archiver   *SessionArchiver // nil unless retention is archive
	References *ReferenceExtractor
	Log        *utils.Logger
}

// ConversationService runs the conversation state machine over the stores,
// the AI gateway and the course factory
type ConversationService struct {
	sessions   *SessionStore
	drafts     *DraftStore
	gateway    Gateway
	extractor  *StructureExtractor
	factory    *CourseFactory
	turns      *TurnCache
	archiver   *SessionArchiver
	references *ReferenceExtractor
	log        *utils.Logger
	config     ConversationConfig
	now        func() time.Time
}

func NewConversationService(deps ConversationDeps, cfg ConversationConfig) *ConversationService {
	if cfg.CommitPolicy == "" {
		cfg.CommitPolicy = config.CommitPolicyStrict
	}
	if cfg.Retention == "" {
		cfg.Retention = config.RetentionKeep
	}
	return &ConversationService{
		sessions:   deps.Sessions,
		drafts:     deps.Drafts,
		gateway:    deps.Gateway,
		extractor:  deps.Extractor,
		factory:    deps.Factory,
		turns:      deps.Turns,
		archiver:   deps.Archiver,
		references: deps.References,
		log:        deps.Log,
		config:     cfg,
		now:        time.Now,
	}
}

// InputHash fingerprints a request so an exact retry can be told apart from
// a different request reusing the same sequence number
func InputHash(kind string, parts ...string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(kind))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// checkSequence decides whether a request is new, an exact replay of the
// last turn, or a conflict. Without a sequence, a request identical to the
// last turn is taken as a retry of it.
func checkSequence(doc *model.SessionDocument, requested *int64, hash string) (int64, bool, error) {
	if requested == nil {
		if doc.LastSequence > 0 && hash == doc.LastInputHash {
			return doc.LastSequence, true, nil
		}
		return doc.LastSequence + 1, false, nil
	}
	seq := *requested
	switch {
	case seq < 1:
		return 0, false, fmt.Errorf("%w: sequence must be positive", ErrInvalidInput)
	case seq == doc.LastSequence:
		if hash == doc.LastInputHash {
			return seq, true, nil
		}
		return 0, false, fmt.Errorf("%w: sequence %d was used for a different request", ErrSequenceConflict, seq)
	case seq < doc.LastSequence:
		return 0, false, fmt.Errorf("%w: sequence %d is behind %d", ErrSequenceConflict, seq, doc.LastSequence)
	}
	return seq, false, nil
}

// SendMessage runs one chat turn. Nothing is persisted when the AI call
// fails; a newly created session still exists and its id is reported
// through *SessionError.
func (s *ConversationService) SendMessage(ctx context.Context, in SendMessageInput) (*TurnResponse, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}

	var (
		session *model.Session
		err     error
	)
	if in.SessionID == "" {
		session, err = s.sessions.Create(ctx, NewSessionInput{UserID: in.UserID, Title: titleFromMessage(message)})
	} else {
		session, err = s.loadOwned(ctx, in.UserID, in.SessionID)
	}
	if err != nil {
		return nil, err
	}
	doc := &session.Document
	fail := func(err error) (*TurnResponse, error) {
		return nil, &SessionError{SessionID: session.ID, Err: err}
	}

	hash := InputHash("message", message)
	seq, replay, err := checkSequence(doc, in.Sequence, hash)
	if err != nil {
		return fail(err)
	}
	if replay {
		return s.replayTurn(ctx, session, seq), nil
	}

	turn := &turnOutcome{phase: doc.Phase, structure: doc.Structure, facts: doc.Facts}
	if in.PhaseHint != "" && in.PhaseHint != string(doc.Phase) {
		turn.notice(NoticePhaseHintMismatch, fmt.Sprintf("the session is %s", doc.Phase))
	}
	if turn.phase, err = Transition(doc.Phase, EventUserMessage); err != nil {
		return fail(err)
	}

	intent := IntentConverse
	if turn.phase == model.PhaseGeneratingStructure {
		intent = IntentGenerateStructure
	}

	reply, err := s.gateway.Send(ctx, SessionContext{
		Phase:       turn.phase,
		History:     doc.History,
		Facts:       doc.Facts,
		Structure:   doc.Structure,
		UserMessage: message,
		Reference:   referenceText(doc.Metadata),
	}, intent)
	if err != nil {
		return fail(err)
	}

	extraction := s.extractor.Extract(reply.Text)
	turn.addExtractionNotices(extraction)
	if fragment := extraction.Fragment; fragment != nil && fragment.Kind != FragmentFacts && partiallyCommitted(doc) {
		turn.notice(NoticeFragmentIgnored, ErrCommitUnfinished.Error())
		extraction.Fragment = nil
	}
	s.applyChatFragment(turn, extraction.Fragment)

	resp, err := s.finishTurn(ctx, session, turn, seq, hash, message, extraction.DisplayText, intent, reply)
	if err != nil {
		return fail(err)
	}
	return resp, nil
}

// Refine regenerates one section or lesson. Only that subtree is sent to the
// AI and only that node can change.
func (s *ConversationService) Refine(ctx context.Context, in RefineInput) (*TurnResponse, error) {
	instruction := strings.TrimSpace(in.Instruction)
	if instruction == "" {
		return nil, fmt.Errorf("%w: instruction is required", ErrInvalidInput)
	}

	session, err := s.loadOwned(ctx, in.UserID, in.SessionID)
	if err != nil {
		return nil, err
	}
	doc := &session.Document
	if doc.Phase != model.PhaseReviewing && doc.Phase != model.PhaseRefining {
		return nil, &PhaseError{Operation: "refine", Phase: string(doc.Phase)}
	}
	if partiallyCommitted(doc) {
		return nil, ErrCommitUnfinished
	}

	si := doc.Structure.SectionIndex(in.SectionID)
	if si < 0 {
		return nil, fmt.Errorf("%w: section %q", ErrUnknownTarget, in.SectionID)
	}
	section := doc.Structure.Sections[si].Clone()
	intent := IntentRefineSection
	var lesson *model.Lesson
	if in.LessonID != "" {
		li := section.LessonIndex(in.LessonID)
		if li < 0 {
			return nil, fmt.Errorf("%w: lesson %q", ErrUnknownTarget, in.LessonID)
		}
		l := section.Lessons[li].Clone()
		lesson = &l
		intent = IntentRefineLesson
	}

	hash := InputHash("refine", in.SectionID, in.LessonID, instruction)
	seq, replay, err := checkSequence(doc, in.Sequence, hash)
	if err != nil {
		return nil, err
	}
	if replay {
		return s.replayTurn(ctx, session, seq), nil
	}

	turn := &turnOutcome{phase: doc.Phase, structure: doc.Structure, facts: doc.Facts}
	s.advance(turn, EventRefineRequested)

	reply, err := s.gateway.Send(ctx, SessionContext{
		Phase:        turn.phase,
		CourseTitle:  doc.Structure.Title,
		FocusSection: &section,
		FocusLesson:  lesson,
		Instruction:  instruction,
	}, intent)
	if err != nil {
		return nil, err
	}

	extraction := s.extractor.Extract(reply.Text)
	turn.addExtractionNotices(extraction)
	switch fragment := extraction.Fragment; {
	case fragment != nil && (fragment.Kind == FragmentSection || fragment.Kind == FragmentLesson):
		s.applyRefinement(turn, fragment, &RefineScope{SectionID: in.SectionID, LessonID: in.LessonID})
	case fragment != nil:
		turn.notice(NoticeFragmentIgnored, fmt.Sprintf("expected a %s update", intentTarget(intent)))
	case len(turn.notices) == 0:
		turn.notice(NoticeNoChanges, "the assistant did not propose a change")
	}

	return s.finishTurn(ctx, session, turn, seq, hash, instruction, extraction.DisplayText, intent, reply)
}

// Restart clears the structure, facts and commit ledger and returns the
// session to initial. History is kept. A partly created course must be
// finished first.
func (s *ConversationService) Restart(ctx context.Context, userID uint, sessionID string) (*model.Session, error) {
	session, err := s.loadOwned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	doc := &session.Document
	if partiallyCommitted(doc) {
		return nil, ErrCommitUnfinished
	}
	if doc.Phase, err = Transition(doc.Phase, EventRestart); err != nil {
		return nil, err
	}
	doc.Structure = nil
	doc.Facts = model.CourseFacts{}
	doc.Ledger = nil
	doc.LastError = nil
	doc.CommittedCourseID = 0

	if _, err := s.drafts.DeleteAllForSession(ctx, session.ID); err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	s.log.Info("Session restarted", "session_id", session.ID)
	return session, nil
}

// Delete abandons the session and removes it with its drafts. Deleting a
// missing session reports 0.
func (s *ConversationService) Delete(ctx context.Context, userID uint, sessionID string) (int64, error) {
	session, err := s.loadOwned(ctx, userID, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	if !session.Document.Phase.IsTerminal() {
		if session.Document.Phase, err = Transition(session.Document.Phase, EventAbandon); err != nil {
			return 0, err
		}
		if err := s.sessions.Save(ctx, session); err != nil {
			return 0, err
		}
	}

	deleted, err := s.sessions.Delete(ctx, session.ID)
	if err != nil {
		return 0, err
	}
	s.log.Info("Session deleted", "session_id", session.ID, "user_id", userID)
	return deleted, nil
}

// Cleanup removes the user's empty sessions
func (s *ConversationService) Cleanup(ctx context.Context, userID uint) (int64, error) {
	return s.sessions.CleanupEmptyForUser(ctx, userID)
}

// ListSessions returns the user's sessions, newest first
func (s *ConversationService) ListSessions(ctx context.Context, userID uint, limit int) ([]model.SessionSummary, error) {
	return s.sessions.ListForUser(ctx, userID, limit)
}

// GetSession returns one of the user's sessions
func (s *ConversationService) GetSession(ctx context.Context, userID uint, sessionID string) (*model.Session, error) {
	return s.loadOwned(ctx, userID, sessionID)
}

// SaveDraft stores an edited lesson body
func (s *ConversationService) SaveDraft(ctx context.Context, userID uint, input DraftInput) (bool, error) {
	session, err := s.loadOwned(ctx, userID, input.SessionID)
	if err != nil {
		return false, err
	}
	if session.Document.Phase.IsTerminal() {
		return false, &PhaseError{Operation: "save draft", Phase: string(session.Document.Phase)}
	}
	return s.drafts.Save(ctx, input)
}

// GetDraft returns the saved body of one lesson
func (s *ConversationService) GetDraft(ctx context.Context, userID uint, sessionID string, key model.DraftKey) (string, error) {
	if _, err := s.loadOwned(ctx, userID, sessionID); err != nil {
		return "", err
	}
	content, ok, err := s.drafts.LoadOne(ctx, sessionID, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrDraftNotFound
	}
	return content, nil
}

// ListDrafts returns every draft of the session ordered by section and lesson id
func (s *ConversationService) ListDrafts(ctx context.Context, userID uint, sessionID string) ([]DraftView, error) {
	if _, err := s.loadOwned(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	drafts, err := s.drafts.LoadAllForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	views := make([]DraftView, 0, len(drafts))
	for key, content := range drafts {
		views = append(views, DraftView{SectionID: key.SectionID, LessonID: key.LessonID, Content: content})
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].SectionID != views[j].SectionID {
			return views[i].SectionID < views[j].SectionID
		}
		return views[i].LessonID < views[j].LessonID
	})
	return views, nil
}

// AttachReference extracts a PDF's text into the session so later prompts
// can draw on it. It returns the number of characters kept.
func (s *ConversationService) AttachReference(ctx context.Context, userID uint, sessionID, filename string, content []byte) (int, error) {
	session, err := s.loadOwned(ctx, userID, sessionID)
	if err != nil {
		return 0, err
	}
	if session.Document.Phase.IsTerminal() || session.Document.Phase == model.PhaseCreating {
		return 0, &PhaseError{Operation: "attach reference", Phase: string(session.Document.Phase)}
	}

	text, err := s.references.ExtractText(content)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if session.Document.Metadata == nil {
		session.Document.Metadata = model.JSONMap{}
	}
	session.Document.Metadata[MetadataReferenceMaterial] = text
	session.Document.Metadata[MetadataReferenceFilename] = filename
	if err := s.sessions.Save(ctx, session); err != nil {
		return 0, err
	}
	return len([]rune(text)), nil
}

// Commit publishes the working structure. The session is persisted in
// creating before anything is published and again after every entity, so
// the stored ledger always lists what exists. A failure sends it back to
// reviewing; a retry from either phase resumes.
func (s *ConversationService) Commit(ctx context.Context, userID uint, sessionID string) (*CommitResult, error) {
	session, err := s.loadOwned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	doc := &session.Document

	if doc.Phase == model.PhaseCompleted && doc.CommittedCourseID != 0 {
		return &CommitResult{CourseID: doc.CommittedCourseID, AlreadyCommitted: true}, nil
	}
	if doc.Phase.IsTerminal() {
		return nil, &PhaseError{Operation: "commit", Phase: string(doc.Phase)}
	}
	if !CanCommit(s.config.CommitPolicy, doc.Phase, doc.Structure) {
		return nil, fmt.Errorf("%w: session is %s", ErrNotReadyToCommit, doc.Phase)
	}

	if doc.Phase, err = Transition(doc.Phase, EventCommitRequested); err != nil {
		return nil, err
	}
	if doc.Ledger == nil {
		doc.Ledger = model.NewCommitLedger()
	}
	doc.LastError = nil
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	drafts, err := s.drafts.LoadAllForSession(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	result, err := s.factory.Commit(ctx, CommitRequest{
		Structure: doc.Structure,
		Drafts:    drafts,
		AuthorID:  session.UserID,
		SessionID: session.ID,
		Ledger:    doc.Ledger,
		OnCreated: func(ctx context.Context, ledger *model.CommitLedger) error {
			doc.Ledger = ledger
			return s.sessions.Save(ctx, session)
		},
	})
	if err != nil {
		doc.Phase, _ = Transition(doc.Phase, EventCommitFailed)
		doc.LastError = &model.Annotation{Code: "commit_failed", Message: err.Error(), At: s.now().UTC()}
		if saveErr := s.sessions.Save(ctx, session); saveErr != nil {
			s.log.Error("Could not record failed commit", "session_id", session.ID, "error", saveErr)
		}
		return nil, err
	}

	if _, err := s.drafts.DeleteAllForSession(ctx, session.ID); err != nil {
		s.log.Warn("Drafts left behind after commit", "session_id", session.ID, "error", err)
	}
	doc.Phase, _ = Transition(doc.Phase, EventCommitSucceeded)
	doc.CommittedCourseID = result.CourseID
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	s.applyRetention(ctx, session)
	return result, nil
}

func (s *ConversationService) applyRetention(ctx context.Context, session *model.Session) {
	switch s.config.Retention {
	case config.RetentionArchive:
		if s.archiver == nil {
			s.log.Warn("Archive retention configured without an archive store", "session_id", session.ID)
			return
		}
		if _, err := s.archiver.Archive(ctx, session); err != nil {
			s.log.Warn("Session archive failed, keeping session", "session_id", session.ID, "error", err)
			return
		}
	case config.RetentionDelete:
	default:
		return
	}
	if _, err := s.sessions.Delete(ctx, session.ID); err != nil {
		s.log.Warn("Completed session not removed", "session_id", session.ID, "error", err)
	}
}

func (s *ConversationService) loadOwned(ctx context.Context, userID uint, sessionID string) (*model.Session, error) {
	session, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// finishTurn appends the exchange to history, persists the session and
// caches the response
func (s *ConversationService) finishTurn(ctx context.Context, session *model.Session, turn *turnOutcome, seq int64, hash, userText, assistantText string, intent PromptIntent, reply *GatewayResponse) (*TurnResponse, error) {
	if assistantText == "" && turn.structure != session.Document.Structure {
		assistantText = "I've updated the course structure."
	}

	now := s.now().UTC()
	doc := &session.Document
	doc.History = append(doc.History,
		model.ConversationMessage{Role: model.MessageRoleUser, Text: userText, Sequence: seq, Timestamp: now, Intent: string(intent)},
		model.ConversationMessage{
			Role:       model.MessageRoleAssistant,
			Text:       assistantText,
			Sequence:   seq,
			Timestamp:  now,
			Intent:     string(intent),
			TokensUsed: reply.TokensUsed,
			ModelUsed:  reply.Model,
		},
	)
	doc.Phase = turn.phase
	doc.Structure = turn.structure
	doc.Facts = turn.facts
	doc.LastSequence = seq
	doc.LastInputHash = hash
	if doc.Structure.HasTitle() {
		session.Title = doc.Structure.Title
	}

	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	resp := s.turnResponse(session, seq, assistantText, turn.notices)
	s.turns.Put(ctx, resp)
	return resp, nil
}

func (s *ConversationService) replayTurn(ctx context.Context, session *model.Session, seq int64) *TurnResponse {
	if cached, ok := s.turns.Get(ctx, session.ID, seq); ok {
		cached.Replayed = true
		return cached
	}

	text := ""
	for i := len(session.Document.History) - 1; i >= 0; i-- {
		m := session.Document.History[i]
		if m.Role == model.MessageRoleAssistant && m.Sequence == seq {
			text = m.Text
			break
		}
	}
	resp := s.turnResponse(session, seq, text, nil)
	resp.Replayed = true
	return resp
}

func (s *ConversationService) turnResponse(session *model.Session, seq int64, text string, notices []Notice) *TurnResponse {
	if notices == nil {
		notices = []Notice{}
	}
	doc := &session.Document
	return &TurnResponse{
		SessionID:     session.ID,
		Sequence:      seq,
		AssistantText: text,
		Phase:         doc.Phase,
		Structure:     doc.Structure,
		ReadyToCommit: doc.Phase != model.PhaseCreating && CanCommit(s.config.CommitPolicy, doc.Phase, doc.Structure),
		Notices:       notices,
	}
}

// turnOutcome is the state a turn builds up before it is persisted
type turnOutcome struct {
	phase     model.Phase
	structure *model.CourseStructure
	facts     model.CourseFacts
	notices   []Notice
}

func (t *turnOutcome) notice(code, message string) {
	t.notices = append(t.notices, Notice{Code: code, Message: message})
}

func (t *turnOutcome) addExtractionNotices(r ExtractionResult) {
	if r.LowConfidence {
		t.notice(NoticeLowConfidence, "the suggested course structure could not be read")
	}
	if r.Rejected != nil {
		t.notice(NoticeFragmentRejected, r.Rejected.Error())
	}
}

func (t *turnOutcome) mergeFailed(err error) {
	if errors.Is(err, ErrFragmentNotApplicable) {
		t.notice(NoticeFragmentIgnored, err.Error())
		return
	}
	t.notice(NoticeFragmentRejected, err.Error())
}

func (s *ConversationService) advance(t *turnOutcome, ev Event) {
	next, err := Transition(t.phase, ev)
	if err != nil {
		s.log.Error("Rejected state transition", "phase", t.phase, "event", ev, "error", err)
		return
	}
	t.phase = next
}

// applyChatFragment moves the turn through as many phases as the fragment
// allows: a full course can take gathering_info all the way to reviewing
func (s *ConversationService) applyChatFragment(t *turnOutcome, fragment *Fragment) {
	if fragment != nil && fragment.Facts != nil {
		t.facts = t.facts.Merge(*fragment.Facts)
	}
	hasCourse := fragment != nil && fragment.Kind == FragmentCourse

	if t.phase == model.PhaseGatheringInfo {
		if hasCourse && strings.TrimSpace(t.facts.Topic) == "" {
			t.facts.Topic = fragment.Course.Title
		}
		if hasCourse || t.facts.Complete() {
			s.advance(t, EventFactsComplete)
		}
	}
	if fragment == nil || fragment.Kind == FragmentFacts {
		return
	}

	switch {
	case hasCourse && t.phase == model.PhaseGeneratingStructure:
		merged, err := s.extractor.Merge(t.structure, fragment, t.phase, nil)
		if err != nil {
			t.mergeFailed(err)
			return
		}
		t.structure = merged
		if merged.IsComplete() {
			s.advance(t, EventStructureAccepted)
		} else {
			t.notice(NoticeIncomplete, "the course needs at least one section with a lesson")
		}
	case !hasCourse && (t.phase == model.PhaseReviewing || t.phase == model.PhaseRefining):
		s.advance(t, EventRefineRequested)
		s.applyRefinement(t, fragment, nil)
	default:
		t.mergeFailed(fmt.Errorf("%w: %s update while %s", ErrFragmentNotApplicable, fragment.Kind, t.phase))
	}
}

func (s *ConversationService) applyRefinement(t *turnOutcome, fragment *Fragment, scope *RefineScope) {
	merged, err := s.extractor.Merge(t.structure, fragment, model.PhaseRefining, scope)
	if err != nil {
		t.mergeFailed(err)
		return
	}
	t.structure = merged
	s.advance(t, EventRefineApplied)
}

func intentTarget(intent PromptIntent) string {
	if intent == IntentRefineLesson {
		return "lesson"
	}
	return "section"
}

// partiallyCommitted reports whether an earlier commit left entities behind
func partiallyCommitted(doc *model.SessionDocument) bool {
	return doc.Ledger != nil && doc.Ledger.CourseID != 0 && doc.Phase != model.PhaseCompleted
}

func referenceText(meta model.JSONMap) string {
	if meta == nil {
		return ""
	}
	text, _ := meta[MetadataReferenceMaterial].(string)
	return text
}

func titleFromMessage(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	r := []rune(title)
	if len(r) > maxTitleRunes {
		return strings.TrimSpace(string(r[:maxTitleRunes])) + "..."
	}
	return title
}
