package services

import (
	"github.com/caseproof/memberpress-courses-copilot-sub010/config"
	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
)

// Event drives the conversation state machine
type Event string

const (
	EventUserMessage       Event = "user_message"
	EventFactsComplete     Event = "facts_complete"
	EventStructureAccepted Event = "structure_accepted"
	EventRefineRequested   Event = "refine_requested"
	EventRefineApplied     Event = "refine_applied"
	EventCommitRequested   Event = "commit_requested"
	EventCommitSucceeded   Event = "commit_succeeded"
	EventCommitFailed      Event = "commit_failed"
	EventRestart           Event = "restart"
	EventAbandon           Event = "abandon"
)

// transitions is the whole state machine: phase -> event -> next phase.
// Anything missing is not allowed.
var transitions = map[model.Phase]map[Event]model.Phase{
	model.PhaseInitial: {
		EventUserMessage:     model.PhaseGatheringInfo,
		EventCommitRequested: model.PhaseCreating,
		EventRestart:         model.PhaseInitial,
		EventAbandon:         model.PhaseAbandoned,
	},
	model.PhaseGatheringInfo: {
		EventUserMessage:     model.PhaseGatheringInfo,
		EventFactsComplete:   model.PhaseGeneratingStructure,
		EventCommitRequested: model.PhaseCreating,
		EventRestart:         model.PhaseInitial,
		EventAbandon:         model.PhaseAbandoned,
	},
	model.PhaseGeneratingStructure: {
		EventUserMessage:       model.PhaseGeneratingStructure,
		EventStructureAccepted: model.PhaseReviewing,
		EventCommitRequested:   model.PhaseCreating,
		EventRestart:           model.PhaseInitial,
		EventAbandon:           model.PhaseAbandoned,
	},
	model.PhaseReviewing: {
		EventUserMessage:     model.PhaseReviewing,
		EventRefineRequested: model.PhaseRefining,
		EventCommitRequested: model.PhaseCreating,
		EventRestart:         model.PhaseInitial,
		EventAbandon:         model.PhaseAbandoned,
	},
	model.PhaseRefining: {
		EventUserMessage:     model.PhaseRefining,
		EventRefineRequested: model.PhaseRefining,
		EventRefineApplied:   model.PhaseReviewing,
		EventCommitRequested: model.PhaseCreating,
		EventRestart:         model.PhaseInitial,
		EventAbandon:         model.PhaseAbandoned,
	},
	model.PhaseCreating: {
		EventCommitRequested: model.PhaseCreating,
		EventCommitSucceeded: model.PhaseCompleted,
		EventCommitFailed:    model.PhaseReviewing,
		EventAbandon:         model.PhaseAbandoned,
	},
}

// Transition returns the phase reached from `from` on ev, or a *PhaseError
func Transition(from model.Phase, ev Event) (model.Phase, error) {
	if next, ok := transitions[from][ev]; ok {
		return next, nil
	}
	return from, &PhaseError{Operation: string(ev), Phase: string(from)}
}

// CanCommit applies the commit policy. Strict only commits a reviewed
// structure; permissive commits anything with a title and a section.
// A session already in creating may always resume.
func CanCommit(policy string, phase model.Phase, structure *model.CourseStructure) bool {
	if phase == model.PhaseCreating {
		return true
	}
	if phase.IsTerminal() || !structure.HasTitle() || len(structure.Sections) == 0 {
		return false
	}
	if policy == config.CommitPolicyPermissive {
		return true
	}
	return phase == model.PhaseReviewing || phase == model.PhaseRefining
}
