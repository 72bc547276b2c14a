package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
	"github.com/caseproof/memberpress-courses-copilot-sub010/services/digitalocean"
)

const (
	// maxPromptHistory bounds how many past messages go back to the model
	maxPromptHistory = 20
	// maxReferenceChars bounds the reference material injected into the prompt
	maxReferenceChars = 8000
)

const systemPrompt = `You are Courses Copilot, an instructional designer helping a WordPress site owner build a MemberPress course.

Talk with the user in plain, friendly prose. Keep answers short.

Whenever you learn something about the course, or when you propose or change its structure, append ONE fenced block tagged course-json at the end of your reply. Never send more than one block. The block holds a single JSON object with any of these keys:

- "facts": {"topic": string, "audience": string, "level": string, "objectives": [string]}
- "course": {"title": string, "description": string, "sections": [{"id": string, "title": string, "description": string, "lessons": [{"id": string, "title": string, "content": string, "duration_minutes": number}]}]}
- "section": one section object, used when only one section changes (keep its id)
- "section_id" with "lesson": one lesson object, used when only one lesson changes (keep its id)

Every section and lesson needs a non-empty title. Keep existing ids unchanged. Omit ids for new nodes.`

// BuildPrompt turns the session context into chat messages for the intent
func BuildPrompt(sc SessionContext, intent PromptIntent) []digitalocean.InferenceMessage {
	switch intent {
	case IntentRefineSection, IntentRefineLesson:
		return buildRefinePrompt(sc, intent)
	}

	messages := []digitalocean.InferenceMessage{{Role: "system", Content: systemPrompt}}

	var preamble strings.Builder
	if facts := describeFacts(sc.Facts); facts != "" {
		preamble.WriteString("Known facts about the course:\n")
		preamble.WriteString(facts)
		preamble.WriteString("\n")
	}
	if sc.Structure != nil {
		preamble.WriteString("Current course structure:\n")
		preamble.WriteString(mustJSON(sc.Structure))
		preamble.WriteString("\n")
	}
	if ref := truncateRunes(sc.Reference, maxReferenceChars); ref != "" {
		preamble.WriteString("Reference material supplied by the user:\n")
		preamble.WriteString(ref)
		preamble.WriteString("\n")
	}
	preamble.WriteString(intentInstruction(sc, intent))
	messages = append(messages, digitalocean.InferenceMessage{Role: "system", Content: preamble.String()})

	history := sc.History
	if len(history) > maxPromptHistory {
		history = history[len(history)-maxPromptHistory:]
	}
	for _, m := range history {
		messages = append(messages, digitalocean.InferenceMessage{Role: string(m.Role), Content: m.Text})
	}

	if sc.UserMessage != "" {
		messages = append(messages, digitalocean.InferenceMessage{Role: "user", Content: sc.UserMessage})
	}
	return messages
}

func intentInstruction(sc SessionContext, intent PromptIntent) string {
	switch intent {
	case IntentGenerateStructure:
		return "The topic and audience are known. Propose the complete course now as a \"course\" object with at least one section and one lesson per section."
	}
	switch sc.Phase {
	case model.PhaseInitial, model.PhaseGatheringInfo:
		return "Find out the course topic and the intended audience. Report them under \"facts\" as soon as they are known. If the user already gave enough detail, you may propose the full course right away."
	case model.PhaseReviewing, model.PhaseRefining:
		return "The user is reviewing the structure. When they ask for a change to one section or one lesson, answer with a \"section\" or \"lesson\" block for that node only."
	}
	return "Continue the conversation."
}

// buildRefinePrompt sends only the targeted subtree, never the whole course
func buildRefinePrompt(sc SessionContext, intent PromptIntent) []digitalocean.InferenceMessage {
	var b strings.Builder
	if sc.CourseTitle != "" {
		fmt.Fprintf(&b, "The course is titled %q.\n", sc.CourseTitle)
	}

	switch intent {
	case IntentRefineSection:
		b.WriteString("Rewrite this section. Answer with a \"section\" block that keeps the section id and the ids of lessons you keep:\n")
		b.WriteString(mustJSON(sc.FocusSection))
	case IntentRefineLesson:
		sectionID := ""
		if sc.FocusSection != nil {
			sectionID = sc.FocusSection.ID
		}
		fmt.Fprintf(&b, "Rewrite this lesson of section %q. Answer with a block holding \"section_id\" and \"lesson\", keeping the lesson id:\n", sectionID)
		b.WriteString(mustJSON(sc.FocusLesson))
	}

	b.WriteString("\n\nInstruction: ")
	b.WriteString(sc.Instruction)

	return []digitalocean.InferenceMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: b.String()},
	}
}

func describeFacts(f model.CourseFacts) string {
	var lines []string
	if f.Topic != "" {
		lines = append(lines, "- topic: "+f.Topic)
	}
	if f.Audience != "" {
		lines = append(lines, "- audience: "+f.Audience)
	}
	if f.Level != "" {
		lines = append(lines, "- level: "+f.Level)
	}
	for _, o := range f.Objectives {
		lines = append(lines, "- objective: "+o)
	}
	return strings.Join(lines, "\n")
}

func mustJSON(v interface{}) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func truncateRunes(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
