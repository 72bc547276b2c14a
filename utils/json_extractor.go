package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSONFound is returned when no valid JSON object is found in the input
var ErrNoJSONFound = errors.New("no valid JSON object found in response")

// fencePattern matches a markdown fence with an optional info string.
// Group 1 is the info string, group 2 the body. The closing fence must sit
// on a line of its own, so backticks inside the body do not end the block.
var fencePattern = regexp.MustCompile("(?sm)```[ \\t]*([A-Za-z0-9_-]*)[ \\t]*\\r?\\n(.*?)^[ \\t]*```[ \\t]*\\r?$")

// FencedBlock is a fenced code block found inside free text
type FencedBlock struct {
	Language string
	Body     string
	Start    int // byte offset of the opening fence
	End      int // byte offset just past the closing fence
}

// FindFencedBlock returns the first fenced block whose info string is one of
// languages (case-insensitive). Blocks with other info strings are skipped.
func FindFencedBlock(response string, languages ...string) (FencedBlock, bool) {
	for _, loc := range fencePattern.FindAllStringSubmatchIndex(response, -1) {
		lang := strings.ToLower(response[loc[2]:loc[3]])
		if !containsFold(languages, lang) {
			continue
		}
		return FencedBlock{
			Language: lang,
			Body:     strings.TrimSpace(response[loc[4]:loc[5]]),
			Start:    loc[0],
			End:      loc[1],
		}, true
	}
	return FencedBlock{}, false
}

// RemoveBlock returns the response with the block cut out and whitespace tidied
func RemoveBlock(response string, block FencedBlock) string {
	out := response[:block.Start] + response[block.End:]
	return strings.TrimSpace(collapseBlankLines(out))
}

// ExtractJSON pulls a JSON object out of a block body that may carry stray
// text around it (models like to add a sentence inside the fence).
func ExtractJSON(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", ErrNoJSONFound
	}

	if json.Valid([]byte(body)) {
		return body, nil
	}

	// Bracket matching from the first {
	if jsonStr := extractJSONByBrackets(body); jsonStr != "" && json.Valid([]byte(jsonStr)) {
		return jsonStr, nil
	}

	// Aggressive extraction - first { to last }
	if jsonStr := aggressiveExtract(body); jsonStr != "" {
		return jsonStr, nil
	}

	return "", fmt.Errorf("%w: body length=%d", ErrNoJSONFound, len(body))
}

// ExtractJSONTo extracts JSON from body and unmarshals it into the target
func ExtractJSONTo(body string, target interface{}) error {
	jsonStr, err := ExtractJSON(body)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(jsonStr), target)
}

// extractJSONByBrackets uses bracket matching to find a complete object
func extractJSONByBrackets(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return ""
}

// aggressiveExtract tries the span between the first { and the last }
func aggressiveExtract(s string) string {
	first := strings.Index(s, "{")
	last := strings.LastIndex(s, "}")
	if first == -1 || last <= first {
		return ""
	}
	candidate := s[first : last+1]
	if json.Valid([]byte(candidate)) {
		return candidate
	}
	return ""
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

var blankLines = regexp.MustCompile(`\n{3,}`)

func collapseBlankLines(s string) string {
	return blankLines.ReplaceAllString(s, "\n\n")
}
