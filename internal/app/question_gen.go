package app

import (
	"encoding/json"
	"fmt"
	"strings"

	"quiz-battle-service/internal/domain"
)

const (
	generationTemperature = 0.7
	generationMaxTokens   = 2048

	maxOptionsPerQuestion = 4
	minOptionsPerQuestion = 2
)

const questionSystemInstruction = `You write multiple-choice quiz questions from study material. ` +
	`Respond with JSON only, no prose and no markdown, matching exactly: ` +
	`{"questions":[{"question":"...","options":["...","..."],"correctAnswer":"..."}]}. ` +
	`Each question has 2 to 4 options and correctAnswer must be one of the options verbatim.`

func buildQuestionPrompt(source string, count int) string {
	return fmt.Sprintf("Write %d multiple-choice questions covering the key facts of the following material.\n\nMaterial:\n%s", count, source)
}

type generatedPayload struct {
	Questions []generatedQuestion `json:"questions"`
}

type generatedQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
}

// ParseGeneratedQuestions defensively parses LLM output into validated
// questions. The text may be bare JSON, a fenced code block, or JSON buried
// in prose; candidates failing validation are dropped rather than trusted
// downstream. At least one question must survive or the whole generation is
// a failure.
func ParseGeneratedQuestions(raw string, limit int) ([]domain.Question, error) {
	payload, ok := extractJSON(raw)
	if !ok {
		return nil, domain.ErrGenerationFailed
	}

	var parsed generatedPayload
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		// Some models return the array without the wrapping object.
		var bare []generatedQuestion
		if err := json.Unmarshal([]byte(payload), &bare); err != nil {
			return nil, domain.ErrGenerationFailed
		}
		parsed.Questions = bare
	}

	questions := make([]domain.Question, 0, len(parsed.Questions))
	for _, cand := range parsed.Questions {
		q, ok := cleanQuestion(cand)
		if !ok {
			continue
		}
		questions = append(questions, q)
		if len(questions) == limit {
			break
		}
	}
	if len(questions) == 0 {
		return nil, domain.ErrGenerationFailed
	}
	return questions, nil
}

// cleanQuestion keeps a candidate only if it has non-empty question text, a
// non-empty correct answer, and at least two cleaned, deduplicated options
// (truncated to four).
func cleanQuestion(cand generatedQuestion) (domain.Question, bool) {
	text := trimmed(cand.Question)
	answer := trimmed(cand.CorrectAnswer)
	if text == "" || answer == "" {
		return domain.Question{}, false
	}

	seen := make(map[string]struct{}, len(cand.Options))
	options := make([]string, 0, maxOptionsPerQuestion)
	for _, opt := range cand.Options {
		opt = trimmed(opt)
		if opt == "" {
			continue
		}
		key := strings.ToLower(opt)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		options = append(options, opt)
		if len(options) == maxOptionsPerQuestion {
			break
		}
	}
	if len(options) < minOptionsPerQuestion {
		return domain.Question{}, false
	}

	return domain.Question{Text: text, Options: options, CorrectAnswer: answer}, true
}

// extractJSON finds a JSON document in model output: as-is, inside a fenced
// code block, or as the substring between the first '{' and the last '}'.
func extractJSON(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if json.Valid([]byte(raw)) {
		return raw, true
	}

	if fenced, ok := extractFenced(raw); ok && json.Valid([]byte(fenced)) {
		return fenced, true
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		candidate := raw[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	return "", false
}

func extractFenced(raw string) (string, bool) {
	open := strings.Index(raw, "```")
	if open < 0 {
		return "", false
	}
	rest := raw[open+3:]
	// Skip a language tag such as "json" on the fence line.
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
