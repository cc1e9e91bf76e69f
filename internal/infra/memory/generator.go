package memory

import (
	"context"
	"encoding/json"

	"quiz-battle-service/internal/domain"
)

// StaticGenerator returns a canned question payload for every generation
// request. It backs demo runs without a Gemini key and keeps tests offline.
type StaticGenerator struct {
	questions []domain.Question
}

func NewStaticGenerator(questions []domain.Question) *StaticGenerator {
	return &StaticGenerator{questions: questions}
}

// DefaultGeneratorQuestions is the sample set served in demo mode.
func DefaultGeneratorQuestions() []domain.Question {
	return []domain.Question{
		{Text: "What is the capital of France?", Options: []string{"Paris", "Lyon", "Marseille", "Nice"}, CorrectAnswer: "Paris"},
		{Text: "What is 7 x 8?", Options: []string{"54", "56", "64"}, CorrectAnswer: "56"},
		{Text: "Which planet is known as the Red Planet?", Options: []string{"Venus", "Mars", "Jupiter"}, CorrectAnswer: "Mars"},
		{Text: "What gas do plants absorb from the atmosphere?", Options: []string{"Oxygen", "Carbon dioxide", "Nitrogen"}, CorrectAnswer: "Carbon dioxide"},
		{Text: "Who wrote Romeo and Juliet?", Options: []string{"Shakespeare", "Dickens", "Austen"}, CorrectAnswer: "Shakespeare"},
	}
}

func (g *StaticGenerator) Generate(_ context.Context, _, _ string, _ float64, _ int) (string, error) {
	payload := struct {
		Questions []domain.Question `json:"questions"`
	}{Questions: g.questions}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
