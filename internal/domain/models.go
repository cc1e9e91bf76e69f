package domain

import (
	"strings"
	"time"
)

// BattleStatus is the single source of truth for a battle's lifecycle stage.
// Transitions only move forward: waiting -> active -> completed.
type BattleStatus string

const (
	StatusWaiting   BattleStatus = "waiting"
	StatusActive    BattleStatus = "active"
	StatusCompleted BattleStatus = "completed"
)

// Question is one generated multiple-choice question. Immutable after the
// battle is created.
type Question struct {
	Text          string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
}

// Battle is the aggregate root of the quiz-battle subsystem.
//
// Questions may be nil on reads that only need battle metadata; the full
// list is loaded through a question source.
type Battle struct {
	ID            string       `json:"id"`
	Code          string       `json:"code"`
	Title         string       `json:"title"`
	Status        BattleStatus `json:"status"`
	QuestionCount int          `json:"questionCount"`
	Questions     []Question   `json:"questions,omitempty"`

	HostID     string `json:"hostId"`
	OpponentID string `json:"opponentId,omitempty"` // empty until an opponent joins

	HostScore     int `json:"hostScore"`
	OpponentScore int `json:"opponentScore"`

	StartedAt          time.Time `json:"startedAt"`
	CompletedAt        time.Time `json:"completedAt"`
	HostAnsweredAt     time.Time `json:"hostAnsweredAt"`
	OpponentAnsweredAt time.Time `json:"opponentAnsweredAt"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasOpponent reports whether the opponent slot has been claimed.
func (b *Battle) HasOpponent() bool {
	return b.OpponentID != ""
}

// IsParty reports whether userID is the host or the opponent.
func (b *Battle) IsParty(userID string) bool {
	return userID != "" && (userID == b.HostID || userID == b.OpponentID)
}

// AnswerRecord is a single submitted answer. At most one record exists per
// question index per participant.
type AnswerRecord struct {
	QuestionIndex int       `json:"questionIndex"`
	Answer        string    `json:"answer"`
	Correct       bool      `json:"correct"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Participant is one side of a battle: the host (created with the battle) or
// the opponent (created on join).
type Participant struct {
	BattleID      string         `json:"battleId"`
	UserID        string         `json:"userId"`
	Answers       []AnswerRecord `json:"answers"`
	Score         int            `json:"score"`
	CorrectCount  int            `json:"correctCount"`
	TotalAnswered int            `json:"totalAnswered"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// HasAnswered reports whether the participant already answered the question
// at index.
func (p *Participant) HasAnswered(index int) bool {
	for _, a := range p.Answers {
		if a.QuestionIndex == index {
			return true
		}
	}
	return false
}

// BattleResult is the immutable terminal summary, at most one per battle.
// A nil WinnerID signifies a tie.
type BattleResult struct {
	BattleID      string    `json:"battleId"`
	WinnerID      *string   `json:"winnerId"`
	HostScore     int       `json:"hostScore"`
	OpponentScore int       `json:"opponentScore"`
	Duration      int       `json:"duration"` // whole seconds, floor 1
	CreatedAt     time.Time `json:"createdAt"`
}

// AnswerMatches compares a submitted answer against the stored correct
// answer: trimmed, case-folded exact match. No fuzzy matching.
func AnswerMatches(submitted, correct string) bool {
	return strings.EqualFold(strings.TrimSpace(submitted), strings.TrimSpace(correct))
}
