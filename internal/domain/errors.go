package domain

import "errors"

var (
	// ErrUnauthorized is returned when no verified caller identity is present.
	ErrUnauthorized = errors.New("caller identity required")
	// ErrInvalidInput is returned for malformed or missing required fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrBattleNotFound indicates no battle matches the given id or code.
	ErrBattleNotFound = errors.New("battle not found")
	// ErrQuestionNotFound indicates a question index outside the battle's questions.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrNoteNotFound indicates the source note does not exist or is not the caller's.
	ErrNoteNotFound = errors.New("note not found")
	// ErrParticipantNotFound indicates the caller has no participant record in the battle.
	ErrParticipantNotFound = errors.New("participant not found in battle")
	// ErrNotParticipant is returned when an authenticated caller is not a party to the battle.
	ErrNotParticipant = errors.New("caller is not part of this battle")
	// ErrBattleClosed is returned when a completed battle stops accepting mutations.
	ErrBattleClosed = errors.New("battle is no longer accepting answers")
	// ErrOpponentTaken is returned when the opponent slot already belongs to another user.
	ErrOpponentTaken = errors.New("opponent slot already taken")
	// ErrAlreadyAnswered is returned on a duplicate submission for the same question index.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrResultNotFound indicates the battle has not produced a result yet.
	ErrResultNotFound = errors.New("battle result not found")
	// ErrGenerationFailed indicates question generation produced no usable questions.
	ErrGenerationFailed = errors.New("question generation produced no usable questions")
	// ErrDependencyUnavailable indicates an unreachable storage or generation collaborator.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)
