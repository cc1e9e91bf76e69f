package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quiz-battle-service/internal/domain"
)

// BattleStore abstracts battle persistence (Postgres, in-memory). Every
// mutating method is atomic with respect to its documented check: the store
// is the unit of sharing between concurrent requests.
type BattleStore interface {
	// CreateBattle persists the battle and its host participant together.
	CreateBattle(ctx context.Context, battle *domain.Battle, host *domain.Participant) error
	// BattleByID returns battle metadata (without questions).
	BattleByID(ctx context.Context, id string) (domain.Battle, error)
	// BattleByCode returns battle metadata by uppercase join code.
	BattleByCode(ctx context.Context, code string) (domain.Battle, error)
	// CodeInUse reports whether a join code is already taken.
	CodeInUse(ctx context.Context, code string) (bool, error)
	// ClaimOpponent seats userID as the opponent and moves the battle to
	// active. The check-and-set is atomic: a slot held by a different user
	// yields domain.ErrOpponentTaken, a completed battle domain.ErrBattleClosed.
	// An existing StartedAt is preserved.
	ClaimOpponent(ctx context.Context, battleID, userID string, startedAt time.Time) (domain.Battle, error)
	// EnsureParticipant creates the participant row if absent (upsert: a
	// retried join must not reset progress).
	EnsureParticipant(ctx context.Context, battleID, userID string) (domain.Participant, error)
	// Participant returns one participant row.
	Participant(ctx context.Context, battleID, userID string) (domain.Participant, error)
	// RecordAnswer appends the answer and bumps score/counters, enforcing
	// the one-answer-per-index invariant atomically (domain.ErrAlreadyAnswered).
	RecordAnswer(ctx context.Context, battleID, userID string, rec domain.AnswerRecord, points int) (domain.Participant, error)
	// UpdateProgress refreshes score snapshots and per-side progress on a
	// battle that is not yet complete. It never touches a completed battle.
	UpdateProgress(ctx context.Context, battleID string, upd ProgressUpdate) error
	// CompleteBattle flips status to completed with final scores. It reports
	// whether this call won the compare-and-set; only the winner computes
	// the authoritative result.
	CompleteBattle(ctx context.Context, battleID string, hostScore, opponentScore int, completedAt time.Time) (bool, error)
	// UpsertResult writes the terminal summary keyed by battle id;
	// re-applying the same payload is observably a no-op.
	UpsertResult(ctx context.Context, res *domain.BattleResult) error
	// ResultByBattle returns the stored result or domain.ErrResultNotFound.
	ResultByBattle(ctx context.Context, battleID string) (domain.BattleResult, error)
}

// ProgressUpdate carries the battle-level snapshot written after every
// accepted answer that does not complete the battle.
type ProgressUpdate struct {
	HostScore     int
	OpponentScore int
	Status        domain.BattleStatus
	// Side identifies which participant just answered.
	Side       ParticipantSide
	AnsweredAt time.Time
}

// ParticipantSide names a battle side for progress timestamps.
type ParticipantSide string

const (
	SideHost     ParticipantSide = "host"
	SideOpponent ParticipantSide = "opponent"
)

// QuestionSource loads the full (immutable) question list of a battle.
type QuestionSource interface {
	Questions(ctx context.Context, battleID string) ([]domain.Question, error)
}

// AnswerKeySource resolves the correct answer for one question; the hot
// answer path goes through it so implementations can cache.
type AnswerKeySource interface {
	CorrectAnswer(ctx context.Context, battleID string, questionIndex int) (string, error)
}

// NoteSource looks up note text owned by a user, for battles created from a
// saved note instead of pasted text.
type NoteSource interface {
	NoteText(ctx context.Context, noteID, userID string) (string, error)
}

// TextGenerator is the external LLM collaborator used only at creation time.
type TextGenerator interface {
	Generate(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error)
}

const (
	// DefaultPointsPerCorrect is awarded per correct answer unless configured.
	DefaultPointsPerCorrect = 10
	// DefaultCodeAttempts bounds join-code collision retries.
	DefaultCodeAttempts = 5

	minQuestionCount = 5
	maxQuestionCount = 20
)

// Options tune scoring and code generation without changing the contract.
type Options struct {
	PointsPerCorrect int
	CodeAttempts     int
	Clock            func() time.Time
}

// / BattleService implements the battle lifecycle: create, join, answer,
// complete.
type BattleService struct {
	store        BattleStore
	questions    QuestionSource
	keys         AnswerKeySource
	notes        NoteSource
	gen          TextGenerator
	points       int
	codeAttempts int
	clock        func() time.Time
	logger       *zap.Logger
}

func NewBattleService(store BattleStore, questions QuestionSource, keys AnswerKeySource, notes NoteSource, gen TextGenerator, logger *zap.Logger, opts Options) *BattleService {
	if opts.PointsPerCorrect <= 0 {
		opts.PointsPerCorrect = DefaultPointsPerCorrect
	}
	if opts.CodeAttempts <= 0 {
		opts.CodeAttempts = DefaultCodeAttempts
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BattleService{
		store:        store,
		questions:    questions,
		keys:         keys,
		notes:        notes,
		gen:          gen,
		points:       opts.PointsPerCorrect,
		codeAttempts: opts.CodeAttempts,
		clock:        opts.Clock,
		logger:       logger,
	}
}

// CreateBattleRequest is the input to Create. Either SourceText or NoteID
// must yield non-empty text.
type CreateBattleRequest struct {
	Title         string
	SourceText    string
	NoteID        string
	QuestionCount int
}

// BattleSummary is the creation/join response. It deliberately omits
// question bodies so correct answers never leak through shared responses.
type BattleSummary struct {
	ID            string              `json:"id"`
	Code          string              `json:"code"`
	Status        domain.BattleStatus `json:"status"`
	QuestionCount int                 `json:"questionCount"`
}

// Create generates questions from the source material and registers a new
// battle in the waiting state with the caller as host.
func (s *BattleService) Create(ctx context.Context, hostID string, req CreateBattleRequest) (BattleSummary, error) {
	if hostID == "" {
		return BattleSummary{}, domain.ErrUnauthorized
	}

	count := clampQuestionCount(req.QuestionCount)

	source, err := s.resolveSource(ctx, hostID, req)
	if err != nil {
		return BattleSummary{}, err
	}

	raw, err := s.gen.Generate(ctx, questionSystemInstruction, buildQuestionPrompt(source, count), generationTemperature, generationMaxTokens)
	if err != nil {
		return BattleSummary{}, err
	}
	questions, err := ParseGeneratedQuestions(raw, count)
	if err != nil {
		return BattleSummary{}, err
	}

	code, err := s.uniqueCode(ctx)
	if err != nil {
		return BattleSummary{}, err
	}

	now := s.clock()
	battle := &domain.Battle{
		ID:            uuid.NewString(),
		Code:          code,
		Title:         battleTitle(req.Title),
		Status:        domain.StatusWaiting,
		QuestionCount: len(questions),
		Questions:     questions,
		HostID:        hostID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	host := &domain.Participant{
		BattleID:  battle.ID,
		UserID:    hostID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateBattle(ctx, battle, host); err != nil {
		return BattleSummary{}, err
	}

	s.logger.Info("battle created",
		zap.String("battle_id", battle.ID),
		zap.String("code", battle.Code),
		zap.Int("questions", battle.QuestionCount),
	)
	return summarize(battle), nil
}

// Join seats userID in the battle identified by code. Joining your own
// battle as host is an idempotent no-op; a slot held by someone else is a
// conflict.
func (s *BattleService) Join(ctx context.Context, code, userID string) (BattleSummary, error) {
	if userID == "" {
		return BattleSummary{}, domain.ErrUnauthorized
	}
	code = NormalizeCode(code)
	if code == "" {
		return BattleSummary{}, domain.ErrInvalidInput
	}

	battle, err := s.store.BattleByCode(ctx, code)
	if err != nil {
		return BattleSummary{}, err
	}
	if battle.HostID == userID {
		return summarize(&battle), nil
	}
	if battle.HasOpponent() && battle.OpponentID != userID {
		return BattleSummary{}, domain.ErrOpponentTaken
	}

	startedAt := battle.StartedAt
	if startedAt.IsZero() {
		startedAt = s.clock()
	}
	claimed, err := s.store.ClaimOpponent(ctx, battle.ID, userID, startedAt)
	if err != nil {
		return BattleSummary{}, err
	}
	if _, err := s.store.EnsureParticipant(ctx, battle.ID, userID); err != nil {
		return BattleSummary{}, err
	}

	s.logger.Info("opponent joined",
		zap.String("battle_id", battle.ID),
		zap.String("user_id", userID),
	)
	return summarize(&claimed), nil
}

// SubmitResult reports the outcome of one answer submission. The correct
// answer text is never part of this response.
type SubmitResult struct {
	Correct        bool `json:"correct"`
	Score          int  `json:"score"`
	TotalAnswered  int  `json:"totalAnswered"`
	BattleComplete bool `json:"battleComplete"`
}

// SubmitAnswer validates and records one answer, then synchronously
// re-evaluates battle completion. Preconditions are checked in order; the
// first violated one is the single reported failure and nothing is mutated.
func (s *BattleService) SubmitAnswer(ctx context.Context, battleID, userID string, questionIndex int, answerText string) (SubmitResult, error) {
	if userID == "" {
		return SubmitResult{}, domain.ErrUnauthorized
	}
	if questionIndex < 0 || trimmed(answerText) == "" {
		return SubmitResult{}, domain.ErrInvalidInput
	}

	battle, err := s.store.BattleByID(ctx, battleID)
	if err != nil {
		return SubmitResult{}, err
	}
	if battle.Status == domain.StatusCompleted {
		return SubmitResult{}, domain.ErrBattleClosed
	}
	if !battle.IsParty(userID) {
		return SubmitResult{}, domain.ErrNotParticipant
	}
	if questionIndex >= battle.QuestionCount {
		return SubmitResult{}, domain.ErrQuestionNotFound
	}

	participant, err := s.store.Participant(ctx, battle.ID, userID)
	if err != nil {
		return SubmitResult{}, err
	}
	if participant.HasAnswered(questionIndex) {
		return SubmitResult{}, domain.ErrAlreadyAnswered
	}

	correctAnswer, err := s.keys.CorrectAnswer(ctx, battle.ID, questionIndex)
	if err != nil {
		return SubmitResult{}, err
	}
	correct := domain.AnswerMatches(answerText, correctAnswer)
	points := 0
	if correct {
		points = s.points
	}

	now := s.clock()
	participant, err = s.store.RecordAnswer(ctx, battle.ID, userID, domain.AnswerRecord{
		QuestionIndex: questionIndex,
		Answer:        trimmed(answerText),
		Correct:       correct,
		SubmittedAt:   now,
	}, points)
	if err != nil {
		return SubmitResult{}, err
	}

	complete, err := s.evaluateCompletion(ctx, &battle, userID, now)
	if err != nil {
		return SubmitResult{}, err
	}

	return SubmitResult{
		Correct:        correct,
		Score:          participant.Score,
		TotalAnswered:  participant.TotalAnswered,
		BattleComplete: complete,
	}, nil
}

// evaluateCompletion runs after every accepted answer. The battle is done
// when the host has exhausted all questions and either no opponent exists or
// the opponent has too. Only the caller that wins the status compare-and-set
// computes the result; a loser still observes completed on re-read.
func (s *BattleService) evaluateCompletion(ctx context.Context, battle *domain.Battle, submitterID string, now time.Time) (bool, error) {
	host, err := s.store.Participant(ctx, battle.ID, battle.HostID)
	if err != nil {
		return false, err
	}
	hostScore := host.Score
	hostDone := host.TotalAnswered >= battle.QuestionCount

	opponentScore := 0
	opponentDone := true
	if battle.HasOpponent() {
		opp, err := s.store.Participant(ctx, battle.ID, battle.OpponentID)
		if err != nil {
			return false, err
		}
		opponentScore = opp.Score
		opponentDone = opp.TotalAnswered >= battle.QuestionCount
	}

	if hostDone && opponentDone {
		flipped, err := s.store.CompleteBattle(ctx, battle.ID, hostScore, opponentScore, now)
		if err != nil {
			return false, err
		}
		if flipped {
			if err := s.finalize(ctx, battle, hostScore, opponentScore, now); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	// A battle with no opponent stays waiting even while the host answers:
	// active is defined by opponent presence, not progress.
	status := domain.StatusWaiting
	if battle.HasOpponent() {
		status = domain.StatusActive
	}
	side := SideHost
	if submitterID == battle.OpponentID {
		side = SideOpponent
	}
	err = s.store.UpdateProgress(ctx, battle.ID, ProgressUpdate{
		HostScore:     hostScore,
		OpponentScore: opponentScore,
		Status:        status,
		Side:          side,
		AnsweredAt:    now,
	})
	return false, err
}

func (s *BattleService) finalize(ctx context.Context, battle *domain.Battle, hostScore, opponentScore int, now time.Time) error {
	var winnerID *string
	switch {
	case hostScore > opponentScore:
		id := battle.HostID
		winnerID = &id
	case opponentScore > hostScore && battle.HasOpponent():
		id := battle.OpponentID
		winnerID = &id
	}

	duration := 1
	if !battle.StartedAt.IsZero() {
		if secs := int(now.Sub(battle.StartedAt).Seconds()); secs > duration {
			duration = secs
		}
	}

	result := &domain.BattleResult{
		BattleID:      battle.ID,
		WinnerID:      winnerID,
		HostScore:     hostScore,
		OpponentScore: opponentScore,
		Duration:      duration,
		CreatedAt:     now,
	}
	if err := s.store.UpsertResult(ctx, result); err != nil {
		return err
	}

	s.logger.Info("battle completed",
		zap.String("battle_id", battle.ID),
		zap.Int("host_score", hostScore),
		zap.Int("opponent_score", opponentScore),
		zap.Int("duration_s", duration),
	)
	return nil
}

// QuestionView is a question stripped of its correct answer, safe to send to
// participants mid-battle.
type QuestionView struct {
	Text    string   `json:"question"`
	Options []string `json:"options"`
}

// BattleState is the polling view for participants.
type BattleState struct {
	ID               string              `json:"id"`
	Code             string              `json:"code"`
	Title            string              `json:"title"`
	Status           domain.BattleStatus `json:"status"`
	QuestionCount    int                 `json:"questionCount"`
	Questions        []QuestionView      `json:"questions"`
	HostID           string              `json:"hostId"`
	OpponentID       string              `json:"opponentId,omitempty"`
	HostScore        int                 `json:"hostScore"`
	OpponentScore    int                 `json:"opponentScore"`
	HostAnswered     int                 `json:"hostAnswered"`
	OpponentAnswered int                 `json:"opponentAnswered"`
	StartedAt        time.Time           `json:"startedAt"`
	CompletedAt      time.Time           `json:"completedAt"`
}

// State returns the battle as seen by one of its participants. Correct
// answers are stripped before the questions leave the service.
func (s *BattleService) State(ctx context.Context, battleID, userID string) (BattleState, error) {
	if userID == "" {
		return BattleState{}, domain.ErrUnauthorized
	}
	battle, err := s.store.BattleByID(ctx, battleID)
	if err != nil {
		return BattleState{}, err
	}
	if !battle.IsParty(userID) {
		return BattleState{}, domain.ErrNotParticipant
	}

	questions, err := s.questions.Questions(ctx, battle.ID)
	if err != nil {
		return BattleState{}, err
	}
	views := make([]QuestionView, 0, len(questions))
	for _, q := range questions {
		views = append(views, QuestionView{Text: q.Text, Options: q.Options})
	}

	state := BattleState{
		ID:            battle.ID,
		Code:          battle.Code,
		Title:         battle.Title,
		Status:        battle.Status,
		QuestionCount: battle.QuestionCount,
		Questions:     views,
		HostID:        battle.HostID,
		OpponentID:    battle.OpponentID,
		HostScore:     battle.HostScore,
		OpponentScore: battle.OpponentScore,
		StartedAt:     battle.StartedAt,
		CompletedAt:   battle.CompletedAt,
	}
	if host, err := s.store.Participant(ctx, battle.ID, battle.HostID); err == nil {
		state.HostAnswered = host.TotalAnswered
	}
	if battle.HasOpponent() {
		if opp, err := s.store.Participant(ctx, battle.ID, battle.OpponentID); err == nil {
			state.OpponentAnswered = opp.TotalAnswered
		}
	}
	return state, nil
}

// Result returns the terminal summary of a completed battle.
func (s *BattleService) Result(ctx context.Context, battleID, userID string) (domain.BattleResult, error) {
	if userID == "" {
		return domain.BattleResult{}, domain.ErrUnauthorized
	}
	return s.store.ResultByBattle(ctx, battleID)
}

func (s *BattleService) resolveSource(ctx context.Context, hostID string, req CreateBattleRequest) (string, error) {
	if text := trimmed(req.SourceText); text != "" {
		return text, nil
	}
	if req.NoteID != "" {
		text, err := s.notes.NoteText(ctx, req.NoteID, hostID)
		if err != nil {
			return "", err
		}
		if trimmed(text) != "" {
			return trimmed(text), nil
		}
	}
	return "", domain.ErrInvalidInput
}

func (s *BattleService) uniqueCode(ctx context.Context) (string, error) {
	var code string
	for attempt := 0; attempt < s.codeAttempts; attempt++ {
		code = GenerateCode(CodeAlphabet, CodeLength)
		taken, err := s.store.CodeInUse(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	// Bounded retry, not a hard guarantee: after exhausting attempts the
	// last code is accepted and the unique index backstops the residual race.
	s.logger.Warn("join code retries exhausted", zap.String("code", code))
	return code, nil
}

func clampQuestionCount(n int) int {
	if n < minQuestionCount {
		return minQuestionCount
	}
	if n > maxQuestionCount {
		return maxQuestionCount
	}
	return n
}

func battleTitle(title string) string {
	if t := trimmed(title); t != "" {
		return t
	}
	return "Quiz Battle"
}

func summarize(b *domain.Battle) BattleSummary {
	return BattleSummary{
		ID:            b.ID,
		Code:          b.Code,
		Status:        b.Status,
		QuestionCount: b.QuestionCount,
	}
}
