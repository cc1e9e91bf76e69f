package memory

import (
	"context"
	"sync"
	"time"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/domain"
)

// BattleStore is an in-memory implementation of app.BattleStore, used in
// tests and storage-free runs. A single mutex serializes read-modify-write
// sequences, giving the same atomicity the SQL store gets from transactions.
type BattleStore struct {
	mu           sync.Mutex
	battles      map[string]*domain.Battle
	byCode       map[string]string
	participants map[string]map[string]*domain.Participant
	results      map[string]*domain.BattleResult
}

func NewBattleStore() *BattleStore {
	return &BattleStore{
		battles:      make(map[string]*domain.Battle),
		byCode:       make(map[string]string),
		participants: make(map[string]map[string]*domain.Participant),
		results:      make(map[string]*domain.BattleResult),
	}
}

func (s *BattleStore) CreateBattle(_ context.Context, battle *domain.Battle, host *domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := *battle
	b.Questions = append([]domain.Question(nil), battle.Questions...)
	s.battles[b.ID] = &b
	s.byCode[b.Code] = b.ID

	h := *host
	s.participants[b.ID] = map[string]*domain.Participant{h.UserID: &h}
	return nil
}

func (s *BattleStore) BattleByID(_ context.Context, id string) (domain.Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battleLocked(id)
}

func (s *BattleStore) BattleByCode(_ context.Context, code string) (domain.Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byCode[code]
	if !ok {
		return domain.Battle{}, domain.ErrBattleNotFound
	}
	return s.battleLocked(id)
}

func (s *BattleStore) CodeInUse(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byCode[code]
	return ok, nil
}

func (s *BattleStore) ClaimOpponent(_ context.Context, battleID, userID string, startedAt time.Time) (domain.Battle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	battle, ok := s.battles[battleID]
	if !ok {
		return domain.Battle{}, domain.ErrBattleNotFound
	}
	if battle.Status == domain.StatusCompleted {
		return domain.Battle{}, domain.ErrBattleClosed
	}
	if battle.OpponentID != "" && battle.OpponentID != userID {
		return domain.Battle{}, domain.ErrOpponentTaken
	}

	battle.OpponentID = userID
	battle.Status = domain.StatusActive
	if battle.StartedAt.IsZero() {
		battle.StartedAt = startedAt
	}
	battle.UpdatedAt = startedAt
	return snapshot(battle), nil
}

func (s *BattleStore) EnsureParticipant(_ context.Context, battleID, userID string) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	side, ok := s.participants[battleID]
	if !ok {
		return domain.Participant{}, domain.ErrBattleNotFound
	}
	if p, ok := side[userID]; ok {
		return *p, nil
	}
	p := &domain.Participant{BattleID: battleID, UserID: userID}
	side[userID] = p
	return *p, nil
}

func (s *BattleStore) Participant(_ context.Context, battleID, userID string) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.participantLocked(battleID, userID)
	if err != nil {
		return domain.Participant{}, err
	}
	return *p, nil
}

func (s *BattleStore) RecordAnswer(_ context.Context, battleID, userID string, rec domain.AnswerRecord, points int) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.participantLocked(battleID, userID)
	if err != nil {
		return domain.Participant{}, err
	}
	if p.HasAnswered(rec.QuestionIndex) {
		return domain.Participant{}, domain.ErrAlreadyAnswered
	}

	p.Answers = append(p.Answers, rec)
	p.TotalAnswered++
	if rec.Correct {
		p.CorrectCount++
		p.Score += points
	}
	p.UpdatedAt = rec.SubmittedAt
	return *p, nil
}

func (s *BattleStore) UpdateProgress(_ context.Context, battleID string, upd app.ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	battle, ok := s.battles[battleID]
	if !ok {
		return domain.ErrBattleNotFound
	}
	if battle.Status == domain.StatusCompleted {
		return nil
	}
	battle.HostScore = upd.HostScore
	battle.OpponentScore = upd.OpponentScore
	battle.Status = upd.Status
	if upd.Side == app.SideOpponent {
		battle.OpponentAnsweredAt = upd.AnsweredAt
	} else {
		battle.HostAnsweredAt = upd.AnsweredAt
	}
	battle.UpdatedAt = upd.AnsweredAt
	return nil
}

func (s *BattleStore) CompleteBattle(_ context.Context, battleID string, hostScore, opponentScore int, completedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	battle, ok := s.battles[battleID]
	if !ok {
		return false, domain.ErrBattleNotFound
	}
	if battle.Status == domain.StatusCompleted {
		return false, nil
	}
	battle.Status = domain.StatusCompleted
	battle.HostScore = hostScore
	battle.OpponentScore = opponentScore
	battle.CompletedAt = completedAt
	battle.UpdatedAt = completedAt
	return true, nil
}

func (s *BattleStore) UpsertResult(_ context.Context, res *domain.BattleResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *res
	s.results[res.BattleID] = &r
	return nil
}

func (s *BattleStore) ResultByBattle(_ context.Context, battleID string) (domain.BattleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[battleID]
	if !ok {
		return domain.BattleResult{}, domain.ErrResultNotFound
	}
	return *res, nil
}

// Questions implements app.QuestionSource against the stored battles.
func (s *BattleStore) Questions(_ context.Context, battleID string) ([]domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	battle, ok := s.battles[battleID]
	if !ok {
		return nil, domain.ErrBattleNotFound
	}
	return append([]domain.Question(nil), battle.Questions...), nil
}

func (s *BattleStore) battleLocked(id string) (domain.Battle, error) {
	battle, ok := s.battles[id]
	if !ok {
		return domain.Battle{}, domain.ErrBattleNotFound
	}
	return snapshot(battle), nil
}

func (s *BattleStore) participantLocked(battleID, userID string) (*domain.Participant, error) {
	side, ok := s.participants[battleID]
	if !ok {
		return nil, domain.ErrBattleNotFound
	}
	p, ok := side[userID]
	if !ok {
		return nil, domain.ErrParticipantNotFound
	}
	return p, nil
}

// snapshot copies battle metadata without the question list, matching the
// SQL store's metadata reads.
func snapshot(b *domain.Battle) domain.Battle {
	out := *b
	out.Questions = nil
	return out
}
