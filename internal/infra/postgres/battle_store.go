package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"quiz-battle-service/internal/app"
	"quiz-battle-service/internal/domain"
)

type battleRow struct {
	bun.BaseModel `bun:"table:battles,alias:b"`

	ID            string            `bun:"id,pk"`
	Code          string            `bun:"code,notnull"`
	Title         string            `bun:"title,notnull"`
	Status        string            `bun:"status,notnull"`
	QuestionCount int               `bun:"question_count,notnull"`
	Questions     []domain.Question `bun:"questions,type:jsonb"`

	HostID     string `bun:"host_id,notnull"`
	OpponentID string `bun:"opponent_id,nullzero"`

	HostScore     int `bun:"host_score"`
	OpponentScore int `bun:"opponent_score"`

	StartedAt          time.Time `bun:"started_at,nullzero"`
	CompletedAt        time.Time `bun:"completed_at,nullzero"`
	HostAnsweredAt     time.Time `bun:"host_answered_at,nullzero"`
	OpponentAnsweredAt time.Time `bun:"opponent_answered_at,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type participantRow struct {
	bun.BaseModel `bun:"table:battle_participants,alias:bp"`

	BattleID      string                `bun:"battle_id,pk"`
	UserID        string                `bun:"user_id,pk"`
	Answers       []domain.AnswerRecord `bun:"answers,type:jsonb"`
	Score         int                   `bun:"score"`
	CorrectCount  int                   `bun:"correct_count"`
	TotalAnswered int                   `bun:"total_answered"`
	CreatedAt     time.Time             `bun:"created_at,notnull"`
	UpdatedAt     time.Time             `bun:"updated_at,notnull"`
}

type resultRow struct {
	bun.BaseModel `bun:"table:battle_results,alias:br"`

	BattleID      string    `bun:"battle_id,pk"`
	WinnerID      *string   `bun:"winner_id"`
	HostScore     int       `bun:"host_score,notnull"`
	OpponentScore int       `bun:"opponent_score,notnull"`
	Duration      int       `bun:"duration_seconds,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

// BattleStore implements app.BattleStore on Postgres through bun. The
// concurrency contract of the battle subsystem lives here: opponent claim
// and completion are conditional single-statement updates, and answer
// recording runs under a row lock.
type BattleStore struct {
	db *bun.DB
}

func NewBattleStore(db *bun.DB) *BattleStore {
	return &BattleStore{db: db}
}

func (s *BattleStore) CreateBattle(ctx context.Context, battle *domain.Battle, host *domain.Participant) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(toBattleRow(battle)).Exec(ctx); err != nil {
			return fmt.Errorf("insert battle: %w", err)
		}
		if _, err := tx.NewInsert().Model(toParticipantRow(host)).Exec(ctx); err != nil {
			return fmt.Errorf("insert host participant: %w", err)
		}
		return nil
	})
}

func (s *BattleStore) BattleByID(ctx context.Context, id string) (domain.Battle, error) {
	var row battleRow
	err := s.db.NewSelect().Model(&row).
		ExcludeColumn("questions").
		Where("b.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Battle{}, domain.ErrBattleNotFound
		}
		return domain.Battle{}, fmt.Errorf("load battle: %w", err)
	}
	return fromBattleRow(&row), nil
}

func (s *BattleStore) BattleByCode(ctx context.Context, code string) (domain.Battle, error) {
	var row battleRow
	err := s.db.NewSelect().Model(&row).
		ExcludeColumn("questions").
		Where("b.code = ?", code).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Battle{}, domain.ErrBattleNotFound
		}
		return domain.Battle{}, fmt.Errorf("load battle by code: %w", err)
	}
	return fromBattleRow(&row), nil
}

func (s *BattleStore) CodeInUse(ctx context.Context, code string) (bool, error) {
	exists, err := s.db.NewSelect().Model((*battleRow)(nil)).
		Where("b.code = ?", code).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check code: %w", err)
	}
	return exists, nil
}

func (s *BattleStore) ClaimOpponent(ctx context.Context, battleID, userID string, startedAt time.Time) (domain.Battle, error) {
	res, err := s.db.NewUpdate().Model((*battleRow)(nil)).
		Set("opponent_id = ?", userID).
		Set("status = ?", string(domain.StatusActive)).
		Set("started_at = COALESCE(started_at, ?)", startedAt).
		Set("updated_at = ?", startedAt).
		Where("b.id = ?", battleID).
		Where("b.status <> ?", string(domain.StatusCompleted)).
		Where("(b.opponent_id IS NULL OR b.opponent_id = ?)", userID).
		Exec(ctx)
	if err != nil {
		return domain.Battle{}, fmt.Errorf("claim opponent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Battle{}, fmt.Errorf("claim opponent: %w", err)
	}
	if affected == 0 {
		// Lost the check-and-set: distinguish a taken slot from a missing or
		// closed battle by re-reading.
		battle, err := s.BattleByID(ctx, battleID)
		if err != nil {
			return domain.Battle{}, err
		}
		if battle.Status == domain.StatusCompleted {
			return domain.Battle{}, domain.ErrBattleClosed
		}
		return domain.Battle{}, domain.ErrOpponentTaken
	}
	return s.BattleByID(ctx, battleID)
}

func (s *BattleStore) EnsureParticipant(ctx context.Context, battleID, userID string) (domain.Participant, error) {
	now := time.Now()
	row := &participantRow{
		BattleID:  battleID,
		UserID:    userID,
		Answers:   []domain.AnswerRecord{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.NewInsert().Model(row).
		On("CONFLICT (battle_id, user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("ensure participant: %w", err)
	}
	return s.Participant(ctx, battleID, userID)
}

func (s *BattleStore) Participant(ctx context.Context, battleID, userID string) (domain.Participant, error) {
	var row participantRow
	err := s.db.NewSelect().Model(&row).
		Where("bp.battle_id = ?", battleID).
		Where("bp.user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Participant{}, domain.ErrParticipantNotFound
		}
		return domain.Participant{}, fmt.Errorf("load participant: %w", err)
	}
	return fromParticipantRow(&row), nil
}

func (s *BattleStore) RecordAnswer(ctx context.Context, battleID, userID string, rec domain.AnswerRecord, points int) (domain.Participant, error) {
	var updated domain.Participant
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var row participantRow
		err := tx.NewSelect().Model(&row).
			Where("bp.battle_id = ?", battleID).
			Where("bp.user_id = ?", userID).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrParticipantNotFound
			}
			return fmt.Errorf("lock participant: %w", err)
		}

		p := fromParticipantRow(&row)
		if p.HasAnswered(rec.QuestionIndex) {
			return domain.ErrAlreadyAnswered
		}

		row.Answers = append(row.Answers, rec)
		row.TotalAnswered++
		if rec.Correct {
			row.CorrectCount++
			row.Score += points
		}
		row.UpdatedAt = rec.SubmittedAt

		if _, err := tx.NewUpdate().Model(&row).
			Column("answers", "score", "correct_count", "total_answered", "updated_at").
			Where("bp.battle_id = ?", battleID).
			Where("bp.user_id = ?", userID).
			Exec(ctx); err != nil {
			return fmt.Errorf("update participant: %w", err)
		}
		updated = fromParticipantRow(&row)
		return nil
	})
	if err != nil {
		return domain.Participant{}, err
	}
	return updated, nil
}

func (s *BattleStore) UpdateProgress(ctx context.Context, battleID string, upd app.ProgressUpdate) error {
	q := s.db.NewUpdate().Model((*battleRow)(nil)).
		Set("host_score = ?", upd.HostScore).
		Set("opponent_score = ?", upd.OpponentScore).
		Set("status = ?", string(upd.Status)).
		Set("updated_at = ?", upd.AnsweredAt).
		Where("b.id = ?", battleID).
		Where("b.status <> ?", string(domain.StatusCompleted))
	if upd.Side == app.SideOpponent {
		q = q.Set("opponent_answered_at = ?", upd.AnsweredAt)
	} else {
		q = q.Set("host_answered_at = ?", upd.AnsweredAt)
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (s *BattleStore) CompleteBattle(ctx context.Context, battleID string, hostScore, opponentScore int, completedAt time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*battleRow)(nil)).
		Set("status = ?", string(domain.StatusCompleted)).
		Set("host_score = ?", hostScore).
		Set("opponent_score = ?", opponentScore).
		Set("completed_at = ?", completedAt).
		Set("updated_at = ?", completedAt).
		Where("b.id = ?", battleID).
		Where("b.status <> ?", string(domain.StatusCompleted)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("complete battle: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete battle: %w", err)
	}
	return affected == 1, nil
}

func (s *BattleStore) UpsertResult(ctx context.Context, result *domain.BattleResult) error {
	row := &resultRow{
		BattleID:      result.BattleID,
		WinnerID:      result.WinnerID,
		HostScore:     result.HostScore,
		OpponentScore: result.OpponentScore,
		Duration:      result.Duration,
		CreatedAt:     result.CreatedAt,
	}
	_, err := s.db.NewInsert().Model(row).
		On("CONFLICT (battle_id) DO UPDATE").
		Set("winner_id = EXCLUDED.winner_id").
		Set("host_score = EXCLUDED.host_score").
		Set("opponent_score = EXCLUDED.opponent_score").
		Set("duration_seconds = EXCLUDED.duration_seconds").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	return nil
}

func (s *BattleStore) ResultByBattle(ctx context.Context, battleID string) (domain.BattleResult, error) {
	var row resultRow
	err := s.db.NewSelect().Model(&row).
		Where("br.battle_id = ?", battleID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BattleResult{}, domain.ErrResultNotFound
		}
		return domain.BattleResult{}, fmt.Errorf("load result: %w", err)
	}
	return domain.BattleResult{
		BattleID:      row.BattleID,
		WinnerID:      row.WinnerID,
		HostScore:     row.HostScore,
		OpponentScore: row.OpponentScore,
		Duration:      row.Duration,
		CreatedAt:     row.CreatedAt,
	}, nil
}

func toBattleRow(b *domain.Battle) *battleRow {
	return &battleRow{
		ID:                 b.ID,
		Code:               b.Code,
		Title:              b.Title,
		Status:             string(b.Status),
		QuestionCount:      b.QuestionCount,
		Questions:          b.Questions,
		HostID:             b.HostID,
		OpponentID:         b.OpponentID,
		HostScore:          b.HostScore,
		OpponentScore:      b.OpponentScore,
		StartedAt:          b.StartedAt,
		CompletedAt:        b.CompletedAt,
		HostAnsweredAt:     b.HostAnsweredAt,
		OpponentAnsweredAt: b.OpponentAnsweredAt,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}
}

func fromBattleRow(row *battleRow) domain.Battle {
	return domain.Battle{
		ID:                 row.ID,
		Code:               row.Code,
		Title:              row.Title,
		Status:             domain.BattleStatus(row.Status),
		QuestionCount:      row.QuestionCount,
		Questions:          row.Questions,
		HostID:             row.HostID,
		OpponentID:         row.OpponentID,
		HostScore:          row.HostScore,
		OpponentScore:      row.OpponentScore,
		StartedAt:          row.StartedAt,
		CompletedAt:        row.CompletedAt,
		HostAnsweredAt:     row.HostAnsweredAt,
		OpponentAnsweredAt: row.OpponentAnsweredAt,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

func toParticipantRow(p *domain.Participant) *participantRow {
	answers := p.Answers
	if answers == nil {
		answers = []domain.AnswerRecord{}
	}
	return &participantRow{
		BattleID:      p.BattleID,
		UserID:        p.UserID,
		Answers:       answers,
		Score:         p.Score,
		CorrectCount:  p.CorrectCount,
		TotalAnswered: p.TotalAnswered,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func fromParticipantRow(row *participantRow) domain.Participant {
	return domain.Participant{
		BattleID:      row.BattleID,
		UserID:        row.UserID,
		Answers:       row.Answers,
		Score:         row.Score,
		CorrectCount:  row.CorrectCount,
		TotalAnswered: row.TotalAnswered,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}
