package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-battle-service/internal/domain"
)

// NoteSource resolves study-note text for battle creation. Ownership is part
// of the lookup: a note belonging to someone else reads as not found.
type NoteSource struct {
	pool *pgxpool.Pool
}

func NewNoteSource(pool *pgxpool.Pool) *NoteSource {
	return &NoteSource{pool: pool}
}

func (s *NoteSource) NoteText(ctx context.Context, noteID, userID string) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx, `SELECT content FROM notes WHERE id=$1 AND user_id=$2`, noteID, userID).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNoteNotFound
		}
		return "", fmt.Errorf("load note: %w", err)
	}
	return content, nil
}
