package memory

import (
	"context"
	"sync"

	"quiz-battle-service/internal/domain"
)

// Note is a stored study note owned by a user.
type Note struct {
	ID      string
	UserID  string
	Content string
}

// NoteSource is an in-memory implementation of app.NoteSource for tests and
// demo runs.
type NoteSource struct {
	mu    sync.RWMutex
	notes map[string]Note
}

func NewNoteSource(notes ...Note) *NoteSource {
	s := &NoteSource{notes: make(map[string]Note, len(notes))}
	for _, n := range notes {
		s.notes[n.ID] = n
	}
	return s
}

// Put adds or replaces a note.
func (s *NoteSource) Put(n Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[n.ID] = n
}

// NoteText returns the note content when the note exists and belongs to
// userID; ownership failures are indistinguishable from absence.
func (s *NoteSource) NoteText(_ context.Context, noteID, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[noteID]
	if !ok || n.UserID != userID {
		return "", domain.ErrNoteNotFound
	}
	return n.Content, nil
}
