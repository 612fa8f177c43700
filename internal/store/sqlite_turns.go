package store

import (
	"context"
	"fmt"
)

// AppendTurn records a turn. Re-writing the same (session, seq) replaces it.
func (s *SQLiteStore) AppendTurn(ctx context.Context, t Turn) error {
	query := `INSERT INTO turns (session_id, seq, question, answer, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO UPDATE SET question = excluded.question, answer = excluded.answer, created_at = excluded.created_at`
	if _, err := s.db.ExecContext(ctx, query, t.SessionID, t.Seq, t.Question, t.Answer, t.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// RecentTurns returns the last limit turns of a session, oldest first.
func (s *SQLiteStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	query := `SELECT session_id, seq, question, answer, created_at FROM (
			SELECT * FROM turns WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.SessionID, &t.Seq, &t.Question, &t.Answer, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// DeleteTurns forgets a session's history.
func (s *SQLiteStore) DeleteTurns(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	return nil
}
