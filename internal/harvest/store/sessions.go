package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// InsertSession records the start of a harvest session and returns the row id.
func (s *Store) InsertSession(ctx context.Context, row *SessionRow) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO harvest_sessions
			(session_id, site_name, session_type, status, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		row.SessionID, row.SiteName, row.SessionType, row.Status, row.StartedAt)
	if err != nil {
		s.logger.Error("Session insert failed",
			zap.String("session_id", row.SessionID),
			zap.String("site", row.SiteName),
			zap.Error(err))
		return 0, fmt.Errorf("session insert failed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("session insert id: %w", err)
	}
	return id, nil
}

// FinishSession closes a session row with its final status and counters.
func (s *Store) FinishSession(ctx context.Context, id int64, status string, finishedAtMs int64, fetched, fromCache, failed int64, errorMessage string) error {
	var errMsg interface{}
	if errorMessage != "" {
		errMsg = errorMessage
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE harvest_sessions SET
			status = ?, finished_at = ?,
			pages_fetched = ?, pages_from_cache = ?, pages_failed = ?,
			error_message = ?
		 WHERE id = ?`,
		status, finishedAtMs, fetched, fromCache, failed, errMsg, id)
	if err != nil {
		s.logger.Error("Session finish failed",
			zap.Int64("session_row_id", id),
			zap.Error(err))
		return fmt.Errorf("session finish failed: %w", err)
	}
	return nil
}

// RecentSessions returns the most recently started sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []SessionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM harvest_sessions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		s.logger.Error("Recent sessions query failed", zap.Error(err))
		return nil, fmt.Errorf("recent sessions query failed: %w", err)
	}
	return rows, nil
}
