// internal/database/session.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jason-s-yu/tablestakes/internal/cache"
	"github.com/jason-s-yu/tablestakes/internal/models"
)

// FinishActionType marks the last action of a session in the action log.
const FinishActionType = "game_finish"

// RecordSessionResults persists the final standings of a session and marks
// it completed. Re-recording the same session overwrites earlier rows.
func RecordSessionResults(ctx context.Context, pool *pgxpool.Pool, snap models.GameSession, results []models.GameResult) error {
	err := pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		upsertSession := `
			INSERT INTO trivia_sessions (id, room_code, status, question_count, start_time, end_time)
			VALUES ($1, $2, 'completed', $3, $4, NOW())
			ON CONFLICT (id) DO UPDATE
			SET status = 'completed', question_count = $3, end_time = NOW()
		`
		if _, err := tx.Exec(ctx, upsertSession, snap.ID, snap.RoomCode, snap.QuestionCount, snap.CreatedAt); err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}

		insertResult := `
			INSERT INTO trivia_session_results (
				session_id, team_id, team_name, final_score, correct_answers,
				total_answers, average_response_ms, position
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (session_id, team_id)
			DO UPDATE SET final_score = $4, correct_answers = $5, total_answers = $6,
				average_response_ms = $7, position = $8
		`
		for _, r := range results {
			if _, err := tx.Exec(ctx, insertResult,
				snap.ID, r.TeamID, r.TeamName, r.FinalScore, r.CorrectAnswers,
				r.TotalAnswers, r.AverageResponseTime, r.Position,
			); err != nil {
				return fmt.Errorf("insert result for %s: %w", r.TeamID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("tx record session results: %w", err)
	}
	return nil
}

// LoadSessionResults returns the stored standings of the most recent
// completed session that used roomCode, ordered by position.
func LoadSessionResults(ctx context.Context, pool *pgxpool.Pool, roomCode string) ([]models.GameResult, error) {
	snap, err := latestCompletedSession(ctx, pool, roomCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return loadResultsBySession(ctx, pool, snap.ID)
}

func latestCompletedSession(ctx context.Context, pool *pgxpool.Pool, roomCode string) (models.GameSession, error) {
	q := `
		SELECT id::text, question_count, start_time
		FROM trivia_sessions
		WHERE room_code = $1 AND status = 'completed'
		ORDER BY end_time DESC NULLS LAST
		LIMIT 1
	`
	snap := models.GameSession{RoomCode: roomCode, GameState: models.StateFinished}
	err := pool.QueryRow(ctx, q, roomCode).Scan(&snap.ID, &snap.QuestionCount, &snap.CreatedAt)
	return snap, err
}

func loadResultsBySession(ctx context.Context, pool *pgxpool.Pool, sessionID string) ([]models.GameResult, error) {
	q := `
		SELECT team_id, team_name, final_score, correct_answers,
		       total_answers, average_response_ms, position
		FROM trivia_session_results
		WHERE session_id = $1
		ORDER BY position
	`
	rows, err := pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.GameResult
	for rows.Next() {
		var r models.GameResult
		if err := rows.Scan(&r.TeamID, &r.TeamName, &r.FinalScore, &r.CorrectAnswers,
			&r.TotalAnswers, &r.AverageResponseTime, &r.Position); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// InsertActions writes a batch of logged actions in one transaction. The
// session row is created on first sight; a finish action completes it.
// Replayed actions are ignored.
func InsertActions(ctx context.Context, pool *pgxpool.Pool, records []cache.ActionRecord) error {
	if len(records) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range records {
			if err := insertActionTx(ctx, tx, rec); err != nil {
				return fmt.Errorf("insert action %s/%d: %w", rec.SessionID, rec.ActionIndex, err)
			}
		}
		return nil
	})
}

func insertActionTx(ctx context.Context, tx pgx.Tx, rec cache.ActionRecord) error {
	upsertSession := `
		INSERT INTO trivia_sessions (id, room_code, status, start_time)
		VALUES ($1, $2, 'in_progress', to_timestamp($3::bigint / 1000.0))
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, upsertSession, rec.SessionID, rec.RoomCode, rec.Timestamp); err != nil {
		return err
	}

	payload, err := json.Marshal(rec.ActionPayload)
	if err != nil {
		return err
	}
	insertAction := `
		INSERT INTO trivia_session_actions (
			session_id, action_index, actor_id, action_type, action_payload, created_at
		) VALUES ($1, $2, $3, $4, $5, to_timestamp($6::bigint / 1000.0))
		ON CONFLICT (session_id, action_index) DO NOTHING
	`
	if _, err := tx.Exec(ctx, insertAction,
		rec.SessionID, rec.ActionIndex, rec.ActorID, rec.ActionType, payload, rec.Timestamp,
	); err != nil {
		return err
	}

	if rec.ActionType == FinishActionType {
		finalize := `
			UPDATE trivia_sessions
			SET status = 'completed', end_time = COALESCE(end_time, to_timestamp($2::bigint / 1000.0))
			WHERE id = $1 AND status = 'in_progress'
		`
		if _, err := tx.Exec(ctx, finalize, rec.SessionID, rec.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

// MarkSessionAbandoned flags a session that stopped producing actions
// without finishing.
func MarkSessionAbandoned(ctx context.Context, pool *pgxpool.Pool, sessionID string) (bool, error) {
	q := `
		UPDATE trivia_sessions
		SET status = 'abandoned', end_time = NOW()
		WHERE id = $1 AND status = 'in_progress'
	`
	tag, err := pool.Exec(ctx, q, sessionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ResultsArchive serves results of rooms that have left memory and expired
// from the cache.
type ResultsArchive struct {
	Pool *pgxpool.Pool
}

func (a ResultsArchive) LoadResults(ctx context.Context, roomCode string) (cache.FinishedSession, bool, error) {
	snap, err := latestCompletedSession(ctx, a.Pool, roomCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return cache.FinishedSession{}, false, nil
	}
	if err != nil {
		return cache.FinishedSession{}, false, fmt.Errorf("failed to look up room %s: %w", roomCode, err)
	}
	results, err := loadResultsBySession(ctx, a.Pool, snap.ID)
	if err != nil {
		return cache.FinishedSession{}, false, fmt.Errorf("failed to load results for room %s: %w", roomCode, err)
	}
	return cache.FinishedSession{Session: snap, Results: results}, true, nil
}
