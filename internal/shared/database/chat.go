package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/northbay/ragchat-gateway/internal/shared/models"
)

// CreateSession inserts a session and sets its ID and CreatedAt
func (db *DB) CreateSession(ctx context.Context, session *models.ChatSession) error {
	session.CreatedAt = time.Now().UTC()

	query := db.rebind(`
		INSERT INTO chat_sessions (title, owner, favorite, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`)

	err := db.conn.QueryRowContext(ctx, query,
		session.Title,
		session.Owner,
		session.Favorite,
		session.CreatedAt,
	).Scan(&session.ID)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FindSessionByID retrieves a session by its ID
func (db *DB) FindSessionByID(ctx context.Context, id int64) (*models.ChatSession, error) {
	query := db.rebind(`
		SELECT id, title, owner, favorite, created_at, updated_at
		FROM chat_sessions
		WHERE id = ?
	`)

	session, err := scanSession(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return session, nil
}

// ListSessions returns the sessions of owner, or every session when owner is empty
func (db *DB) ListSessions(ctx context.Context, owner string) ([]models.ChatSession, error) {
	if owner == "" {
		return db.querySessions(ctx, `
			SELECT id, title, owner, favorite, created_at, updated_at
			FROM chat_sessions
			ORDER BY id
		`)
	}
	return db.querySessions(ctx, `
		SELECT id, title, owner, favorite, created_at, updated_at
		FROM chat_sessions
		WHERE owner = ?
		ORDER BY id
	`, owner)
}

// ListFavoriteSessions returns every session marked as favorite
func (db *DB) ListFavoriteSessions(ctx context.Context) ([]models.ChatSession, error) {
	return db.querySessions(ctx, `
		SELECT id, title, owner, favorite, created_at, updated_at
		FROM chat_sessions
		WHERE favorite = ?
		ORDER BY id
	`, true)
}

// UpdateSession stores the title and favorite flag and stamps UpdatedAt
func (db *DB) UpdateSession(ctx context.Context, session *models.ChatSession) error {
	now := time.Now().UTC()

	query := db.rebind(`
		UPDATE chat_sessions
		SET title = ?, favorite = ?, updated_at = ?
		WHERE id = ?
	`)

	res, err := db.conn.ExecContext(ctx, query, session.Title, session.Favorite, now, session.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if err := expectRow(res); err != nil {
		return err
	}
	session.UpdatedAt = &now
	return nil
}

// DeleteSession removes a session together with its messages
func (db *DB) DeleteSession(ctx context.Context, id int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM chat_messages WHERE session_id = ?`), id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, db.rebind(`DELETE FROM chat_sessions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := expectRow(res); err != nil {
		return err
	}

	return tx.Commit()
}

// SaveMessage inserts a message and sets its ID and CreatedAt
func (db *DB) SaveMessage(ctx context.Context, msg *models.ChatMessage) error {
	msg.CreatedAt = time.Now().UTC()

	query := db.rebind(`
		INSERT INTO chat_messages (session_id, sender, content, context, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`)

	var ctxValue sql.NullString
	if msg.Context != nil {
		ctxValue = sql.NullString{String: *msg.Context, Valid: true}
	}

	err := db.conn.QueryRowContext(ctx, query,
		msg.SessionID,
		msg.Sender,
		msg.Content,
		ctxValue,
		msg.CreatedAt,
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// FindMessagesBySession returns one zero-based page of a session's messages, oldest first
func (db *DB) FindMessagesBySession(ctx context.Context, sessionID int64, page, size int) (*models.MessagePage, error) {
	result := &models.MessagePage{Page: page, Size: size, Messages: []models.ChatMessage{}}

	countQuery := db.rebind(`SELECT COUNT(*) FROM chat_messages WHERE session_id = ?`)
	if err := db.conn.QueryRowContext(ctx, countQuery, sessionID).Scan(&result.TotalElements); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	query := db.rebind(`
		SELECT id, session_id, sender, content, context, created_at, updated_at
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY id
		LIMIT ? OFFSET ?
	`)

	rows, err := db.conn.QueryContext(ctx, query, sessionID, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg models.ChatMessage
		var ctxValue sql.NullString
		var updatedAt sql.NullTime
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Sender, &msg.Content, &ctxValue, &msg.CreatedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if ctxValue.Valid {
			v := ctxValue.String
			msg.Context = &v
		}
		if updatedAt.Valid {
			t := updatedAt.Time
			msg.UpdatedAt = &t
		}
		result.Messages = append(result.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return result, nil
}

func (db *DB) querySessions(ctx context.Context, query string, args ...interface{}) ([]models.ChatSession, error) {
	rows, err := db.conn.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.ChatSession{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.ChatSession, error) {
	var session models.ChatSession
	var updatedAt sql.NullTime
	if err := row.Scan(
		&session.ID,
		&session.Title,
		&session.Owner,
		&session.Favorite,
		&session.CreatedAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		session.UpdatedAt = &t
	}
	return &session, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
