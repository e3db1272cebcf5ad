package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, LOWER($3), $4, $5)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role)
	if isUniqueViolation(err) {
		return fmt.Errorf("create user %s: %w", user.Email, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.getUser(ctx, `WHERE id=$1`, userID)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, `WHERE email=LOWER($1)`, strings.TrimSpace(email))
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at
		FROM users `+where, arg).
		Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

// Refresh sessions and revoked access tokens

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.role, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

// ConsumeRefreshSession revokes an active session and returns its user in
// one statement, so a token can be exchanged only once.
func (s *PostgresStore) ConsumeRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		WITH consumed AS (
			UPDATE refresh_sessions
			SET revoked_at = NOW()
			WHERE token_hash = $1
				AND revoked_at IS NULL
				AND expires_at > NOW()
			RETURNING user_id
		)
		SELECT u.id, u.display_name, u.email, u.role, u.created_at
		FROM consumed c
		JOIN users u ON u.id = c.user_id
	`, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1 AND expires_at > NOW())`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// Conversations

func (s *PostgresStore) CreateConversation(ctx context.Context, conv Conversation) (Conversation, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, user_id, admin_id)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, conv.ID, conv.UserID, conv.AdminID).Scan(&conv.CreatedAt)
	if isUniqueViolation(err) {
		return Conversation{}, fmt.Errorf("conversation for user %s: %w", conv.UserID, ErrConflict)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var conv Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, admin_id, created_at FROM conversations WHERE id=$1
	`, conversationID).Scan(&conv.ID, &conv.UserID, &conv.AdminID, &conv.CreatedAt)
	if err != nil {
		return Conversation{}, notFound(err)
	}
	return conv, nil
}

func (s *PostgresStore) FindConversation(ctx context.Context, userID, adminID string) (Conversation, error) {
	var conv Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, admin_id, created_at FROM conversations WHERE user_id=$1 AND admin_id=$2
	`, userID, adminID).Scan(&conv.ID, &conv.UserID, &conv.AdminID, &conv.CreatedAt)
	if err != nil {
		return Conversation{}, notFound(err)
	}
	return conv, nil
}

func (s *PostgresStore) ListConversationsForAdmin(ctx context.Context, adminID string) ([]ConversationSummary, error) {
	const query = `
		SELECT c.id, c.user_id, c.admin_id, c.created_at,
			u.id, u.display_name, u.email, u.role, u.created_at,
			m.id, m.sender_id, m.kind, m.content, m.attachment_url, m.filename, m.media_type, m.client_token, m.created_at, m.read_at,
			(SELECT count(*) FROM messages um
				WHERE um.conversation_id = c.id AND um.sender_id <> c.admin_id AND um.read_at IS NULL) AS unread
		FROM conversations c
		JOIN users u ON u.id = c.user_id
		LEFT JOIN LATERAL (
			SELECT * FROM messages lm
			WHERE lm.conversation_id = c.id
			ORDER BY lm.created_at DESC, lm.seq DESC
			LIMIT 1
		) m ON TRUE
		WHERE c.admin_id = $1
		ORDER BY COALESCE(m.created_at, c.created_at) DESC, c.id
	`
	rows, err := s.db.QueryContext(ctx, query, adminID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]ConversationSummary, 0)
	for rows.Next() {
		var (
			item                                      ConversationSummary
			msgID, senderID, kind, content, attachURL sql.NullString
			filename, mediaType, clientToken          sql.NullString
			msgCreated, msgRead                       sql.NullTime
		)
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.AdminID, &item.CreatedAt,
			&item.User.ID, &item.User.DisplayName, &item.User.Email, &item.User.Role, &item.User.CreatedAt,
			&msgID, &senderID, &kind, &content, &attachURL, &filename, &mediaType, &clientToken, &msgCreated, &msgRead,
			&item.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		item.LastActivityAt = item.CreatedAt
		if msgID.Valid {
			last := Message{
				ID:             msgID.String,
				ConversationID: item.ID,
				SenderID:       senderID.String,
				Kind:           MessageKind(kind.String),
				Content:        content.String,
				AttachmentURL:  attachURL.String,
				Filename:       filename.String,
				MediaType:      mediaType.String,
				ClientToken:    clientToken.String,
				CreatedAt:      msgCreated.Time,
			}
			if msgRead.Valid {
				readAt := msgRead.Time
				last.ReadAt = &readAt
			}
			item.LastMessage = &last
			item.LastActivityAt = last.CreatedAt
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Messages

const messageColumns = `id, conversation_id, sender_id, kind, content, attachment_url, filename, media_type, client_token, created_at, read_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		msg                                            Message
		kind                                           string
		content, attachURL, filename, mediaType, token sql.NullString
		readAt                                         sql.NullTime
	)
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &kind, &content, &attachURL, &filename, &mediaType, &token, &msg.CreatedAt, &readAt); err != nil {
		return Message{}, err
	}
	msg.Kind = MessageKind(kind)
	msg.Content = content.String
	msg.AttachmentURL = attachURL.String
	msg.Filename = filename.String
	msg.MediaType = mediaType.String
	msg.ClientToken = token.String
	if readAt.Valid {
		t := readAt.Time
		msg.ReadAt = &t
	}
	return msg, nil
}

func nullable(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id=$1
		ORDER BY created_at ASC, seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, msg)
	}
	return items, rows.Err()
}

// InsertMessage stores msg and returns it with its server timestamp. When
// msg carries a client token already used in the conversation, the earlier
// message is returned and created is false.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg Message) (Message, bool, error) {
	var content sql.NullString
	if msg.Kind == KindText {
		content = sql.NullString{String: msg.Content, Valid: true}
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, kind, content, attachment_url, filename, media_type, client_token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			GREATEST(clock_timestamp(), (SELECT max(created_at) FROM messages WHERE conversation_id=$2)))
		ON CONFLICT (conversation_id, client_token) WHERE client_token IS NOT NULL DO NOTHING
		RETURNING `+messageColumns,
		msg.ID, msg.ConversationID, msg.SenderID, string(msg.Kind), content,
		nullable(msg.AttachmentURL), nullable(msg.Filename), nullable(msg.MediaType), nullable(msg.ClientToken),
	)
	stored, err := scanMessage(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Message{}, false, fmt.Errorf("insert message: %w", err)
	}

	existing, err := scanMessage(s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE conversation_id=$1 AND client_token=$2
	`, msg.ConversationID, msg.ClientToken))
	if err != nil {
		return Message{}, false, fmt.Errorf("load replayed message: %w", notFound(err))
	}
	return existing, false, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read_at=$3
		WHERE conversation_id=$1 AND sender_id<>$2 AND read_at IS NULL
	`, conversationID, readerID, at)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return int(n), nil
}
