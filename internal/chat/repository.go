package chat

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HistoryWindow is how far back a joining client's history load reaches.
// RetentionWindow is when the sweeper deletes messages (and their uploaded
// files) for good. The gap is intentional: the lounge UI only ever renders
// the last few days, but links stay resolvable a little longer.
const (
	HistoryWindow   = 3 * 24 * time.Hour
	RetentionWindow = 7 * 24 * time.Hour
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SaveMessage persists a message and fills in its store-assigned id and
// timestamp. A message is never broadcast unless this succeeds first.
func (r *Repository) SaveMessage(ctx context.Context, msg *Message) error {
	query := `INSERT INTO messages (user_id, nickname, avatar_url, content, kind)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query,
		msg.UserID, msg.Nickname, msg.AvatarURL, msg.Content, msg.Kind,
	).Scan(&msg.ID, &msg.CreatedAt)
}

// RecentMessages returns the history window in ascending order, preferring
// the live user row's display info over the denormalized copy.
func (r *Repository) RecentMessages(ctx context.Context) ([]Message, error) {
	query := `
		SELECT m.id, m.user_id, m.content, m.kind, m.created_at,
		       COALESCE(u.nickname, m.nickname) AS nickname,
		       COALESCE(u.avatar_url, m.avatar_url) AS avatar_url
		FROM messages m
		LEFT JOIN users u ON m.user_id = u.id
		WHERE m.created_at >= NOW() - $1::interval
		ORDER BY m.created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, intervalArg(HistoryWindow))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.Content, &msg.Kind, &msg.CreatedAt,
			&msg.Nickname, &msg.AvatarURL); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ExpiredImagePaths lists the upload paths of image messages past the
// retention window, so the sweeper can unlink the files before deleting
// the rows.
func (r *Repository) ExpiredImagePaths(ctx context.Context) ([]string, error) {
	query := `SELECT content FROM messages
		WHERE created_at < NOW() - $1::interval AND kind = 'image'`
	rows, err := r.db.QueryContext(ctx, query, intervalArg(RetentionWindow))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// DeleteExpired removes messages past the retention window and reports how
// many rows went away.
func (r *Repository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM messages WHERE created_at < NOW() - $1::interval`,
		intervalArg(RetentionWindow))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func intervalArg(d time.Duration) string {
	return fmt.Sprintf("%d hours", int(d.Hours()))
}
