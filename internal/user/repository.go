package user

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("user not found")
var ErrNicknameTaken = errors.New("nickname already in use")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	var id int
	query := "INSERT INTO users (nickname, avatar_url, password) VALUES ($1, $2, $3) RETURNING id"

	err := r.db.QueryRowContext(ctx, query, user.Nickname, user.AvatarURL, user.Password).Scan(&id)
	if err != nil {
		return nil, err
	}

	user.ID = id
	return user, nil
}

func (r *Repository) GetUserByNickname(ctx context.Context, nickname string) (*User, error) {
	u := &User{}
	query := "SELECT id, nickname, avatar_url, password FROM users WHERE nickname = $1"

	err := r.db.QueryRowContext(ctx, query, nickname).Scan(&u.ID, &u.Nickname, &u.AvatarURL, &u.Password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return u, nil
}

// ListUsers returns every registered user ordered by nickname. The presence
// snapshot merges this directory with the live online set.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	q := `SELECT id, nickname, avatar_url FROM users ORDER BY nickname ASC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Nickname, &u.AvatarURL); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// NicknameTaken reports whether another user already owns the nickname.
func (r *Repository) NicknameTaken(ctx context.Context, nickname string, excludeID int) (bool, error) {
	var id int
	q := `SELECT id FROM users WHERE nickname = $1 AND id != $2`
	err := r.db.QueryRowContext(ctx, q, nickname, excludeID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) UpdateProfile(ctx context.Context, id int, nickname, avatarURL string) error {
	if avatarURL != "" {
		q := `UPDATE users SET nickname = $1, avatar_url = $2 WHERE id = $3`
		_, err := r.db.ExecContext(ctx, q, nickname, avatarURL, id)
		return err
	}
	q := `UPDATE users SET nickname = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, q, nickname, id)
	return err
}

func (r *Repository) TouchLastLogin(ctx context.Context, id int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = NOW() WHERE id = $1`, id)
	return err
}
