package store

import (
	"context"
	"time"
)

// AdminUser guards the maintenance endpoints.
type AdminUser struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func (q *Queries) GetAdminUser(ctx context.Context, username string) (*AdminUser, error) {
	u := &AdminUser{}
	var createdAt any
	err := q.r.QueryRowContext(ctx, q.q(`SELECT id, username, password_hash, created_at FROM admin_users WHERE username=?`),
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt)
	if err != nil {
		return nil, notFound(err, "store.GetAdminUser", "admin user %s not found", username)
	}
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

func (q *Queries) CreateAdminUser(ctx context.Context, username, passwordHash string) (int64, error) {
	var id int64
	err := q.r.QueryRowContext(ctx, q.q(`INSERT INTO admin_users (username, password_hash, created_at)
		VALUES (?, ?, ?) RETURNING id`), username, passwordHash, q.ts(time.Now())).Scan(&id)
	if err != nil {
		return 0, conflict(err, "store.CreateAdminUser", "", "admin user %s already exists", username)
	}
	return id, nil
}

func (q *Queries) UpdateAdminPassword(ctx context.Context, username, passwordHash string) error {
	_, err := q.r.ExecContext(ctx, q.q(`UPDATE admin_users SET password_hash=? WHERE username=?`), passwordHash, username)
	return err
}

func (q *Queries) AdminUserExists(ctx context.Context) (bool, error) {
	var count int
	err := q.r.QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_users`).Scan(&count)
	return count > 0, err
}
