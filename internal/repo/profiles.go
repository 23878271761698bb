package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"combinados/internal/domain"
)

const profileColumns = `id,full_name,position,department,avatar_url,is_active,last_login_at,created_at,updated_at`

func scanProfile(scan func(...any) error) (domain.Profile, error) {
	var p domain.Profile
	var department, avatarURL, lastLogin sql.NullString
	err := scan(&p.ID, &p.FullName, &p.Position, &department, &avatarURL, &p.IsActive, &lastLogin, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Department = stringPtr(department)
	p.AvatarURL = stringPtr(avatarURL)
	p.LastLoginAt = stringPtr(lastLogin)
	return p, nil
}

func (r Repo) InsertProfile(ctx context.Context, p domain.Profile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO profiles(`+profileColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.FullName, p.Position, nullableStringPtr(p.Department), nullableStringPtr(p.AvatarURL),
		p.IsActive, nullableStringPtr(p.LastLoginAt), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id=?`, id)
	p, err := scanProfile(row.Scan)
	if err != nil {
		return p, err
	}
	p.Roles, err = r.GetUserRoles(ctx, id)
	return p, err
}

func (r Repo) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY full_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		roles, err := r.GetUserRoles(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Roles = roles
	}
	return res, nil
}

func (r Repo) EnsureProfile(ctx context.Context, tx *sql.Tx, id, fullName string, now string) error {
	if fullName == "" {
		fullName = id
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO profiles(id, full_name, position, is_active, created_at, updated_at) VALUES (?,?,?,1,?,?)`,
		id, fullName, "", now, now)
	return err
}

func (r Repo) TouchLastLogin(ctx context.Context, userID, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE profiles SET last_login_at=?, updated_at=? WHERE id=?`, now, now, userID)
	return err
}

// GetUserRoles returns every role granted to the user, the authorization
// source of truth.
func (r Repo) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id=? ORDER BY role`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r Repo) HasRole(ctx context.Context, userID, role string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM user_roles WHERE user_id=? AND role=? LIMIT 1`, userID, role)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) GrantRole(ctx context.Context, userID, role string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO user_roles(id, user_id, role, created_at) VALUES (?,?,?,?)`,
		uuid.New().String(), userID, role, now)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, userID, role string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id=? AND role=?`, userID, role)
	return err
}
