package repo

import (
	"context"
	"database/sql"

	"combinados/internal/domain"
)

const notificationColumns = `id,user_id,type,title,message,related_id,related_type,is_read,read_at,created_at`

func scanNotification(scan func(...any) error) (domain.Notification, error) {
	var n domain.Notification
	var relatedID, relatedType, readAt sql.NullString
	err := scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &relatedID, &relatedType, &n.IsRead, &readAt, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	n.RelatedID = stringPtr(relatedID)
	n.RelatedType = stringPtr(relatedType)
	n.ReadAt = stringPtr(readAt)
	return n, nil
}

func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(`+notificationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, nullableStringPtr(n.RelatedID),
		nullableStringPtr(n.RelatedType), n.IsRead, nullableStringPtr(n.ReadAt), n.CreatedAt)
	return err
}

// ListNotifications returns a user's notifications newest-first.
func (r Repo) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id=? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// HasNotification reports whether the user was already notified with this
// type about this entity. The deadline sweep uses it to warn only once.
func (r Repo) HasNotification(ctx context.Context, userID, typ, relatedID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM notifications WHERE user_id=? AND type=? AND related_id=? LIMIT 1`, userID, typ, relatedID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE user_id=? AND is_read=0`, userID).Scan(&n)
	return n, err
}

// MarkAllNotificationsRead flips every unread row for the user. Rows already
// read keep their original read_at, so repeated calls are no-ops.
func (r Repo) MarkAllNotificationsRead(ctx context.Context, userID, readAt string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1, read_at=? WHERE user_id=? AND is_read=0`, readAt, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
