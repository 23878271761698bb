package repo

import (
	"context"
	"database/sql"

	"combinados/internal/domain"
)

const auditColumns = `id,agreement_id,user_id,action,entity_type,entity_id,old_value,new_value,created_at`

// AuditEntry pairs an audit row with its rowid, the monotonic cursor the
// change feed and webhook dispatcher page over.
type AuditEntry struct {
	Seq int64 `json:"seq"`
	domain.AuditLog
}

func scanAuditLog(scan func(...any) error) (domain.AuditLog, error) {
	var a domain.AuditLog
	var entityID, oldValue, newValue sql.NullString
	err := scan(&a.ID, &a.AgreementID, &a.UserID, &a.Action, &a.EntityType, &entityID, &oldValue, &newValue, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.EntityID = stringPtr(entityID)
	a.OldValue = stringPtr(oldValue)
	a.NewValue = stringPtr(newValue)
	return a, nil
}

func (r Repo) InsertAuditLog(ctx context.Context, tx *sql.Tx, a domain.AuditLog) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_logs(`+auditColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.AgreementID, a.UserID, a.Action, a.EntityType, nullableStringPtr(a.EntityID),
		nullableStringPtr(a.OldValue), nullableStringPtr(a.NewValue), a.CreatedAt)
	return err
}

func (r Repo) ListAuditLogs(ctx context.Context, agreementID string, limit int) ([]domain.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE agreement_id=? ORDER BY rowid DESC`
	args := []any{agreementID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// AuditAfter returns entries strictly after the cursor, oldest first.
func (r Repo) AuditAfter(ctx context.Context, cursor int64, limit int) ([]AuditEntry, error) {
	query := `SELECT rowid,` + auditColumns + ` FROM audit_logs WHERE rowid>? ORDER BY rowid ASC`
	args := []any{cursor}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var entityID, oldValue, newValue sql.NullString
		err := rows.Scan(&e.Seq, &e.ID, &e.AgreementID, &e.UserID, &e.Action, &e.EntityType, &entityID, &oldValue, &newValue, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		e.EntityID = stringPtr(entityID)
		e.OldValue = stringPtr(oldValue)
		e.NewValue = stringPtr(newValue)
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestAuditID is the current feed head; 0 when the log is empty.
func (r Repo) LatestAuditID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT max(rowid) FROM audit_logs`).Scan(&id)
	return id.Int64, err
}
