package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"combinados/internal/domain"
)

const agreementColumns = `id,title,description,category,meeting_date,due_date,priority,status,tags,creator_id,version,completed_at,created_at,updated_at`

func scanAgreement(scan func(...any) error) (domain.Agreement, error) {
	var a domain.Agreement
	var category, completedAt sql.NullString
	var tags string
	err := scan(&a.ID, &a.Title, &a.Description, &category, &a.MeetingDate, &a.DueDate,
		&a.Priority, &a.Status, &tags, &a.CreatorID, &a.Version, &completedAt, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Category = stringPtr(category)
	a.CompletedAt = stringPtr(completedAt)
	a.Tags = parseTags(tags)
	return a, nil
}

func (r Repo) InsertAgreement(ctx context.Context, tx *sql.Tx, a domain.Agreement) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agreements(`+agreementColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Title, a.Description, nullableStringPtr(a.Category), a.MeetingDate, a.DueDate,
		a.Priority, a.Status, tagsJSON(a.Tags), a.CreatorID, a.Version, nullableStringPtr(a.CompletedAt),
		a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAgreement(ctx context.Context, id string) (domain.Agreement, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id=?`, id)
	return scanAgreement(row.Scan)
}

func (r Repo) GetAgreementTx(ctx context.Context, tx *sql.Tx, id string) (domain.Agreement, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id=?`, id)
	return scanAgreement(row.Scan)
}

type AgreementFilters struct {
	Status          string
	Priority        string
	CreatorID       string
	ParticipantID   string
	DueBefore       string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListAgreements(ctx context.Context, f AgreementFilters) ([]domain.Agreement, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.CreatorID != "" {
		clauses = append(clauses, "creator_id=?")
		args = append(args, f.CreatorID)
	}
	if f.ParticipantID != "" {
		clauses = append(clauses, "(creator_id=? OR EXISTS (SELECT 1 FROM agreement_participants p WHERE p.agreement_id=agreements.id AND p.user_id=?))")
		args = append(args, f.ParticipantID, f.ParticipantID)
	}
	if f.DueBefore != "" {
		clauses = append(clauses, "due_date < ?")
		args = append(args, f.DueBefore)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + agreementColumns + ` FROM agreements ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListDueAgreements returns non-terminal agreements whose due date falls
// before the horizon, for the deadline sweep.
func (r Repo) ListDueAgreements(ctx context.Context, horizon string) ([]domain.Agreement, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+agreementColumns+` FROM agreements
WHERE due_date < ? AND status NOT IN ('COMPLETED','CANCELLED','OVERDUE','DRAFT')
ORDER BY due_date ASC`, horizon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAgreement(ctx context.Context, tx *sql.Tx, a domain.Agreement) error {
	res, err := tx.ExecContext(ctx, `UPDATE agreements SET title=?, description=?, category=?, meeting_date=?, due_date=?, priority=?, status=?, tags=?, version=?, completed_at=?, updated_at=? WHERE id=?`,
		a.Title, a.Description, nullableStringPtr(a.Category), a.MeetingDate, a.DueDate,
		a.Priority, a.Status, tagsJSON(a.Tags), a.Version, nullableStringPtr(a.CompletedAt), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateAgreementStatus(ctx context.Context, tx *sql.Tx, id, status, completedAt, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE agreements SET status=?, completed_at=?, updated_at=? WHERE id=?`,
		status, nullable(completedAt), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAgreement removes the agreement; participants, checklist items,
// attachments, comments and audit logs cascade.
func (r Repo) DeleteAgreement(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM agreements WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountAgreementsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM agreements GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// CanAccessAgreement mirrors the server-side policy: creators and invited
// participants see the agreement, everyone else does not.
func (r Repo) CanAccessAgreement(ctx context.Context, agreementID, userID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `
SELECT 1 FROM agreements a
WHERE a.id=? AND (a.creator_id=? OR EXISTS (
    SELECT 1 FROM agreement_participants p WHERE p.agreement_id=a.id AND p.user_id=?
)) LIMIT 1`, agreementID, userID, userID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("can_access_agreement: %w", err)
	}
	return true, nil
}
