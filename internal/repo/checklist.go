package repo

import (
	"context"
	"database/sql"

	"combinados/internal/domain"
)

const checklistColumns = `id,agreement_id,description,order_index,assigned_to_id,due_date,is_completed,completed_at,completed_by_id,created_at,updated_at`

func scanChecklistItem(scan func(...any) error) (domain.ChecklistItem, error) {
	var it domain.ChecklistItem
	var assignedTo, dueDate, completedAt, completedBy sql.NullString
	err := scan(&it.ID, &it.AgreementID, &it.Description, &it.OrderIndex, &assignedTo, &dueDate,
		&it.IsCompleted, &completedAt, &completedBy, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.AssignedToID = stringPtr(assignedTo)
	it.DueDate = stringPtr(dueDate)
	it.CompletedAt = stringPtr(completedAt)
	it.CompletedByID = stringPtr(completedBy)
	return it, nil
}

func (r Repo) InsertChecklistItem(ctx context.Context, tx *sql.Tx, it domain.ChecklistItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO checklist_items(`+checklistColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.AgreementID, it.Description, it.OrderIndex, nullableStringPtr(it.AssignedToID),
		nullableStringPtr(it.DueDate), it.IsCompleted, nullableStringPtr(it.CompletedAt),
		nullableStringPtr(it.CompletedByID), it.CreatedAt, it.UpdatedAt)
	return err
}

func (r Repo) GetChecklistItem(ctx context.Context, id string) (domain.ChecklistItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+checklistColumns+` FROM checklist_items WHERE id=?`, id)
	return scanChecklistItem(row.Scan)
}

func (r Repo) UpdateChecklistCompletion(ctx context.Context, tx *sql.Tx, it domain.ChecklistItem) error {
	res, err := tx.ExecContext(ctx, `UPDATE checklist_items SET is_completed=?, completed_at=?, completed_by_id=?, updated_at=? WHERE id=?`,
		it.IsCompleted, nullableStringPtr(it.CompletedAt), nullableStringPtr(it.CompletedByID), it.UpdatedAt, it.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListChecklistItems(ctx context.Context, agreementID string) ([]domain.ChecklistItem, error) {
	return r.listChecklistItems(ctx, r.DB.QueryContext, agreementID)
}

func (r Repo) ListChecklistItemsTx(ctx context.Context, tx *sql.Tx, agreementID string) ([]domain.ChecklistItem, error) {
	return r.listChecklistItems(ctx, tx.QueryContext, agreementID)
}

func (r Repo) listChecklistItems(ctx context.Context, query func(context.Context, string, ...any) (*sql.Rows, error), agreementID string) ([]domain.ChecklistItem, error) {
	rows, err := query(ctx, `SELECT `+checklistColumns+` FROM checklist_items WHERE agreement_id=? ORDER BY order_index ASC`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistItem
	for rows.Next() {
		it, err := scanChecklistItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ListAssignedChecklistItems returns the actionable list for one user:
// items assigned to them. Unassigned items appear in no one's list.
func (r Repo) ListAssignedChecklistItems(ctx context.Context, agreementID, userID string) ([]domain.ChecklistItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+checklistColumns+` FROM checklist_items WHERE agreement_id=? AND assigned_to_id=? ORDER BY order_index ASC`, agreementID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistItem
	for rows.Next() {
		it, err := scanChecklistItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) DeleteChecklistItem(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM checklist_items WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReindexChecklist rewrites order_index for an agreement's remaining items so
// the sequence is dense 0..n-1 again. Must run in the same transaction as the
// removal that disturbed it.
func (r Repo) ReindexChecklist(ctx context.Context, tx *sql.Tx, agreementID, updatedAt string) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM checklist_items WHERE agreement_id=? ORDER BY order_index ASC`, agreementID)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE checklist_items SET order_index=?, updated_at=? WHERE id=?`, i, updatedAt, id); err != nil {
			return err
		}
	}
	return nil
}
