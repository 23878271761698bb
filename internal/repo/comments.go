package repo

import (
	"context"
	"database/sql"

	"combinados/internal/domain"
)

const commentColumns = `id,agreement_id,author_id,content,is_edited,edited_at,created_at,updated_at`

func scanComment(scan func(...any) error) (domain.Comment, error) {
	var c domain.Comment
	var editedAt sql.NullString
	err := scan(&c.ID, &c.AgreementID, &c.AuthorID, &c.Content, &c.IsEdited, &editedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.EditedAt = stringPtr(editedAt)
	return c, nil
}

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(`+commentColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.AgreementID, c.AuthorID, c.Content, c.IsEdited, nullableStringPtr(c.EditedAt), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, agreementID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE agreement_id=? ORDER BY created_at ASC, id ASC`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
