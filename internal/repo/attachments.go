package repo

import (
	"context"
	"database/sql"

	"combinados/internal/domain"
)

const attachmentColumns = `id,agreement_id,file_name,file_size,mime_type,storage_path,uploaded_by_id,created_at`

func scanAttachment(scan func(...any) error) (domain.Attachment, error) {
	var a domain.Attachment
	err := scan(&a.ID, &a.AgreementID, &a.FileName, &a.FileSize, &a.MimeType, &a.StoragePath, &a.UploadedByID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) InsertAttachment(ctx context.Context, tx *sql.Tx, a domain.Attachment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO attachments(`+attachmentColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.AgreementID, a.FileName, a.FileSize, a.MimeType, a.StoragePath, a.UploadedByID, a.CreatedAt)
	return err
}

func (r Repo) GetAttachment(ctx context.Context, id string) (domain.Attachment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id=?`, id)
	return scanAttachment(row.Scan)
}

func (r Repo) ListAttachments(ctx context.Context, agreementID string) ([]domain.Attachment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE agreement_id=? ORDER BY created_at ASC`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
