package repo

import (
	"context"
	"database/sql"

	"combinados/internal/domain"
)

const participantColumns = `id,agreement_id,user_id,status,rejection_reason,response_date,created_at,updated_at`

func scanParticipant(scan func(...any) error) (domain.Participant, error) {
	var p domain.Participant
	var reason, responseDate sql.NullString
	err := scan(&p.ID, &p.AgreementID, &p.UserID, &p.Status, &reason, &responseDate, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.RejectionReason = stringPtr(reason)
	p.ResponseDate = stringPtr(responseDate)
	return p, nil
}

func (r Repo) InsertParticipant(ctx context.Context, tx *sql.Tx, p domain.Participant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agreement_participants(`+participantColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		p.ID, p.AgreementID, p.UserID, p.Status, nullableStringPtr(p.RejectionReason),
		nullableStringPtr(p.ResponseDate), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetParticipant(ctx context.Context, agreementID, userID string) (domain.Participant, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM agreement_participants WHERE agreement_id=? AND user_id=?`, agreementID, userID)
	return scanParticipant(row.Scan)
}

func (r Repo) GetParticipantTx(ctx context.Context, tx *sql.Tx, agreementID, userID string) (domain.Participant, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM agreement_participants WHERE agreement_id=? AND user_id=?`, agreementID, userID)
	return scanParticipant(row.Scan)
}

// UpdateParticipantResponse overwrites any earlier response. Re-responding is
// allowed; the latest response wins.
func (r Repo) UpdateParticipantResponse(ctx context.Context, tx *sql.Tx, p domain.Participant) error {
	res, err := tx.ExecContext(ctx, `UPDATE agreement_participants SET status=?, rejection_reason=?, response_date=?, updated_at=? WHERE agreement_id=? AND user_id=?`,
		p.Status, nullableStringPtr(p.RejectionReason), nullableStringPtr(p.ResponseDate), p.UpdatedAt, p.AgreementID, p.UserID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListParticipants(ctx context.Context, agreementID string) ([]domain.Participant, error) {
	return r.listParticipants(ctx, r.DB.QueryContext, agreementID)
}

// ListParticipantsTx re-reads participant rows inside the caller's
// transaction so status derivation sees committed and in-flight writes.
func (r Repo) ListParticipantsTx(ctx context.Context, tx *sql.Tx, agreementID string) ([]domain.Participant, error) {
	return r.listParticipants(ctx, tx.QueryContext, agreementID)
}

func (r Repo) listParticipants(ctx context.Context, query func(context.Context, string, ...any) (*sql.Rows, error), agreementID string) ([]domain.Participant, error) {
	rows, err := query(ctx, `SELECT `+participantColumns+` FROM agreement_participants WHERE agreement_id=? ORDER BY created_at ASC, id ASC`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
