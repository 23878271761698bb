package engine

import (
	"context"
	"io"
	"strings"

	"github.com/google/uuid"

	"combinados/internal/domain"
	"combinados/internal/feed"
	"combinados/internal/storage"
)

// AddComment records a comment and tells everyone else on the agreement.
func (e Engine) AddComment(ctx context.Context, actorID string, roles []string, agreementID, content string) (domain.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Comment{}, ValidationError{Field: "content", Reason: "required"}
	}
	ag, err := e.loadAgreementFor(ctx, actorID, roles, agreementID)
	if err != nil {
		return domain.Comment{}, err
	}
	participants, err := e.Repo.ListParticipants(ctx, agreementID)
	if err != nil {
		return domain.Comment{}, err
	}

	now := e.nowRFC()
	c := domain.Comment{
		ID:          uuid.New().String(),
		AgreementID: agreementID,
		AuthorID:    actorID,
		Content:     content,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}
	if err := e.audit(ctx, tx, agreementID, actorID, "comment.added", "comment", &c.ID, nil, nil); err != nil {
		return domain.Comment{}, err
	}
	if err := e.Notify.CommentAdded(ctx, tx, actorID, e.actorLabel(ctx, actorID), ag, recipients(ag, participants)); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	e.publish(feed.Event{Table: "comments", Action: "INSERT", EntityID: c.ID, AgreementID: agreementID})
	return c, nil
}

// AddAttachment stores the file content and its metadata row.
func (e Engine) AddAttachment(ctx context.Context, actorID string, roles []string, agreementID, fileName, mimeType string, content io.Reader) (domain.Attachment, error) {
	if fileName == "" {
		return domain.Attachment{}, ValidationError{Field: "file_name", Reason: "required"}
	}
	if _, err := e.loadAgreementFor(ctx, actorID, roles, agreementID); err != nil {
		return domain.Attachment{}, err
	}
	key := storage.ObjectKey(actorID, agreementID, fileName)
	size, err := e.Store.Save(key, content)
	if err != nil {
		return domain.Attachment{}, err
	}
	a := domain.Attachment{
		ID:           uuid.New().String(),
		AgreementID:  agreementID,
		FileName:     fileName,
		FileSize:     size,
		MimeType:     mimeType,
		StoragePath:  key,
		UploadedByID: actorID,
		CreatedAt:    e.nowRFC(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Attachment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAttachment(ctx, tx, a); err != nil {
		// The object is orphaned without its row; remove it again.
		_ = e.Store.Delete(key)
		return domain.Attachment{}, err
	}
	if err := e.audit(ctx, tx, agreementID, actorID, "attachment.added", "attachment", &a.ID, nil, &a.FileName); err != nil {
		return domain.Attachment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Attachment{}, err
	}
	e.publish(feed.Event{Table: "attachments", Action: "INSERT", EntityID: a.ID, AgreementID: agreementID})
	return a, nil
}

// SignAttachmentURL mints a short-lived download token for one attachment.
// The caller must be able to see the agreement the file belongs to.
func (e Engine) SignAttachmentURL(ctx context.Context, actorID string, roles []string, attachmentID string) (string, error) {
	a, err := e.Repo.GetAttachment(ctx, attachmentID)
	if err != nil {
		return "", err
	}
	if _, err := e.loadAgreementFor(ctx, actorID, roles, a.AgreementID); err != nil {
		return "", err
	}
	return e.Store.SignKey(a.StoragePath)
}
