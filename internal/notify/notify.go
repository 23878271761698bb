// Package notify builds in-app notification rows for agreement activity.
// Titles and messages are pt-BR, matching what the existing web client shows.
package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"combinados/internal/domain"
	"combinados/internal/repo"
)

const relatedTypeAgreement = "agreement"

type Dispatcher struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (d Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// append writes one notification in the caller's transaction. The actor never
// receives a notification about their own action.
func (d Dispatcher) append(ctx context.Context, tx *sql.Tx, actorID, userID, typ, title, message, relatedID string) error {
	if userID == actorID || userID == "" {
		return nil
	}
	n := domain.Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Message:   message,
		IsRead:    false,
		CreatedAt: d.now().UTC().Format(time.RFC3339),
	}
	if relatedID != "" {
		related := relatedID
		relatedType := relatedTypeAgreement
		n.RelatedID = &related
		n.RelatedType = &relatedType
	}
	return d.Repo.InsertNotification(ctx, tx, n)
}

// AgreementCreated tells every invited participant about the new agreement.
func (d Dispatcher) AgreementCreated(ctx context.Context, tx *sql.Tx, actorLabel string, ag domain.Agreement, participantIDs []string) error {
	title := "Novo Combinado"
	message := fmt.Sprintf("%s criou o combinado %q e incluiu você", actorLabel, ag.Title)
	for _, userID := range participantIDs {
		if err := d.append(ctx, tx, ag.CreatorID, userID, domain.NotifyAgreementCreated, title, message, ag.ID); err != nil {
			return err
		}
	}
	return nil
}

// AgreementSent tells participants the agreement left DRAFT and awaits their response.
func (d Dispatcher) AgreementSent(ctx context.Context, tx *sql.Tx, actorID, actorLabel string, ag domain.Agreement, participantIDs []string) error {
	title := "Combinado Enviado"
	message := fmt.Sprintf("%s enviou o combinado %q para sua resposta", actorLabel, ag.Title)
	for _, userID := range participantIDs {
		if err := d.append(ctx, tx, actorID, userID, domain.NotifyAgreementSent, title, message, ag.ID); err != nil {
			return err
		}
	}
	return nil
}

// ParticipantResponded tells the creator about an accept or a reject. Rejections
// carry the participant's justification in the message body.
func (d Dispatcher) ParticipantResponded(ctx context.Context, tx *sql.Tx, actorID, actorLabel string, ag domain.Agreement, status, reason string) error {
	if status == domain.ParticipantAccepted {
		return d.append(ctx, tx, actorID, ag.CreatorID, domain.NotifyAgreementAccepted,
			"Combinado Aceito",
			fmt.Sprintf("%s aceitou o combinado %q", actorLabel, ag.Title),
			ag.ID)
	}
	return d.append(ctx, tx, actorID, ag.CreatorID, domain.NotifyAgreementRejected,
		"Combinado Rejeitado",
		fmt.Sprintf("%s rejeitou o combinado %q. Justificativa: %s", actorLabel, ag.Title, reason),
		ag.ID)
}

// ChecklistItemChecked tells the creator an item was completed.
func (d Dispatcher) ChecklistItemChecked(ctx context.Context, tx *sql.Tx, actorID, actorLabel string, ag domain.Agreement, itemDescription string) error {
	return d.append(ctx, tx, actorID, ag.CreatorID, domain.NotifyChecklistItemChecked,
		"Item de Checklist Concluído",
		fmt.Sprintf("%s concluiu %q no combinado %q", actorLabel, itemDescription, ag.Title),
		ag.ID)
}

// AgreementCompleted tells everyone involved that the last item closed the agreement.
func (d Dispatcher) AgreementCompleted(ctx context.Context, tx *sql.Tx, actorID string, ag domain.Agreement, recipients []string) error {
	title := "Combinado Concluído"
	message := fmt.Sprintf("O combinado %q foi concluído", ag.Title)
	for _, userID := range recipients {
		if err := d.append(ctx, tx, actorID, userID, domain.NotifyAgreementCompleted, title, message, ag.ID); err != nil {
			return err
		}
	}
	return nil
}

// AgreementUpdated tells participants the terms changed.
func (d Dispatcher) AgreementUpdated(ctx context.Context, tx *sql.Tx, actorID, actorLabel string, ag domain.Agreement, recipients []string) error {
	title := "Combinado Atualizado"
	message := fmt.Sprintf("%s atualizou o combinado %q", actorLabel, ag.Title)
	for _, userID := range recipients {
		if err := d.append(ctx, tx, actorID, userID, domain.NotifyAgreementUpdated, title, message, ag.ID); err != nil {
			return err
		}
	}
	return nil
}

// CommentAdded tells everyone else on the agreement about a new comment.
func (d Dispatcher) CommentAdded(ctx context.Context, tx *sql.Tx, actorID, actorLabel string, ag domain.Agreement, recipients []string) error {
	title := "Novo Comentário"
	message := fmt.Sprintf("%s comentou no combinado %q", actorLabel, ag.Title)
	for _, userID := range recipients {
		if err := d.append(ctx, tx, actorID, userID, domain.NotifyCommentAdded, title, message, ag.ID); err != nil {
			return err
		}
	}
	return nil
}

// DeadlineApproaching warns creator and participants before the due date.
func (d Dispatcher) DeadlineApproaching(ctx context.Context, tx *sql.Tx, ag domain.Agreement, recipients []string) error {
	title := "Prazo Próximo"
	message := fmt.Sprintf("O combinado %q vence em breve", ag.Title)
	for _, userID := range recipients {
		if err := d.append(ctx, tx, "", userID, domain.NotifyDeadlineApproaching, title, message, ag.ID); err != nil {
			return err
		}
	}
	return nil
}

// DeadlineOverdue tells creator and participants the due date passed.
func (d Dispatcher) DeadlineOverdue(ctx context.Context, tx *sql.Tx, ag domain.Agreement, recipients []string) error {
	title := "Prazo Vencido"
	message := fmt.Sprintf("O combinado %q está atrasado", ag.Title)
	for _, userID := range recipients {
		if err := d.append(ctx, tx, "", userID, domain.NotifyDeadlineOverdue, title, message, ag.ID); err != nil {
			return err
		}
	}
	return nil
}
