package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"combinados/internal/domain"
	"combinados/internal/feed"
	"combinados/internal/repo"
)

// Respond records a participant's accept or reject. Re-responding overwrites
// the earlier answer; a rejection must carry a justification. The agreement's
// lifecycle status is re-derived in the same transaction.
func (e Engine) Respond(ctx context.Context, actorID, agreementID, status, reason string) (domain.Participant, error) {
	switch status {
	case domain.ParticipantAccepted:
		if strings.TrimSpace(reason) != "" {
			return domain.Participant{}, ValidationError{Field: "reason", Reason: "only rejections carry a justification"}
		}
	case domain.ParticipantRejected:
		if strings.TrimSpace(reason) == "" {
			return domain.Participant{}, ValidationError{Field: "reason", Reason: "rejection requires a justification"}
		}
	default:
		return domain.Participant{}, ValidationError{Field: "status", Reason: fmt.Sprintf("response must be %s or %s", domain.ParticipantAccepted, domain.ParticipantRejected)}
	}

	now := e.nowRFC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Participant{}, err
	}
	defer tx.Rollback()

	// The status gate reads inside the tx so a concurrent cancel cannot slip
	// between the check and the write.
	ag, err := e.Repo.GetAgreementTx(ctx, tx, agreementID)
	if err != nil {
		return domain.Participant{}, err
	}
	if administered(ag.Status) || ag.Status == domain.StatusCompleted {
		return domain.Participant{}, ConflictError{Reason: fmt.Sprintf("agreement is %s and no longer accepts responses", ag.Status)}
	}

	p, err := e.Repo.GetParticipantTx(ctx, tx, agreementID, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Participant{}, AuthorizationError{Reason: "only invited participants can respond"}
	}
	if err != nil {
		return domain.Participant{}, err
	}
	old := p.Status
	p.Status = status
	p.RejectionReason = nil
	if status == domain.ParticipantRejected {
		r := strings.TrimSpace(reason)
		p.RejectionReason = &r
	}
	p.ResponseDate = &now
	p.UpdatedAt = now
	if err := e.Repo.UpdateParticipantResponse(ctx, tx, p); err != nil {
		return domain.Participant{}, err
	}

	participants, err := e.Repo.ListParticipantsTx(ctx, tx, agreementID)
	if err != nil {
		return domain.Participant{}, err
	}
	items, err := e.Repo.ListChecklistItemsTx(ctx, tx, agreementID)
	if err != nil {
		return domain.Participant{}, err
	}
	derived := deriveStatus(ag.Status, participants, items)
	completed := false
	if derived != ag.Status {
		completedAt := ""
		if derived == domain.StatusCompleted {
			completedAt = now
			completed = true
		}
		if err := e.Repo.UpdateAgreementStatus(ctx, tx, agreementID, derived, completedAt, now); err != nil {
			return domain.Participant{}, err
		}
		if err := e.audit(ctx, tx, agreementID, actorID, "agreement.status_changed", "agreement", &agreementID, &ag.Status, &derived); err != nil {
			return domain.Participant{}, err
		}
	}

	if err := e.audit(ctx, tx, agreementID, actorID, "participant.responded", "participant", &p.ID, &old, &status); err != nil {
		return domain.Participant{}, err
	}
	label := e.actorLabel(ctx, actorID)
	if err := e.Notify.ParticipantResponded(ctx, tx, actorID, label, ag, status, strings.TrimSpace(reason)); err != nil {
		return domain.Participant{}, err
	}
	if completed {
		if err := e.Notify.AgreementCompleted(ctx, tx, actorID, ag, recipients(ag, participants)); err != nil {
			return domain.Participant{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Participant{}, err
	}

	e.publish(feed.Event{Table: "agreement_participants", Action: "UPDATE", EntityID: p.ID, AgreementID: agreementID})
	if derived != ag.Status {
		e.publish(feed.Event{Table: "agreements", Action: "UPDATE", EntityID: agreementID, AgreementID: agreementID})
	}
	e.publish(feed.Event{Table: "notifications", Action: "INSERT", AgreementID: agreementID, RecipientID: ag.CreatorID})
	return p, nil
}
